// Package config loads the YAML settings of the jobflow command.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
	"github.com/vnykmshr/jobflow/pkg/common/validation"
	"github.com/vnykmshr/jobflow/pkg/executor"
	"github.com/vnykmshr/jobflow/pkg/logging"
)

const module = "config"

// Settings is the root of a jobflow configuration file.
type Settings struct {
	Logging   Logging   `yaml:"logging"`
	Metrics   Metrics   `yaml:"metrics"`
	Redis     Redis     `yaml:"redis"`
	Channel   Agent     `yaml:"channel"`
	Queue     Agent     `yaml:"queue"`
	Scheduled Scheduled `yaml:"scheduled"`
	Stack     Stack     `yaml:"stack"`
	Wait      Wait      `yaml:"waithandle"`
}

// Logging selects the level and format of log output.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics enables the Prometheus endpoint when Addr is set.
type Metrics struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

// Redis enables lifecycle publishing when Addr is set.
type Redis struct {
	Addr    string        `yaml:"addr"`
	Channel string        `yaml:"channel"`
	Timeout time.Duration `yaml:"timeout"`
}

// Agent configures an engine that polls on its own goroutine.
type Agent struct {
	Resolution     time.Duration `yaml:"resolution"`
	SuspendTimeout time.Duration `yaml:"suspend_timeout"`
	// Capacity bounds pending jobs; 0 means unbounded.
	Capacity int `yaml:"capacity"`
	// Jobs is the size of the demo workload.
	Jobs int `yaml:"jobs"`
}

// Scheduled configures the deadline engine.
type Scheduled struct {
	Agent       `yaml:",inline"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	WaitWorkers bool          `yaml:"wait_workers"`
	// Cron, when set, adds one job at the next fire time of the expression.
	Cron string `yaml:"cron"`
}

// Stack configures the producer/consumer harness.
type Stack struct {
	Producers       int           `yaml:"producers"`
	Consumers       int           `yaml:"consumers"`
	JobsPerProducer int           `yaml:"jobs_per_producer"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	MaxWork         time.Duration `yaml:"max_work"`
	MaxDeadline     time.Duration `yaml:"max_deadline"`
}

// Wait configures the wait-handle demo.
type Wait struct {
	Handles int           `yaml:"handles"`
	Timeout time.Duration `yaml:"timeout"`
	Signals int           `yaml:"signals"`
}

// Default returns the settings used when no file is given.
func Default() Settings {
	agent := Agent{
		Resolution:     executor.DefaultResolution,
		SuspendTimeout: executor.DefaultSuspendTimeout,
		Jobs:           10,
	}
	return Settings{
		Logging: Logging{Level: "info", Format: logging.FormatConsole},
		Metrics: Metrics{Namespace: "jobflow"},
		Redis:   Redis{Channel: "jobflow:events", Timeout: time.Second},
		Channel: agent,
		Queue:   agent,
		Scheduled: Scheduled{
			Agent:    agent,
			MaxDelay: 2 * time.Second,
		},
		Stack: Stack{
			Producers:       2,
			Consumers:       2,
			JobsPerProducer: 10,
			MaxBackoff:      50 * time.Millisecond,
			MaxWork:         20 * time.Millisecond,
			MaxDeadline:     100 * time.Millisecond,
		},
		Wait: Wait{
			Handles: 3,
			Timeout: time.Second,
			Signals: 2,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate checks every block and returns the first problem found.
func (s Settings) Validate() error {
	if _, err := logging.ParseLevel(s.Logging.Level); err != nil {
		return jferrors.NewValidationError(module, "logging.level", s.Logging.Level, err.Error()).
			WithHint("use debug, info, warn or error")
	}
	switch s.Logging.Format {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		return jferrors.NewValidationError(module, "logging.format", s.Logging.Format, "unknown format").
			WithHint("use console or json")
	}
	if s.Redis.Addr != "" {
		if err := validation.ValidateNotEmpty(module, "redis.channel", s.Redis.Channel); err != nil {
			return err
		}
	}

	for name, a := range map[string]Agent{
		"channel":   s.Channel,
		"queue":     s.Queue,
		"scheduled": s.Scheduled.Agent,
	} {
		if err := a.validate(name); err != nil {
			return err
		}
	}
	if s.Scheduled.MaxDelay < 0 {
		return jferrors.NewValidationError(module, "scheduled.max_delay", s.Scheduled.MaxDelay, "must not be negative")
	}

	checks := []struct {
		field string
		value int
	}{
		{"stack.producers", s.Stack.Producers},
		{"stack.consumers", s.Stack.Consumers},
		{"stack.jobs_per_producer", s.Stack.JobsPerProducer},
		{"waithandle.handles", s.Wait.Handles},
	}
	for _, c := range checks {
		if err := validation.ValidatePositive(module, c.field, c.value); err != nil {
			return err
		}
	}
	if err := validation.ValidatePositiveDuration(module, "stack.max_backoff", s.Stack.MaxBackoff); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative(module, "waithandle.signals", float64(s.Wait.Signals)); err != nil {
		return err
	}
	return nil
}

func (a Agent) validate(name string) error {
	if err := validation.ValidatePositiveDuration(module, name+".resolution", a.Resolution); err != nil {
		return err
	}
	if a.SuspendTimeout < 0 {
		return jferrors.NewValidationError(module, name+".suspend_timeout", a.SuspendTimeout, "must not be negative")
	}
	if a.Capacity < 0 {
		return jferrors.NewValidationError(module, name+".capacity", a.Capacity, "must not be negative").
			WithHint("use 0 for an unbounded store")
	}
	return validation.ValidateNonNegative(module, name+".jobs", float64(a.Jobs))
}
