package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vnykmshr/jobflow/internal/testutil"
	jferrors "github.com/vnykmshr/jobflow/pkg/common/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobflow.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	s, err := Load("")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, s, Default())
	testutil.AssertNoError(t, s.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
metrics:
  addr: ":9090"
queue:
  resolution: 20ms
  capacity: 5
scheduled:
  resolution: 50ms
  max_delay: 1s
  cron: "@every 2s"
stack:
  producers: 4
`)
	s, err := Load(path)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, s.Logging.Level, "debug")
	testutil.AssertEqual(t, s.Logging.Format, "json")
	testutil.AssertEqual(t, s.Metrics.Addr, ":9090")
	testutil.AssertEqual(t, s.Queue.Resolution, 20*time.Millisecond)
	testutil.AssertEqual(t, s.Queue.Capacity, 5)
	testutil.AssertEqual(t, s.Scheduled.Resolution, 50*time.Millisecond)
	testutil.AssertEqual(t, s.Scheduled.MaxDelay, time.Second)
	testutil.AssertEqual(t, s.Scheduled.Cron, "@every 2s")
	testutil.AssertEqual(t, s.Stack.Producers, 4)

	// untouched blocks keep their defaults
	testutil.AssertEqual(t, s.Stack.Consumers, Default().Stack.Consumers)
	testutil.AssertEqual(t, s.Channel, Default().Channel)
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	if _, err := Load(writeConfig(t, "logging: [")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"bad level", func(s *Settings) { s.Logging.Level = "loud" }},
		{"bad format", func(s *Settings) { s.Logging.Format = "xml" }},
		{"redis without channel", func(s *Settings) { s.Redis.Addr = "localhost:6379"; s.Redis.Channel = "" }},
		{"zero resolution", func(s *Settings) { s.Channel.Resolution = 0 }},
		{"negative capacity", func(s *Settings) { s.Queue.Capacity = -1 }},
		{"negative suspend timeout", func(s *Settings) { s.Scheduled.SuspendTimeout = -time.Second }},
		{"negative max delay", func(s *Settings) { s.Scheduled.MaxDelay = -time.Second }},
		{"no producers", func(s *Settings) { s.Stack.Producers = 0 }},
		{"no consumers", func(s *Settings) { s.Stack.Consumers = 0 }},
		{"zero backoff", func(s *Settings) { s.Stack.MaxBackoff = 0 }},
		{"no handles", func(s *Settings) { s.Wait.Handles = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)
			err := s.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, jferrors.ErrInvalidConfiguration) {
				t.Errorf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}
