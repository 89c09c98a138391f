// Package logging builds zerolog loggers and an observer that writes one
// structured line per engine notification.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vnykmshr/jobflow/pkg/job"
	"github.com/vnykmshr/jobflow/pkg/observer"
)

// Formats accepted by Config.Format.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config describes a logger.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// ParseLevel converts a level name to a zerolog level. An empty name means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	return lvl, nil
}

// NewLogger builds a logger writing to config.Output, or stderr.
func NewLogger(config Config) (zerolog.Logger, error) {
	lvl, err := ParseLevel(config.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	switch config.Format {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", config.Format)
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// Sink returns an observer that logs every notification of engine.
// Begin and end are logged at debug level, cancellations and exhaustion at
// info, warnings and timeouts at warn, and errors at error.
func Sink(logger zerolog.Logger, engine string) observer.Observer {
	l := logger.With().Str("engine", engine).Logger()
	return &sink{log: l}
}

type sink struct {
	log zerolog.Logger
}

func (s *sink) BeginInvoke(j *job.Job, msg string) { s.jobEvent(s.log.Debug(), observer.KindBeginInvoke, j, msg) }
func (s *sink) EndInvoke(j *job.Job, msg string)   { s.jobEvent(s.log.Debug(), observer.KindEndInvoke, j, msg) }
func (s *sink) Cancel(j *job.Job, msg string)      { s.jobEvent(s.log.Info(), observer.KindCancel, j, msg) }
func (s *sink) Error(j *job.Job, msg string)       { s.jobEvent(s.log.Error(), observer.KindError, j, msg) }
func (s *sink) Warning(j *job.Job, msg string)     { s.jobEvent(s.log.Warn(), observer.KindWarning, j, msg) }
func (s *sink) Timeout(j *job.Job, msg string)     { s.jobEvent(s.log.Warn(), observer.KindTimeout, j, msg) }

func (s *sink) Exhausted(msg string) {
	s.log.Info().Str("event", observer.KindExhausted.String()).Msg(msg)
}

func (s *sink) Shutdown(msg string) {
	s.log.Info().Str("event", observer.KindShutdown.String()).Msg(msg)
}

func (s *sink) jobEvent(e *zerolog.Event, kind observer.Kind, j *job.Job, msg string) {
	e = e.Str("event", kind.String())
	if j != nil {
		e = e.Int64("job_id", j.ID).Str("title", j.Title)
	}
	e.Msg(msg)
}
