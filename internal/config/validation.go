package config

import (
	"fmt"
	"strings"

	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var builtinLabels = map[engine.Label]bool{
	engine.LabelSecure:       true,
	engine.LabelAnxious:      true,
	engine.LabelAvoidant:     true,
	engine.LabelDisorganized: true,
	engine.LabelAlert:        true,
	engine.LabelCaution:      true,
	engine.LabelGentle:       true,
	engine.LabelDirect:       true,
	engine.LabelNeutral:      true,
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration and returns ValidationErrors listing
// every invalid field.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Queue.Capacity < 1 {
		add("queue.capacity", "must be at least 1, got %d", c.Queue.Capacity)
	}
	if c.Queue.CapMultiplier < 1 {
		add("queue.cap_multiplier", "must be at least 1, got %d", c.Queue.CapMultiplier)
	}
	if c.Queue.FlushTimeout <= 0 {
		add("queue.flush_timeout", "must be positive")
	}

	switch c.Store.Driver {
	case DriverSQLite, DriverFile:
		if c.Store.Path == "" {
			add("store.path", "required for driver %q", c.Store.Driver)
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			add("store.postgres_dsn", "required for driver %q", c.Store.Driver)
		}
	default:
		add("store.driver", "unknown driver %q (want sqlite, postgres or file)", c.Store.Driver)
	}

	// A custom table may define labels beyond the built-in set.
	if c.Classifier.DefaultLabel != "" && c.Classifier.TablePath == "" &&
		!builtinLabels[engine.Label(c.Classifier.DefaultLabel)] {
		add("classifier.default_label", "unknown label %q", c.Classifier.DefaultLabel)
	}
	if c.Classifier.Watch && c.Classifier.TablePath == "" {
		add("classifier.watch", "requires classifier.table_path")
	}

	if c.Consumer.Enabled && c.Consumer.Interval <= 0 {
		add("consumer.interval", "must be positive")
	}

	if !logLevels[c.Logging.Level] {
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format", "unknown format %q (want json or console)", c.Logging.Format)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
