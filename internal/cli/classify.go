package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/config"
	"github.com/jwgray1010/Unsaid-sub003/internal/coordinator"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine"
	"github.com/jwgray1010/Unsaid-sub003/internal/engine/tables"
	"github.com/jwgray1010/Unsaid-sub003/internal/pipeline"
)

// Execute implements the go-flags Commander interface for ClassifyCommand.
func (c *ClassifyCommand) Execute(args []string) error {
	text := textArg(c.Text, args)
	if text == "" {
		return errors.New("classify requires --text")
	}
	cfg, err := c.env.loadConfig()
	if err != nil {
		return err
	}
	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}

	var opts *engine.Options
	if c.DefaultLabel != "" {
		opts = &engine.Options{DefaultLabel: engine.Label(c.DefaultLabel)}
	}
	return c.env.printResult(classifier.Classify(text, opts), false)
}

// Execute implements the go-flags Commander interface for RecordCommand.
func (c *RecordCommand) Execute(args []string) error {
	text := textArg(c.Text, args)
	if text == "" {
		return errors.New("record requires --text")
	}
	if c.env.globals.Remote != "" {
		return errors.New("record writes to the local store; --remote is not supported")
	}
	cfg, err := c.env.loadConfig()
	if err != nil {
		return err
	}
	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Queue.FlushTimeout.Std()+5*time.Second)
	defer cancel()

	st, err := c.env.localStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	logger := c.env.logger(cfg)
	coord := coordinator.New(st, coordinator.Config{
		QueueCapacity: cfg.Queue.Capacity,
		CapMultiplier: cfg.Queue.CapMultiplier,
		FlushTimeout:  cfg.Queue.FlushTimeout.Std(),
	}, logger)

	res := pipeline.New(classifier, coord, "tonectl", logger).ObserveText(pipeline.Observation{
		Text:           text,
		HostAppContext: c.App,
	})
	if err := coord.Close(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return c.env.printResult(res, true)
}

func newClassifier(cfg *config.Config) (*engine.Classifier, error) {
	t := tables.Builtin()
	if cfg.Classifier.TablePath != "" {
		loaded, err := tables.Load(cfg.Classifier.TablePath)
		if err != nil {
			return nil, fmt.Errorf("load table: %w", err)
		}
		t = loaded
	}
	cfg.Classifier.Apply(t)
	c, err := engine.NewClassifier(t)
	if err != nil {
		return nil, fmt.Errorf("build classifier: %w", err)
	}
	return c, nil
}

// textArg prefers --text and falls back to positional args.
func textArg(flag string, args []string) string {
	if flag != "" {
		return flag
	}
	return strings.Join(args, " ")
}

func (e *env) printResult(res engine.Result, recorded bool) error {
	if e.globals.JSON {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			engine.Result
			Recorded bool `json:"recorded"`
		}{res, recorded})
	}

	fmt.Fprintf(e.out, "Label:       %s\n", res.Label)
	fmt.Fprintf(e.out, "Confidence:  %.2f\n", res.Confidence)
	fmt.Fprintf(e.out, "Table:       %s\n", res.TableVersion)
	if len(res.Subscores) > 0 {
		labels := make([]string, 0, len(res.Subscores))
		for l := range res.Subscores {
			labels = append(labels, string(l))
		}
		sort.Strings(labels)
		fmt.Fprintln(e.out, "Subscores:")
		for _, l := range labels {
			fmt.Fprintf(e.out, "  %-14s %.3f\n", l, res.Subscores[engine.Label(l)])
		}
	}
	if len(res.Signals) > 0 {
		fmt.Fprintf(e.out, "Signals:     %s\n", strings.Join(res.Signals, ", "))
	}
	if recorded {
		fmt.Fprintln(e.out, "Recorded:    yes")
	}
	return nil
}
