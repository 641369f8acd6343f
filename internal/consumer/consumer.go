// Package consumer is the host side of the shared store: it pulls pending
// events through a gateway.Service, hands them to a storage.Sink and
// acknowledges them once the sink has them.
package consumer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/jwgray1010/Unsaid-sub003/internal/gateway"
	"github.com/jwgray1010/Unsaid-sub003/internal/storage"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultDebounce = 250 * time.Millisecond
)

// Config holds the consumer's tunables. Zero values take the defaults.
type Config struct {
	// WatchPath is the store file or directory whose changes trigger a
	// drain. Empty disables the watch; only the interval applies.
	WatchPath string
	Interval  time.Duration
	Debounce  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	return c
}

// Stats counts what the consumer has moved.
type Stats struct {
	Drains    uint64 `json:"drains"`
	Delivered uint64 `json:"delivered"`
	Skipped   uint64 `json:"skipped"`
	Failures  uint64 `json:"failures"`
}

// Consumer drains the shared store into a Sink. Delivery is at-least-once:
// a crash between the sink write and the acknowledge redelivers the batch.
type Consumer struct {
	svc    gateway.Service
	sink   storage.Sink
	cfg    Config
	logger *zap.Logger

	mu sync.Mutex // one drain at a time

	drains    atomic.Uint64
	delivered atomic.Uint64
	skipped   atomic.Uint64
	failures  atomic.Uint64
}

// New creates a Consumer reading from svc and writing to sink.
func New(svc gateway.Service, sink storage.Sink, cfg Config, logger *zap.Logger) *Consumer {
	return &Consumer{
		svc:    svc,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Drain moves everything currently pending into the sink and returns the
// number of events delivered.
//
// Flow:
//  1. Read metadata; nothing flushed or all counts zero means no work.
//  2. Pull every category with its cursor.
//  3. Write the batch to the sink.
//  4. Acknowledge the cursor, removing only what was pulled.
func (c *Consumer) Drain(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 1. Cheap check
	meta, err := c.svc.GetStorageMetadata(ctx, &gateway.GetStorageMetadataRequest{})
	if err != nil {
		c.failures.Add(1)
		return 0, fmt.Errorf("Drain metadata: %w", err)
	}
	if meta.Metadata == nil || meta.Pending == 0 {
		return 0, nil
	}

	// 2. Pull
	data, err := c.svc.GetAllPendingData(ctx, &gateway.GetAllPendingDataRequest{})
	if err != nil {
		c.failures.Add(1)
		return 0, fmt.Errorf("Drain pull: %w", err)
	}
	if len(data.Cursor) == 0 {
		return 0, nil
	}

	// 3. Sink
	n := data.Len()
	if n > 0 {
		if err := c.sink.WriteBatch(ctx, &data.Batch); err != nil {
			c.failures.Add(1)
			return 0, fmt.Errorf("Drain sink: %w", err)
		}
	}

	// 4. Acknowledge
	ack, err := c.svc.Acknowledge(ctx, &gateway.AcknowledgeRequest{Cursor: data.Cursor})
	if err != nil {
		// The sink has the batch; the next drain delivers it again.
		c.failures.Add(1)
		return n, fmt.Errorf("Drain acknowledge: %w", err)
	}

	c.drains.Add(1)
	c.delivered.Add(uint64(n))
	c.skipped.Add(uint64(data.Skipped))
	c.logger.Info("drained shared store",
		zap.Int("delivered", n),
		zap.Int("skipped", data.Skipped),
		zap.Any("removed", ack.Removed),
	)
	return n, nil
}

// Run drains on store changes and on the fallback interval until ctx is
// cancelled. Drain errors are logged and retried on the next trigger.
func (c *Consumer) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error
	var match func(string) bool

	if c.cfg.WatchPath != "" {
		fsw, m, err := c.watch()
		if err != nil {
			return fmt.Errorf("Run: %w", err)
		}
		defer fsw.Close()
		events, errs, match = fsw.Events, fsw.Errors, m
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	var timer *time.Timer
	var fire <-chan time.Time

	c.drainLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !match(ev.Name) || (!ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(c.cfg.Debounce)
			} else {
				timer.Reset(c.cfg.Debounce)
			}
			fire = timer.C
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.logger.Warn("store watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			c.drainLogged(ctx)
		case <-ticker.C:
			c.drainLogged(ctx)
		}
	}
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() Stats {
	return Stats{
		Drains:    c.drains.Load(),
		Delivered: c.delivered.Load(),
		Skipped:   c.skipped.Load(),
		Failures:  c.failures.Load(),
	}
}

func (c *Consumer) drainLogged(ctx context.Context) {
	if _, err := c.Drain(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("drain failed", zap.Error(err))
	}
}

// watch returns a watcher on WatchPath and a matcher for its events. A
// directory (file backend) matches everything in it. A file (SQLite) is
// watched through its parent so the -wal and -shm siblings match too.
func (c *Consumer) watch() (*fsnotify.Watcher, func(string) bool, error) {
	abs, err := filepath.Abs(c.cfg.WatchPath)
	if err != nil {
		return nil, nil, err
	}
	dir, match := abs, func(string) bool { return true }
	if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
		dir = filepath.Dir(abs)
		base := filepath.Base(abs)
		match = func(name string) bool { return strings.HasPrefix(filepath.Base(name), base) }
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, nil, err
	}
	return fsw, match, nil
}
