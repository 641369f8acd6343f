// Package coordinator owns the per-category event queues and moves them
// into the shared store with at most one flush in flight.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jwgray1010/Unsaid-sub003/internal/queue"
	"github.com/jwgray1010/Unsaid-sub003/internal/storage"
	"github.com/jwgray1010/Unsaid-sub003/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultCapMultiplier = 2
	DefaultFlushTimeout  = 5 * time.Second

	acquirePoll = 5 * time.Millisecond
)

// ErrFlushTimeout is returned when a flush's store I/O outlives the timeout.
var ErrFlushTimeout = errors.New("flush timed out")

// State is the flush state machine: Idle -> Flushing -> Idle.
type State int32

const (
	StateIdle State = iota
	StateFlushing
)

func (s State) String() string {
	if s == StateFlushing {
		return "flushing"
	}
	return "idle"
}

// Config holds the coordinator's tunables. Zero values take the defaults.
type Config struct {
	QueueCapacity int           // Qmax per category
	CapMultiplier int           // store cap = QueueCapacity * CapMultiplier
	FlushTimeout  time.Duration // bound on one flush's store I/O
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity < 1 {
		c.QueueCapacity = queue.DefaultCapacity
	}
	if c.CapMultiplier < 1 {
		c.CapMultiplier = DefaultCapMultiplier
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	return c
}

// StoreCap returns the per-key bound in the shared store.
func (c Config) StoreCap() int {
	c = c.withDefaults()
	return c.QueueCapacity * c.CapMultiplier
}

// Stats is a point-in-time snapshot of the coordinator.
type Stats struct {
	State         string                      `json:"state"`
	Queued        map[storage.Category]int    `json:"queued"`
	Dropped       map[storage.Category]uint64 `json:"dropped"`
	Flushes       uint64                      `json:"flushes"`
	FlushFailures uint64                      `json:"flush_failures"`
	FlushTimeouts uint64                      `json:"flush_timeouts"`
	Unencodable   uint64                      `json:"unencodable"`
	LastFlushAt   time.Time                   `json:"last_flush_at,omitzero"`
	LastError     string                      `json:"last_error,omitempty"`
}

// Coordinator buffers events per category and flushes them to a SharedStore
// in the background. Record never blocks and never fails; flush errors are
// logged and the events stay queued for the next attempt.
type Coordinator struct {
	cfg    Config
	store  store.SharedStore
	queues map[storage.Category]*queue.Queue[storage.Event]
	logger *zap.Logger
	now    func() time.Time

	flushing atomic.Bool
	closed   atomic.Bool

	flushes     atomic.Uint64
	failures    atomic.Uint64
	timeouts    atomic.Uint64
	unencodable atomic.Uint64

	mu        sync.Mutex
	lastFlush time.Time
	lastErr   error
}

// New creates a Coordinator writing to st.
func New(st store.SharedStore, cfg Config, logger *zap.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		cfg:    cfg,
		store:  st,
		queues: make(map[storage.Category]*queue.Queue[storage.Event]),
		logger: logger,
		now:    time.Now,
	}
	for _, cat := range storage.Categories() {
		c.queues[cat] = queue.New[storage.Event](cfg.QueueCapacity)
	}
	return c
}

// Record enqueues e and starts a background flush if none is running.
// Events recorded after Close are ignored.
func (c *Coordinator) Record(e storage.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("record panicked", zap.Any("panic", r))
		}
	}()
	if e == nil || c.closed.Load() {
		return
	}
	q, ok := c.queues[e.Category()]
	if !ok {
		return
	}
	if dropped := q.Push(e); dropped > 0 {
		c.logger.Debug("queue full, dropped oldest event",
			zap.String("category", string(e.Category())),
			zap.Int("dropped", dropped),
		)
	}
	c.TryFlush()
}

// TryFlush starts a background flush unless one is already in flight or
// every queue is empty. The state flips to Flushing before it returns, so two
// callers can never both start one. Reports whether a flush was started.
func (c *Coordinator) TryFlush() bool {
	if c.closed.Load() || c.empty() {
		return false
	}
	if !c.flushing.CompareAndSwap(false, true) {
		return false
	}
	go c.background()
	return true
}

// background runs flushes until the queues are empty or a flush fails.
func (c *Coordinator) background() {
	// Let latency-sensitive goroutines run first.
	runtime.Gosched()

	for {
		if err := c.flushOnce(); err != nil {
			c.flushing.Store(false)
			return
		}
		if !c.empty() {
			continue
		}
		c.flushing.Store(false)
		// A Record that saw Flushing between the check and the reset would
		// otherwise wait for the next Record.
		if c.empty() || !c.flushing.CompareAndSwap(false, true) {
			return
		}
	}
}

// Flush synchronously flushes everything queued, waiting for an in-flight
// background flush first.
func (c *Coordinator) Flush(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.flushing.Store(false)

	for !c.empty() {
		if err := c.flushOnce(); err != nil {
			return err
		}
	}
	return nil
}

// WaitIdle blocks until no flush is in flight.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	c.flushing.Store(false)
	return nil
}

// Close stops accepting events and flushes what is queued. Events that cannot
// be flushed before ctx ends are lost.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closed.Store(true)
	if err := c.Flush(ctx); err != nil {
		return fmt.Errorf("Close: %w", err)
	}
	return nil
}

func (c *Coordinator) acquire(ctx context.Context) error {
	ticker := time.NewTicker(acquirePoll)
	defer ticker.Stop()
	for !c.flushing.CompareAndSwap(false, true) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// State reports whether a flush is in flight.
func (c *Coordinator) State() State {
	if c.flushing.Load() {
		return StateFlushing
	}
	return StateIdle
}

// Pending returns the number of queued events across all categories.
func (c *Coordinator) Pending() int {
	n := 0
	for _, q := range c.queues {
		n += q.Len()
	}
	return n
}

// Stats returns a snapshot of queue sizes and flush counters.
func (c *Coordinator) Stats() Stats {
	s := Stats{
		State:         c.State().String(),
		Queued:        make(map[storage.Category]int, len(c.queues)),
		Dropped:       make(map[storage.Category]uint64, len(c.queues)),
		Flushes:       c.flushes.Load(),
		FlushFailures: c.failures.Load(),
		FlushTimeouts: c.timeouts.Load(),
		Unencodable:   c.unencodable.Load(),
	}
	for cat, q := range c.queues {
		s.Queued[cat] = q.Len()
		s.Dropped[cat] = q.Dropped()
	}
	c.mu.Lock()
	s.LastFlushAt = c.lastFlush
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()
	return s
}

func (c *Coordinator) empty() bool {
	for _, q := range c.queues {
		if !q.IsEmpty() {
			return false
		}
	}
	return true
}

// drained is one flush's worth of events, kept so they can be requeued.
type drained struct {
	events map[storage.Category][]storage.Event
	raw    map[storage.Category][]json.RawMessage
}

func (d *drained) requeue(c *Coordinator, cats []storage.Category) {
	for _, cat := range cats {
		if evs := d.events[cat]; len(evs) > 0 {
			c.queues[cat].PushFront(evs)
		}
	}
}

// flushOnce drains every queue and writes the result to the store. On failure
// the drained events go back to the head of their queues and no metadata is
// written.
func (c *Coordinator) flushOnce() error {
	d := c.drain()
	if len(d.raw) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FlushTimeout)
	defer cancel()

	type outcome struct {
		committed []storage.Category
		err       error
	}
	done := make(chan outcome, 1)
	go func() {
		committed, err := c.write(ctx, d.raw)
		done <- outcome{committed, err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		// The store call may still complete; requeueing everything risks a
		// duplicate delivery but never a loss.
		c.timeouts.Add(1)
		res = outcome{err: fmt.Errorf("%w after %s", ErrFlushTimeout, c.cfg.FlushTimeout)}
	}

	if res.err != nil {
		c.requeueExcept(d, res.committed)
		c.fail(res.err, d)
		return res.err
	}

	c.flushes.Add(1)
	c.mu.Lock()
	c.lastFlush = c.now()
	c.lastErr = nil
	c.mu.Unlock()
	c.logger.Debug("flush complete", zap.Int("events", d.count()))
	return nil
}

func (c *Coordinator) requeueExcept(d *drained, committed []storage.Category) {
	done := make(map[storage.Category]bool, len(committed))
	for _, cat := range committed {
		done[cat] = true
	}
	var retry []storage.Category
	for _, cat := range storage.Categories() {
		if !done[cat] {
			retry = append(retry, cat)
		}
	}
	d.requeue(c, retry)
}

func (c *Coordinator) fail(err error, d *drained) {
	c.failures.Add(1)
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Warn("flush failed",
		zap.Int("events", d.count()),
		zap.Bool("store_unavailable", errors.Is(err, store.ErrStoreUnavailable)),
		zap.Error(err),
	)
}

func (d *drained) count() int {
	n := 0
	for _, evs := range d.events {
		n += len(evs)
	}
	return n
}

// drain empties every queue and encodes the events. An event that cannot be
// encoded would fail every retry, so it is dropped and counted.
func (c *Coordinator) drain() *drained {
	d := &drained{
		events: make(map[storage.Category][]storage.Event),
		raw:    make(map[storage.Category][]json.RawMessage),
	}
	for _, cat := range storage.Categories() {
		evs := c.queues[cat].Drain()
		if len(evs) == 0 {
			continue
		}
		kept := evs[:0]
		raw := make([]json.RawMessage, 0, len(evs))
		for _, e := range evs {
			b, err := storage.Encode(e)
			if err != nil {
				c.unencodable.Add(1)
				c.logger.Error("dropping unencodable event",
					zap.String("category", string(cat)),
					zap.String("id", e.EventID()),
					zap.Error(err),
				)
				continue
			}
			kept = append(kept, e)
			raw = append(raw, b)
		}
		if len(kept) == 0 {
			continue
		}
		d.events[cat] = kept
		d.raw[cat] = raw
	}
	return d
}

// write commits the batches. With a Committer everything lands in one
// transaction. Otherwise categories are appended in order, and the returned
// slice lists the ones that made it before an error.
func (c *Coordinator) write(ctx context.Context, raw map[storage.Category][]json.RawMessage) ([]storage.Category, error) {
	storeCap := c.cfg.StoreCap()
	meta := &store.Metadata{
		LastSyncAt:    c.now().UTC(),
		SchemaVersion: storage.SchemaVersion,
		Counts:        make(map[string]int, len(raw)),
	}
	for _, cat := range storage.Categories() {
		meta.Counts[cat.Key()] = 0
	}

	if cm, ok := c.store.(store.Committer); ok {
		batches := make(map[string][]json.RawMessage, len(raw))
		for cat, items := range raw {
			batches[cat.Key()] = items
		}
		if err := cm.Commit(ctx, batches, storeCap, meta); err != nil {
			return nil, fmt.Errorf("flush commit: %w", err)
		}
		return storage.Categories(), nil
	}

	var committed []storage.Category
	for _, cat := range storage.Categories() {
		items, ok := raw[cat]
		if !ok {
			n, err := c.store.Count(ctx, cat.Key())
			if err != nil {
				return committed, fmt.Errorf("flush count %s: %w", cat, err)
			}
			meta.Counts[cat.Key()] = n
			continue
		}
		n, err := c.store.AppendCapped(ctx, cat.Key(), items, storeCap)
		if err != nil {
			return committed, fmt.Errorf("flush append %s: %w", cat, err)
		}
		meta.Counts[cat.Key()] = n
		committed = append(committed, cat)
	}

	if err := c.store.WriteMetadata(ctx, meta); err != nil {
		// Every category is stored; requeueing would duplicate them.
		return storage.Categories(), fmt.Errorf("flush metadata: %w", err)
	}
	return committed, nil
}
