package persist

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/leanspace/flowboard/pkg/graph"
	"github.com/leanspace/flowboard/pkg/observability"
)

// Default batching windows.
const (
	DefaultDebounce     = 500 * time.Millisecond
	DefaultMaxWait      = 2 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// BatcherOptions configures a [Batcher]. Zero values select the defaults.
type BatcherOptions struct {
	// Debounce is the quiet period after the last update before a batch is
	// written.
	Debounce time.Duration

	// MaxWait bounds how long an update may wait while updates keep arriving.
	MaxWait time.Duration

	// WriteTimeout bounds a timer-triggered write, retries included.
	WriteTimeout time.Duration

	Backoff Backoff
	Logger  *log.Logger

	// OnError is called with every batch whose write failed. The batch is
	// not re-queued.
	OnError func(err error, batch []graph.PositionUpdate)

	// Virtual reports ids of virtual entities. Their updates are dropped.
	// [store.Store.IsVirtual] fits.
	Virtual func(id string) bool
}

func (o BatcherOptions) withDefaults() BatcherOptions {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	if o.MaxWait < o.Debounce {
		o.MaxWait = o.Debounce
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.Backoff.Attempts == 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Batcher coalesces position updates per entity and writes them in batches.
//
// Updates to the same entity inside one window collapse to the last one. A
// batch is written once no update has arrived for Debounce, or MaxWait after
// the first pending update, whichever comes first. Writes run on timer
// goroutines; Enqueue never blocks on storage.
type Batcher struct {
	w    PositionWriter
	opts BatcherOptions

	mu      sync.Mutex
	pending map[string]graph.Position
	first   time.Time
	timer   *time.Timer
	gen     uint64 // invalidates timers that were stopped too late
	closed  bool

	writeMu sync.Mutex // keeps batches in order
}

// NewBatcher returns a batcher writing to w.
func NewBatcher(w PositionWriter, opts BatcherOptions) *Batcher {
	return &Batcher{
		w:       w,
		opts:    opts.withDefaults(),
		pending: make(map[string]graph.Position),
	}
}

// Enqueue schedules position updates. Updates with an empty id, a virtual
// id or a non-finite position are ignored, as is everything after Close.
func (b *Batcher) Enqueue(updates ...graph.PositionUpdate) {
	keep := make([]graph.PositionUpdate, 0, len(updates))
	for _, u := range updates {
		if u.ID == "" || !u.Position.Finite() {
			continue
		}
		if b.opts.Virtual != nil && b.opts.Virtual(u.ID) {
			continue
		}
		keep = append(keep, u)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, u := range keep {
		b.pending[u.ID] = u.Position
	}
	n := len(keep)
	if n == 0 {
		return
	}
	observability.Persist().OnEnqueue(context.Background(), n)

	now := time.Now()
	if b.first.IsZero() {
		b.first = now
	}
	delay := b.opts.Debounce
	if rest := b.opts.MaxWait - now.Sub(b.first); rest < delay {
		delay = max(rest, 0)
	}
	b.schedule(delay)
}

// EnqueueEntities schedules the positions of durable entities. Virtual
// entities are skipped.
func (b *Batcher) EnqueueEntities(entities ...graph.Entity) {
	updates := make([]graph.PositionUpdate, 0, len(entities))
	for _, e := range entities {
		if !e.Virtual {
			updates = append(updates, graph.PositionUpdate{ID: e.ID, Position: e.Position})
		}
	}
	b.Enqueue(updates...)
}

// schedule replaces the pending timer. Callers hold b.mu.
func (b *Batcher) schedule(delay time.Duration) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(delay, func() { b.fire(gen) })
}

func (b *Batcher) fire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	batch := b.take()
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.WriteTimeout)
	defer cancel()
	_ = b.write(ctx, batch)
}

// take drains the pending set and cancels the timer. Callers hold b.mu.
func (b *Batcher) take() []graph.PositionUpdate {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
	b.first = time.Time{}
	if len(b.pending) == 0 {
		return nil
	}
	batch := make([]graph.PositionUpdate, 0, len(b.pending))
	for id, pos := range b.pending {
		batch = append(batch, graph.PositionUpdate{ID: id, Position: pos})
	}
	clear(b.pending)
	slices.SortFunc(batch, func(x, y graph.PositionUpdate) int { return strings.Compare(x.ID, y.ID) })
	return batch
}

func (b *Batcher) write(ctx context.Context, batch []graph.PositionUpdate) error {
	if len(batch) == 0 {
		return nil
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	start := time.Now()
	err := RetryWithBackoff(ctx, b.opts.Backoff, func() error {
		return b.w.WritePositions(ctx, batch)
	})
	observability.Persist().OnWrite(ctx, len(batch), time.Since(start), err)
	if err != nil {
		b.opts.Logger.Error("position write failed", "positions", len(batch), "err", err)
		if b.opts.OnError != nil {
			b.opts.OnError(err, batch)
		}
		return err
	}
	b.opts.Logger.Debug("positions written", "positions", len(batch), "elapsed", time.Since(start))
	return nil
}

// Flush writes everything pending now and cancels the scheduled write. It
// returns once the batch is stored, so callers can rely on committed
// positions afterwards.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()
	return b.write(ctx, batch)
}

// Pending returns the number of entities waiting to be written.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close flushes pending updates and stops accepting new ones. It is safe to
// call more than once.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	batch := b.take()
	b.mu.Unlock()
	return b.write(ctx, batch)
}
