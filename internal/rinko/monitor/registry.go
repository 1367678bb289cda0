package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bdobrica/Rinko/common/trace"
)

// Key identifies a monitor. At most one monitor is registered per key.
type Key struct {
	Conversation string
	TargetID     int
}

func (k Key) String() string { return fmt.Sprintf("%s:%d", k.Conversation, k.TargetID) }

// Handle is the caller's view of a running monitor.
type Handle struct {
	ID          string
	Key         Key
	MaxAttempts int

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	attempt   atomic.Int64
	commandID atomic.Int64
	done      chan struct{}
}

// Cancel stops the monitor. It performs no further edits or backend calls
// after its current step. Calling Cancel more than once is a no-op.
func (h *Handle) Cancel() {
	if h.cancelled.Swap(true) {
		return
	}
	h.cancel()
}

// Cancelled reports whether the monitor was cancelled, either directly or by
// shutting down its registry.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load() || h.ctx.Err() != nil
}

// Attempt returns the current attempt number, starting at 1.
func (h *Handle) Attempt() int { return int(h.attempt.Load()) }

// CommandID returns the command currently being polled.
func (h *Handle) CommandID() int { return int(h.commandID.Load()) }

// Done is closed when the monitor goroutine exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) setAttempt(n int)   { h.attempt.Store(int64(n)) }
func (h *Handle) setCommandID(n int) { h.commandID.Store(int64(n)) }

// Table stores the registered monitors. Implementations need not be safe for
// concurrent use; the Registry serialises access.
type Table interface {
	Get(key Key) (*Handle, bool)
	Set(key Key, h *Handle)
	Delete(key Key)
	Keys() []Key
	Len() int
}

// MemoryTable is a map-backed Table.
type MemoryTable struct {
	m map[Key]*Handle
}

// NewMemoryTable returns an empty MemoryTable.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{m: make(map[Key]*Handle)}
}

func (t *MemoryTable) Get(key Key) (*Handle, bool) {
	h, ok := t.m[key]
	return h, ok
}

func (t *MemoryTable) Set(key Key, h *Handle) { t.m[key] = h }
func (t *MemoryTable) Delete(key Key)         { delete(t.m, key) }
func (t *MemoryTable) Len() int               { return len(t.m) }

func (t *MemoryTable) Keys() []Key {
	keys := make([]Key, 0, len(t.m))
	for k := range t.m {
		keys = append(keys, k)
	}
	return keys
}

// Registry starts monitors and keeps at most one per Key.
type Registry struct {
	backend  Backend
	editor   Editor
	opts     Options
	observer Observer
	logger   *slog.Logger

	mu    sync.Mutex
	table Table

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithOptions overrides the polling options.
func WithOptions(o Options) RegistryOption {
	return func(r *Registry) { r.opts = o }
}

// WithTable replaces the in-memory table.
func WithTable(t Table) RegistryOption {
	return func(r *Registry) { r.table = t }
}

// WithObserver installs a lifecycle observer.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns a Registry polling backend and reporting through
// editor.
func NewRegistry(backend Backend, editor Editor, opts ...RegistryOption) *Registry {
	r := &Registry{
		backend: backend,
		editor:  editor,
		table:   NewMemoryTable(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.opts = r.opts.withDefaults()
	r.base, r.stop = context.WithCancel(context.Background())
	return r
}

// Start registers and launches a monitor for req. Any monitor already
// registered for the same conversation and target is cancelled first.
//
// The monitor outlives ctx; only its trace id is carried over.
func (r *Registry) Start(ctx context.Context, req Request) *Handle {
	key := Key{Conversation: req.Conversation, TargetID: req.TargetID}

	mctx, cancel := context.WithCancel(r.base)
	if id := trace.FromContext(ctx); id != "" {
		mctx = trace.WithTraceID(mctx, id)
	}
	h := &Handle{
		ID:          uuid.NewString(),
		Key:         key,
		MaxAttempts: r.opts.MaxAttempts,
		ctx:         mctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	h.setAttempt(1)
	h.setCommandID(req.CommandID)

	r.mu.Lock()
	if old, ok := r.table.Get(key); ok {
		old.Cancel()
		r.table.Delete(key)
		r.logger.Info("monitor: superseded", "key", key.String(), "monitor_id", old.ID)
	}
	r.table.Set(key, h)
	r.mu.Unlock()

	m := &monitor{
		req:      req,
		handle:   h,
		opts:     r.opts,
		backend:  r.backend,
		editor:   r.editor,
		observer: r.observer,
		previous: req.PreviousArtifactID,
		log: trace.Logger(mctx, r.logger).With(
			"monitor_id", h.ID, "conv", req.Conversation, "target_id", req.TargetID),
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(h.done)
		defer r.release(key, h)
		m.log.Info("monitor: started", "command_id", req.CommandID, "max_attempts", r.opts.MaxAttempts)
		m.run(mctx)
	}()
	return h
}

// release drops the table entry for key if it still belongs to h.
func (r *Registry) release(key Key, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.table.Get(key); ok && cur == h {
		r.table.Delete(key)
	}
	h.cancel()
}

// Get returns the monitor registered for a conversation and target.
func (r *Registry) Get(conversation string, targetID int) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Get(Key{Conversation: conversation, TargetID: targetID})
}

// Cancel cancels and unregisters the monitor for a conversation and target.
// It reports whether one was registered.
func (r *Registry) Cancel(conversation string, targetID int) bool {
	key := Key{Conversation: conversation, TargetID: targetID}
	r.mu.Lock()
	h, ok := r.table.Get(key)
	if ok {
		r.table.Delete(key)
	}
	r.mu.Unlock()
	if ok {
		h.Cancel()
	}
	return ok
}

// CancelConversation cancels every monitor registered for conversation and
// returns how many were stopped.
func (r *Registry) CancelConversation(conversation string) int {
	var stopped []*Handle
	r.mu.Lock()
	for _, key := range r.table.Keys() {
		if key.Conversation != conversation {
			continue
		}
		if h, ok := r.table.Get(key); ok {
			stopped = append(stopped, h)
		}
		r.table.Delete(key)
	}
	r.mu.Unlock()
	for _, h := range stopped {
		h.Cancel()
	}
	return len(stopped)
}

// Active returns the number of registered monitors.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.Len()
}

// Close cancels every running monitor and waits for them to exit.
func (r *Registry) Close() {
	r.stop()
	r.wg.Wait()
}
