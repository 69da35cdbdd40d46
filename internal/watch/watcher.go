package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/command"
	"distributed-configstore/internal/storage"
)

// delayOnSuccess is spec.md §4.5's DELAY_ON_SUCCESS: the fixed pause
// before re-arming after a watch attempt delivers (or idles out on) a
// value, as opposed to the jittered backoff used after an error.
const delayOnSuccess = time.Second

// Delivered is the (revision, value) pair a Watcher hands to its
// listeners and its initial-value future.
type Delivered struct {
	Revision command.Revision
	Value    storage.Value
}

// Listener receives every delivery a Watcher makes, in revision order.
type Listener func(Delivered)

// DoWatchFunc performs one watch attempt against lastKnown. It returns a
// non-nil revision (and its value) on a match, a nil revision with a nil
// error on idle timeout (no change yet), or an error. A DoWatchFunc must
// respect ctx cancellation and return promptly when it fires.
type DoWatchFunc func(ctx context.Context, lastKnown command.Revision) (*command.Revision, storage.Value, error)

type watcherState int32

const (
	watcherInit watcherState = iota
	watcherStarted
	watcherStopped
)

// Config configures a Watcher.
type Config struct {
	Project, Repo string
	InitialKnown  command.Revision // usually command.Head
	DoWatch       DoWatchFunc

	CallbackScheduler CallbackScheduler // defaults to a small pooled scheduler
	WatchScheduler    WatchScheduler    // defaults to NewTimerWatchScheduler()

	Logger *zap.Logger
}

// Watcher is the client-side long-lived watch (C5): it repeatedly calls
// DoWatch, delivering every new (revision, value) to its listeners, and
// re-arms itself on a schedule — a short fixed delay after success, a
// jittered exponential backoff after an error — until closed.
type Watcher struct {
	id            string
	project, repo string
	doWatch       DoWatchFunc
	callbacks     CallbackScheduler
	ticks         WatchScheduler
	log           *zap.Logger

	state atomic.Int32

	mu             sync.Mutex
	lastKnown      command.Revision
	latest         *Delivered
	listeners      []Listener
	cancelInFlight context.CancelFunc
	cancelTick     func()

	backoff *backoff.ExponentialBackOff

	initial *initialFuture
}

// New builds a Watcher; call Start to begin watching.
func New(cfg Config) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	callbacks := cfg.CallbackScheduler
	if callbacks == nil {
		callbacks = NewPooledCallbackScheduler(1)
	}
	ticks := cfg.WatchScheduler
	if ticks == nil {
		ticks = NewTimerWatchScheduler()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2.0
	b.MaxInterval = 60 * time.Second
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0 // never give up; the Watcher retries until closed

	w := &Watcher{
		id:      uuid.NewString(),
		project: cfg.Project, repo: cfg.Repo, doWatch: cfg.DoWatch,
		callbacks: callbacks, ticks: ticks, log: logger,
		lastKnown: cfg.InitialKnown, backoff: b, initial: newInitialFuture(),
	}
	w.state.Store(int32(watcherInit))
	return w
}

// ID is this watcher's unique token, included in every log line it
// emits so a single watcher's attempts can be grepped out of a replica's
// or client's logs across reconnects.
func (w *Watcher) ID() string { return w.id }

func (w *Watcher) getState() watcherState { return watcherState(w.state.Load()) }

// Start transitions INIT -> STARTED and fires the first watch attempt.
func (w *Watcher) Start() error {
	if !w.state.CompareAndSwap(int32(watcherInit), int32(watcherStarted)) {
		return errors.New("watch: Start called from a non-INIT state")
	}
	w.arm(0)
	return nil
}

// Watch registers listener. If a value has already been delivered,
// listener is scheduled a one-shot replay of it on the callback scheduler,
// so every listener sees an "initial" event regardless of when it
// subscribed.
func (w *Watcher) Watch(listener Listener) {
	w.mu.Lock()
	w.listeners = append(w.listeners, listener)
	current := w.latest
	w.mu.Unlock()

	if current != nil {
		w.dispatch(listener, *current)
	}
}

// InitialValue blocks until the first delivery completes, ctx is done, or
// the Watcher is closed before ever delivering one.
func (w *Watcher) InitialValue(ctx context.Context) (*Delivered, error) {
	return w.initial.wait(ctx)
}

// Close transitions to STOPPED: it cancels any pending retry tick and any
// in-flight watch attempt, and cancels the initial-value future if it
// hasn't completed yet. Listener callbacks already handed to the callback
// scheduler may still run.
func (w *Watcher) Close() error {
	if watcherState(w.state.Swap(int32(watcherStopped))) == watcherStopped {
		return nil
	}
	w.mu.Lock()
	if w.cancelTick != nil {
		w.cancelTick()
		w.cancelTick = nil
	}
	if w.cancelInFlight != nil {
		w.cancelInFlight()
		w.cancelInFlight = nil
	}
	w.mu.Unlock()
	w.initial.cancel(apierrors.Cancelled)
	return nil
}

func (w *Watcher) arm(delay time.Duration) {
	if w.getState() != watcherStarted {
		return
	}
	cancel := w.ticks.Schedule(delay, w.runAttempt)
	w.mu.Lock()
	w.cancelTick = cancel
	w.mu.Unlock()
}

func (w *Watcher) runAttempt() {
	if w.getState() != watcherStarted {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancelInFlight = cancel
	lastKnown := w.lastKnown
	w.mu.Unlock()

	rev, value, err := w.doWatch(ctx, lastKnown)

	w.mu.Lock()
	w.cancelInFlight = nil
	w.mu.Unlock()

	if err != nil {
		if isCancellation(err) {
			return // CancellationException is a silent stop
		}
		logDoWatchError(w.log.With(zap.String("watch_id", w.id)), err)
		w.arm(w.backoff.NextBackOff())
		return
	}

	w.backoff.Reset()

	if rev == nil {
		// idle timeout: no new matching commit yet.
		w.arm(delayOnSuccess)
		return
	}

	delivered := Delivered{Revision: *rev, Value: value}
	w.mu.Lock()
	w.lastKnown = *rev
	w.latest = &delivered
	listeners := append([]Listener(nil), w.listeners...)
	w.mu.Unlock()

	for _, l := range listeners {
		w.dispatch(l, delivered)
	}
	w.initial.complete(delivered)
	w.arm(delayOnSuccess)
}

// dispatch hands one callback to the callback scheduler. A saturated
// scheduler means the event loop is shutting down, per spec.md §5, so the
// Watcher closes itself rather than dropping or blocking on the callback.
func (w *Watcher) dispatch(l Listener, d Delivered) {
	if err := w.callbacks.Submit(func() { l(d) }); err != nil {
		w.log.Warn("watch: callback scheduler saturated, closing watcher",
			zap.String("watch_id", w.id), zap.String("project", w.project), zap.String("repo", w.repo), zap.Error(err))
		w.Close()
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, apierrors.Cancelled)
}

func logDoWatchError(log *zap.Logger, err error) {
	if isTransientWatchError(err) {
		log.Info("watch attempt returned a transient error", zap.Error(err))
		return
	}
	log.Warn("watch attempt failed", zap.Error(err))
}

func isTransientWatchError(err error) bool {
	var e *apierrors.Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case apierrors.KindEntryNotFound, apierrors.KindRepositoryNotFound, apierrors.KindShuttingDown:
		return true
	default:
		return false
	}
}

// initialFuture is a one-shot, cancellable future for a Watcher's first
// delivery — the Go shape of spec.md's initialValueFuture.
type initialFuture struct {
	done chan struct{}
	once sync.Once
	val  *Delivered
	err  error
}

func newInitialFuture() *initialFuture {
	return &initialFuture{done: make(chan struct{})}
}

func (f *initialFuture) complete(d Delivered) {
	f.once.Do(func() {
		f.val = &d
		close(f.done)
	})
}

func (f *initialFuture) cancel(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *initialFuture) wait(ctx context.Context) (*Delivered, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
