package watch_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/command"
	"distributed-configstore/internal/storage"
	"distributed-configstore/internal/watch"
)

// scriptedDoWatch replays a fixed sequence of attempts, then blocks until
// ctx is cancelled (simulating an idle long-poll) for any call beyond the
// script.
type scriptedDoWatch struct {
	mu     sync.Mutex
	calls  int
	script []func(ctx context.Context) (*command.Revision, storage.Value, error)
}

func (s *scriptedDoWatch) fn() watch.DoWatchFunc {
	return func(ctx context.Context, lastKnown command.Revision) (*command.Revision, storage.Value, error) {
		s.mu.Lock()
		i := s.calls
		s.calls++
		s.mu.Unlock()
		if i < len(s.script) {
			return s.script[i](ctx)
		}
		<-ctx.Done()
		return nil, storage.Value{}, ctx.Err()
	}
}

func TestWatcherDeliversToListenersInOrder(t *testing.T) {
	rev1 := command.NewRevision(1)
	rev2 := command.NewRevision(2)
	script := &scriptedDoWatch{script: []func(ctx context.Context) (*command.Revision, storage.Value, error){
		func(ctx context.Context) (*command.Revision, storage.Value, error) {
			return &rev1, storage.Value{Kind: storage.ValueText, Text: "v1"}, nil
		},
		func(ctx context.Context) (*command.Revision, storage.Value, error) {
			return &rev2, storage.Value{Kind: storage.ValueText, Text: "v2"}, nil
		},
	}}

	w := watch.New(watch.Config{
		Project: "acme", Repo: "widgets",
		InitialKnown: command.Init,
		DoWatch:      script.fn(),
		WatchScheduler: instantScheduler{},
	})
	defer w.Close()

	var delivered []watch.Delivered
	var mu sync.Mutex
	done := make(chan struct{})
	w.Watch(func(d watch.Delivered) {
		mu.Lock()
		delivered = append(delivered, d)
		n := len(delivered)
		mu.Unlock()
		if n == 2 {
			close(done)
		}
	})

	require.NoError(t, w.Start())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not deliver both revisions")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 2)
	require.Equal(t, int32(1), delivered[0].Revision.Major)
	require.Equal(t, int32(2), delivered[1].Revision.Major)
}

func TestWatcherReplaysLatestToNewListener(t *testing.T) {
	rev1 := command.NewRevision(1)
	script := &scriptedDoWatch{script: []func(ctx context.Context) (*command.Revision, storage.Value, error){
		func(ctx context.Context) (*command.Revision, storage.Value, error) {
			return &rev1, storage.Value{Kind: storage.ValueText, Text: "v1"}, nil
		},
	}}

	w := watch.New(watch.Config{
		Project: "acme", Repo: "widgets",
		InitialKnown:   command.Init,
		DoWatch:        script.fn(),
		WatchScheduler: instantScheduler{},
	})
	defer w.Close()

	require.NoError(t, w.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	initial, err := w.InitialValue(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), initial.Revision.Major)

	var replayed atomic.Bool
	done := make(chan struct{})
	w.Watch(func(d watch.Delivered) {
		replayed.Store(true)
		require.Equal(t, int32(1), d.Revision.Major)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("late listener was never replayed the current value")
	}
	require.True(t, replayed.Load())
}

func TestWatcherRetriesAfterError(t *testing.T) {
	rev1 := command.NewRevision(1)
	script := &scriptedDoWatch{script: []func(ctx context.Context) (*command.Revision, storage.Value, error){
		func(ctx context.Context) (*command.Revision, storage.Value, error) {
			return nil, storage.Value{}, apierrors.EntryNotFound
		},
		func(ctx context.Context) (*command.Revision, storage.Value, error) {
			return &rev1, storage.Value{Kind: storage.ValueText, Text: "v1"}, nil
		},
	}}

	w := watch.New(watch.Config{
		Project: "acme", Repo: "widgets",
		InitialKnown:   command.Init,
		DoWatch:        script.fn(),
		WatchScheduler: instantScheduler{},
	})
	defer w.Close()
	require.NoError(t, w.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	initial, err := w.InitialValue(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), initial.Revision.Major)
}

func TestWatcherCloseCancelsInitialValueFuture(t *testing.T) {
	script := &scriptedDoWatch{}
	w := watch.New(watch.Config{
		Project: "acme", Repo: "widgets",
		InitialKnown:   command.Init,
		DoWatch:        script.fn(),
		WatchScheduler: instantScheduler{},
	})
	require.NoError(t, w.Start())
	require.NoError(t, w.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := w.InitialValue(ctx)
	require.Error(t, err)
}

// instantScheduler runs every scheduled tick immediately on its own
// goroutine, regardless of the requested delay — it lets these tests
// drive a Watcher's re-arm loop without waiting out real backoff delays.
type instantScheduler struct{}

func (instantScheduler) Schedule(_ time.Duration, fn func()) func() {
	go fn()
	return func() {}
}
