// Package coordinationtest is an in-memory stand-in for a live ZooKeeper
// ensemble, implementing coordination.Coordinator so C2–C6 can be exercised
// in tests without a real ensemble.
package coordinationtest

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"distributed-configstore/internal/coordination"
)

type node struct {
	data     []byte
	children map[string]*node
}

func newNode(data []byte) *node {
	return &node{data: data, children: make(map[string]*node)}
}

// Fake implements coordination.Coordinator entirely in memory, guarded by
// a single mutex. It is not meant to be fast, only faithful: sequential
// nodes get monotonic per-parent counters, mutex/semaphore/election
// recipes are built from the same persistent/sequential/ephemeral node
// primitives the real Client uses, and watches are fan-out channels
// notified synchronously whenever a child node is created (deletions and
// data updates do not notify; waiters also re-poll on a short timer).
type Fake struct {
	mu       sync.Mutex
	root     *node
	seq      map[string]int64 // parent path -> next sequence number
	watchers map[string][]chan struct{}
	fatal    chan struct{}
}

var _ coordination.Coordinator = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		root:     newNode(nil),
		seq:      make(map[string]int64),
		watchers: make(map[string][]chan struct{}),
		fatal:    make(chan struct{}),
	}
}

// TriggerFatal lets tests simulate the ensemble becoming permanently unreachable.
func (f *Fake) TriggerFatal() {
	select {
	case <-f.fatal:
	default:
		close(f.fatal)
	}
}

func (f *Fake) Fatal() <-chan struct{} { return f.fatal }
func (f *Fake) Close() error           { return nil }

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// walk returns the node at p, creating intermediate persistent nodes
// along the way when create is true.
func (f *Fake) walk(p string, create bool) (*node, error) {
	cur := f.root
	for _, seg := range splitPath(p) {
		child, ok := cur.children[seg]
		if !ok {
			if !create {
				return nil, fmt.Errorf("coordinationtest: no node at %s", p)
			}
			child = newNode(nil)
			cur.children[seg] = child
		}
		cur = child
	}
	return cur, nil
}

func (f *Fake) notify(parentPath string) {
	for _, ch := range f.watchers[parentPath] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	delete(f.watchers, parentPath)
}

func (f *Fake) CreatePersistent(ctx context.Context, nodePath string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := f.walk(nodePath, false)
	if n != nil {
		return nil
	}
	parent := path.Dir(nodePath)
	pn, err := f.walk(parent, true)
	if err != nil {
		return err
	}
	name := path.Base(nodePath)
	pn.children[name] = newNode(data)
	f.notify(parent)
	return nil
}

func (f *Fake) CreateSequential(ctx context.Context, parentPath string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pn, err := f.walk(parentPath, true)
	if err != nil {
		return "", err
	}
	seq := f.seq[parentPath]
	f.seq[parentPath] = seq + 1
	name := fmt.Sprintf("entry-%010d", seq)
	pn.children[name] = newNode(data)
	full := path.Join(parentPath, name)
	f.notify(parentPath)
	return full, nil
}

func (f *Fake) createEphemeralSequential(parentPath, prefix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pn, err := f.walk(parentPath, true)
	if err != nil {
		return "", err
	}
	seq := f.seq[parentPath]
	f.seq[parentPath] = seq + 1
	name := fmt.Sprintf("%s%010d", prefix, seq)
	pn.children[name] = newNode(nil)
	full := path.Join(parentPath, name)
	f.notify(parentPath)
	return full, nil
}

func (f *Fake) Read(ctx context.Context, nodePath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.walk(nodePath, false)
	if err != nil {
		return nil, err
	}
	return n.data, nil
}

func (f *Fake) ListChildren(ctx context.Context, nodePath string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.walk(nodePath, false)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (f *Fake) DeleteBatch(ctx context.Context, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		parent := path.Dir(p)
		pn, err := f.walk(parent, false)
		if err != nil {
			continue
		}
		delete(pn.children, path.Base(p))
	}
	return nil
}

func (f *Fake) set(nodePath string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.walk(nodePath, false)
	if err != nil {
		return err
	}
	n.data = data
	return nil
}

// ─── Mutex ────────────────────────────────────────────────────────────────

func (f *Fake) AcquireMutex(ctx context.Context, lockPath string, timeout time.Duration) (coordination.MutexHandle, error) {
	if err := f.CreatePersistent(ctx, lockPath, nil); err != nil {
		return coordination.MutexHandle{}, err
	}
	nodePath, err := f.createEphemeralSequential(lockPath, "lock-")
	if err != nil {
		return coordination.MutexHandle{}, err
	}
	deadline := time.Now().Add(timeout)
	for {
		if f.isLowest(lockPath, nodePath) {
			return coordination.NewMutexHandleForTest(lockPath, nodePath), nil
		}
		if time.Now().After(deadline) {
			f.DeleteBatch(ctx, []string{nodePath})
			return coordination.MutexHandle{}, coordination.ErrMutexTimeout
		}
		select {
		case <-f.waitOn(path.Dir(nodePath)):
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
			f.DeleteBatch(ctx, []string{nodePath})
			return coordination.MutexHandle{}, ctx.Err()
		}
	}
}

func (f *Fake) isLowest(parentPath, nodePath string) bool {
	children, _ := f.ListChildren(context.Background(), parentPath)
	if len(children) == 0 {
		return false
	}
	return path.Join(parentPath, children[0]) == nodePath
}

func (f *Fake) waitOn(parentPath string) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{}, 1)
	f.watchers[parentPath] = append(f.watchers[parentPath], ch)
	return ch
}

func (f *Fake) ReleaseMutex(h coordination.MutexHandle) error {
	return f.DeleteBatch(context.Background(), []string{coordination.MutexNodePathForTest(h)})
}

// ─── Semaphore ────────────────────────────────────────────────────────────

func (f *Fake) AcquireSharedCountPermit(ctx context.Context, semaphorePath string, maxCount int) (coordination.PermitHandle, error) {
	leasesPath := path.Join(semaphorePath, "leases")
	mh, err := f.AcquireMutex(ctx, path.Join(semaphorePath, "lease-mutex"), 200*time.Millisecond)
	if err != nil {
		return coordination.PermitHandle{}, err
	}
	defer f.ReleaseMutex(mh)

	if err := f.CreatePersistent(ctx, leasesPath, nil); err != nil {
		return coordination.PermitHandle{}, err
	}
	children, err := f.ListChildren(ctx, leasesPath)
	if err != nil {
		return coordination.PermitHandle{}, err
	}
	if len(children) >= maxCount {
		return coordination.PermitHandle{}, coordination.ErrNoPermitsAvailable
	}
	leasePath, err := f.createEphemeralSequential(leasesPath, "lease-")
	if err != nil {
		return coordination.PermitHandle{}, err
	}
	return coordination.NewPermitHandleForTest(semaphorePath, leasePath), nil
}

func (f *Fake) ReturnPermit(h coordination.PermitHandle) error {
	return f.DeleteBatch(context.Background(), []string{coordination.PermitLeasePathForTest(h)})
}

func (f *Fake) SetSharedCount(ctx context.Context, semaphorePath string, n int) error {
	countPath := path.Join(semaphorePath, "count")
	if err := f.CreatePersistent(ctx, countPath, []byte(strconv.Itoa(n))); err != nil {
		return err
	}
	return f.set(countPath, []byte(strconv.Itoa(n)))
}

// ─── Election ─────────────────────────────────────────────────────────────

func (f *Fake) ElectLeader(leaderPath string, onAcquire, onRelease func()) (coordination.Election, error) {
	ctx := context.Background()
	if err := f.CreatePersistent(ctx, leaderPath, nil); err != nil {
		return nil, err
	}
	nodePath, err := f.createEphemeralSequential(leaderPath, "lock-")
	if err != nil {
		return nil, err
	}
	e := &fakeElectionHandle{f: f, leaderPath: leaderPath, nodePath: nodePath,
		onAcquire: onAcquire, onRelease: onRelease, stop: make(chan struct{}), done: make(chan struct{})}
	go e.loop()
	return e, nil
}

type fakeElectionHandle struct {
	f          *Fake
	leaderPath string
	nodePath   string
	onAcquire  func()
	onRelease  func()

	mu       sync.Mutex
	isLeader bool

	stop chan struct{}
	done chan struct{}
}

func (e *fakeElectionHandle) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

func (e *fakeElectionHandle) setLeader(v bool) {
	e.mu.Lock()
	changed := e.isLeader != v
	e.isLeader = v
	e.mu.Unlock()
	if !changed {
		return
	}
	if v && e.onAcquire != nil {
		e.onAcquire()
	}
	if !v && e.onRelease != nil {
		e.onRelease()
	}
}

func (e *fakeElectionHandle) loop() {
	defer close(e.done)
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		e.setLeader(e.f.isLowest(e.leaderPath, e.nodePath))
		select {
		case <-e.stop:
			return
		case <-e.f.fatal:
			e.setLeader(false)
			return
		case <-ticker.C:
		}
	}
}

func (e *fakeElectionHandle) Close() error {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	<-e.done
	e.setLeader(false)
	return e.f.DeleteBatch(context.Background(), []string{e.nodePath})
}

// ─── Watch ────────────────────────────────────────────────────────────────

type fakeWatch struct {
	stop chan struct{}
	done chan struct{}
}

func (w *fakeWatch) Close() error {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
	return nil
}

func (f *Fake) WatchChildren(ctx context.Context, watchPath string, onChildAdded func(name string)) (coordination.Watch, error) {
	f.CreatePersistent(ctx, watchPath, nil)
	initial, _ := f.ListChildren(ctx, watchPath)
	seen := make(map[string]bool, len(initial))
	for _, name := range initial {
		seen[name] = true
	}
	w := &fakeWatch{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-f.fatal:
				return
			case <-ticker.C:
			}
			children, _ := f.ListChildren(ctx, watchPath)
			for _, name := range children {
				if !seen[name] {
					seen[name] = true
					onChildAdded(name)
				}
			}
		}
	}()
	return w, nil
}
