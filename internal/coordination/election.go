package coordination

import (
	"context"
	"path"
	"sort"
	"sync"

	"github.com/go-zookeeper/zk"
)

type election struct {
	client     *Client
	leaderPath string
	nodePath   string

	mu       sync.RWMutex
	isLeader bool

	onAcquire func()
	onRelease func()

	stop chan struct{}
	done chan struct{}
}

// ElectLeader implements the same sequential-ephemeral-node recipe as
// AcquireMutex, reused for leadership instead of mutual exclusion: the
// lowest-sequence node is the leader, every other node watches its
// immediate predecessor, and a leader that dies (session loss, process
// exit) lets the next-lowest node take over automatically once its
// ephemeral node disappears. Runs internal/coordination/leader.go's loop
// goroutine, which owns the onAcquire/onRelease callbacks.
func (c *Client) ElectLeader(leaderPath string, onAcquire, onRelease func()) (Election, error) {
	ctx := context.Background()
	if err := c.CreatePersistent(ctx, leaderPath, nil); err != nil {
		return nil, err
	}
	nodePath, err := c.createEphemeralSequential(ctx, leaderPath)
	if err != nil {
		return nil, err
	}
	e := &election{
		client:     c,
		leaderPath: leaderPath,
		nodePath:   nodePath,
		onAcquire:  onAcquire,
		onRelease:  onRelease,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go e.loop()
	return e, nil
}

func (e *election) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

func (e *election) setLeader(v bool) {
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

func (e *election) Close() error {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}
	<-e.done
	e.setLeader(false)
	return e.client.conn.Delete(e.nodePath, -1)
}

// predecessorOf returns the path of self's next-lowest sibling, or "" if
// self is already the lowest (i.e. the leader).
func predecessorOf(children []string, self string) string {
	sort.Slice(children, func(i, j int) bool {
		si, _ := sequenceSuffix(children[i])
		sj, _ := sequenceSuffix(children[j])
		return si < sj
	})
	idx := -1
	for i, ch := range children {
		if ch == self {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return ""
	}
	return children[idx-1]
}

func (e *election) watchOnce() (predecessor string, watch <-chan zk.Event, err error) {
	children, _, err := e.client.conn.Children(e.leaderPath)
	if err != nil {
		return "", nil, err
	}
	pred := predecessorOf(children, path.Base(e.nodePath))
	if pred == "" {
		return "", nil, nil
	}
	exists, _, w, err := e.client.conn.ExistsW(path.Join(e.leaderPath, pred))
	if err != nil {
		return "", nil, err
	}
	if !exists {
		return pred, closedEventChan(), nil
	}
	return pred, w, nil
}
