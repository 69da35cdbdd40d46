package coordination

import (
	"context"
	"sort"
	"time"
)

type childWatch struct {
	stop chan struct{}
	done chan struct{}
}

func (w *childWatch) Close() error {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
	return nil
}

// WatchChildren invokes onChildAdded once per child that appears under
// watchPath after the call is made (not for children already present),
// re-arming the underlying one-shot watch every time it fires. Used by
// internal/replog to notice new sequential log nodes without polling.
func (c *Client) WatchChildren(ctx context.Context, watchPath string, onChildAdded func(name string)) (Watch, error) {
	initial, _, err := c.conn.Children(watchPath)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(initial))
	for _, name := range initial {
		seen[name] = true
	}

	w := &childWatch{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		for {
			children, _, events, err := c.conn.ChildrenW(watchPath)
			if err != nil {
				select {
				case <-w.stop:
					return
				case <-c.fatal:
					return
				case <-time.After(c.retryInterval):
					continue
				}
			}
			sort.Strings(children)
			for _, name := range children {
				if !seen[name] {
					seen[name] = true
					onChildAdded(name)
				}
			}
			select {
			case <-events:
				// loop around: re-list and re-arm
			case <-w.stop:
				return
			case <-c.fatal:
				return
			}
		}
	}()
	return w, nil
}
