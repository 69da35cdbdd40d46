// Package coordination is the adapter described by spec.md's Coordination
// Client: a minimal wrapper around an ensemble that gives the rest of the
// replica (C2–C6) persistent/sequential nodes, a mutex recipe, a
// shared-count semaphore, leader election, and child watches, without
// leaking ensemble-specific types past this package's boundary.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"
)

// MutexHandle identifies a held AcquireMutex lease.
type MutexHandle struct {
	lockPath string
	nodePath string
}

// PermitHandle identifies a held AcquireSharedCountPermit lease.
type PermitHandle struct {
	semaphorePath string
	leasePath     string
}

// Coordinator is the full C1 contract. internal/coordination/coordinationtest
// provides an in-memory implementation so the rest of the replica can be
// exercised in tests without a live ensemble.
type Coordinator interface {
	CreatePersistent(ctx context.Context, nodePath string, data []byte) error
	CreateSequential(ctx context.Context, nodePath string, data []byte) (string, error)
	Read(ctx context.Context, nodePath string) ([]byte, error)
	ListChildren(ctx context.Context, nodePath string) ([]string, error)
	DeleteBatch(ctx context.Context, paths []string) error

	AcquireMutex(ctx context.Context, lockPath string, timeout time.Duration) (MutexHandle, error)
	ReleaseMutex(h MutexHandle) error

	AcquireSharedCountPermit(ctx context.Context, semaphorePath string, maxCount int) (PermitHandle, error)
	ReturnPermit(h PermitHandle) error
	SetSharedCount(ctx context.Context, semaphorePath string, n int) error

	ElectLeader(leaderPath string, onAcquire, onRelease func()) (Election, error)
	WatchChildren(ctx context.Context, watchPath string, onChildAdded func(name string)) (Watch, error)

	// Fatal is closed once the ensemble has been unreachable past
	// SessionTimeout. Its receipt is the trigger spec.md §4.1 describes
	// for entering read-only mode.
	Fatal() <-chan struct{}
	Close() error
}

// Election and Watch are the live handles ElectLeader/WatchChildren hand
// back; Close stops the underlying goroutine.
type Election interface {
	IsLeader() bool
	Close() error
}

type Watch interface {
	Close() error
}

// Config configures a Client.
type Config struct {
	Endpoints      []string
	SessionTimeout time.Duration
	RootPath       string
	RetryInterval  time.Duration // defaults to 500ms, the fixed interval spec.md §4.1 mandates
	Logger         *zap.Logger
}

// Client is the ZooKeeper-backed Coordinator. go-zookeeper/zk is the
// ensemble client the surrounding example pack's own manifests reach for
// (see DESIGN.md); there is no in-pack justification to hand-roll a wire
// protocol client here.
type Client struct {
	conn          *zk.Conn
	events        <-chan zk.Event
	retryInterval time.Duration
	sessionTO     time.Duration
	log           *zap.Logger

	fatal     chan struct{}
	fatalOnce sync.Once

	closeOnce sync.Once
}

// Dial connects to the ensemble and starts the background session-state
// watcher that closes Fatal() once the session has been unreachable past
// SessionTimeout.
func Dial(cfg Config) (*Client, error) {
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = 500 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, events, err := zk.Connect(cfg.Endpoints, cfg.SessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("coordination: connect: %w", err)
	}
	c := &Client{
		conn:          conn,
		events:        events,
		retryInterval: retry,
		sessionTO:     cfg.SessionTimeout,
		log:           logger,
		fatal:         make(chan struct{}),
	}
	go c.watchSession()
	return c, nil
}

func (c *Client) watchSession() {
	var disconnectedSince time.Time
	for ev := range c.events {
		switch ev.State {
		case zk.StateDisconnected:
			if disconnectedSince.IsZero() {
				disconnectedSince = time.Now()
			}
		case zk.StateConnected, zk.StateHasSession:
			disconnectedSince = time.Time{}
		case zk.StateExpired:
			c.log.Error("zk session expired", zap.String("server", ev.Server))
			c.declareFatal()
			return
		}
		if !disconnectedSince.IsZero() && time.Since(disconnectedSince) > c.sessionTO {
			c.log.Error("zk ensemble unreachable past session timeout", zap.Duration("timeout", c.sessionTO))
			c.declareFatal()
			return
		}
	}
}

func (c *Client) declareFatal() {
	c.fatalOnce.Do(func() { close(c.fatal) })
}

func (c *Client) Fatal() <-chan struct{} { return c.fatal }

func (c *Client) Close() error {
	c.closeOnce.Do(c.conn.Close)
	return nil
}

// retryable reports whether err is a transient failure spec.md §4.1 says
// to retry indefinitely on a fixed interval, as opposed to a fatal one.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	// session expiry is handled as fatal via watchSession and is never retried here.
	return errors.Is(err, zk.ErrConnectionClosed) || errors.Is(err, zk.ErrNoServer)
}

// withRetry runs op on a 500ms ticker until it succeeds, ctx is canceled,
// or Fatal() has fired.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	for {
		err := op()
		if err == nil || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.fatal:
			return fmt.Errorf("coordination: ensemble fatal: %w", err)
		case <-time.After(c.retryInterval):
		}
	}
}

func (c *Client) CreatePersistent(ctx context.Context, nodePath string, data []byte) error {
	return c.withRetry(ctx, func() error {
		_, err := c.conn.Create(nodePath, data, 0, zk.WorldACL(zk.PermAll))
		if errors.Is(err, zk.ErrNodeExists) {
			return nil
		}
		return err
	})
}

// CreateSequential creates a persistent sequential node under parentPath
// (parentPath must already exist) and returns the full assigned path,
// e.g. "/root/logs/entry-0000000042".
func (c *Client) CreateSequential(ctx context.Context, parentPath string, data []byte) (string, error) {
	var created string
	err := c.withRetry(ctx, func() error {
		p, err := c.conn.Create(path.Join(parentPath, "entry-"), data, zk.FlagSequence, zk.WorldACL(zk.PermAll))
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	return created, err
}

func (c *Client) Read(ctx context.Context, nodePath string) ([]byte, error) {
	var data []byte
	err := c.withRetry(ctx, func() error {
		d, _, err := c.conn.Get(nodePath)
		data = d
		return err
	})
	return data, err
}

func (c *Client) ListChildren(ctx context.Context, nodePath string) ([]string, error) {
	var children []string
	err := c.withRetry(ctx, func() error {
		cs, _, err := c.conn.Children(nodePath)
		children = cs
		return err
	})
	return children, err
}

func (c *Client) DeleteBatch(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := c.withRetry(ctx, func() error {
			err := c.conn.Delete(p, -1)
			if errors.Is(err, zk.ErrNoNode) {
				return nil
			}
			return err
		}); err != nil {
			return fmt.Errorf("coordination: delete %s: %w", p, err)
		}
	}
	return nil
}

// sequenceSuffix extracts the zero-padded sequence number zk appended to
// a sequential node's name (the last 10 digits).
func sequenceSuffix(nodePath string) (int64, error) {
	name := path.Base(nodePath)
	if len(name) < 10 {
		return 0, fmt.Errorf("coordination: %q too short to carry a sequence suffix", name)
	}
	return strconv.ParseInt(name[len(name)-10:], 10, 64)
}
