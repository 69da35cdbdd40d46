package coordination

import (
	"context"
	"errors"
	"path"
	"strconv"
	"time"

	"github.com/go-zookeeper/zk"
)

// ErrNoPermitsAvailable is returned by AcquireSharedCountPermit when the
// semaphore is fully leased.
var ErrNoPermitsAvailable = errors.New("coordination: no permits available")

// AcquireSharedCountPermit implements the shared-count semaphore recipe
// spec.md §4.4 builds the write-quota limiter on top of: semaphorePath's
// children are one ephemeral node per outstanding lease; a lease is
// granted only while len(children) < maxCount, and the read-modify-create
// is serialized through a dedicated mutex node so concurrent acquirers
// never overshoot maxCount.
func (c *Client) AcquireSharedCountPermit(ctx context.Context, semaphorePath string, maxCount int) (PermitHandle, error) {
	mutexPath := path.Join(semaphorePath, "lease-mutex")
	leasesPath := path.Join(semaphorePath, "leases")
	if err := c.CreatePersistent(ctx, leasesPath, nil); err != nil {
		return PermitHandle{}, err
	}

	h, err := c.AcquireMutex(ctx, mutexPath, 200*time.Millisecond)
	if err != nil {
		return PermitHandle{}, err
	}
	defer c.ReleaseMutex(h)

	children, err := c.ListChildren(ctx, leasesPath)
	if err != nil {
		return PermitHandle{}, err
	}
	if len(children) >= maxCount {
		return PermitHandle{}, ErrNoPermitsAvailable
	}

	leasePath, err := c.createEphemeralSequential(ctx, leasesPath)
	if err != nil {
		return PermitHandle{}, err
	}
	return PermitHandle{semaphorePath: semaphorePath, leasePath: leasePath}, nil
}

// ReturnPermit releases a previously acquired lease, making room for the
// next AcquireSharedCountPermit caller.
func (c *Client) ReturnPermit(h PermitHandle) error {
	err := c.conn.Delete(h.leasePath, -1)
	if errors.Is(err, zk.ErrNoNode) {
		return nil
	}
	return err
}

// SetSharedCount stores the semaphore's configured maximum at
// <semaphorePath>/count. It does not evict already-outstanding leases.
// AcquireSharedCountPermit takes its limit from its maxCount argument and
// does not read this node; only ReadSharedCount does.
func (c *Client) SetSharedCount(ctx context.Context, semaphorePath string, n int) error {
	countPath := path.Join(semaphorePath, "count")
	data := []byte(strconv.Itoa(n))
	if err := c.CreatePersistent(ctx, countPath, data); err != nil {
		return err
	}
	return c.withRetry(ctx, func() error {
		_, err := c.conn.Set(countPath, data, -1)
		return err
	})
}

// ReadSharedCount returns the semaphore's currently configured maximum, or
// 0 if it has never been set.
func (c *Client) ReadSharedCount(ctx context.Context, semaphorePath string) (int, error) {
	data, err := c.Read(ctx, path.Join(semaphorePath, "count"))
	if errors.Is(err, zk.ErrNoNode) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}
