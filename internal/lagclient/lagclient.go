// Package lagclient is the Lag-Tolerant Client Proxy (C6): it wraps
// internal/client and smooths over the brief window where a replica that
// served an earlier request hasn't yet replayed a revision another
// replica already committed. It maintains a bounded LRU of the highest
// revision observed per (project, repo) and retries RevisionNotFound
// against a replica that the cache says should already have it.
package lagclient

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/client"
	"distributed-configstore/internal/command"
)

// cacheSize is spec.md §4.6's "≈8,000-entry LRU".
const cacheSize = 8000

type repoKey struct{ project, repo string }

// Config configures a Proxy.
type Config struct {
	MaxRetries          int
	RetryIntervalMillis int64
}

// Proxy wraps a *client.Client with the retry policy above.
type Proxy struct {
	inner *client.Client
	cache *lru.Cache[repoKey, command.Revision]

	maxRetries    int
	retryInterval time.Duration
}

// New builds a Proxy around inner.
func New(inner *client.Client, cfg Config) (*Proxy, error) {
	cache, err := lru.New[repoKey, command.Revision](cacheSize)
	if err != nil {
		return nil, err
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryInterval := time.Duration(cfg.RetryIntervalMillis) * time.Millisecond
	if retryInterval <= 0 {
		retryInterval = 200 * time.Millisecond
	}
	return &Proxy{inner: inner, cache: cache, maxRetries: maxRetries, retryInterval: retryInterval}, nil
}

func (p *Proxy) observe(project, repo string, rev command.Revision) {
	if rev.IsRelative() {
		return
	}
	key := repoKey{project, repo}
	if prev, ok := p.cache.Get(key); ok && prev.CompareTo(rev) >= 0 {
		return
	}
	p.cache.Add(key, rev)
}

// highestObserved reports the cached highest absolute revision for
// (project, repo), if any.
func (p *Proxy) highestObserved(project, repo string) (command.Revision, bool) {
	return p.cache.Get(repoKey{project, repo})
}

// shouldRetry implements spec.md §4.6's predicate: for an absolute
// requested revision R, retry if the cache holds some R' >= R; for a
// relative R (e.g. head-N), retry if majorOfR + majorOfLastKnown >= 0 —
// i.e. the cache's absolute high-water mark is already past where the
// relative revision would resolve to.
func (p *Proxy) shouldRetry(project, repo string, requested command.Revision) bool {
	cached, ok := p.highestObserved(project, repo)
	if !ok {
		return false
	}
	if !requested.IsRelative() {
		return cached.CompareTo(requested) >= 0
	}
	return requested.Major+cached.Major >= 0
}

// withRetry runs op, retrying while it fails with RevisionNotFound and the
// cache says requested should already be reachable, up to maxRetries
// times. The final attempt's error (if still RevisionNotFound) or any
// other error propagates unchanged.
func (p *Proxy) withRetry(ctx context.Context, project, repo string, requested command.Revision, op func() error) error {
	return p.retryLoop(ctx, op, func() bool { return p.shouldRetry(project, repo, requested) })
}

// withRangeRetry is withRetry's range-operation counterpart: spec.md
// §4.6 calls for normalizing both ends of a range before deciding to
// retry, so a range is only retried if the cache supports retrying at
// *both* from and to.
func (p *Proxy) withRangeRetry(ctx context.Context, project, repo string, from, to command.Revision, op func() error) error {
	return p.retryLoop(ctx, op, func() bool {
		return p.shouldRetry(project, repo, from) && p.shouldRetry(project, repo, to)
	})
}

func (p *Proxy) retryLoop(ctx context.Context, op func() error, shouldRetry func() bool) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !apierrors.IsTransientForRetry(err) || !shouldRetry() {
			return err
		}
		if attempt >= p.maxRetries {
			return err
		}
		select {
		case <-time.After(p.retryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ─── Project/repository lifecycle passthroughs ───────────────────────────

func (p *Proxy) CreateProject(ctx context.Context, project string) error {
	return p.inner.CreateProject(ctx, project)
}

func (p *Proxy) RemoveProject(ctx context.Context, project string) error {
	return p.inner.RemoveProject(ctx, project)
}

func (p *Proxy) PurgeProject(ctx context.Context, project string) error {
	return p.inner.PurgeProject(ctx, project)
}

func (p *Proxy) UnremoveProject(ctx context.Context, project string) error {
	return p.inner.UnremoveProject(ctx, project)
}

func (p *Proxy) CreateRepository(ctx context.Context, project, repo string) error {
	return p.inner.CreateRepository(ctx, project, repo)
}

func (p *Proxy) RemoveRepository(ctx context.Context, project, repo string) error {
	return p.inner.RemoveRepository(ctx, project, repo)
}

func (p *Proxy) PurgeRepository(ctx context.Context, project, repo string) error {
	return p.inner.PurgeRepository(ctx, project, repo)
}

func (p *Proxy) UnremoveRepository(ctx context.Context, project, repo string) error {
	return p.inner.UnremoveRepository(ctx, project, repo)
}

// ─── Push ─────────────────────────────────────────────────────────────────

// Push commits req and records the resulting revision as a new
// high-water mark for (project, repo).
func (p *Proxy) Push(ctx context.Context, project, repo string, req client.PushRequest) (*client.PushResponse, error) {
	resp, err := p.inner.Push(ctx, project, repo, req)
	if err != nil {
		return nil, err
	}
	p.observe(project, repo, resp.Revision)
	return resp, nil
}

// ─── Query ────────────────────────────────────────────────────────────────

// Query reads path at rev, retrying against the target replica if it
// reports RevisionNotFound for a revision this proxy has already observed
// elsewhere.
func (p *Proxy) Query(ctx context.Context, project, repo string, rev command.Revision, path, jsonPath string) (*client.QueryResponse, error) {
	var resp *client.QueryResponse
	err := p.withRetry(ctx, project, repo, rev, func() error {
		var innerErr error
		resp, innerErr = p.inner.Query(ctx, project, repo, rev, path, jsonPath)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ─── History (range query) ─────────────────────────────────────────────────

// History reads the commit range (from, to], retrying against the target
// replica if it reports RevisionNotFound for either end of a range this
// proxy has already observed elsewhere.
func (p *Proxy) History(ctx context.Context, project, repo string, from, to command.Revision, pathPattern string) (*client.HistoryResponse, error) {
	var resp *client.HistoryResponse
	err := p.withRangeRetry(ctx, project, repo, from, to, func() error {
		var innerErr error
		resp, innerErr = p.inner.History(ctx, project, repo, from, to, pathPattern)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// ─── Watch ────────────────────────────────────────────────────────────────

// Watch long-polls for the next matching commit and records its revision
// as a new high-water mark.
func (p *Proxy) Watch(ctx context.Context, project, repo string, lastKnown command.Revision, pathPattern string) (*client.WatchResponse, error) {
	resp, err := p.inner.Watch(ctx, project, repo, lastKnown, pathPattern)
	if err != nil {
		return nil, err
	}
	if resp.Revision != nil {
		p.observe(project, repo, *resp.Revision)
	}
	return resp, nil
}

// ─── Write quota / status ─────────────────────────────────────────────────

func (p *Proxy) SetWriteQuota(ctx context.Context, project, repo string, req client.QuotaRequest) error {
	return p.inner.SetWriteQuota(ctx, project, repo, req)
}

func (p *Proxy) UpdateStatus(ctx context.Context, status command.ServerStatus) error {
	return p.inner.UpdateStatus(ctx, status)
}
