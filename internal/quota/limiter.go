package quota

import (
	"context"
	"path"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/command"
	"distributed-configstore/internal/coordination"
)

// cacheCapacity is the bounded LRU size spec.md §4.4 specifies for the
// QuotaConfig cache.
const cacheCapacity = 2000

type repoKey struct {
	project, repo string
}

type cachedQuota struct {
	QuotaConfig
	semaphoreSized bool // whether SetSharedCount has already been called for the current value
}

// Limiter is the C4 implementation.
type Limiter struct {
	coord    coordination.Coordinator
	meta     MetadataService
	rootPath string

	mu    sync.Mutex // guards cache entries' semaphoreSized bookkeeping
	cache *lru.Cache[repoKey, *cachedQuota]
}

// New builds a Limiter rooted at <rootPath>/quota.
func New(coord coordination.Coordinator, meta MetadataService, rootPath string) (*Limiter, error) {
	cache, err := lru.New[repoKey, *cachedQuota](cacheCapacity)
	if err != nil {
		return nil, err
	}
	return &Limiter{coord: coord, meta: meta, rootPath: rootPath, cache: cache}, nil
}

func (l *Limiter) semaphorePath(project, repo string) string {
	return path.Join(l.rootPath, "quota", project, repo)
}

// Acquire enforces the write quota for one command on executionPath
// (project, repo). It blocks for at most 200ms trying to obtain a
// semaphore permit; on success the permit is returned automatically after
// the repository's configured time window. dogma/meta bypass entirely,
// per spec.md §4.4.
func (l *Limiter) Acquire(ctx context.Context, project, repo string) error {
	if command.IsInternal(project, repo) {
		return nil
	}

	cfg, err := l.quotaConfig(ctx, project, repo)
	if err != nil {
		return err
	}
	if cfg.RequestQuota <= 0 {
		return nil
	}

	maxCount := cfg.RequestQuota
	semPath := l.semaphorePath(project, repo)

	acquireCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	permit, err := l.coord.AcquireSharedCountPermit(acquireCtx, semPath, maxCount)
	if err != nil {
		executionPath := command.RepositoryPath(project, repo)
		return apierrors.NewTooManyRequests(executionPath, cfg.RequestQuota)
	}

	time.AfterFunc(time.Duration(cfg.TimeWindowSeconds)*time.Second, func() {
		l.coord.ReturnPermit(permit)
	})
	return nil
}

// SetWriteQuota updates the cached QuotaConfig for (project, repo) and, if
// the effective semaphore size changed, pushes the new size to the
// coordination service.
func (l *Limiter) SetWriteQuota(ctx context.Context, project, repo string, cfg QuotaConfig) error {
	key := repoKey{project, repo}
	l.mu.Lock()
	prev, ok := l.cache.Get(key)
	changed := !ok || prev.QuotaConfig != cfg
	l.cache.Add(key, &cachedQuota{QuotaConfig: cfg, semaphoreSized: false})
	l.mu.Unlock()

	if !changed || cfg.RequestQuota <= 0 {
		return nil
	}
	return l.coord.SetSharedCount(ctx, l.semaphorePath(project, repo), cfg.RequestQuota)
}

// Forget drops any cached QuotaConfig for (project, repo). The executor
// calls this on RemoveRepository so a later UnremoveRepository+push re-reads
// the metadata service instead of trusting a stale semaphore size.
func (l *Limiter) Forget(project, repo string) {
	l.mu.Lock()
	l.cache.Remove(repoKey{project, repo})
	l.mu.Unlock()
}

// quotaConfig returns the cached QuotaConfig for (project, repo), loading
// it from the metadata service on a cache miss and sizing the semaphore
// node on first use.
func (l *Limiter) quotaConfig(ctx context.Context, project, repo string) (QuotaConfig, error) {
	key := repoKey{project, repo}
	l.mu.Lock()
	if c, ok := l.cache.Get(key); ok {
		cfg := c.QuotaConfig
		sized := c.semaphoreSized
		l.mu.Unlock()
		if sized || cfg.RequestQuota <= 0 {
			return cfg, nil
		}
		if err := l.coord.SetSharedCount(ctx, l.semaphorePath(project, repo), cfg.RequestQuota); err != nil {
			return QuotaConfig{}, err
		}
		l.mu.Lock()
		if c, ok := l.cache.Get(key); ok {
			c.semaphoreSized = true
		}
		l.mu.Unlock()
		return cfg, nil
	}
	l.mu.Unlock()

	cfg, err := l.meta.QuotaConfig(ctx, project, repo)
	if err != nil {
		return QuotaConfig{}, err
	}
	sized := cfg.RequestQuota <= 0
	if !sized {
		if err := l.coord.SetSharedCount(ctx, l.semaphorePath(project, repo), cfg.RequestQuota); err != nil {
			return QuotaConfig{}, err
		}
		sized = true
	}
	l.mu.Lock()
	l.cache.Add(key, &cachedQuota{QuotaConfig: cfg, semaphoreSized: sized})
	l.mu.Unlock()
	return cfg, nil
}
