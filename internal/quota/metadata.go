// Package quota is the Write-Quota Limiter (C4): a per-repository
// shared-count semaphore, lazily sized from a MetadataService and cached
// in a bounded LRU, with a scheduled lease-return and a bypass for the
// internal "dogma"/"meta" project/repo names.
package quota

import "context"

// QuotaConfig is the write quota for a single repository: RequestQuota
// permits per TimeWindowSeconds. A RequestQuota of 0 means unlimited —
// Limiter.Acquire bypasses the semaphore entirely in that case.
type QuotaConfig struct {
	RequestQuota      int
	TimeWindowSeconds int
}

// MetadataService is the external collaborator spec.md §4.4 calls "the
// metadata service": whatever stores a repository's quota configuration.
// internal/storage/memengine implements this with an in-memory
// project -> repo map that is saved in the engine's snapshot.json.
type MetadataService interface {
	QuotaConfig(ctx context.Context, project, repo string) (QuotaConfig, error)
}
