package memengine

import (
	"context"
	"encoding/json"
	"sync"

	"distributed-configstore/internal/quota"
)

var _ quota.MetadataService = (*Engine)(nil)

// QuotaConfig implements quota.MetadataService on Engine directly, so the
// write-quota limiter can depend on the same Engine value used for
// command execution instead of wiring a second collaborator.
func (e *Engine) QuotaConfig(ctx context.Context, project, repo string) (quota.QuotaConfig, error) {
	return e.meta.QuotaConfig(ctx, project, repo)
}

// SetQuotaConfig updates the repository's stored quota configuration.
func (e *Engine) SetQuotaConfig(project, repo string, cfg quota.QuotaConfig) {
	e.meta.SetQuotaConfig(project, repo, cfg)
}

// repoMetadata is one repository's entry in the in-memory metadata map
// (saved with the engine snapshot) that serves as spec.md §4.4's "metadata
// service": quota config today, a natural place to grow repository-level
// settings tomorrow.
type repoMetadata struct {
	Quota quota.QuotaConfig `json:"quota"`
}

// metadataStore is embedded into Engine to implement quota.MetadataService
// without entangling it with the commit-history bookkeeping in
// memengine.go.
type metadataStore struct {
	mu   sync.RWMutex
	data map[string]map[string]repoMetadata // project -> repo -> metadata
}

func newMetadataStore() *metadataStore {
	return &metadataStore{data: make(map[string]map[string]repoMetadata)}
}

// QuotaConfig implements quota.MetadataService: a repository with no
// entry on record is unlimited (RequestQuota: 0).
func (m *metadataStore) QuotaConfig(ctx context.Context, project, repo string) (quota.QuotaConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	repos, ok := m.data[project]
	if !ok {
		return quota.QuotaConfig{}, nil
	}
	meta, ok := repos[repo]
	if !ok {
		return quota.QuotaConfig{}, nil
	}
	return meta.Quota, nil
}

// SetQuotaConfig is the write side; Executor.SetWriteQuota calls it
// directly (through Engine.SetQuotaConfig), not through a replicated
// command.
func (m *metadataStore) SetQuotaConfig(project, repo string, cfg quota.QuotaConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	repos, ok := m.data[project]
	if !ok {
		repos = make(map[string]repoMetadata)
		m.data[project] = repos
	}
	repos[repo] = repoMetadata{Quota: cfg}
}

func (m *metadataStore) marshalSnapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.data)
}

func (m *metadataStore) loadSnapshot(raw []byte) error {
	var data map[string]map[string]repoMetadata
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.mu.Unlock()
	return nil
}
