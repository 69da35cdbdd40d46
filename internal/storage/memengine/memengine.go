// Package memengine is a small, in-memory implementation of
// storage.Engine. It stands in for the spec's out-of-scope content-
// addressed commit graph: just enough push/query/history/watch semantics
// to drive the replication core end to end, with an atomic-rename
// snapshot persistence model adapted from the teacher's
// internal/store.Store (WAL-first writes, fsync, snapshot+rename on
// checkpoint) — generalized from "snapshot of a flat KV map" to
// "snapshot of every repository's commit history".
package memengine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/command"
	"distributed-configstore/internal/storage"
)

// commit is one entry in a repository's linear history.
type commit struct {
	Revision         command.Revision  `json:"revision"`
	CommitTimeMillis int64             `json:"commitTimeMillis"`
	Author           command.Author    `json:"author"`
	Summary          string            `json:"summary"`
	Detail           string            `json:"detail"`
	Markup           command.Markup    `json:"markup"`
	Changes          []command.Change  `json:"changes"`
	Files            map[string]string `json:"files"` // full snapshot of file content after this commit
}

type repository struct {
	Project string   `json:"project"`
	Name    string   `json:"name"`
	Removed bool     `json:"removed"`
	Commits []commit `json:"commits"`
}

func (r *repository) head() command.Revision {
	if len(r.Commits) == 0 {
		return command.Init
	}
	return r.Commits[len(r.Commits)-1].Revision
}

type project struct {
	Name    string                 `json:"name"`
	Removed bool                   `json:"removed"`
	Repos   map[string]*repository `json:"repos"`
}

// Engine is the in-memory Engine implementation. It is safe for
// concurrent use. It also implements quota.MetadataService, backing C4's
// "metadata service" collaborator with a per-repository metadata.json
// analogue kept alongside the commit history.
type Engine struct {
	mu       sync.RWMutex
	projects map[string]*project
	dataDir  string // empty means purely in-memory, no persistence
	meta     *metadataStore
	watchers map[string]chan struct{} // "project/repo" -> channel closed on next commit
}

var _ storage.Engine = (*Engine)(nil)
var _ storage.Notifier = (*Engine)(nil)

// New creates an Engine. If dataDir is non-empty, a snapshot is loaded
// from it (if present) and Checkpoint persists back to it.
func New(dataDir string) (*Engine, error) {
	e := &Engine{projects: make(map[string]*project), dataDir: dataDir, meta: newMetadataStore(), watchers: make(map[string]chan struct{})}
	if dataDir == "" {
		return e, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("memengine: create data dir: %w", err)
	}
	if err := e.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("memengine: load snapshot: %w", err)
	}
	return e, nil
}

// engineSnapshot is the on-disk shape Checkpoint/loadSnapshot exchange:
// the commit-history tree plus the metadata-service state, so a restart
// doesn't forget configured write quotas.
type engineSnapshot struct {
	Projects map[string]*project `json:"projects"`
	Metadata json.RawMessage     `json:"metadata"`
}

// Checkpoint atomically persists the full engine state to dataDir,
// mirroring the teacher's Store.Snapshot: write to a temp file, fsync,
// then rename — a crash between the two leaves the previous snapshot
// intact.
func (e *Engine) Checkpoint() error {
	if e.dataDir == "" {
		return nil
	}
	e.mu.RLock()
	projects := e.projects
	e.mu.RUnlock()

	metaJSON, err := e.meta.marshalSnapshot()
	if err != nil {
		return err
	}
	data, err := json.Marshal(engineSnapshot{Projects: projects, Metadata: metaJSON})
	if err != nil {
		return err
	}

	path := filepath.Join(e.dataDir, "snapshot.json")
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (e *Engine) loadSnapshot() error {
	path := filepath.Join(e.dataDir, "snapshot.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var snap engineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	if snap.Projects == nil {
		snap.Projects = make(map[string]*project)
	}
	e.projects = snap.Projects
	if len(snap.Metadata) > 0 {
		if err := e.meta.loadSnapshot(snap.Metadata); err != nil {
			return err
		}
	}
	return nil
}

// ─── Project lifecycle ───────────────────────────────────────────────────────

func (e *Engine) CreateProject(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.projects[name]; ok {
		return apierrors.Newf(apierrors.KindChangeConflict, "project %q already exists", name)
	}
	e.projects[name] = &project{Name: name, Repos: make(map[string]*repository)}
	return nil
}

func (e *Engine) RemoveProject(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.projects[name]
	if !ok || p.Removed {
		return apierrors.Newf(apierrors.KindProjectNotFound, "project %q", name)
	}
	p.Removed = true
	return nil
}

func (e *Engine) PurgeProject(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.projects[name]
	if !ok || !p.Removed {
		return apierrors.Newf(apierrors.KindProjectNotFound, "project %q is not removed", name)
	}
	delete(e.projects, name)
	return nil
}

func (e *Engine) UnremoveProject(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.projects[name]
	if !ok || !p.Removed {
		return apierrors.Newf(apierrors.KindProjectNotFound, "project %q is not removed", name)
	}
	p.Removed = false
	return nil
}

// ─── Repository lifecycle ────────────────────────────────────────────────────

func (e *Engine) lookupProject(name string) (*project, error) {
	p, ok := e.projects[name]
	if !ok || p.Removed {
		return nil, apierrors.Newf(apierrors.KindProjectNotFound, "project %q", name)
	}
	return p, nil
}

func (e *Engine) CreateRepository(projectName, repo string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.lookupProject(projectName)
	if err != nil {
		return err
	}
	if _, ok := p.Repos[repo]; ok {
		return apierrors.Newf(apierrors.KindChangeConflict, "repository %q already exists", repo)
	}
	p.Repos[repo] = &repository{Project: projectName, Name: repo, Commits: []commit{initialCommit()}}
	return nil
}

func initialCommit() commit {
	return commit{
		Revision: command.Init, CommitTimeMillis: 0,
		Author: command.Author{Name: "system"}, Summary: "Create a new repository",
		Files: map[string]string{},
	}
}

func (e *Engine) lookupRepo(projectName, repo string) (*repository, error) {
	p, err := e.lookupProject(projectName)
	if err != nil {
		return nil, err
	}
	r, ok := p.Repos[repo]
	if !ok || r.Removed {
		return nil, apierrors.Newf(apierrors.KindRepositoryNotFound, "repository %q", repo)
	}
	return r, nil
}

func (e *Engine) RemoveRepository(projectName, repo string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, err := e.lookupRepo(projectName, repo)
	if err != nil {
		return err
	}
	r.Removed = true
	return nil
}

func (e *Engine) PurgeRepository(projectName, repo string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.lookupProject(projectName)
	if err != nil {
		return err
	}
	r, ok := p.Repos[repo]
	if !ok || !r.Removed {
		return apierrors.Newf(apierrors.KindRepositoryNotFound, "repository %q is not removed", repo)
	}
	delete(p.Repos, repo)
	return nil
}

func (e *Engine) UnremoveRepository(projectName, repo string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, err := e.lookupProject(projectName)
	if err != nil {
		return err
	}
	r, ok := p.Repos[repo]
	if !ok || !r.Removed {
		return apierrors.Newf(apierrors.KindRepositoryNotFound, "repository %q is not removed", repo)
	}
	r.Removed = false
	return nil
}

// ─── Push ─────────────────────────────────────────────────────────────────

func (e *Engine) Push(ctx context.Context, projectName, repoName string, base command.Revision,
	commitTimeMillis int64, author command.Author, summary, detail string, markup command.Markup, changes []command.Change,
) (command.CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, err := e.lookupRepo(projectName, repoName)
	if err != nil {
		return command.CommitResult{}, err
	}

	baseCommit, err := findCommit(r, base)
	if err != nil {
		return command.CommitResult{}, err
	}
	if baseCommit.Revision.CompareTo(r.head()) != 0 {
		return command.CommitResult{}, apierrors.Newf(apierrors.KindChangeConflict,
			"base revision %s is not head (%s)", baseCommit.Revision, r.head())
	}

	files := copyFiles(baseCommit.Files)
	applied, err := applyChanges(files, changes)
	if err != nil {
		return command.CommitResult{}, err
	}
	if len(applied) == 0 {
		return command.CommitResult{}, apierrors.Newf(apierrors.KindRedundantChange, "no net effect")
	}

	newRev := command.NewRevision(r.head().Major + 1)
	c := commit{
		Revision: newRev, CommitTimeMillis: commitTimeMillis,
		Author: author, Summary: summary, Detail: detail, Markup: markup,
		Changes: applied, Files: files,
	}
	r.Commits = append(r.Commits, c)
	e.notifyCommit(projectName, repoName)
	return command.CommitResult{Revision: newRev, Changes: applied}, nil
}

func copyFiles(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func findCommit(r *repository, rev command.Revision) (*commit, error) {
	abs, err := normalizeAgainst(r, rev)
	if err != nil {
		return nil, err
	}
	idx := int(abs.Major)
	if idx < 0 || idx >= len(r.Commits) {
		return nil, apierrors.Newf(apierrors.KindRevisionNotFound, "revision %s", rev)
	}
	return &r.Commits[idx], nil
}

func normalizeAgainst(r *repository, rev command.Revision) (command.Revision, error) {
	if !rev.IsRelative() {
		if rev.Major < 0 || int(rev.Major) >= len(r.Commits) {
			return command.Revision{}, apierrors.Newf(apierrors.KindRevisionNotFound, "revision %s", rev)
		}
		return rev, nil
	}
	head := r.head()
	abs := head.Major + (rev.Major + 1)
	if abs < 0 || int(abs) >= len(r.Commits) {
		return command.Revision{}, apierrors.Newf(apierrors.KindRevisionNotFound, "revision %s", rev)
	}
	return command.NewRevision(abs), nil
}
