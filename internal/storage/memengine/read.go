package memengine

import (
	"context"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/command"
	"distributed-configstore/internal/storage"
)

func (e *Engine) GetFile(ctx context.Context, projectName, repoName string, rev command.Revision, path string) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, err := e.lookupRepo(projectName, repoName)
	if err != nil {
		return nil, err
	}
	c, err := findCommit(r, rev)
	if err != nil {
		return nil, err
	}
	content, ok := c.Files[path]
	if !ok {
		return nil, apierrors.Newf(apierrors.KindEntryNotFound, "no entry at %s", path)
	}
	return []byte(content), nil
}

func (e *Engine) Query(ctx context.Context, projectName, repoName string, rev command.Revision, q storage.Query) (storage.Value, error) {
	raw, err := e.GetFile(ctx, projectName, repoName, rev, q.Path)
	if err != nil {
		return storage.Value{}, err
	}
	switch q.Kind {
	case storage.QueryIdentity, "":
		return storage.Value{Kind: storage.ValueText, Text: string(raw)}, nil
	case storage.QueryJSONPath:
		v, err := evalJSONPath(raw, q.Expression)
		if err != nil {
			return storage.Value{}, apierrors.Newf(apierrors.KindEntryNotFound, "json path %s: %v", q.Expression, err)
		}
		return storage.Value{Kind: storage.ValueJSON, JSON: v}, nil
	default:
		return storage.Value{}, apierrors.Newf(apierrors.KindEntryNotFound, "unknown query kind %q", q.Kind)
	}
}

func (e *Engine) History(ctx context.Context, projectName, repoName string, from, to command.Revision, pathPattern string) ([]command.CommitResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, err := e.lookupRepo(projectName, repoName)
	if err != nil {
		return nil, err
	}
	fromAbs, err := normalizeAgainst(r, from)
	if err != nil {
		return nil, err
	}
	toAbs, err := normalizeAgainst(r, to)
	if err != nil {
		return nil, err
	}
	lo, hi := fromAbs.Major, toAbs.Major
	ascending := true
	if lo > hi {
		lo, hi = hi, lo
		ascending = false
	}
	var out []command.CommitResult
	for i := lo + 1; i <= hi; i++ {
		c := r.Commits[i]
		if i == 0 {
			continue // the synthetic initial commit never "touches" anything
		}
		if pathPattern != "" && !anyChangeMatches(c.Changes, pathPattern) {
			continue
		}
		out = append(out, command.CommitResult{Revision: c.Revision, Changes: c.Changes})
	}
	if !ascending {
		for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
			out[l], out[r] = out[r], out[l]
		}
	}
	return out, nil
}

func (e *Engine) FindLatestRevision(projectName, repoName string, lastKnown command.Revision, pathPattern string) (*command.Revision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, err := e.lookupRepo(projectName, repoName)
	if err != nil {
		return nil, err
	}
	lastAbs, err := normalizeAgainst(r, lastKnown)
	if err != nil {
		return nil, err
	}
	for i := len(r.Commits) - 1; i > int(lastAbs.Major); i-- {
		c := r.Commits[i]
		if anyChangeMatches(c.Changes, pathPattern) {
			rev := c.Revision
			return &rev, nil
		}
	}
	return nil, nil
}

func (e *Engine) Head(projectName, repoName string) (command.Revision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, err := e.lookupRepo(projectName, repoName)
	if err != nil {
		return command.Revision{}, err
	}
	return r.head(), nil
}

func (e *Engine) Normalize(projectName, repoName string, rev command.Revision) (command.Revision, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, err := e.lookupRepo(projectName, repoName)
	if err != nil {
		return command.Revision{}, err
	}
	return normalizeAgainst(r, rev)
}

func anyChangeMatches(changes []command.Change, pathPattern string) bool {
	if pathPattern == "" {
		return len(changes) > 0
	}
	for _, c := range changes {
		if matchPath(pathPattern, c.Path) {
			return true
		}
		if c.Type == command.ChangeRename && matchPath(pathPattern, c.Content) {
			return true
		}
	}
	return false
}
