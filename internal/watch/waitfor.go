// Package watch implements the Watch Subsystem (C5): the server-side
// await primitive spec.md §4.5 describes on top of storage.Engine and
// storage.Notifier, and the client-side long-lived Watcher that re-arms
// itself against that primitive on a schedule.
package watch

import (
	"context"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/command"
	"distributed-configstore/internal/storage"
)

// WaitForRevision returns the greatest revision in (lastKnown, head] whose
// commit touched pathPattern, blocking until one arrives if none does yet.
// It subscribes to the repository's commit notifications before checking
// FindLatestRevision, so a commit landing between the check and the
// subscribe can never be missed: the channel returned by Subscribe closes
// on the very next commit after it was handed out, and the loop always
// re-checks after waking.
func WaitForRevision(ctx context.Context, engine storage.Engine, notifier storage.Notifier,
	project, repo string, lastKnown command.Revision, pathPattern string,
) (*command.Revision, error) {
	abs, err := engine.Normalize(project, repo, lastKnown)
	if err != nil {
		return nil, err
	}
	for {
		woken := notifier.Subscribe(project, repo)

		rev, err := engine.FindLatestRevision(project, repo, abs, pathPattern)
		if err != nil {
			return nil, err
		}
		if rev != nil {
			return rev, nil
		}

		select {
		case <-woken:
			continue
		case <-ctx.Done():
			return nil, apierrors.Cancelled
		}
	}
}

// QueryResult is what WaitForQueryChange delivers: the revision that
// produced value.
type QueryResult struct {
	Revision command.Revision
	Value    storage.Value
}

// WaitForQueryChange wraps WaitForRevision with spec.md §4.5's query watch:
// once a new matching revision is found, it applies q and compares the
// result against last (semantic equality — text CR/LF-normalized, JSON
// compared structurally). An equal value doesn't count as a change; the
// wait re-arms against the new revision instead of returning it.
func WaitForQueryChange(ctx context.Context, engine storage.Engine, notifier storage.Notifier,
	project, repo string, lastKnown command.Revision, q storage.Query, last *storage.Value,
) (*QueryResult, error) {
	known := lastKnown
	for {
		rev, err := WaitForRevision(ctx, engine, notifier, project, repo, known, q.Path)
		if err != nil {
			return nil, err
		}

		value, err := engine.Query(ctx, project, repo, *rev, q)
		if err != nil {
			return nil, err
		}

		if last != nil && storage.Equal(*last, value) {
			known = *rev
			continue
		}
		return &QueryResult{Revision: *rev, Value: value}, nil
	}
}
