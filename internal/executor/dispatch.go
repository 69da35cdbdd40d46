package executor

import (
	"context"
	"fmt"

	"distributed-configstore/internal/command"
	"distributed-configstore/internal/storage"
)

// dispatch applies a resolved Command to engine and returns the Result the
// replication log records. It never sees a NormalizingPush — resolve
// handles that one layer up, in execute.go, before a Push ever reaches
// here, so replay (which calls dispatch directly) and first execution run
// the exact same code path.
func dispatch(ctx context.Context, engine storage.Engine, cmd command.Command) (command.Result, error) {
	switch v := cmd.(type) {
	case command.CreateProject:
		return command.Void{}, engine.CreateProject(v.Name)
	case command.RemoveProject:
		return command.Void{}, engine.RemoveProject(v.Name)
	case command.PurgeProject:
		return command.Void{}, engine.PurgeProject(v.Name)
	case command.UnremoveProject:
		return command.Void{}, engine.UnremoveProject(v.Name)

	case command.CreateRepository:
		return command.Void{}, engine.CreateRepository(v.Project, v.Repo)
	case command.RemoveRepository:
		return command.Void{}, engine.RemoveRepository(v.Project, v.Repo)
	case command.PurgeRepository:
		return command.Void{}, engine.PurgeRepository(v.Project, v.Repo)
	case command.UnremoveRepository:
		return command.Void{}, engine.UnremoveRepository(v.Project, v.Repo)

	case command.Push:
		return engine.Push(ctx, v.Project, v.Repo, v.BaseRevision, v.CommitTimeMillis, v.Author, v.Summary, v.Detail, v.Markup, v.Changes)

	case command.ForcePush:
		return dispatch(ctx, engine, v.Inner)

	case command.UpdateServerStatus:
		// cluster-mode flags live on the Executor itself; see execute.go.
		return command.Void{}, nil

	case command.NormalizingPush:
		return command.CommitResult{}, fmt.Errorf("executor: NormalizingPush must be resolved to Push before dispatch")

	default:
		return nil, fmt.Errorf("executor: unknown command %T", cmd)
	}
}

// resolve turns a NormalizingPush into its deterministic Push form by
// normalizing BaseRevision against the engine's current head. Everything
// downstream — the copy that runs locally, the copy that gets logged —
// uses this resolved form, per spec.md §4.3 step 6.
func resolve(engine storage.Engine, p command.NormalizingPush) (command.Push, error) {
	base, err := engine.Normalize(p.Project, p.Repo, p.BaseRevision)
	if err != nil {
		return command.Push{}, err
	}
	return command.Push{
		Project: p.Project, Repo: p.Repo,
		BaseRevision:     base,
		CommitTimeMillis: p.CommitTimeMillis,
		Author:           p.Author, Summary: p.Summary, Detail: p.Detail, Markup: p.Markup,
		Changes: p.Changes,
	}, nil
}

// withResolvedRevision stamps a resolved Push's Revision field once the
// engine has produced it, so the record stored in the log carries both
// the base and the produced revision (spec.md §6's log metadata needs the
// latter to let FindLatestRevision work off the log alone during replay).
func withResolvedRevision(p command.Push, result command.CommitResult) command.Push {
	p.Revision = result.Revision
	p.Changes = result.Changes
	return p
}

