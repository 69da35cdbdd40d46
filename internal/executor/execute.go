package executor

import (
	"context"
	"path"

	"go.uber.org/zap"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/command"
	"distributed-configstore/internal/replog"
)

type outcome struct {
	res command.Result
	err error
}

// Execute runs cmd to completion and returns its Result. Most commands run
// on the bounded worker pool; UpdateServerStatus with Replicating=false is
// submitted detached instead (goDetached). Applying an UpdateServerStatus
// only updates the executor's writable and replicating flags; it does not
// stop the executor or change its state.
func (e *Executor) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	switch e.getState() {
	case stateStopped:
		return nil, apierrors.ShuttingDown
	case stateReadOnly:
		return nil, apierrors.ReadOnly
	case stateCreated, stateStarting:
		return nil, apierrors.Newf(apierrors.KindShuttingDown, "executor not started")
	}

	resultCh := make(chan outcome, 1)
	run := func() {
		res, err := e.doExecute(ctx, cmd)
		resultCh <- outcome{res, err}
	}

	var submitErr error
	if status, ok := cmd.(command.UpdateServerStatus); ok && !status.Status.Replicating {
		goDetached(run)
	} else {
		submitErr = e.pool.submit(run)
	}
	if submitErr != nil {
		return nil, submitErr
	}

	select {
	case o := <-resultCh:
		return o.res, o.err
	case <-ctx.Done():
		return nil, apierrors.Cancelled
	}
}

// doExecute is spec.md §4.3's numbered execute(cmd) algorithm: acquire the
// execution-path mutex, enforce the write quota, catch up on missed logs,
// run the command, log the resolved form, advance the cursor, release
// everything.
func (e *Executor) doExecute(ctx context.Context, cmd command.Command) (command.Result, error) {
	if !e.writable.Load() {
		if _, ok := cmd.(command.UpdateServerStatus); !ok {
			return nil, apierrors.ReadOnly
		}
	}

	lockPath := path.Join(e.rootPath, "lock", cmd.ExecutionPath())
	handle, err := e.coord.AcquireMutex(ctx, lockPath, e.lockTimeout)
	if err != nil {
		e.enterReadOnly(err)
		goDetached(func() { e.Stop() })
		return nil, err
	}
	defer e.coord.ReleaseMutex(handle)

	project, repo, needsQuota := quotaScope(cmd)
	if needsQuota {
		if err := e.limiter.Acquire(ctx, project, repo); err != nil {
			return nil, err
		}
	}
	if rm, ok := cmd.(command.RemoveRepository); ok {
		defer e.limiter.Forget(rm.Project, rm.Repo)
	}

	if seqs, err := e.logs.Sequences(ctx); err == nil && len(seqs) > 0 {
		e.replayUpTo(ctx, seqs[len(seqs)-1])
	}

	runCmd, isPush, err := e.prepareForRun(cmd)
	if err != nil {
		return nil, err
	}

	result, err := dispatch(ctx, e.engine, runCmd)
	if err != nil {
		// delegate storage failure fails only this command; no state or
		// log change.
		return nil, err
	}

	logCmd := runCmd
	if isPush {
		logCmd = stampRevision(runCmd, result)
	}

	seq, err := e.logs.StoreLog(ctx, replog.Record{ReplicaID: e.replicaID, Command: logCmd, Result: result}, e.now())
	if err != nil {
		e.enterReadOnly(err)
		return nil, err
	}

	e.replayMu.Lock()
	e.lastReplayed.Store(seq)
	if err := writeCursor(e.dataDir, seq); err != nil {
		e.log.Error("failed to persist cursor after execute", zap.Int64("seq", seq), zap.Error(err))
	}
	e.replayMu.Unlock()

	if status, ok := cmd.(command.UpdateServerStatus); ok {
		e.applyServerStatus(status.Status)
	}
	return result, nil
}

// quotaScope reports the (project, repo) a command's write quota should be
// charged against, and whether it needs charging at all: every bare
// NormalizingPush is reported, and Limiter.Acquire itself lets the internal
// dogma/meta names through. ForcePush bypasses the limiter by construction — that's its whole
// purpose — so it is never charged even when it wraps a NormalizingPush.
func quotaScope(cmd command.Command) (project, repo string, needsQuota bool) {
	np, ok := cmd.(command.NormalizingPush)
	if !ok {
		return "", "", false
	}
	return np.Project, np.Repo, true
}

// prepareForRun resolves a NormalizingPush (bare, or wrapped in a
// ForcePush) to its deterministic Push form before dispatch, so the same
// resolved command is what both runs locally and gets logged. Everything
// else passes through unchanged.
func (e *Executor) prepareForRun(cmd command.Command) (command.Command, bool, error) {
	switch v := cmd.(type) {
	case command.NormalizingPush:
		resolved, err := resolve(e.engine, v)
		if err != nil {
			return nil, false, err
		}
		return resolved, true, nil
	case command.ForcePush:
		np, ok := v.Inner.(command.NormalizingPush)
		if !ok {
			return cmd, false, nil
		}
		resolved, err := resolve(e.engine, np)
		if err != nil {
			return nil, false, err
		}
		return command.ForcePush{Inner: resolved}, true, nil
	default:
		return cmd, false, nil
	}
}

// stampRevision fills in the Revision/Changes a Push's dispatch produced
// so the copy appended to the log carries the actual outcome, not just the
// resolved base.
func stampRevision(runCmd command.Command, result command.Result) command.Command {
	commit, ok := result.(command.CommitResult)
	if !ok {
		return runCmd
	}
	switch v := runCmd.(type) {
	case command.Push:
		return withResolvedRevision(v, commit)
	case command.ForcePush:
		if push, ok := v.Inner.(command.Push); ok {
			return command.ForcePush{Inner: withResolvedRevision(push, commit)}
		}
		return runCmd
	default:
		return runCmd
	}
}
