package executor

import (
	"context"

	"go.uber.org/zap"

	"distributed-configstore/internal/command"
)

// onLogChildAdded is the Watcher callback (spec.md §4.3): a new log node
// appeared under logs/. name carries the zero-padded sequence suffix;
// replayUpTo loops from lastReplayed+1 through it so an announcement that
// arrives out of order (e.g. seq 44 before seq 43 is fully propagated)
// still replays every log in between rather than skipping ahead.
func (e *Executor) onLogChildAdded(name string) {
	seq, err := parseSeqName(name)
	if err != nil {
		e.log.Warn("watch: unparseable log node name", zap.String("name", name), zap.Error(err))
		return
	}
	e.replayUpTo(context.Background(), seq)
}

func (e *Executor) replayUpTo(ctx context.Context, seq int64) {
	e.replayMu.Lock()
	defer e.replayMu.Unlock()
	for next := e.lastReplayed.Load() + 1; next <= seq; next++ {
		if err := e.replay(ctx, next); err != nil {
			e.log.Error("replay failed, entering read-only mode", zap.Int64("seq", next), zap.Error(err))
			e.enterReadOnly(err)
			return
		}
		e.lastReplayed.Store(next)
		if err := writeCursor(e.dataDir, next); err != nil {
			e.log.Error("failed to persist replay cursor", zap.Int64("seq", next), zap.Error(err))
		}
	}
}

// replay applies log entry seq to local storage without taking the
// per-execution-path mutex (replay is single-threaded per executor, driven
// only by replayUpTo, so there is no concurrent writer to serialize
// against) and without appending anything to the log. A result mismatch
// between what this replica computed and what the original replica logged
// means local storage has diverged — fatal, per spec.md §4.3's failure
// model: "do not advance the cursor."
func (e *Executor) replay(ctx context.Context, seq int64) error {
	rec, err := e.logs.LoadLog(ctx, seq, e.replicaID, true)
	if err != nil {
		return err
	}
	if rec == nil {
		// this replica wrote the log itself; it already applied the
		// command when it executed it, so there is nothing to redo.
		return nil
	}
	result, err := dispatch(ctx, e.engine, rec.Command)
	if err != nil {
		return err
	}
	if !command.Equal(result, rec.Result) {
		return errReplayMismatch(seq)
	}
	if status, ok := rec.Command.(command.UpdateServerStatus); ok {
		e.applyServerStatus(status.Status)
	}
	return nil
}

func (e *Executor) applyServerStatus(status command.ServerStatus) {
	e.replicating.Store(status.Replicating)
	e.writable.Store(status.Writable)
}
