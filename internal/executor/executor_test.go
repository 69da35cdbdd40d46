package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"distributed-configstore/internal/command"
	"distributed-configstore/internal/coordination/coordinationtest"
	"distributed-configstore/internal/executor"
	"distributed-configstore/internal/quota"
	"distributed-configstore/internal/storage/memengine"
)

func newTestExecutor(t *testing.T, replicaID int) (*executor.Executor, *memengine.Engine) {
	t.Helper()
	coord := coordinationtest.New()
	eng, err := memengine.New("")
	require.NoError(t, err)
	limiter, err := quota.New(coord, eng, "/repl")
	require.NoError(t, err)

	exec := executor.New(coord, eng, limiter, eng, executor.Config{
		ReplicaID: replicaID, RootPath: "/repl", NumWorkers: 4, LockTimeout: time.Second,
	})
	require.NoError(t, exec.Start(nil, nil))
	t.Cleanup(func() { exec.Stop() })
	return exec, eng
}

func TestExecuteCreateProjectAndRepository(t *testing.T) {
	exec, _ := newTestExecutor(t, 1)
	ctx := context.Background()

	_, err := exec.Execute(ctx, command.CreateProject{Name: "acme"})
	require.NoError(t, err)

	_, err = exec.Execute(ctx, command.CreateRepository{Project: "acme", Repo: "widgets"})
	require.NoError(t, err)

	_, err = exec.Execute(ctx, command.CreateRepository{Project: "acme", Repo: "widgets"})
	require.Error(t, err)
}

func TestExecuteNormalizingPushResolvesAgainstHead(t *testing.T) {
	exec, eng := newTestExecutor(t, 1)
	ctx := context.Background()

	_, err := exec.Execute(ctx, command.CreateProject{Name: "acme"})
	require.NoError(t, err)
	_, err = exec.Execute(ctx, command.CreateRepository{Project: "acme", Repo: "widgets"})
	require.NoError(t, err)

	res, err := exec.Execute(ctx, command.NormalizingPush{
		Project: "acme", Repo: "widgets", BaseRevision: command.Head,
		Author: command.Author{Name: "tester"}, Summary: "add file",
		Changes: []command.Change{{Type: command.ChangeUpsertText, Path: "/a.txt", Content: "hi"}},
	})
	require.NoError(t, err)
	commit, ok := res.(command.CommitResult)
	require.True(t, ok)
	require.Equal(t, int32(1), commit.Revision.Major)

	head, err := eng.Head("acme", "widgets")
	require.NoError(t, err)
	require.Equal(t, int32(1), head.Major)
}

func TestExecuteRejectsAfterStop(t *testing.T) {
	exec, _ := newTestExecutor(t, 1)
	require.NoError(t, exec.Stop())

	_, err := exec.Execute(context.Background(), command.CreateProject{Name: "acme"})
	require.Error(t, err)
}

func TestReplicaReplaysAnotherReplicasLog(t *testing.T) {
	coord := coordinationtest.New()
	engA, err := memengine.New("")
	require.NoError(t, err)
	limiterA, err := quota.New(coord, engA, "/repl")
	require.NoError(t, err)
	execA := executor.New(coord, engA, limiterA, engA, executor.Config{ReplicaID: 1, RootPath: "/repl", NumWorkers: 2})
	require.NoError(t, execA.Start(nil, nil))
	defer execA.Stop()

	engB, err := memengine.New("")
	require.NoError(t, err)
	limiterB, err := quota.New(coord, engB, "/repl")
	require.NoError(t, err)
	execB := executor.New(coord, engB, limiterB, engB, executor.Config{ReplicaID: 2, RootPath: "/repl", NumWorkers: 2})
	require.NoError(t, execB.Start(nil, nil))
	defer execB.Stop()

	ctx := context.Background()
	_, err = execA.Execute(ctx, command.CreateProject{Name: "acme"})
	require.NoError(t, err)
	_, err = execA.Execute(ctx, command.CreateRepository{Project: "acme", Repo: "widgets"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := engB.Head("acme", "widgets")
		return err == nil
	}, time.Second, 5*time.Millisecond, "replica B should replay replica A's commands")
}
