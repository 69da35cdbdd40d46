package watch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"distributed-configstore/internal/command"
	"distributed-configstore/internal/storage"
	"distributed-configstore/internal/storage/memengine"
	"distributed-configstore/internal/watch"
)

func newTestRepo(t *testing.T) *memengine.Engine {
	t.Helper()
	eng, err := memengine.New("")
	require.NoError(t, err)
	require.NoError(t, eng.CreateProject("acme"))
	require.NoError(t, eng.CreateRepository("acme", "widgets"))
	return eng
}

func TestWaitForRevisionReturnsImmediatelyWhenAlreadyMatched(t *testing.T) {
	eng := newTestRepo(t)
	ctx := context.Background()

	_, err := eng.Push(ctx, "acme", "widgets", command.Head, 0, command.Author{Name: "t"}, "add", "",
		command.Markup{}, []command.Change{{Type: command.ChangeUpsertText, Path: "/a.txt", Content: "hi"}})
	require.NoError(t, err)

	rev, err := watch.WaitForRevision(ctx, eng, eng, "acme", "widgets", command.Init, "/a.txt")
	require.NoError(t, err)
	require.NotNil(t, rev)
	require.Equal(t, int32(1), rev.Major)
}

func TestWaitForRevisionBlocksUntilMatchingCommit(t *testing.T) {
	eng := newTestRepo(t)
	ctx := context.Background()

	head, err := eng.Head("acme", "widgets")
	require.NoError(t, err)

	resultCh := make(chan *command.Revision, 1)
	errCh := make(chan error, 1)
	go func() {
		rev, err := watch.WaitForRevision(ctx, eng, eng, "acme", "widgets", head, "/a.txt")
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- rev
	}()

	select {
	case <-resultCh:
		t.Fatal("WaitForRevision returned before any matching commit existed")
	case <-errCh:
		t.Fatal("WaitForRevision errored before any matching commit existed")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = eng.Push(ctx, "acme", "widgets", command.Head, 0, command.Author{Name: "t"}, "add", "",
		command.Markup{}, []command.Change{{Type: command.ChangeUpsertText, Path: "/a.txt", Content: "hi"}})
	require.NoError(t, err)

	select {
	case rev := <-resultCh:
		require.Equal(t, int32(1), rev.Major)
	case err := <-errCh:
		t.Fatalf("WaitForRevision failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("WaitForRevision did not wake up after a matching commit")
	}
}

func TestWaitForRevisionCancelsWithContext(t *testing.T) {
	eng := newTestRepo(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	head, err := eng.Head("acme", "widgets")
	require.NoError(t, err)

	_, err = watch.WaitForRevision(ctx, eng, eng, "acme", "widgets", head, "/never.txt")
	require.Error(t, err)
}

func TestWaitForQueryChangeSkipsSemanticallyEqualValues(t *testing.T) {
	eng := newTestRepo(t)
	ctx := context.Background()

	_, err := eng.Push(ctx, "acme", "widgets", command.Head, 0, command.Author{Name: "t"}, "add", "",
		command.Markup{}, []command.Change{{Type: command.ChangeUpsertText, Path: "/a.txt", Content: "line1\r\n"}})
	require.NoError(t, err)

	q := storage.IdentityQuery("/a.txt")
	first := storage.Value{Kind: storage.ValueText, Text: "line1\n"}

	resultCh := make(chan *watch.QueryResult, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := watch.WaitForQueryChange(ctx, eng, eng, "acme", "widgets", command.Init, q, &first)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	// A commit to an unrelated revision of the same content (CRLF vs LF
	// only) must not satisfy the watch: it re-arms instead of returning.
	_, err = eng.Push(ctx, "acme", "widgets", command.Head, 0, command.Author{Name: "t"}, "rewrite", "",
		command.Markup{}, []command.Change{{Type: command.ChangeUpsertText, Path: "/a.txt", Content: "line1\n"}})
	require.NoError(t, err)

	select {
	case <-resultCh:
		t.Fatal("WaitForQueryChange fired on a semantically-equal value")
	case <-errCh:
		t.Fatal("WaitForQueryChange errored unexpectedly")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = eng.Push(ctx, "acme", "widgets", command.Head, 0, command.Author{Name: "t"}, "change", "",
		command.Markup{}, []command.Change{{Type: command.ChangeUpsertText, Path: "/a.txt", Content: "line2\n"}})
	require.NoError(t, err)

	select {
	case res := <-resultCh:
		require.Equal(t, "line2\n", res.Value.Text)
	case err := <-errCh:
		t.Fatalf("WaitForQueryChange failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("WaitForQueryChange did not fire on a genuinely different value")
	}
}
