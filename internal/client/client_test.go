package client_test

import (
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"distributed-configstore/internal/api"
	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/client"
	"distributed-configstore/internal/command"
	"distributed-configstore/internal/coordination/coordinationtest"
	"distributed-configstore/internal/executor"
	"distributed-configstore/internal/quota"
	"distributed-configstore/internal/storage/memengine"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	coord := coordinationtest.New()
	eng, err := memengine.New("")
	require.NoError(t, err)
	limiter, err := quota.New(coord, eng, "/repl")
	require.NoError(t, err)

	exec := executor.New(coord, eng, limiter, eng, executor.Config{
		ReplicaID: 1, RootPath: "/repl", NumWorkers: 4, LockTimeout: time.Second,
	})
	require.NoError(t, exec.Start(nil, nil))

	r := gin.New()
	api.NewHandler(exec, eng, eng).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		exec.Stop()
	})
	return srv
}

func TestClientPushAndQueryRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL, time.Second)
	ctx := t.Context()

	require.NoError(t, c.CreateProject(ctx, "acme"))
	require.NoError(t, c.CreateRepository(ctx, "acme", "widgets"))

	resp, err := c.Push(ctx, "acme", "widgets", client.PushRequest{
		Author: command.Author{Name: "tester"}, Summary: "add file",
		Changes: []command.Change{{Type: command.ChangeUpsertText, Path: "/a.txt", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), resp.Revision.Major)

	val, err := c.Query(ctx, "acme", "widgets", resp.Revision, "/a.txt", "")
	require.NoError(t, err)
	require.Equal(t, "TEXT", val.Kind)
	require.Equal(t, "hi", val.Value)
}

func TestClientWatchReturnsImmediatelyWhenAlreadyMatched(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL, time.Second)
	ctx := t.Context()

	require.NoError(t, c.CreateProject(ctx, "acme"))
	require.NoError(t, c.CreateRepository(ctx, "acme", "widgets"))
	_, err := c.Push(ctx, "acme", "widgets", client.PushRequest{
		Author: command.Author{Name: "tester"}, Summary: "add file",
		Changes: []command.Change{{Type: command.ChangeUpsertText, Path: "/a.txt", Content: "hi"}},
	})
	require.NoError(t, err)

	resp, err := c.Watch(ctx, "acme", "widgets", command.Init, "/a.txt")
	require.NoError(t, err)
	require.NotNil(t, resp.Revision)
	require.Equal(t, int32(1), resp.Revision.Major)
}

func TestClientHistoryReturnsCommitRange(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL, time.Second)
	ctx := t.Context()

	require.NoError(t, c.CreateProject(ctx, "acme"))
	require.NoError(t, c.CreateRepository(ctx, "acme", "widgets"))
	for i := 0; i < 3; i++ {
		_, err := c.Push(ctx, "acme", "widgets", client.PushRequest{
			Author: command.Author{Name: "tester"}, Summary: "commit",
			Changes: []command.Change{{Type: command.ChangeUpsertText, Path: "/a.txt", Content: strconv.Itoa(i)}},
		})
		require.NoError(t, err)
	}

	resp, err := c.History(ctx, "acme", "widgets", command.Init, command.Head, "/a.txt")
	require.NoError(t, err)
	require.Len(t, resp.Commits, 3)
	require.Equal(t, int32(1), resp.Commits[0].Revision.Major)
	require.Equal(t, int32(3), resp.Commits[2].Revision.Major)
}

func TestClientErrorMapsToAPIErrorKind(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL, time.Second)
	ctx := t.Context()

	_, err := c.Query(ctx, "nope", "nope", command.Head, "/a.txt", "")
	require.Error(t, err)
	require.ErrorIs(t, err, apierrors.ProjectNotFound)
}
