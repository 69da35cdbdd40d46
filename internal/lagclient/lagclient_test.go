package lagclient_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"distributed-configstore/internal/api"
	"distributed-configstore/internal/client"
	"distributed-configstore/internal/command"
	"distributed-configstore/internal/coordination/coordinationtest"
	"distributed-configstore/internal/executor"
	"distributed-configstore/internal/lagclient"
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

func TestProxyRecordsHighWaterMarkAcrossPush(t *testing.T) {
	srv := newTestServer(t)
	raw := client.New(srv.URL, time.Second)
	proxy, err := lagclient.New(raw, lagclient.Config{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, proxy.CreateProject(ctx, "acme"))
	require.NoError(t, proxy.CreateRepository(ctx, "acme", "widgets"))

	resp, err := proxy.Push(ctx, "acme", "widgets", client.PushRequest{
		Author: command.Author{Name: "tester"}, Summary: "add file",
		Changes: []command.Change{{Type: command.ChangeUpsertText, Path: "/a.txt", Content: "hi"}},
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), resp.Revision.Major)

	val, err := proxy.Query(ctx, "acme", "widgets", resp.Revision, "/a.txt", "")
	require.NoError(t, err)
	require.Equal(t, "hi", val.Value)
}

func TestProxyHistoryReturnsCommitRange(t *testing.T) {
	srv := newTestServer(t)
	raw := client.New(srv.URL, time.Second)
	proxy, err := lagclient.New(raw, lagclient.Config{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, proxy.CreateProject(ctx, "acme"))
	require.NoError(t, proxy.CreateRepository(ctx, "acme", "widgets"))
	_, err = proxy.Push(ctx, "acme", "widgets", client.PushRequest{
		Author: command.Author{Name: "tester"}, Summary: "add file",
		Changes: []command.Change{{Type: command.ChangeUpsertText, Path: "/a.txt", Content: "hi"}},
	})
	require.NoError(t, err)

	resp, err := proxy.History(ctx, "acme", "widgets", command.Init, command.Head, "/a.txt")
	require.NoError(t, err)
	require.Len(t, resp.Commits, 1)
}

func TestProxyPropagatesNonRetryableErrors(t *testing.T) {
	srv := newTestServer(t)
	raw := client.New(srv.URL, time.Second)
	proxy, err := lagclient.New(raw, lagclient.Config{MaxRetries: 1, RetryIntervalMillis: 1})
	require.NoError(t, err)

	_, err = proxy.Query(context.Background(), "nope", "nope", command.Head, "/a.txt", "")
	require.Error(t, err)
}
