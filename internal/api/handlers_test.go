package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"distributed-configstore/internal/api"
	"distributed-configstore/internal/coordination/coordinationtest"
	"distributed-configstore/internal/executor"
	"distributed-configstore/internal/quota"
	"distributed-configstore/internal/storage/memengine"
)

func newTestRouter(t *testing.T) *gin.Engine {
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
	t.Cleanup(func() { exec.Stop() })

	r := gin.New()
	api.NewHandler(exec, eng, eng).Register(r)
	return r
}

func doRequest(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateProjectAndRepository(t *testing.T) {
	r := newTestRouter(t)

	rec := doRequest(r, http.MethodPut, "/projects/acme", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(r, http.MethodPut, "/projects/acme/repos/widgets", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(r, http.MethodPut, "/projects/acme/repos/widgets", nil)
	require.NotEqual(t, http.StatusNoContent, rec.Code)
}

func TestPushAndQuery(t *testing.T) {
	r := newTestRouter(t)
	require.Equal(t, http.StatusNoContent, doRequest(r, http.MethodPut, "/projects/acme", nil).Code)
	require.Equal(t, http.StatusNoContent, doRequest(r, http.MethodPut, "/projects/acme/repos/widgets", nil).Code)

	rec := doRequest(r, http.MethodPost, "/projects/acme/repos/widgets/push", map[string]any{
		"author":  map[string]string{"name": "tester"},
		"summary": "add file",
		"changes": []map[string]string{{"type": "UPSERT_TEXT", "path": "/a.txt", "content": "hi"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var pushResp struct {
		Revision struct{ Major int32 } `json:"revision"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pushResp))
	require.Equal(t, int32(1), pushResp.Revision.Major)

	rec = doRequest(r, http.MethodGet, "/projects/acme/repos/widgets/contents/a.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var queryResp struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queryResp))
	require.Equal(t, "hi", queryResp.Value)
}

func TestWatchReturnsImmediatelyWhenAlreadyMatched(t *testing.T) {
	r := newTestRouter(t)
	require.Equal(t, http.StatusNoContent, doRequest(r, http.MethodPut, "/projects/acme", nil).Code)
	require.Equal(t, http.StatusNoContent, doRequest(r, http.MethodPut, "/projects/acme/repos/widgets", nil).Code)
	require.Equal(t, http.StatusOK, doRequest(r, http.MethodPost, "/projects/acme/repos/widgets/push", map[string]any{
		"author":  map[string]string{"name": "tester"},
		"summary": "add file",
		"changes": []map[string]string{{"type": "UPSERT_TEXT", "path": "/a.txt", "content": "hi"}},
	}).Code)

	rec := doRequest(r, http.MethodGet, "/projects/acme/repos/widgets/watch?lastKnownRevision=0&pathPattern=/a.txt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	r := newTestRouter(t)
	rec := doRequest(r, http.MethodPost, "/status", map[string]bool{"replicating": true, "writable": true})
	require.Equal(t, http.StatusNoContent, rec.Code)
}
