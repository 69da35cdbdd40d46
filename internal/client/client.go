// Package client provides a Go SDK for talking to one replica of the
// config repository over HTTP.
//
// Instead of writing raw HTTP requests everywhere, callers get a typed Go
// API:
//
//	client.Push(ctx, "acme", "widgets", req)
//	client.Query(ctx, "acme", "widgets", rev, "/config.json", "")
//
// It hides HTTP details, JSON encoding/decoding, and error mapping behind
// a clean interface — and exposes internal/apierrors values so callers
// can errors.Is against them the same way the server does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/command"
)

// Client talks to a single replica. It does not implement any retry or
// replica-lag tolerance itself — see internal/lagclient for that.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Client. timeout protects every call from hanging
// forever — never call the network without one.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: timeout}}
}

// ─── Project lifecycle ───────────────────────────────────────────────────────

func (c *Client) CreateProject(ctx context.Context, project string) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/projects/%s", project), nil, nil)
}

func (c *Client) RemoveProject(ctx context.Context, project string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/projects/%s", project), nil, nil)
}

func (c *Client) PurgeProject(ctx context.Context, project string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%s/purge", project), nil, nil)
}

func (c *Client) UnremoveProject(ctx context.Context, project string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%s/unremove", project), nil, nil)
}

// ─── Repository lifecycle ────────────────────────────────────────────────────

func (c *Client) CreateRepository(ctx context.Context, project, repo string) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/projects/%s/repos/%s", project, repo), nil, nil)
}

func (c *Client) RemoveRepository(ctx context.Context, project, repo string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/projects/%s/repos/%s", project, repo), nil, nil)
}

func (c *Client) PurgeRepository(ctx context.Context, project, repo string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%s/repos/%s/purge", project, repo), nil, nil)
}

func (c *Client) UnremoveRepository(ctx context.Context, project, repo string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%s/repos/%s/unremove", project, repo), nil, nil)
}

// ─── Push ─────────────────────────────────────────────────────────────────

// PushRequest is the payload for Push.
type PushRequest struct {
	BaseRevision *command.Revision `json:"baseRevision,omitempty"`
	Author       command.Author   `json:"author"`
	Summary      string           `json:"summary"`
	Detail       string           `json:"detail,omitempty"`
	Markup       command.Markup   `json:"markup,omitempty"`
	Changes      []command.Change `json:"changes"`
}

// PushResponse is what a successful push returns.
type PushResponse struct {
	Revision command.Revision `json:"revision"`
	Changes  []command.Change `json:"changes"`
}

// Push commits req against (project, repo) and returns the resulting
// revision.
func (c *Client) Push(ctx context.Context, project, repo string, req PushRequest) (*PushResponse, error) {
	var resp PushResponse
	path := fmt.Sprintf("/projects/%s/repos/%s/push", project, repo)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ─── Query ────────────────────────────────────────────────────────────────

// QueryResponse is the result of a content query: Kind is "TEXT" or
// "JSON", and only the matching field is populated.
type QueryResponse struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
	JSON  any    `json:"-"`
}

// Query reads path at rev. If jsonPath is non-empty, the server evaluates
// it against path's JSON content instead of returning the raw value.
func (c *Client) Query(ctx context.Context, project, repo string, rev command.Revision, path, jsonPath string) (*QueryResponse, error) {
	q := url.Values{}
	q.Set("revision", strconv.FormatInt(int64(rev.Major), 10))
	if jsonPath != "" {
		q.Set("jsonPath", jsonPath)
	}
	endpoint := fmt.Sprintf("/projects/%s/repos/%s/contents%s?%s", project, repo, path, q.Encode())

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &raw); err != nil {
		return nil, err
	}
	var resp struct {
		Kind  string          `json:"kind"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("client: decode query response: %w", err)
	}
	out := &QueryResponse{Kind: resp.Kind}
	if resp.Kind == "JSON" {
		if err := json.Unmarshal(resp.Value, &out.JSON); err != nil {
			return nil, fmt.Errorf("client: decode query JSON value: %w", err)
		}
	} else {
		_ = json.Unmarshal(resp.Value, &out.Value)
	}
	return out, nil
}

// ─── History ──────────────────────────────────────────────────────────────

// HistoryResponse wraps a range of commits.
type HistoryResponse struct {
	Commits []command.CommitResult
}

type wireHistoryCommit struct {
	Revision command.Revision `json:"revision"`
	Changes  []command.Change `json:"changes"`
}

// History returns every commit in (from, to] (or (to, from] if from > to)
// touching pathPattern. from and to may be relative revisions; the server
// normalizes both ends against the repository's current head.
func (c *Client) History(ctx context.Context, project, repo string, from, to command.Revision, pathPattern string) (*HistoryResponse, error) {
	q := url.Values{}
	q.Set("from", strconv.FormatInt(int64(from.Major), 10))
	q.Set("to", strconv.FormatInt(int64(to.Major), 10))
	if pathPattern != "" {
		q.Set("pathPattern", pathPattern)
	}
	endpoint := fmt.Sprintf("/projects/%s/repos/%s/history?%s", project, repo, q.Encode())

	var wire struct {
		Commits []wireHistoryCommit `json:"commits"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &wire); err != nil {
		return nil, err
	}
	commits := make([]command.CommitResult, len(wire.Commits))
	for i, wc := range wire.Commits {
		commits[i] = command.CommitResult{Revision: wc.Revision, Changes: wc.Changes}
	}
	return &HistoryResponse{Commits: commits}, nil
}

// ─── Watch ────────────────────────────────────────────────────────────────

// WatchResponse is what a long-poll watch returns: nil Revision means the
// poll timed out with no matching commit (an idle iteration, not an
// error).
type WatchResponse struct {
	Revision *command.Revision `json:"revision"`
}

// Watch long-polls for the next commit after lastKnown that touches
// pathPattern. It blocks for as long as ctx allows.
func (c *Client) Watch(ctx context.Context, project, repo string, lastKnown command.Revision, pathPattern string) (*WatchResponse, error) {
	q := url.Values{}
	q.Set("lastKnownRevision", strconv.FormatInt(int64(lastKnown.Major), 10))
	if pathPattern != "" {
		q.Set("pathPattern", pathPattern)
	}
	endpoint := fmt.Sprintf("/projects/%s/repos/%s/watch?%s", project, repo, q.Encode())

	var resp WatchResponse
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ─── Write quota ──────────────────────────────────────────────────────────

// QuotaRequest configures a repository's write quota.
type QuotaRequest struct {
	RequestQuota      int `json:"requestQuota"`
	TimeWindowSeconds int `json:"timeWindowSeconds"`
}

func (c *Client) SetWriteQuota(ctx context.Context, project, repo string, req QuotaRequest) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/projects/%s/repos/%s/quota", project, repo), req, nil)
}

// ─── Cluster-wide ─────────────────────────────────────────────────────────

func (c *Client) UpdateStatus(ctx context.Context, status command.ServerStatus) error {
	return c.do(ctx, http.MethodPost, "/status", status, nil)
}

// ─── Transport ────────────────────────────────────────────────────────────

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// checkStatus converts an HTTP error response into an *apierrors.Error so
// callers (including internal/lagclient) can errors.Is against the same
// sentinels the server uses.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	msg := payload.Error
	if msg == "" {
		msg = string(body)
	}
	kind := kindForStatus(resp.StatusCode)
	if prefix, _, ok := strings.Cut(msg, ":"); ok && resp.StatusCode != http.StatusInternalServerError &&
		apierrors.HTTPStatus(&apierrors.Error{Kind: apierrors.Kind(prefix)}) == resp.StatusCode {
		kind = apierrors.Kind(prefix)
	}
	return &apierrors.Error{Kind: kind, Message: msg}
}

// kindForStatus is the fallback inverse of apierrors.HTTPStatus, used when
// the error message does not start with a kind name that maps to the
// response's status. Ambiguous statuses (404, 409) then default to
// EntryNotFound and ChangeConflict respectively.
func kindForStatus(status int) apierrors.Kind {
	switch status {
	case http.StatusNotFound:
		return apierrors.KindEntryNotFound
	case http.StatusConflict:
		return apierrors.KindChangeConflict
	case http.StatusTooManyRequests:
		return apierrors.KindTooManyRequests
	case http.StatusServiceUnavailable:
		return apierrors.KindShuttingDown
	case http.StatusRequestTimeout:
		return apierrors.KindCancelled
	default:
		return ""
	}
}
