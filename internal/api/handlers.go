// Package api wires up the Gin HTTP router with all handler functions: one
// per command/query/watch operation, translating JSON bodies to
// command.Command values and HTTP status codes to/from internal/apierrors.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/command"
	"distributed-configstore/internal/executor"
	"distributed-configstore/internal/quota"
	"distributed-configstore/internal/storage"
	"distributed-configstore/internal/watch"
)

// Handler holds all dependencies injected from main.
type Handler struct {
	exec     *executor.Executor
	engine   storage.Engine
	notifier storage.Notifier
}

// NewHandler creates a Handler.
func NewHandler(exec *executor.Executor, engine storage.Engine, notifier storage.Notifier) *Handler {
	return &Handler{exec: exec, engine: engine, notifier: notifier}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	projects := r.Group("/projects")
	projects.PUT("/:project", h.createProject)
	projects.DELETE("/:project", h.removeProject)
	projects.POST("/:project/purge", h.purgeProject)
	projects.POST("/:project/unremove", h.unremoveProject)

	repos := projects.Group("/:project/repos")
	repos.PUT("/:repo", h.createRepository)
	repos.DELETE("/:repo", h.removeRepository)
	repos.POST("/:repo/purge", h.purgeRepository)
	repos.POST("/:repo/unremove", h.unremoveRepository)
	repos.POST("/:repo/push", h.push)
	repos.PUT("/:repo/quota", h.setWriteQuota)
	repos.GET("/:repo/contents/*path", h.query)
	repos.GET("/:repo/history", h.history)
	repos.GET("/:repo/watch", h.watch)

	r.POST("/status", h.updateStatus)
}

// ─── Project lifecycle ───────────────────────────────────────────────────────

func (h *Handler) createProject(c *gin.Context) {
	h.runVoid(c, command.CreateProject{Name: c.Param("project")})
}

func (h *Handler) removeProject(c *gin.Context) {
	h.runVoid(c, command.RemoveProject{Name: c.Param("project")})
}

func (h *Handler) purgeProject(c *gin.Context) {
	h.runVoid(c, command.PurgeProject{Name: c.Param("project")})
}

func (h *Handler) unremoveProject(c *gin.Context) {
	h.runVoid(c, command.UnremoveProject{Name: c.Param("project")})
}

// ─── Repository lifecycle ────────────────────────────────────────────────────

func (h *Handler) createRepository(c *gin.Context) {
	h.runVoid(c, command.CreateRepository{Project: c.Param("project"), Repo: c.Param("repo")})
}

func (h *Handler) removeRepository(c *gin.Context) {
	h.runVoid(c, command.RemoveRepository{Project: c.Param("project"), Repo: c.Param("repo")})
}

func (h *Handler) purgeRepository(c *gin.Context) {
	h.runVoid(c, command.PurgeRepository{Project: c.Param("project"), Repo: c.Param("repo")})
}

func (h *Handler) unremoveRepository(c *gin.Context) {
	h.runVoid(c, command.UnremoveRepository{Project: c.Param("project"), Repo: c.Param("repo")})
}

func (h *Handler) runVoid(c *gin.Context, cmd command.Command) {
	if _, err := h.exec.Execute(c.Request.Context(), cmd); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ─── Push ─────────────────────────────────────────────────────────────────

// pushRequest is the body of POST .../push.
type pushRequest struct {
	BaseRevision *command.Revision `json:"baseRevision"`
	Author       command.Author   `json:"author"`
	Summary      string           `json:"summary" binding:"required"`
	Detail       string           `json:"detail"`
	Markup       command.Markup   `json:"markup"`
	Changes      []command.Change `json:"changes" binding:"required"`
}

func (h *Handler) push(c *gin.Context) {
	var body pushRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	base := command.Head
	if body.BaseRevision != nil {
		base = *body.BaseRevision
	}

	cmd := command.NormalizingPush{
		Project: c.Param("project"), Repo: c.Param("repo"),
		BaseRevision: base, CommitTimeMillis: time.Now().UnixMilli(),
		Author: body.Author, Summary: body.Summary, Detail: body.Detail,
		Markup: body.Markup, Changes: body.Changes,
	}
	result, err := h.exec.Execute(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	commit, _ := result.(command.CommitResult)
	c.JSON(http.StatusOK, gin.H{"revision": commit.Revision, "changes": commit.Changes})
}

// ─── Write quota ──────────────────────────────────────────────────────────

type quotaRequest struct {
	RequestQuota    int `json:"requestQuota" binding:"required"`
	TimeWindowSeconds int `json:"timeWindowSeconds" binding:"required"`
}

func (h *Handler) setWriteQuota(c *gin.Context) {
	var body quotaRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := quota.QuotaConfig{RequestQuota: body.RequestQuota, TimeWindowSeconds: body.TimeWindowSeconds}
	if err := h.exec.SetWriteQuota(c.Request.Context(), c.Param("project"), c.Param("repo"), cfg); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ─── Query ────────────────────────────────────────────────────────────────

func (h *Handler) query(c *gin.Context) {
	rev, err := parseRevisionParam(c.Query("revision"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	path := c.Param("path")
	var q storage.Query
	if expr := c.Query("jsonPath"); expr != "" {
		q = storage.JSONPathQuery(path, expr)
	} else {
		q = storage.IdentityQuery(path)
	}

	value, err := h.engine.Query(c.Request.Context(), c.Param("project"), c.Param("repo"), rev, q)
	if err != nil {
		respondError(c, err)
		return
	}
	switch value.Kind {
	case storage.ValueJSON:
		c.JSON(http.StatusOK, gin.H{"kind": "JSON", "value": value.JSON})
	default:
		c.JSON(http.StatusOK, gin.H{"kind": "TEXT", "value": value.Text})
	}
}

// ─── History (range query) ─────────────────────────────────────────────────

func (h *Handler) history(c *gin.Context) {
	from := command.Init
	if raw := c.Query("from"); raw != "" {
		var err error
		if from, err = parseRevisionParam(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	to, err := parseRevisionParam(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	commits, err := h.engine.History(c.Request.Context(), c.Param("project"), c.Param("repo"),
		from, to, c.Query("pathPattern"))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, len(commits))
	for i, commit := range commits {
		out[i] = gin.H{"revision": commit.Revision, "changes": commit.Changes}
	}
	c.JSON(http.StatusOK, gin.H{"commits": out})
}

// ─── Watch (long-poll) ────────────────────────────────────────────────────

func (h *Handler) watch(c *gin.Context) {
	lastKnown, err := parseRevisionParam(c.Query("lastKnownRevision"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rev, err := watch.WaitForRevision(c.Request.Context(), h.engine, h.notifier,
		c.Param("project"), c.Param("repo"), lastKnown, c.Query("pathPattern"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revision": rev})
}

// ─── Cluster-wide ─────────────────────────────────────────────────────────

func (h *Handler) updateStatus(c *gin.Context) {
	var status command.ServerStatus
	if err := c.ShouldBindJSON(&status); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.runVoid(c, command.UpdateServerStatus{Status: status})
}

// ─── Helpers ──────────────────────────────────────────────────────────────

func parseRevisionParam(raw string) (command.Revision, error) {
	if raw == "" {
		return command.Head, nil
	}
	major, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return command.Revision{}, apierrors.Newf(apierrors.KindRevisionNotFound, "invalid revision %q", raw)
	}
	return command.NewRevision(int32(major)), nil
}

func respondError(c *gin.Context, err error) {
	c.JSON(apierrors.HTTPStatus(err), gin.H{"error": err.Error()})
}
