// Package server exposes the supervision core over HTTP. The core itself is
// network-free; this is an embeddable presentation shell.
//
// Endpoints under {basePath}:
//
//	GET    /api/bots                 list tracked records
//	POST   /api/bots                 body: {"script": ..., "profile": ...}
//	POST   /api/bots/:pid/stop      manual stop
//	POST   /api/bots/:pid/restart   stop and relaunch
//	POST   /api/bots/:pid/anticrash toggle auto-restart
//	DELETE /api/bots/:pid            remove (refused while alive)
//	POST   /api/scan                 query: signature=... (optional)
//	POST   /api/cleanup              query: age=24h (optional)
//	GET    /api/history              query: limit=...&profile=... (needs a sink)
//	GET    /healthz
//	GET    /metrics                  Prometheus exposition
package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/botfleet/botfleet/internal/history"
	"github.com/botfleet/botfleet/internal/inspector"
	"github.com/botfleet/botfleet/internal/launcher"
	"github.com/botfleet/botfleet/internal/metrics"
	"github.com/botfleet/botfleet/internal/supervisor"
	"github.com/gin-gonic/gin"
)

type Router struct {
	sup      *supervisor.Supervisor
	hist     history.Sink
	basePath string
}

// NewRouter constructs a router over the supervisor. hist may be nil when no
// history store is configured; the history endpoint then returns 404.
func NewRouter(sup *supervisor.Supervisor, hist history.Sink, basePath string) *Router {
	return &Router{sup: sup, hist: hist, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, okResp{OK: true}) })
	group.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := group.Group("/api")
	api.GET("/bots", r.handleList)
	api.POST("/bots", r.handleStart)
	api.POST("/bots/:pid/stop", r.handleStop)
	api.POST("/bots/:pid/restart", r.handleRestart)
	api.POST("/bots/:pid/anticrash", r.handleAntiCrash)
	api.DELETE("/bots/:pid", r.handleRemove)
	api.POST("/scan", r.handleScan)
	api.POST("/cleanup", r.handleCleanup)
	api.GET("/history", r.handleHistory)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down through the returned http.Server.
func NewServer(addr, basePath string, sup *supervisor.Supervisor, hist history.Sink) *http.Server {
	r := NewRouter(sup, hist, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, r.sup.Snapshot())
}

func (r *Router) handleStart(c *gin.Context) {
	var req struct {
		Script  string `json:"script"`
		Profile string `json:"profile"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Script == "" || req.Profile == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "script and profile required"})
		return
	}
	rec, err := r.sup.StartBot(c.Request.Context(), req.Script, req.Profile)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleStop(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	if err := r.sup.StopBot(c.Request.Context(), pid, true); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	rec, err := r.sup.RestartBot(c.Request.Context(), pid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleAntiCrash(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	v, err := r.sup.ToggleAntiCrash(pid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "anti_crash": v})
}

func (r *Router) handleRemove(c *gin.Context) {
	pid, ok := pidParam(c)
	if !ok {
		return
	}
	if err := r.sup.Remove(c.Request.Context(), pid); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleScan(c *gin.Context) {
	n, err := r.sup.Scan(c.Request.Context(), c.Query("signature"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "detected": n})
}

func (r *Router) handleCleanup(c *gin.Context) {
	age := 24 * time.Hour
	if s := c.Query("age"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "age must be a positive duration"})
			return
		}
		age = d
	}
	n, err := r.sup.Cleanup(age)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "removed": n})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		c.JSON(http.StatusNotFound, errorResp{Error: "no history store configured"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			c.JSON(http.StatusBadRequest, errorResp{Error: "limit must be a positive integer"})
			return
		}
		limit = v
	}
	events, err := r.hist.Recent(c.Request.Context(), c.Query("profile"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

func pidParam(c *gin.Context) (int, bool) {
	pid, err := strconv.Atoi(c.Param("pid"))
	if err != nil || pid <= 0 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "pid must be a positive integer"})
		return 0, false
	}
	return pid, true
}

// writeError maps domain errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, supervisor.ErrUnknownRecord), errors.Is(err, inspector.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, supervisor.ErrStillRunning):
		c.JSON(http.StatusConflict, errorResp{Error: err.Error()})
	case errors.Is(err, launcher.ErrScriptNotFound), errors.Is(err, supervisor.ErrNoLaunchScript):
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error()})
	case errors.Is(err, launcher.ErrStopTimeout):
		c.JSON(http.StatusGatewayTimeout, errorResp{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
	}
}

func sanitizeBase(bp string) string {
	if bp == "" || bp == "/" {
		return ""
	}
	if bp[0] != '/' {
		bp = "/" + bp
	}
	for len(bp) > 1 && bp[len(bp)-1] == '/' {
		bp = bp[:len(bp)-1]
	}
	return bp
}
