package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tilewind/bedrockd/internal/backup"
	"github.com/tilewind/bedrockd/internal/console"
	"github.com/tilewind/bedrockd/internal/history"
	"github.com/tilewind/bedrockd/internal/metrics"
	"github.com/tilewind/bedrockd/internal/session"
)

// Router provides embeddable HTTP handlers for the wrapper.
// Endpoints:
//
//	GET  {basePath}/status         server + session state
//	POST {basePath}/backup         query: mode=incremental|full, archive=true|false
//	POST {basePath}/command        body: {"command": "..."} forwarded to server stdin
//	GET  {basePath}/history        query: limit=N
//	GET  {basePath}/metrics        Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.

// BackupRunner is the backup surface the API needs.
type BackupRunner interface {
	Run(mode backup.Mode, doArchive bool) (backup.Result, error)
}

// StatusSource reports supervised process state.
type StatusSource interface {
	Snapshot() console.Status
	SendCommand(text string) error
}

// HistorySource lists recorded events. May be nil when history is off.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]history.Event, error)
}

type Router struct {
	proc     StatusSource
	coord    BackupRunner
	gate     *session.Gate
	hist     HistorySource
	basePath string
}

func NewRouter(proc StatusSource, coord BackupRunner, gate *session.Gate, hist HistorySource, basePath string) *Router {
	return &Router{proc: proc, coord: coord, gate: gate, hist: hist, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/backup", r.handleBackup)
	group.POST("/command", r.handleCommand)
	group.GET("/history", r.handleHistory)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Minute, // backups can be slow
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

func (r *Router) handleStatus(c *gin.Context) {
	st := r.proc.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"server":  st,
		"busy":    r.gate.Busy(),
		"session": string(r.gate.Holder()),
	})
}

func (r *Router) handleBackup(c *gin.Context) {
	mode := backup.Incremental
	switch c.Query("mode") {
	case "", string(backup.Incremental):
	case string(backup.FullCopy):
		mode = backup.FullCopy
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be incremental or full"})
		return
	}
	doArchive := c.Query("archive") == "true"

	res, err := r.coord.Run(mode, doArchive)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrBusy) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	body := gin.H{
		"mode":    string(res.Mode),
		"files":   res.Files,
		"skipped": res.Skipped,
	}
	if res.ArchivePath != "" {
		body["archive"] = res.ArchivePath
	}
	if res.ArchiveErr != nil {
		body["archive_error"] = res.ArchiveErr.Error()
	}
	c.JSON(http.StatusOK, body)
}

type commandRequest struct {
	Command string `json:"command" binding:"required"`
}

func (r *Router) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.proc.SendCommand(req.Command); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sent": req.Command})
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history is not enabled"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	events, err := r.hist.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func sanitizeBase(bp string) string {
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}
