// Package handler exposes the admin API and dashboard push channel over gin.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"tapattend/internal/attendance"
	"tapattend/internal/auth"
	"tapattend/internal/events"
	"tapattend/internal/queue"
	"tapattend/internal/reader"
	"tapattend/internal/report"
	"tapattend/internal/roster"
	"tapattend/internal/scanner"
)

// AuthConfig configures admin tokens.
type AuthConfig struct {
	Issuer        string
	SigningKey    string
	TTL           time.Duration
	SecureCookies bool
}

// Deps are the services behind the API. Virtual is nil unless the virtual reader is in use.
type Deps struct {
	Controller  *scanner.Controller
	Service     *attendance.Service
	Sections    *roster.Directory
	Importer    *roster.Importer
	Reports     *report.Files
	Queue       queue.Queue
	Hub         *events.Hub
	Virtual     *reader.Virtual
	Credentials *auth.Credentials
	Auth        AuthConfig
	Health      map[string]func(ctx context.Context) bool
}

// Handler serves the API.
type Handler struct {
	Deps
	log *log.Entry
}

// New creates a handler.
func New(d Deps) *Handler {
	return &Handler{Deps: d, log: log.WithField("component", "http")}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.POST("/login", h.login)
	r.POST("/logout", h.logout)

	admin := auth.AdminAuth(h.Auth.SigningKey, h.Auth.Issuer)
	r.GET("/ws", admin, func(c *gin.Context) { h.Hub.ServeWS(c.Writer, c.Request) })
	r.GET("/reports/:name", admin, h.downloadReport)

	api := r.Group("/api", admin)
	api.GET("/status", h.status)
	api.GET("/stats", h.stats)
	api.GET("/attendance", h.attendanceOn)
	api.GET("/attendance/recent", h.recent)

	api.GET("/students", h.listStudents)
	api.POST("/students", h.registerStudent)
	api.GET("/scan_uid", h.scanUID)
	api.POST("/simulate_scan", h.simulateScan)

	api.POST("/sessions/start", h.startSession)
	api.GET("/sessions/current", h.currentSession)
	api.POST("/sessions/stop", h.stopSession)
	api.POST("/sessions/end", h.endSession)
	api.POST("/sessions/reset", h.resetSession)

	api.GET("/sections", h.listSections)
	api.POST("/sections/templates", h.createTemplates)
	api.POST("/sections/seed", h.seedSections)
	api.POST("/sections/import", h.importSection)

	api.POST("/exports/students", h.exportStudents)
	api.POST("/exports/attendance", h.exportAttendance)
	api.GET("/reports", h.listReports)
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) fail(c *gin.Context, status int, msg string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error(msg)
	}
	c.JSON(status, gin.H{"error": msg})
}

func (h *Handler) status(c *gin.Context) {
	ctx := c.Request.Context()
	snap := h.Controller.Session().Snapshot()
	stats, err := h.Service.TodayStats(ctx, snap.Section)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "stats unavailable", err)
		return
	}
	last, att := h.Hub.Last()
	c.JSON(http.StatusOK, gin.H{
		"session":         snap,
		"scanning":        h.Controller.Running(),
		"last_status":     last,
		"last_attendance": att,
		"stats":           stats,
		"clients":         h.Hub.Clients(),
	})
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.Service.TodayStats(c.Request.Context(), c.Query("section"))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "stats unavailable", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) recent(c *gin.Context) {
	limit := 10
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	entries, err := h.Service.Recent(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "attendance unavailable", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": nonNil(entries)})
}

func (h *Handler) attendanceOn(c *gin.Context) {
	entries, err := h.Service.EntriesOn(c.Request.Context(), c.Query("date"), c.Query("section"))
	if err != nil {
		h.fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendance": nonNil(entries)})
}

func (h *Handler) listReports(c *gin.Context) {
	files, err := h.Reports.List()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "reports unavailable", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": files})
}

func (h *Handler) downloadReport(c *gin.Context) {
	path, err := h.Reports.Path(c.Param("name"))
	if err != nil {
		h.fail(c, http.StatusBadRequest, "invalid file name", nil)
		return
	}
	c.FileAttachment(path, c.Param("name"))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
