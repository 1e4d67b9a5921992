package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tapattend/internal/attendance"
	"tapattend/internal/report"
	"tapattend/internal/roster"
	"tapattend/internal/session"
)

type startRequest struct {
	Subject    string `json:"subject"`
	Section    string `json:"section"`
	ClassStart string `json:"class_start"`
	ClassEnd   string `json:"class_end"`
	Fresh      bool   `json:"fresh"`
}

// parseClassTime accepts RFC 3339 or HH:MM on the current day.
func parseClassTime(v string, now time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("15:04", v, now.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want HH:MM", v)
	}
	return time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location()), nil
}

func (h *Handler) startSession(c *gin.Context) {
	ctx := c.Request.Context()
	var req startRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, http.StatusBadRequest, err.Error(), nil)
			return
		}
	}

	now := h.Service.Now()
	start, err := parseClassTime(req.ClassStart, now)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	end, err := parseClassTime(req.ClassEnd, now)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		h.fail(c, http.StatusBadRequest, "class_end must be after class_start", nil)
		return
	}

	section := attendance.NormalizeSection(req.Section)
	resp := gin.H{}
	if section != "" {
		imported, err := h.Importer.Import(ctx, section, false)
		switch {
		case errors.Is(err, roster.ErrSectionNotFound):
		case err != nil:
			h.fail(c, http.StatusInternalServerError, "section import failed", err)
			return
		default:
			resp["imported"] = imported
		}
	}
	if req.Fresh {
		cleared, err := h.Service.ClearToday(ctx, section)
		if err != nil {
			h.fail(c, http.StatusInternalServerError, "clear attendance failed", err)
			return
		}
		resp["cleared"] = cleared
	}

	snap := h.Controller.Start(session.Options{
		Subject:    req.Subject,
		Section:    section,
		ClassStart: start,
		ClassEnd:   end,
		StartedBy:  h.adminName(c),
	})
	resp["session"] = snap
	resp["success"] = true
	c.JSON(http.StatusOK, resp)
}

// sessionReport joins the session roster with today's attendance.
func (h *Handler) sessionReport(ctx context.Context, snap session.Snapshot, end time.Time) (report.Session, error) {
	var students []attendance.Student
	var err error
	if snap.Section != "" {
		students, err = roster.Roster(ctx, h.Sections, h.Service, snap.Section)
	} else {
		students, err = h.Service.ListStudents(ctx, "")
	}
	if err != nil {
		return report.Session{}, err
	}
	entries, err := h.Service.EntriesOn(ctx, "", snap.Section)
	if err != nil {
		return report.Session{}, err
	}
	return report.BuildSession(snap.Section, snap.Subject, snap.StartTime, end, students, entries), nil
}

func (h *Handler) currentSession(c *gin.Context) {
	snap := h.Controller.Session().Snapshot()
	rep, err := h.sessionReport(c.Request.Context(), snap, h.Service.Now())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "session unavailable", err)
		return
	}
	_, last := h.Hub.Last()
	c.JSON(http.StatusOK, gin.H{
		"session":          snap,
		"total":            rep.Total(),
		"present":          len(rep.Present),
		"absent":           len(rep.Absent),
		"present_students": rep.Present,
		"waiting":          rep.Absent,
		"last_scan":        last,
	})
}

func (h *Handler) stopSession(c *gin.Context) {
	s := h.Controller.Session()
	if !s.Started() {
		h.fail(c, http.StatusConflict, "no session to stop", nil)
		return
	}
	h.Controller.Stop()
	snap := s.Snapshot()
	end := h.Service.Now()

	rep, err := h.sessionReport(c.Request.Context(), snap, end)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "report data unavailable", err)
		return
	}
	name := report.SessionFilename(snap.Section, end)
	path, err := h.Reports.Path(name)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "report path invalid", err)
		return
	}
	if err := report.WriteSessionPDF(path, rep); err != nil {
		h.fail(c, http.StatusInternalServerError, "report generation failed", err)
		return
	}
	h.Controller.Reset()
	h.log.WithField("file", name).Info("session report written")

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"filename": name,
		"url":      "/reports/" + name,
		"stats": attendance.Stats{
			Total:   rep.Total(),
			Present: len(rep.Present),
			Absent:  len(rep.Absent),
		},
		"rate": rep.Rate(),
	})
}

func (h *Handler) endSession(c *gin.Context) {
	s := h.Controller.Session()
	was := h.Controller.Stop()
	stats, err := h.Service.TodayStats(c.Request.Context(), s.Section())
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "stats unavailable", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "was_active": was, "stats": stats})
}

func (h *Handler) resetSession(c *gin.Context) {
	s := h.Controller.Session()
	if !s.Started() {
		h.fail(c, http.StatusConflict, "no session to reset", nil)
		return
	}
	// reset first so a scan in flight cannot land after the clear
	section := s.Section()
	h.Controller.Reset()
	cleared, err := h.Service.ClearToday(c.Request.Context(), section)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "clear attendance failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": cleared})
}
