package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tapattend/internal/queue"
	"tapattend/internal/report"
)

type exportRequest struct {
	Date    string `json:"date"`
	Section string `json:"section"`
}

func (h *Handler) exportStudents(c *gin.Context) {
	var req exportRequest
	_ = c.ShouldBindJSON(&req)
	msg, job, err := report.StudentsJob(h.Service.Now(), req.Section)
	h.enqueue(c, msg, job, err)
}

func (h *Handler) exportAttendance(c *gin.Context) {
	var req exportRequest
	_ = c.ShouldBindJSON(&req)
	if req.Date == "" {
		req.Date = h.Service.Today()
	} else if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		h.fail(c, http.StatusBadRequest, "date must be YYYY-MM-DD", nil)
		return
	}
	msg, job, err := report.AttendanceJob(req.Date, req.Section)
	h.enqueue(c, msg, job, err)
}

func (h *Handler) enqueue(c *gin.Context, msg queue.Message, job report.Job, err error) {
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "export job invalid", err)
		return
	}
	if err := h.Queue.Publish(c.Request.Context(), msg); err != nil {
		h.fail(c, http.StatusServiceUnavailable, "export queue unavailable", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "filename": job.Filename, "url": "/reports/" + job.Filename})
}
