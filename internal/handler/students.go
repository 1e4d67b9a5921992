package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tapattend/internal/attendance"
	"tapattend/internal/reader"
	"tapattend/internal/scanner"
)

const scanUIDTimeout = 10 * time.Second

type studentRequest struct {
	Name         string `json:"name" binding:"required"`
	EnrollmentNo string `json:"enrollment_no"`
	RollNo       string `json:"roll_no"`
	Section      string `json:"section"`
	Subject      string `json:"subject"`
	UID          string `json:"uid" binding:"required"`
}

func (h *Handler) listStudents(c *gin.Context) {
	students, err := h.Service.ListStudents(c.Request.Context(), c.Query("section"))
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "students unavailable", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": nonNil(students)})
}

func (h *Handler) registerStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "name and uid required", nil)
		return
	}
	uid, err := reader.NormalizeUID(req.UID)
	if err != nil {
		h.fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	res, err := h.Controller.Register(c.Request.Context(), attendance.Student{
		UID:          uid,
		Name:         req.Name,
		EnrollmentNo: req.EnrollmentNo,
		RollNo:       req.RollNo,
		Section:      req.Section,
		Subject:      req.Subject,
	})
	switch {
	case errors.Is(err, scanner.ErrAlreadyRegistered):
		h.fail(c, http.StatusConflict, "UID already registered", nil)
		return
	case errors.Is(err, attendance.ErrInvalidStudent):
		h.fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	case err != nil:
		h.fail(c, http.StatusInternalServerError, "registration failed", err)
		return
	}

	body := gin.H{"success": true, "student": res.Student}
	if res.Scan != nil {
		body["attendance"] = res.Scan.Outcome
	}
	c.JSON(http.StatusCreated, body)
}

func (h *Handler) scanUID(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), scanUIDTimeout)
	defer cancel()

	uid, err := h.Controller.NextUID(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.fail(c, http.StatusRequestTimeout, "Timeout: no card scanned in 10s", nil)
			return
		}
		h.fail(c, http.StatusServiceUnavailable, "scan cancelled", nil)
		return
	}

	body := gin.H{"success": true, "uid": uid}
	if st, err := h.Service.FindByUID(c.Request.Context(), uid); err == nil && st != nil {
		body["student"] = st
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) simulateScan(c *gin.Context) {
	if h.Virtual == nil {
		h.fail(c, http.StatusNotFound, "virtual reader not enabled", nil)
		return
	}
	var req struct {
		UID string `json:"uid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "uid required", nil)
		return
	}
	if err := h.Virtual.Tap(req.UID); err != nil {
		h.fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}
