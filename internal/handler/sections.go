package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tapattend/internal/roster"
)

func (h *Handler) listSections(c *gin.Context) {
	sections, err := h.Sections.Sections()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "sections unavailable", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sections": sections})
}

func (h *Handler) createTemplates(c *gin.Context) {
	var req struct {
		Sections []string `json:"sections"`
	}
	_ = c.ShouldBindJSON(&req)
	created, err := h.Sections.WriteTemplates(req.Sections...)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "template creation failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "created": created})
}

func (h *Handler) seedSections(c *gin.Context) {
	if err := h.Sections.Seed(nil); err != nil {
		h.fail(c, http.StatusInternalServerError, "seeding failed", err)
		return
	}
	summary := make([]gin.H, 0, len(roster.DemoSections))
	for _, sec := range roster.DemoSections {
		res, err := h.Importer.Import(c.Request.Context(), sec, false)
		if err != nil {
			summary = append(summary, gin.H{"section": sec, "error": err.Error()})
			continue
		}
		summary = append(summary, gin.H{"section": sec, "added": res.Added, "skipped": res.Skipped})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}

func (h *Handler) importSection(c *gin.Context) {
	var req struct {
		Section string `json:"section" binding:"required"`
		Replace bool   `json:"replace"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "section is required", nil)
		return
	}
	res, err := h.Importer.Import(c.Request.Context(), req.Section, req.Replace)
	if err != nil {
		if errors.Is(err, roster.ErrSectionNotFound) {
			h.fail(c, http.StatusNotFound, err.Error(), nil)
			return
		}
		h.fail(c, http.StatusInternalServerError, "import failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": res})
}
