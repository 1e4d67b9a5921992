package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tapattend/internal/auth"
)

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "username and password required", nil)
		return
	}
	if !h.Credentials.Check(req.Username, req.Password) {
		h.log.WithField("user", req.Username).Warn("failed login")
		h.fail(c, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}

	tok, err := auth.Issue(req.Username, "admin", h.Auth.Issuer, h.Auth.SigningKey, h.Auth.TTL)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "token issue failed", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, tok.Value, int(h.Auth.TTL.Seconds()), "/", "", h.Auth.SecureCookies, true)
	h.log.WithField("user", req.Username).Info("admin logged in")
	c.JSON(http.StatusOK, gin.H{"token": tok.Value, "expires_at": tok.ExpiresAt.Unix()})
}

func (h *Handler) logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, "", -1, "/", "", h.Auth.SecureCookies, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) adminName(c *gin.Context) string {
	if v, ok := c.Get("claims"); ok {
		if claims, ok := v.(auth.Claims); ok {
			return claims.Subject
		}
	}
	return ""
}
