package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestIssueParse(t *testing.T) {
	tok, err := Issue("admin", "admin", "tapattend", "k", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)

	claims, err := Parse(tok.Value, "k", "tapattend")
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
	assert.Equal(t, "admin", claims.Role)

	_, err = Parse(tok.Value, "other", "tapattend")
	assert.Error(t, err)
	_, err = Parse(tok.Value, "k", "someone-else")
	assert.Error(t, err)

	expired, err := Issue("admin", "admin", "tapattend", "k", -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired.Value, "k", "tapattend")
	assert.Error(t, err)
}

func TestCredentials(t *testing.T) {
	c, err := NewCredentials("admin", "admin123", "")
	require.NoError(t, err)
	assert.True(t, c.Check("admin", "admin123"))
	assert.False(t, c.Check("admin", "wrong"))
	assert.False(t, c.Check("root", "admin123"))

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	c, err = NewCredentials("lecturer", "", string(hash))
	require.NoError(t, err)
	assert.True(t, c.Check("lecturer", "s3cret"))

	_, err = NewCredentials("admin", "", "")
	assert.Error(t, err)
	_, err = NewCredentials("admin", "", "not-a-hash")
	assert.Error(t, err)
}

func TestAdminAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", AdminAuth("k", "tapattend"), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	tok, err := Issue("admin", "admin", "tapattend", "k", time.Hour)
	require.NoError(t, err)
	device, err := Issue("dev", "device", "tapattend", "k", time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name string
		prep func(*http.Request)
		want int
	}{
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok.Value) }, http.StatusNoContent},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: tok.Value}) }, http.StatusNoContent},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"wrong role", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+device.Value) }, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			tc.prep(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}
