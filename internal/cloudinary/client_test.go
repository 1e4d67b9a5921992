package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "100", "public_id": "a.xlsx", "api_key": "key", "folder": ""})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("public_id=a.xlsx&timestamp=100secret")))
	assert.Equal(t, want, got)
}

func TestUploadFile(t *testing.T) {
	var gotPath, gotID, gotKey, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotID = r.FormValue("public_id")
		gotKey = r.FormValue("api_key")
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		gotFile = hdr.Filename
		_, _ = w.Write([]byte(`{"public_id":"reports/a.xlsx","secure_url":"https://res.example/a.xlsx","resource_type":"raw"}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "reports")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(100, 0) }
	require.True(t, c.Configured())

	path := filepath.Join(t.TempDir(), "a.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	url, err := c.UploadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/a.xlsx", url)
	assert.Equal(t, "/demo/raw/upload", gotPath)
	assert.Equal(t, "a.xlsx", gotID)
	assert.Equal(t, "key", gotKey)
	assert.Equal(t, "a.xlsx", gotFile)
}

func TestUploadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.UploadBytes(context.Background(), []byte("x"), "x.xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	var nilClient *Client
	assert.False(t, nilClient.Configured())
}
