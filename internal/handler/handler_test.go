package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapattend/internal/attendance"
	"tapattend/internal/auth"
	"tapattend/internal/events"
	"tapattend/internal/queue"
	"tapattend/internal/reader"
	"tapattend/internal/report"
	"tapattend/internal/roster"
	"tapattend/internal/scanner"
	"tapattend/internal/session"
	"tapattend/internal/store"
)

type testAPI struct {
	router  *gin.Engine
	svc     *attendance.Service
	dir     *roster.Directory
	files   *report.Files
	queue   *queue.InMemory
	virtual *reader.Virtual
	token   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := store.NewDB("sqlite3", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := attendance.NewRepository(db.Client)
	require.NoError(t, repo.Migrate(ctx))
	svc := attendance.NewService(repo, time.UTC)

	dir := roster.NewDirectory(filepath.Join(t.TempDir(), "sections"))
	files, err := report.NewFiles(filepath.Join(t.TempDir(), "reports"))
	require.NoError(t, err)

	hub := events.NewHub(nil)
	virtual := reader.NewVirtual()
	ctrl := scanner.NewController(ctx, scanner.Config{PollInterval: 5 * time.Millisecond}, scanner.Deps{
		Reader:  virtual,
		Session: session.New(),
		Lookup:  roster.NewLookup(svc, dir),
		Store:   svc,
		Sink:    hub,
	})
	t.Cleanup(func() {
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ctrl.Shutdown(sctx)
	})

	creds, err := auth.NewCredentials("admin", "admin123", "")
	require.NoError(t, err)
	q := queue.NewInMemory(8)

	h := New(Deps{
		Controller:  ctrl,
		Service:     svc,
		Sections:    dir,
		Importer:    roster.NewImporter(dir, svc),
		Reports:     files,
		Queue:       q,
		Hub:         hub,
		Virtual:     virtual,
		Credentials: creds,
		Auth:        AuthConfig{Issuer: "tapattend", SigningKey: "k", TTL: time.Hour},
		Health:      map[string]func(context.Context) bool{"db": db.Healthy},
	})
	r := gin.New()
	h.Register(r)

	api := &testAPI{router: r, svc: svc, dir: dir, files: files, queue: q, virtual: virtual}
	w := api.do(t, http.MethodPost, "/login", gin.H{"username": "admin", "password": "admin123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	api.token = body.Token
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t)

	token := api.token
	api.token = ""
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodGet, "/api/stats", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, api.do(t, http.MethodPost, "/login", gin.H{"username": "admin", "password": "nope"}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do(t, http.MethodPost, "/login", gin.H{}).Code)

	api.token = token
	assert.Equal(t, http.StatusOK, api.do(t, http.MethodGet, "/api/stats", nil).Code)

	w := api.do(t, http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), auth.CookieName+"=;")
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["db"])
}

func TestSessionFlow(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.dir.Write("D2", []attendance.Student{
		{Name: "Bob Wilson", EnrollmentNo: "D2001", RollNo: "7", Section: "D2", UID: "AABBCCDD"},
		{Name: "Carol", EnrollmentNo: "D2002", RollNo: "8", Section: "D2", UID: "11223344"},
	}))

	w := api.do(t, http.MethodPost, "/api/sessions/start", gin.H{"section": "d2", "subject": "Physics"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotNil(t, decode(t, w)["imported"])

	w = api.do(t, http.MethodPost, "/api/simulate_scan", gin.H{"uid": "aabbccdd"})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		stats, err := api.svc.TodayStats(context.Background(), "D2")
		return err == nil && stats.Present == 1
	}, 2*time.Second, 10*time.Millisecond)

	w = api.do(t, http.MethodGet, "/api/sessions/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cur := decode(t, w)
	assert.Equal(t, float64(2), cur["total"])
	assert.Equal(t, float64(1), cur["present"])
	assert.Len(t, cur["waiting"], 1)

	w = api.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["scanning"])

	w = api.do(t, http.MethodPost, "/api/sessions/stop", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stop := decode(t, w)
	name, _ := stop["filename"].(string)
	require.NotEmpty(t, name)
	_, err := os.Stat(filepath.Join(api.files.Dir(), name))
	assert.NoError(t, err)

	w = api.do(t, http.MethodGet, "/reports/"+name, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodPost, "/api/sessions/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "stop resets the session")
}

func TestResetClearsToday(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	_, err := api.svc.AddStudent(ctx, attendance.Student{Name: "Bob", Section: "D2", UID: "AABBCCDD"})
	require.NoError(t, err)
	_, _, err = api.svc.LogAttendance(ctx, "AABBCCDD")
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/sessions/start", gin.H{"section": "D2"}).Code)
	w := api.do(t, http.MethodPost, "/api/sessions/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["cleared"])

	stats, err := api.svc.TodayStats(ctx, "D2")
	require.NoError(t, err)
	assert.Zero(t, stats.Present)
}

func TestResetWithoutSession(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	for _, st := range []attendance.Student{
		{Name: "Bob", Section: "D2", UID: "AABBCCDD"},
		{Name: "Alice", Section: "A2", UID: "11223344"},
	} {
		_, err := api.svc.AddStudent(ctx, st)
		require.NoError(t, err)
		_, _, err = api.svc.LogAttendance(ctx, st.UID)
		require.NoError(t, err)
	}

	w := api.do(t, http.MethodPost, "/api/sessions/reset", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	stats, err := api.svc.TodayStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Present, "nothing is cleared without a session")
}

func TestStartValidation(t *testing.T) {
	api := newTestAPI(t)
	w := api.do(t, http.MethodPost, "/api/sessions/start", gin.H{"class_start": "10:00", "class_end": "09:00"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = api.do(t, http.MethodPost, "/api/sessions/start", gin.H{"class_end": "soon"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterStudent(t *testing.T) {
	api := newTestAPI(t)
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, "/api/sessions/start", gin.H{"section": "A2"}).Code)

	w := api.do(t, http.MethodPost, "/api/students", gin.H{"name": "Dana", "section": "a2", "uid": "ca:fe:ba:be"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "marked", decode(t, w)["attendance"])

	w = api.do(t, http.MethodPost, "/api/students", gin.H{"name": "Dana", "uid": "CAFEBABE"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, http.MethodPost, "/api/students", gin.H{"name": "Bad", "uid": "xyz"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/students?section=A2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["students"], 1)
}

func TestScanUID(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.virtual.Tap("0A0B0C0D"))
	w := api.do(t, http.MethodGet, "/api/scan_uid", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0A0B0C0D", decode(t, w)["uid"])
}

func TestSections(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/sections/seed", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode(t, w)["summary"], 4)

	w = api.do(t, http.MethodGet, "/api/sections", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"A2", "B2", "C2", "D2"}, decode(t, w)["sections"])

	students, err := api.svc.ListStudents(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, students, 4*roster.SeedStudentsPerSection)

	w = api.do(t, http.MethodPost, "/api/sections/import", gin.H{"section": "D2", "replace": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(t, http.MethodPost, "/api/sections/import", gin.H{"section": "Z9"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(t, http.MethodPost, "/api/sections/templates", gin.H{"sections": []string{"E2"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"E2"}, decode(t, w)["created"])
}

func TestExportsEnqueue(t *testing.T) {
	api := newTestAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := api.queue.Consume(ctx)
	require.NoError(t, err)

	w := api.do(t, http.MethodPost, "/api/exports/attendance", gin.H{"date": "2026-03-02"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "attendance_export_20260302.xlsx", decode(t, w)["filename"])
	msg := <-ch
	assert.Equal(t, report.KindAttendance, msg.Type)

	w = api.do(t, http.MethodPost, "/api/exports/students", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	msg = <-ch
	assert.Equal(t, report.KindStudents, msg.Type)

	w = api.do(t, http.MethodPost, "/api/exports/attendance", gin.H{"date": "02/03/2026"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/api/reports", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseClassTime(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	got, err := parseClassTime("09:30", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC), got)

	got, err = parseClassTime("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseClassTime("9.30", now)
	assert.Error(t, err)
}
