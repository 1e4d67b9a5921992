package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapattend/internal/attendance"
)

func TestMultiFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	s := Multi(a, b, NewLogSink(log.WithField("component", "test")))

	s.Status(Notice{Message: "hello", Level: LevelInfo})
	s.Attendance("Bob", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	s.Dashboard(attendance.Stats{Total: 3, Present: 1, Absent: 2})

	for _, r := range []*Recorder{a, b} {
		assert.Len(t, r.Notices(), 1)
		require.Len(t, r.Attendances(), 1)
		assert.Equal(t, "09:00:00", r.Attendances()[0].Time)
		assert.Equal(t, []attendance.Stats{{Total: 3, Present: 1, Absent: 2}}, r.Dashboards())
	}
	assert.Equal(t, 1, a.CountLevel(LevelInfo))
	a.Reset()
	assert.Empty(t, a.Notices())
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(b, &env))
	return env
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	hub.Status(Notice{Message: "Scanning for cards...", Level: LevelInfo})
	conn := dial(t, srv)

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeStatus, env.Type, "new clients get the last status")

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.Status(Notice{Message: "Unknown card", Level: LevelWarning, UID: "01020304"})
	assert.Equal(t, TypeStatus, readEnvelope(t, conn).Type)
	env = readEnvelope(t, conn)
	assert.Equal(t, TypeRegisterUID, env.Type)
	assert.Equal(t, map[string]interface{}{"uid": "01020304"}, env.Data)

	hub.Attendance("Bob Wilson", time.Now())
	assert.Equal(t, TypeAttendance, readEnvelope(t, conn).Type)

	hub.Dashboard(attendance.Stats{Total: 1, Present: 1})
	assert.Equal(t, TypeDashboard, readEnvelope(t, conn).Type)

	last, att := hub.Last()
	require.NotNil(t, last)
	require.NotNil(t, att)
	assert.Equal(t, "Unknown card", last.Message)
	assert.Equal(t, "Bob Wilson", att.Name)

	_ = conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubRejectsOtherOrigins(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.Clients())

	allow := func(r *http.Request) bool { return r.Header.Get("Origin") == "https://attend.school.test" }
	listed := httptest.NewServer(http.HandlerFunc(NewHub(allow).ServeWS))
	defer listed.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(listed.URL, "http"), http.Header{"Origin": {"https://attend.school.test"}})
	require.NoError(t, err)
	_ = conn.Close()
}
