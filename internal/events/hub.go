package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"tapattend/internal/attendance"
)

// Message types pushed to dashboard clients.
const (
	TypeStatus      = "status_update"
	TypeAttendance  = "new_attendance"
	TypeDashboard   = "dashboard_update"
	TypeRegisterUID = "show_student_dialog"
)

const writeWait = 5 * time.Second

// Envelope is the wire format of every pushed message.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub is a Sink that broadcasts to connected websocket clients and remembers
// the latest status and attendance for newly connected ones.
type Hub struct {
	upgrader websocket.Upgrader
	conns    sync.Map // client id -> *client

	mu             sync.RWMutex
	lastStatus     *Notice
	lastAttendance *AttendanceEvent
	lastStats      *attendance.Stats
}

type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// NewHub creates a hub. allowOrigin decides which browser origins may connect; nil admits
// only pages from the same host.
func NewHub(allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     allowOrigin,
	}}
}

// ServeWS upgrades the request and keeps the client registered until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}
	h.conns.Store(c.id, c)
	log.WithField("client", c.id).Debug("dashboard client connected")

	h.sendState(c)

	go func() {
		defer h.drop(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) sendState(c *client) {
	h.mu.RLock()
	var msgs []Envelope
	if h.lastStatus != nil {
		msgs = append(msgs, Envelope{Type: TypeStatus, Data: *h.lastStatus})
	}
	if h.lastStats != nil {
		msgs = append(msgs, Envelope{Type: TypeDashboard, Data: *h.lastStats})
	}
	h.mu.RUnlock()

	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			continue
		}
		if err := c.write(b); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	if _, loaded := h.conns.LoadAndDelete(c.id); loaded {
		_ = c.conn.Close()
		log.WithField("client", c.id).Debug("dashboard client disconnected")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	n := 0
	h.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (h *Hub) broadcast(typ string, data interface{}) {
	b, err := json.Marshal(Envelope{Type: typ, Data: data})
	if err != nil {
		log.WithError(err).Errorf("marshal %s", typ)
		return
	}
	h.conns.Range(func(_, v any) bool {
		c := v.(*client)
		if err := c.write(b); err != nil {
			log.WithError(err).WithField("client", c.id).Debug("websocket write failed")
			h.drop(c)
		}
		return true
	})
}

func (h *Hub) Status(n Notice) {
	h.mu.Lock()
	h.lastStatus = &n
	h.mu.Unlock()
	h.broadcast(TypeStatus, n)
	if n.UID != "" {
		h.broadcast(TypeRegisterUID, map[string]string{"uid": n.UID})
	}
}

func (h *Hub) Attendance(name string, at time.Time) {
	ev := AttendanceEvent{Name: name, At: at, Time: at.Format("15:04:05")}
	h.mu.Lock()
	h.lastAttendance = &ev
	h.mu.Unlock()
	h.broadcast(TypeAttendance, ev)
}

func (h *Hub) Dashboard(stats attendance.Stats) {
	h.mu.Lock()
	h.lastStats = &stats
	h.mu.Unlock()
	h.broadcast(TypeDashboard, stats)
}

// Last returns the latest status and attendance, either of which may be nil.
func (h *Hub) Last() (*Notice, *AttendanceEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var n *Notice
	var a *AttendanceEvent
	if h.lastStatus != nil {
		cp := *h.lastStatus
		n = &cp
	}
	if h.lastAttendance != nil {
		cp := *h.lastAttendance
		a = &cp
	}
	return n, a
}
