// Package events delivers scanner notifications to the dashboard and the log.
package events

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tapattend/internal/attendance"
)

// Level is the severity of a status notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a status message. UID is only set on notices asking for a card to be registered.
type Notice struct {
	Message string `json:"message"`
	Level   Level  `json:"type"`
	UID     string `json:"uid,omitempty"`
}

// Sink receives scanner notifications. Implementations must not block for long;
// they are called from the scan loop.
type Sink interface {
	Status(n Notice)
	Attendance(name string, at time.Time)
	Dashboard(stats attendance.Stats)
}

type multi []Sink

// Multi fans out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Status(n Notice) {
	for _, s := range m {
		s.Status(n)
	}
}

func (m multi) Attendance(name string, at time.Time) {
	for _, s := range m {
		s.Attendance(name, at)
	}
}

func (m multi) Dashboard(stats attendance.Stats) {
	for _, s := range m {
		s.Dashboard(stats)
	}
}

// LogSink writes notifications to logrus.
type LogSink struct {
	entry *log.Entry
}

// NewLogSink creates a sink logging through entry.
func NewLogSink(entry *log.Entry) *LogSink {
	return &LogSink{entry: entry}
}

func (l *LogSink) Status(n Notice) {
	e := l.entry
	if n.UID != "" {
		e = e.WithField("uid", n.UID)
	}
	switch n.Level {
	case LevelError:
		e.Error(n.Message)
	case LevelWarning:
		e.Warn(n.Message)
	default:
		e.Debug(n.Message)
	}
}

func (l *LogSink) Attendance(name string, at time.Time) {
	l.entry.WithField("student", name).WithField("at", at.Format(time.RFC3339)).Info("attendance marked")
}

func (l *LogSink) Dashboard(stats attendance.Stats) {
	l.entry.WithFields(log.Fields{"total": stats.Total, "present": stats.Present, "absent": stats.Absent}).Debug("dashboard")
}

// AttendanceEvent is one marked student.
type AttendanceEvent struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
	Time string    `json:"time"`
}

// Recorder keeps every notification in memory. It is safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	notices     []Notice
	attendances []AttendanceEvent
	dashboards  []attendance.Stats
}

func (r *Recorder) Status(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *Recorder) Attendance(name string, at time.Time) {
	r.mu.Lock()
	r.attendances = append(r.attendances, AttendanceEvent{Name: name, At: at, Time: at.Format("15:04:05")})
	r.mu.Unlock()
}

func (r *Recorder) Dashboard(stats attendance.Stats) {
	r.mu.Lock()
	r.dashboards = append(r.dashboards, stats)
	r.mu.Unlock()
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Attendances returns a copy of the recorded attendance events.
func (r *Recorder) Attendances() []AttendanceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AttendanceEvent(nil), r.attendances...)
}

// Dashboards returns a copy of the recorded dashboard refreshes.
func (r *Recorder) Dashboards() []attendance.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]attendance.Stats(nil), r.dashboards...)
}

// CountLevel counts notices of one level.
func (r *Recorder) CountLevel(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Level == level {
			n++
		}
	}
	return n
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.notices, r.attendances, r.dashboards = nil, nil, nil
	r.mu.Unlock()
}
