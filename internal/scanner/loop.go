// Package scanner runs the background loop that turns card taps into attendance.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"tapattend/internal/attendance"
	"tapattend/internal/events"
	"tapattend/internal/metrics"
	"tapattend/internal/reader"
	"tapattend/internal/roster"
	"tapattend/internal/session"
)

// Outcome is what happened to one tapped card.
type Outcome string

const (
	OutcomeMarked          Outcome = "marked"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeUnknown         Outcome = "unknown"
	OutcomeSectionMismatch Outcome = "section-mismatch"
	OutcomeError           Outcome = "error"
)

// Result describes one processed card.
type Result struct {
	UID      string              `json:"uid"`
	ReaderID string              `json:"reader"`
	Outcome  Outcome             `json:"outcome"`
	Student  *attendance.Student `json:"student,omitempty"`
	Err      error               `json:"-"`
}

// Store is the persistence the loop writes attendance to.
type Store interface {
	LogAttendance(ctx context.Context, uid string) (attendance.Record, bool, error)
	TodayStats(ctx context.Context, section string) (attendance.Stats, error)
	Now() time.Time
}

// Finder resolves card UIDs to students.
type Finder interface {
	Find(ctx context.Context, uid, section string) (roster.Match, error)
}

// Config tunes the loop. Zero values take the defaults.
type Config struct {
	PollInterval         time.Duration
	DebounceWindow       time.Duration
	IdleStatusEvery      time.Duration
	ReaderWarnEvery      time.Duration
	MaxConsecutiveErrors int
	ErrorPause           time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 2 * time.Second
	}
	if c.IdleStatusEvery <= 0 {
		c.IdleStatusEvery = 5 * time.Second
	}
	if c.ReaderWarnEvery <= 0 {
		c.ReaderWarnEvery = 10 * time.Second
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = 2 * time.Second
	}
	return c
}

// Option customizes a Loop.
type Option func(*Loop)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// WithSleep replaces the cooperative sleep between iterations.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) { l.sleep = sleep }
}

// Loop polls the reader and processes every tapped card while the session is active.
// Run must not be called concurrently; Process may be called from any goroutine.
type Loop struct {
	cfg     Config
	reader  reader.Reader
	session *session.State
	lookup  Finder
	store   Store
	sink    events.Sink
	log     *log.Entry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	claim func(uid string) bool

	// held while a card is processed; session changes made through exclusive wait for it
	inflight sync.Mutex

	// owned by the Run goroutine
	debounce   *debouncer
	errorRun   int
	lastIdle   time.Time
	lastWarned map[string]time.Time
}

// NewLoop wires a loop.
func NewLoop(cfg Config, r reader.Reader, s *session.State, lookup Finder, store Store, sink events.Sink, opts ...Option) *Loop {
	cfg = cfg.withDefaults()
	l := &Loop{
		cfg:        cfg,
		reader:     r,
		session:    s,
		lookup:     lookup,
		store:      store,
		sink:       sink,
		log:        log.WithField("component", "scanner"),
		now:        time.Now,
		sleep:      sleepCtx,
		debounce:   newDebouncer(cfg.DebounceWindow),
		lastWarned: make(map[string]time.Time),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Loop) reset() {
	l.debounce.reset()
	l.errorRun = 0
	l.lastIdle = time.Time{}
	l.lastWarned = make(map[string]time.Time)
}

// Run loops until the session is idle, the class window has ended or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.reset()
	l.log.WithField("section", l.session.Section()).Info("scan loop started")
	l.sink.Status(events.Notice{Message: "Scanning started. Tap a card.", Level: events.LevelInfo})

	for ctx.Err() == nil && l.session.Active() {
		if l.session.Ended() {
			l.session.Stop()
			l.sink.Status(events.Notice{Message: "Class time is over, session stopped", Level: events.LevelInfo})
			break
		}
		l.Iterate(ctx)
		if err := l.sleep(ctx, l.cfg.PollInterval); err != nil {
			break
		}
	}

	if !l.session.Active() {
		metrics.SessionActive.Set(0)
	}
	l.log.Info("scan loop stopped")
	l.sink.Status(events.Notice{Message: "Scanning stopped", Level: events.LevelWarning})
}

// Iterate polls once and processes every new card. It returns the processed results.
func (l *Loop) Iterate(ctx context.Context) []Result {
	metrics.LoopIterations.Inc()

	results, err := l.reader.Poll(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}

	errored := false
	sawCard := false
	if err != nil {
		errored = true
		id := "all"
		if errors.Is(err, reader.ErrNoReaders) {
			id = "none"
		}
		l.readerFailed(id, err)
	}

	var out []Result
	for _, r := range results {
		switch r.Status {
		case reader.StatusFailed:
			errored = true
			l.readerFailed(r.ReaderID, r.Err)
		case reader.StatusCard:
			sawCard = true
			if l.debounce.bounce(r.ReaderID, r.UID, l.now()) {
				continue
			}
			if l.claim != nil && l.claim(r.UID) {
				l.log.WithField("uid", r.UID).Info("card handed to registration")
				continue
			}
			res := l.Process(ctx, r.ReaderID, r.UID)
			if res.Outcome == OutcomeError && !errors.Is(res.Err, session.ErrStale) {
				errored = true
			}
			out = append(out, res)
		}
	}

	if !sawCard && !errored {
		l.idle()
	}

	if !errored {
		l.errorRun = 0
		return out
	}
	l.errorRun++
	if l.errorRun >= l.cfg.MaxConsecutiveErrors {
		l.log.WithField("errors", l.errorRun).Error("too many consecutive scan errors, pausing")
		l.sink.Status(events.Notice{
			Message: fmt.Sprintf("Too many consecutive errors, pausing for %s", l.cfg.ErrorPause),
			Level:   events.LevelError,
		})
		l.errorRun = 0
		_ = l.sleep(ctx, l.cfg.ErrorPause)
	}
	return out
}

// exclusive runs fn while no card is being processed.
func (l *Loop) exclusive(fn func()) {
	l.inflight.Lock()
	defer l.inflight.Unlock()
	fn()
}

func (l *Loop) idle() {
	now := l.now()
	if !l.lastIdle.IsZero() && now.Sub(l.lastIdle) < l.cfg.IdleStatusEvery {
		return
	}
	l.lastIdle = now
	l.sink.Status(events.Notice{Message: "Scanning for cards...", Level: events.LevelInfo})
}

func (l *Loop) readerFailed(id string, err error) {
	metrics.ReaderErrors.WithLabelValues(id).Inc()
	l.log.WithField("reader", id).WithError(err).Debug("reader poll failed")

	now := l.now()
	if last, ok := l.lastWarned[id]; ok && now.Sub(last) < l.cfg.ReaderWarnEvery {
		return
	}
	l.lastWarned[id] = now
	msg := fmt.Sprintf("Reader %s error: %v", id, err)
	if errors.Is(err, reader.ErrNoReaders) {
		msg = "No card readers detected"
	}
	l.log.WithField("reader", id).WithError(err).Warn("reader error")
	l.sink.Status(events.Notice{Message: msg, Level: events.LevelWarning})
}

// Process handles one card exactly as a tap would and emits one status notice.
func (l *Loop) Process(ctx context.Context, readerID, uid string) Result {
	l.inflight.Lock()
	defer l.inflight.Unlock()
	uid = attendance.NormalizeUID(uid)
	res := l.process(ctx, readerID, uid)
	metrics.Scans.WithLabelValues(string(res.Outcome)).Inc()
	return res
}

func (l *Loop) process(ctx context.Context, readerID, uid string) Result {
	res := Result{UID: uid, ReaderID: readerID}
	entry := l.log.WithFields(log.Fields{"reader": readerID, "uid": uid})

	ticket, ok := l.session.Current()
	if !ok {
		return l.stale(res, entry)
	}
	if l.session.Scanned(uid) {
		res.Outcome = OutcomeDuplicate
		l.sink.Status(events.Notice{Message: fmt.Sprintf("Card %s already marked in this session", uid), Level: events.LevelWarning})
		return res
	}

	section := ticket.Section
	m, err := l.lookup.Find(ctx, uid, section)
	if err != nil {
		entry.WithError(err).Error("roster lookup failed")
		res.Outcome, res.Err = OutcomeError, err
		l.sink.Status(events.Notice{Message: fmt.Sprintf("Could not look up card %s", uid), Level: events.LevelWarning})
		return res
	}

	switch m.Outcome {
	case roster.NotFound:
		res.Outcome = OutcomeUnknown
		entry.Info("unknown card")
		l.sink.Status(events.Notice{
			Message: fmt.Sprintf("Unknown card %s, please register", uid),
			Level:   events.LevelWarning,
			UID:     uid,
		})
		return res
	case roster.WrongSection:
		st := m.Student
		res.Outcome, res.Student = OutcomeSectionMismatch, &st
		entry.WithField("section", st.Section).Info("card from another section")
		l.sink.Status(events.Notice{
			Message: fmt.Sprintf("%s is not from this session (section %s, expected %s)", st.Name, st.Section, section),
			Level:   events.LevelWarning,
		})
		return res
	}

	st := m.Student
	res.Student = &st
	if m.Enrolled {
		entry.WithField("section", st.Section).Info("enrolled from section listing")
	}

	if !l.session.Valid(ticket) {
		return l.stale(res, entry)
	}
	_, created, err := l.store.LogAttendance(ctx, uid)
	if err != nil {
		entry.WithError(err).Error("record attendance failed")
		res.Outcome, res.Err = OutcomeError, err
		l.sink.Status(events.Notice{Message: fmt.Sprintf("Could not record attendance for %s", st.Name), Level: events.LevelWarning})
		return res
	}

	fresh, err := l.session.Mark(ticket, uid)
	if err != nil {
		entry.Warn("session changed after attendance was written")
		return l.stale(res, entry)
	}
	if !created || !fresh {
		res.Outcome = OutcomeDuplicate
		l.sink.Status(events.Notice{Message: fmt.Sprintf("%s is already recorded today", st.Name), Level: events.LevelWarning})
		return res
	}

	res.Outcome = OutcomeMarked
	entry.WithField("student", st.Name).Info("attendance marked")
	l.sink.Status(events.Notice{Message: fmt.Sprintf("Attendance marked: %s", st.Name), Level: events.LevelSuccess})
	l.sink.Attendance(st.Name, l.store.Now())
	l.refreshDashboard(ctx)
	return res
}

// stale reports a card whose session was stopped, reset or replaced mid-scan.
func (l *Loop) stale(res Result, entry *log.Entry) Result {
	entry.Info("card ignored, session no longer active")
	res.Outcome, res.Err = OutcomeError, session.ErrStale
	l.sink.Status(events.Notice{Message: fmt.Sprintf("Session ended, card %s not recorded", res.UID), Level: events.LevelWarning})
	return res
}

func (l *Loop) refreshDashboard(ctx context.Context) {
	stats, err := l.store.TodayStats(ctx, l.session.Section())
	if err != nil {
		l.log.WithError(err).Warn("stats refresh failed")
		return
	}
	l.sink.Dashboard(stats)
}
