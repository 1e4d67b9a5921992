// Package session holds the single live attendance session.
package session

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrStale is returned when a ticket belongs to a session that was stopped, reset or replaced.
var ErrStale = errors.New("session changed")

// Ticket identifies one started session. A scan holds the ticket it began under.
type Ticket struct {
	Gen     uint64
	Section string
}

// Options describe a session being started. All fields are optional.
type Options struct {
	Subject    string
	Section    string
	ClassStart time.Time
	ClassEnd   time.Time
	StartedBy  string
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	Active      bool      `json:"active"`
	Started     bool      `json:"started"`
	Subject     string    `json:"subject,omitempty"`
	Section     string    `json:"section,omitempty"`
	StartedBy   string    `json:"started_by,omitempty"`
	StartTime   time.Time `json:"start_time"`
	ClassStart  time.Time `json:"class_start,omitempty"`
	ClassEnd    time.Time `json:"class_end,omitempty"`
	ScannedUIDs []string  `json:"scanned_uids"`
}

// State is the session state machine: Idle -> Active -> Idle.
// Stop keeps the scanned set for a closing report; Reset clears everything.
type State struct {
	mu      sync.Mutex
	active  bool
	started bool
	gen     uint64
	opts    Options
	start   time.Time
	scanned map[string]struct{}
	now     func() time.Time
}

// New returns an idle session.
func New() *State {
	return &State{scanned: make(map[string]struct{}), now: time.Now}
}

// SetClock overrides the time source.
func (s *State) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Start activates a new session, discarding the previous one.
func (s *State) Start(opts Options) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts.Section = strings.ToUpper(strings.TrimSpace(opts.Section))
	opts.Subject = strings.TrimSpace(opts.Subject)
	s.opts = opts
	s.gen++
	s.active = true
	s.started = true
	s.start = s.now()
	s.scanned = make(map[string]struct{})
	return s.snapshotLocked()
}

// Stop deactivates the session. It reports whether it was active.
func (s *State) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.active
	s.active = false
	return was
}

// Reset returns to Idle with no scanned uids and no session metadata.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.active = false
	s.started = false
	s.opts = Options{}
	s.start = time.Time{}
	s.scanned = make(map[string]struct{})
}

// Active reports whether scans are accepted.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Started reports whether a session exists since the last Reset, active or not.
func (s *State) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Section returns the section filter, empty when none.
func (s *State) Section() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.Section
}

// Scanned reports whether uid was marked in this session.
func (s *State) Scanned(uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scanned[uid]
	return ok
}

// Current returns the ticket of the active session. ok is false when idle.
func (s *State) Current() (t Ticket, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Ticket{Gen: s.gen, Section: s.opts.Section}, s.active
}

// Valid reports whether t still names the active session.
func (s *State) Valid(t Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.gen == t.Gen
}

// Mark adds uid to the session t was issued for. It returns false when uid was
// already present and ErrStale when that session is no longer active.
func (s *State) Mark(t Ticket, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.gen != t.Gen {
		return false, ErrStale
	}
	if _, ok := s.scanned[uid]; ok {
		return false, nil
	}
	s.scanned[uid] = struct{}{}
	return true, nil
}

// MarkScanned adds uid to the active session. It returns false when uid was
// already present or no session is active.
func (s *State) MarkScanned(uid string) bool {
	s.mu.Lock()
	t := Ticket{Gen: s.gen}
	s.mu.Unlock()
	ok, err := s.Mark(t, uid)
	return ok && err == nil
}

// Ended reports whether the session has a class end time that has passed.
func (s *State) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && !s.opts.ClassEnd.IsZero() && s.now().After(s.opts.ClassEnd)
}

// Snapshot returns a copy of the current state with sorted uids.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	uids := make([]string, 0, len(s.scanned))
	for uid := range s.scanned {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return Snapshot{
		Active:      s.active,
		Started:     s.started,
		Subject:     s.opts.Subject,
		Section:     s.opts.Section,
		StartedBy:   s.opts.StartedBy,
		StartTime:   s.start,
		ClassStart:  s.opts.ClassStart,
		ClassEnd:    s.opts.ClassEnd,
		ScannedUIDs: uids,
	}
}
