package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidStudent is returned when a student lacks a name or uid.
var ErrInvalidStudent = errors.New("student name and uid required")

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Student is a roster entry keyed by card UID.
type Student struct {
	UID          string    `json:"uid"`
	Name         string    `json:"name"`
	EnrollmentNo string    `json:"enrollment_no"`
	RollNo       string    `json:"roll_no"`
	Section      string    `json:"section"`
	Subject      string    `json:"subject"`
	CreatedAt    time.Time `json:"created_at"`
}

// Record is one attendance row.
type Record struct {
	ID        string    `json:"id"`
	UID       string    `json:"uid"`
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is a record joined with its student.
type Entry struct {
	UID          string `json:"uid"`
	Name         string `json:"name"`
	EnrollmentNo string `json:"enrollment_no"`
	RollNo       string `json:"roll_no"`
	Section      string `json:"section"`
	Subject      string `json:"subject"`
	Date         string `json:"date"`
	Time         string `json:"time"`
}

// Stats are the dashboard counters.
type Stats struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Absent  int `json:"absent"`
}

// NormalizeUID uppercases and trims a card UID.
func NormalizeUID(uid string) string {
	return strings.ToUpper(strings.TrimSpace(uid))
}

// NormalizeSection uppercases and trims a section name.
func NormalizeSection(section string) string {
	return strings.ToUpper(strings.TrimSpace(section))
}

// SameSection compares two section names case-insensitively.
func SameSection(a, b string) bool {
	return NormalizeSection(a) == NormalizeSection(b)
}

// Service coordinates roster reads and once-per-day attendance logging.
type Service struct {
	repo *Repository
	loc  *time.Location
	now  func() time.Time
}

// NewService creates a service backed by a repository. Dates are computed in loc.
func NewService(repo *Repository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, loc: loc, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Now returns the current time in the service location.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

// Today returns the current date string.
func (s *Service) Today() string {
	return s.Now().Format(dateLayout)
}

// FindByUID returns the student for uid or nil.
func (s *Service) FindByUID(ctx context.Context, uid string) (*Student, error) {
	return s.repo.FindStudent(ctx, NormalizeUID(uid))
}

// AddStudent registers a student. It returns false when the uid is already registered.
func (s *Service) AddStudent(ctx context.Context, st Student) (bool, error) {
	st.UID = NormalizeUID(st.UID)
	st.Name = strings.TrimSpace(st.Name)
	st.Section = NormalizeSection(st.Section)
	if st.UID == "" || st.Name == "" {
		return false, ErrInvalidStudent
	}
	return s.repo.InsertStudent(ctx, st)
}

// ListStudents lists students, optionally for one section.
func (s *Service) ListStudents(ctx context.Context, section string) ([]Student, error) {
	return s.repo.ListStudents(ctx, NormalizeSection(section))
}

// LogAttendance records uid as present today. The second call for the same uid on the
// same day writes nothing and returns the existing state with created=false.
func (s *Service) LogAttendance(ctx context.Context, uid string) (Record, bool, error) {
	uid = NormalizeUID(uid)
	now := s.Now()
	date := now.Format(dateLayout)

	exists, err := s.repo.HasAttendance(ctx, uid, date)
	if err != nil {
		return Record{}, false, fmt.Errorf("check attendance: %w", err)
	}
	if exists {
		return Record{UID: uid, Date: date}, false, nil
	}

	rec, created, err := s.repo.InsertAttendance(ctx, Record{
		UID:       uid,
		Date:      date,
		Time:      now.Format(timeLayout),
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("insert attendance: %w", err)
	}
	return rec, created, nil
}

// PresentUIDsToday returns the set of uids present today, optionally for one section.
func (s *Service) PresentUIDsToday(ctx context.Context, section string) (map[string]struct{}, error) {
	uids, err := s.repo.PresentUIDs(ctx, s.Today(), NormalizeSection(section))
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		set[uid] = struct{}{}
	}
	return set, nil
}

// TodayStats counts registered and present students, optionally for one section.
func (s *Service) TodayStats(ctx context.Context, section string) (Stats, error) {
	section = NormalizeSection(section)
	total, err := s.repo.CountStudents(ctx, section)
	if err != nil {
		return Stats{}, err
	}
	present, err := s.repo.PresentUIDs(ctx, s.Today(), section)
	if err != nil {
		return Stats{}, err
	}
	absent := total - len(present)
	if absent < 0 {
		absent = 0
	}
	return Stats{Total: total, Present: len(present), Absent: absent}, nil
}

// Recent returns today's latest entries across all sections.
func (s *Service) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.repo.Entries(ctx, s.Today(), "", limit)
}

// EntriesOn returns all entries of a date (today when empty), optionally for one section.
func (s *Service) EntriesOn(ctx context.Context, date, section string) ([]Entry, error) {
	if date == "" {
		date = s.Today()
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return s.repo.Entries(ctx, date, NormalizeSection(section), 0)
}

// ClearToday deletes today's attendance, optionally only for one section.
func (s *Service) ClearToday(ctx context.Context, section string) (int64, error) {
	return s.repo.ClearAttendance(ctx, s.Today(), NormalizeSection(section))
}

// ReplaceSection removes a section's students and their attendance.
func (s *Service) ReplaceSection(ctx context.Context, section string) (int64, error) {
	return s.repo.DeleteSection(ctx, NormalizeSection(section))
}
