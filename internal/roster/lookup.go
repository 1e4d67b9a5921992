// Package roster resolves card UIDs to students using the primary store and the
// per-section spreadsheet listings.
package roster

import (
	"context"
	"fmt"

	"tapattend/internal/attendance"
)

// Outcome classifies a lookup.
type Outcome int

const (
	NotFound Outcome = iota
	Found
	WrongSection
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case WrongSection:
		return "wrong-section"
	default:
		return "not-found"
	}
}

// Match is the result of Find. Enrolled is set when the student was copied from a
// section listing into the primary store by this lookup.
type Match struct {
	Outcome  Outcome
	Student  attendance.Student
	Enrolled bool
}

// Store is the primary student store.
type Store interface {
	FindByUID(ctx context.Context, uid string) (*attendance.Student, error)
	AddStudent(ctx context.Context, st attendance.Student) (bool, error)
}

// Source is a secondary, per-section listing of students.
type Source interface {
	// Find looks uid up in one section's listing.
	Find(section, uid string) (attendance.Student, bool, error)
	// FindAny looks uid up in every listing.
	FindAny(uid string) (attendance.Student, bool, error)
}

// Lookup implements the primary-then-secondary search with implicit enrollment.
type Lookup struct {
	store  Store
	source Source
}

// NewLookup creates a lookup. source may be nil.
func NewLookup(store Store, source Source) *Lookup {
	return &Lookup{store: store, source: source}
}

// Find resolves uid for a session filtered by section (empty for no filter).
func (l *Lookup) Find(ctx context.Context, uid, section string) (Match, error) {
	uid = attendance.NormalizeUID(uid)
	section = attendance.NormalizeSection(section)

	st, err := l.store.FindByUID(ctx, uid)
	if err != nil {
		return Match{}, fmt.Errorf("find student: %w", err)
	}
	if st != nil {
		if section != "" && !attendance.SameSection(st.Section, section) {
			return Match{Outcome: WrongSection, Student: *st}, nil
		}
		return Match{Outcome: Found, Student: *st}, nil
	}

	if section == "" || l.source == nil {
		return Match{Outcome: NotFound}, nil
	}

	listed, ok, err := l.source.Find(section, uid)
	if err != nil {
		return Match{}, fmt.Errorf("read section %s: %w", section, err)
	}
	if ok {
		if !attendance.SameSection(listed.Section, section) {
			return Match{Outcome: WrongSection, Student: listed}, nil
		}
		return l.enroll(ctx, listed, section)
	}

	other, ok, err := l.source.FindAny(uid)
	if err != nil {
		return Match{}, fmt.Errorf("search sections: %w", err)
	}
	if ok && !attendance.SameSection(other.Section, section) {
		return Match{Outcome: WrongSection, Student: other}, nil
	}
	return Match{Outcome: NotFound}, nil
}

func (l *Lookup) enroll(ctx context.Context, st attendance.Student, section string) (Match, error) {
	added, err := l.store.AddStudent(ctx, st)
	if err != nil {
		return Match{}, fmt.Errorf("enroll %s: %w", st.UID, err)
	}
	if added {
		st.Section = attendance.NormalizeSection(st.Section)
		return Match{Outcome: Found, Student: st, Enrolled: true}, nil
	}
	// someone else enrolled it first; use their row
	existing, err := l.store.FindByUID(ctx, st.UID)
	if err != nil {
		return Match{}, fmt.Errorf("find student: %w", err)
	}
	if existing == nil {
		return Match{}, fmt.Errorf("enroll %s: student vanished after insert conflict", st.UID)
	}
	if !attendance.SameSection(existing.Section, section) {
		return Match{Outcome: WrongSection, Student: *existing}, nil
	}
	return Match{Outcome: Found, Student: *existing}, nil
}
