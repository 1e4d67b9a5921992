package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository persists students and attendance in Postgres or SQLite.
// Placeholders are numbered in order of first use so both drivers bind them identically.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		uid           TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		enrollment_no TEXT NOT NULL DEFAULT '',
		roll_no       TEXT NOT NULL DEFAULT '',
		section       TEXT NOT NULL DEFAULT '',
		subject       TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_students_section ON students(section)`,
	`CREATE TABLE IF NOT EXISTS attendance (
		id          TEXT PRIMARY KEY,
		student_uid TEXT NOT NULL,
		date        TEXT NOT NULL,
		time        TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL,
		UNIQUE (student_uid, date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date)`,
}

// Migrate creates the tables when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const studentColumns = `uid, name, enrollment_no, roll_no, section, subject, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (Student, error) {
	var s Student
	err := row.Scan(&s.UID, &s.Name, &s.EnrollmentNo, &s.RollNo, &s.Section, &s.Subject, &s.CreatedAt)
	return s, err
}

// FindStudent returns the student holding uid, or nil when none does.
func (r *Repository) FindStudent(ctx context.Context, uid string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE uid = $1`, uid)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// InsertStudent adds a student unless the uid is taken. It reports whether a row was written.
func (r *Repository) InsertStudent(ctx context.Context, s Student) (bool, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO students (uid, name, enrollment_no, roll_no, section, subject, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uid) DO NOTHING
	`, s.UID, s.Name, s.EnrollmentNo, s.RollNo, s.Section, s.Subject, s.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListStudents returns students ordered by name, optionally limited to one section.
func (r *Repository) ListStudents(ctx context.Context, section string) ([]Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students`
	args := []any{}
	if section != "" {
		query += ` WHERE section = $1`
		args = append(args, section)
	}
	query += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountStudents counts students, optionally in one section.
func (r *Repository) CountStudents(ctx context.Context, section string) (int, error) {
	var n int
	var err error
	if section == "" {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`).Scan(&n)
	} else {
		err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students WHERE section = $1`, section).Scan(&n)
	}
	return n, err
}

// DeleteSection removes a section's students and their attendance.
func (r *Repository) DeleteSection(ctx context.Context, section string) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM attendance
		WHERE student_uid IN (SELECT uid FROM students WHERE section = $1)
	`, section); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM students WHERE section = $1`, section)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// HasAttendance reports whether uid already has a record on date.
func (r *Repository) HasAttendance(ctx context.Context, uid, date string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attendance WHERE student_uid = $1 AND date = $2
	`, uid, date).Scan(&n)
	return n > 0, err
}

// InsertAttendance writes a record. A second record for the same uid and date is ignored
// and reported as not written.
func (r *Repository) InsertAttendance(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance (id, student_uid, date, time, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_uid, date) DO NOTHING
	`, rec.ID, rec.UID, rec.Date, rec.Time, rec.CreatedAt)
	if err != nil {
		return Record{}, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, false, err
	}
	return rec, n == 1, nil
}

// PresentUIDs returns distinct uids with a record on date, optionally for one section.
func (r *Repository) PresentUIDs(ctx context.Context, date, section string) ([]string, error) {
	query := `SELECT DISTINCT a.student_uid FROM attendance a`
	args := []any{date}
	if section != "" {
		query += ` JOIN students s ON s.uid = a.student_uid WHERE a.date = $1 AND s.section = $2`
		args = append(args, section)
	} else {
		query += ` WHERE a.date = $1`
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// Entries returns the day's records joined with student data, newest first.
// An empty section means all sections; limit <= 0 means no limit.
func (r *Repository) Entries(ctx context.Context, date, section string, limit int) ([]Entry, error) {
	clauses := []string{"a.date = $1"}
	args := []any{date}
	if section != "" {
		clauses = append(clauses, fmt.Sprintf("s.section = $%d", len(args)+1))
		args = append(args, section)
	}
	query := `
		SELECT a.student_uid, s.name, s.enrollment_no, s.roll_no, s.section, s.subject, a.date, a.time
		FROM attendance a
		JOIN students s ON s.uid = a.student_uid
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY a.created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UID, &e.Name, &e.EnrollmentNo, &e.RollNo, &e.Section, &e.Subject, &e.Date, &e.Time); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ClearAttendance deletes the records of date, optionally only for one section.
func (r *Repository) ClearAttendance(ctx context.Context, date, section string) (int64, error) {
	var res sql.Result
	var err error
	if section == "" {
		res, err = r.db.ExecContext(ctx, `DELETE FROM attendance WHERE date = $1`, date)
	} else {
		res, err = r.db.ExecContext(ctx, `
			DELETE FROM attendance
			WHERE date = $1 AND student_uid IN (SELECT uid FROM students WHERE section = $2)
		`, date, section)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
