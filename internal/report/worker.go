package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"tapattend/internal/attendance"
	"tapattend/internal/metrics"
	"tapattend/internal/queue"
)

// Job kinds carried on the queue.
const (
	KindStudents   = "export_students"
	KindAttendance = "export_attendance"
)

// Job asks the worker to write one export file.
type Job struct {
	Filename string `json:"filename"`
	Date     string `json:"date,omitempty"`
	Section  string `json:"section,omitempty"`
}

// StudentsJob names a students export created at now.
func StudentsJob(now time.Time, section string) (queue.Message, Job, error) {
	job := Job{Filename: fmt.Sprintf("students_export_%s.xlsx", now.Format("20060102_150405")), Section: section}
	msg, err := queue.NewMessage(KindStudents, job)
	return msg, job, err
}

// AttendanceJob names an attendance export of date (YYYY-MM-DD).
func AttendanceJob(date, section string) (queue.Message, Job, error) {
	name := "attendance_export_" + strings.ReplaceAll(date, "-", "")
	if section != "" {
		name += "_" + attendance.NormalizeSection(section)
	}
	job := Job{Filename: name + ".xlsx", Date: date, Section: section}
	msg, err := queue.NewMessage(KindAttendance, job)
	return msg, job, err
}

// Source is the data an export reads.
type Source interface {
	ListStudents(ctx context.Context, section string) ([]attendance.Student, error)
	EntriesOn(ctx context.Context, date, section string) ([]attendance.Entry, error)
}

// Archiver copies a finished file elsewhere and returns where it went.
type Archiver interface {
	UploadFile(ctx context.Context, path string) (string, error)
}

// Worker writes export files for queued jobs.
type Worker struct {
	src     Source
	files   *Files
	archive Archiver
	log     *log.Entry
}

// NewWorker creates a worker. archive may be nil.
func NewWorker(src Source, files *Files, archive Archiver) *Worker {
	return &Worker{src: src, files: files, archive: archive, log: log.WithField("component", "report-worker")}
}

// Handle processes one message and returns the written file name.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) (string, error) {
	var job Job
	if err := msg.Decode(&job); err != nil {
		return "", fmt.Errorf("decode %s job: %w", msg.Type, err)
	}
	path, err := w.files.Path(job.Filename)
	if err != nil {
		return "", err
	}

	switch msg.Type {
	case KindStudents:
		students, err := w.src.ListStudents(ctx, job.Section)
		if err != nil {
			return "", fmt.Errorf("list students: %w", err)
		}
		if err := WriteStudentsXLSX(path, students); err != nil {
			return "", err
		}
	case KindAttendance:
		entries, err := w.src.EntriesOn(ctx, job.Date, job.Section)
		if err != nil {
			return "", fmt.Errorf("list attendance: %w", err)
		}
		if err := WriteAttendanceXLSX(path, entries); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown job type %q", msg.Type)
	}

	if w.archive != nil {
		url, err := w.archive.UploadFile(ctx, path)
		if err != nil {
			w.log.WithError(err).WithField("file", job.Filename).Warn("archive upload failed")
		} else {
			w.log.WithFields(log.Fields{"file": job.Filename, "url": url}).Info("report archived")
		}
	}
	return job.Filename, nil
}

// Run consumes jobs from q until ctx is done.
func (w *Worker) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	w.log.Info("report worker started")
	for msg := range messages {
		name, err := w.Handle(ctx, msg)
		if err != nil {
			metrics.ReportJobs.WithLabelValues(msg.Type, "error").Inc()
			w.log.WithError(err).WithField("type", msg.Type).Error("report job failed")
			continue
		}
		metrics.ReportJobs.WithLabelValues(msg.Type, "ok").Inc()
		w.log.WithFields(log.Fields{"type": msg.Type, "file": name}).Info("report written")
	}
	w.log.Info("report worker stopped")
	return nil
}
