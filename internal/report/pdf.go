// Package report writes session PDFs and spreadsheet exports into the reports directory.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-pdf/fpdf"

	"tapattend/internal/attendance"
)

// Row is one student line of a session report.
type Row struct {
	UID          string `json:"uid"`
	Name         string `json:"name"`
	EnrollmentNo string `json:"enrollment_no"`
	RollNo       string `json:"roll_no"`
	Time         string `json:"time,omitempty"`
}

// Session is the content of a closing session report.
type Session struct {
	Section string    `json:"section"`
	Subject string    `json:"subject"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Present []Row     `json:"present"`
	Absent  []Row     `json:"absent"`
}

// Total is the number of students on the report.
func (s Session) Total() int { return len(s.Present) + len(s.Absent) }

// Rate is the present percentage, 0 for an empty report.
func (s Session) Rate() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(len(s.Present)) * 100 / float64(s.Total())
}

// BuildSession splits the roster into present and absent using the day's entries.
// Present students missing from the roster are still listed.
func BuildSession(section, subject string, start, end time.Time, students []attendance.Student, entries []attendance.Entry) Session {
	s := Session{Section: section, Subject: subject, Start: start, End: end, Present: []Row{}, Absent: []Row{}}

	byUID := make(map[string]attendance.Entry, len(entries))
	for _, e := range entries {
		byUID[e.UID] = e
	}
	listed := make(map[string]struct{}, len(students))
	for _, st := range students {
		listed[st.UID] = struct{}{}
		row := Row{UID: st.UID, Name: st.Name, EnrollmentNo: st.EnrollmentNo, RollNo: st.RollNo}
		if e, ok := byUID[st.UID]; ok && st.UID != "" {
			row.Time = e.Time
			s.Present = append(s.Present, row)
			continue
		}
		s.Absent = append(s.Absent, row)
	}
	for _, e := range entries {
		if _, ok := listed[e.UID]; ok {
			continue
		}
		s.Present = append(s.Present, Row{UID: e.UID, Name: e.Name, EnrollmentNo: e.EnrollmentNo, RollNo: e.RollNo, Time: e.Time})
	}
	sort.SliceStable(s.Present, func(i, j int) bool { return s.Present[i].Time < s.Present[j].Time })
	return s
}

// SessionFilename names the PDF of a session that ended at end.
func SessionFilename(section string, end time.Time) string {
	if section == "" {
		section = "ALL"
	}
	return fmt.Sprintf("session_%s_%s.pdf", section, end.Format("20060102_150405"))
}

type rgb struct{ r, g, b int }

var (
	blue      = rgb{0, 102, 204}
	red       = rgb{204, 0, 0}
	lightBlue = rgb{240, 240, 240}
	lightRed  = rgb{255, 230, 230}
)

// WriteSessionPDF renders s to path.
func WriteSessionPDF(path string, s Session) error {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetMargins(12.7, 12.7, 12.7)
	pdf.SetAutoPageBreak(true, 12.7)
	pdf.SetTitle("Session report", true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 20)
	pdf.SetTextColor(blue.r, blue.g, blue.b)
	pdf.CellFormat(0, 12, "NFC ATTENDANCE - SESSION REPORT", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetTextColor(0, 0, 0)
	line := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(40, 6, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 6, tr(value), "", 1, "L", false, 0, "")
	}
	orNA := func(v string) string {
		if v == "" {
			return "N/A"
		}
		return v
	}
	line("Section:", orNA(s.Section))
	line("Subject:", orNA(s.Subject))
	if !s.Start.IsZero() {
		line("Start Time:", s.Start.Format("2006-01-02 15:04:05"))
	}
	line("End Time:", s.End.Format("2006-01-02 15:04:05"))
	pdf.Ln(3)

	rate := s.Rate()
	line("Total Students:", fmt.Sprintf("%d", s.Total()))
	line("Present:", fmt.Sprintf("%d (%.1f%%)", len(s.Present), rate))
	line("Absent:", fmt.Sprintf("%d (%.1f%%)", len(s.Absent), 100-rate))
	pdf.Ln(5)

	table(pdf, tr, "PRESENT STUDENTS", s.Present, blue, lightBlue, "No students present", true)
	pdf.Ln(6)
	table(pdf, tr, "ABSENT STUDENTS", s.Absent, red, lightRed, "All students present", false)

	return pdf.OutputFileAndClose(path)
}

func table(pdf *fpdf.Fpdf, tr func(string) string, title string, rows []Row, head, stripe rgb, empty string, withTime bool) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")

	if len(rows) == 0 {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.CellFormat(0, 6, empty, "", 1, "L", false, 0, "")
		return
	}

	headers := []string{"#", "Name", "Enrollment No", "Roll No"}
	widths := []float64{12, 70, 40, 22}
	if withTime {
		headers = append(headers, "Time")
		widths = append(widths, 25)
	}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(head.r, head.g, head.b)
	pdf.SetTextColor(255, 255, 255)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 8, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(0, 0, 0)
	for n, r := range rows {
		if n%2 == 1 {
			pdf.SetFillColor(stripe.r, stripe.g, stripe.b)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		cells := []string{fmt.Sprintf("%d", n+1), tr(r.Name), tr(r.EnrollmentNo), tr(r.RollNo)}
		if withTime {
			cells = append(cells, r.Time)
		}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 7, c, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
}
