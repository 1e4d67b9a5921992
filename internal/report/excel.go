package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"tapattend/internal/attendance"
)

func writeSheet(path, sheet string, header []interface{}, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		last, _ := excelize.CoordinatesToCellName(len(header), 1)
		_ = f.SetCellStyle(sheet, "A1", last, style)
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// WriteStudentsXLSX exports students to path.
func WriteStudentsXLSX(path string, students []attendance.Student) error {
	header := []interface{}{"Name", "Enrollment No", "Roll No", "Section", "Subject", "NFC UID", "Registered"}
	rows := make([][]interface{}, 0, len(students))
	for _, s := range students {
		registered := ""
		if !s.CreatedAt.IsZero() {
			registered = s.CreatedAt.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []interface{}{s.Name, s.EnrollmentNo, s.RollNo, s.Section, s.Subject, s.UID, registered})
	}
	return writeSheet(path, "Students", header, rows)
}

// WriteAttendanceXLSX exports attendance entries to path.
func WriteAttendanceXLSX(path string, entries []attendance.Entry) error {
	header := []interface{}{"Date", "Time", "Name", "Enrollment No", "Roll No", "Section", "Subject", "Student UID"}
	rows := make([][]interface{}, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []interface{}{e.Date, e.Time, e.Name, e.EnrollmentNo, e.RollNo, e.Section, e.Subject, e.UID})
	}
	return writeSheet(path, "Attendance", header, rows)
}
