package roster

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"tapattend/internal/attendance"
)

// ErrSectionNotFound is returned when a section has no listing file.
var ErrSectionNotFound = errors.New("section file not found")

// Header is the column layout of a section listing.
var Header = []string{"Name", "Enrollment No", "Roll No", "Subject", "Section", "UID"}

// DemoSections are the sections created by templates and seeding.
var DemoSections = []string{"A2", "B2", "C2", "D2"}

// Directory reads and writes section listings stored as <dir>/<SECTION>.xlsx.
// Parsed listings are cached and re-read only when the file modification time changes.
type Directory struct {
	dir string

	mu    sync.Mutex
	cache map[string]*listing
}

type listing struct {
	modTime  time.Time
	students []attendance.Student
	byUID    map[string]attendance.Student
}

// NewDirectory creates a directory-backed roster source.
func NewDirectory(dir string) *Directory {
	return &Directory{dir: dir, cache: make(map[string]*listing)}
}

// Dir returns the directory holding the listings.
func (d *Directory) Dir() string { return d.dir }

func (d *Directory) path(section string) string {
	return filepath.Join(d.dir, attendance.NormalizeSection(section)+".xlsx")
}

// Sections lists the sections that have a listing file, sorted.
func (d *Directory) Sections() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, err
	}
	sections := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".xlsx") || strings.HasPrefix(name, "~$") {
			continue
		}
		sections = append(sections, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(sections)
	return sections, nil
}

// Read returns the students listed for section, in file order.
func (d *Directory) Read(section string) ([]attendance.Student, error) {
	l, err := d.load(section)
	if err != nil {
		return nil, err
	}
	out := make([]attendance.Student, len(l.students))
	copy(out, l.students)
	return out, nil
}

// Find implements Source.
func (d *Directory) Find(section, uid string) (attendance.Student, bool, error) {
	l, err := d.load(section)
	if err != nil {
		if errors.Is(err, ErrSectionNotFound) {
			return attendance.Student{}, false, nil
		}
		return attendance.Student{}, false, err
	}
	st, ok := l.byUID[attendance.NormalizeUID(uid)]
	return st, ok, nil
}

// FindAny implements Source. Unreadable files are skipped.
func (d *Directory) FindAny(uid string) (attendance.Student, bool, error) {
	sections, err := d.Sections()
	if err != nil {
		return attendance.Student{}, false, err
	}
	for _, sec := range sections {
		st, ok, err := d.Find(sec, uid)
		if err != nil {
			log.WithError(err).WithField("section", sec).Warn("skipping unreadable section file")
			continue
		}
		if ok {
			return st, true, nil
		}
	}
	return attendance.Student{}, false, nil
}

func (d *Directory) load(section string) (*listing, error) {
	section = attendance.NormalizeSection(section)
	path := d.path(section)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, path)
		}
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.cache[section]; ok && l.modTime.Equal(info.ModTime()) {
		return l, nil
	}

	students, err := readListing(path, section)
	if err != nil {
		return nil, err
	}
	l := &listing{modTime: info.ModTime(), students: students, byUID: make(map[string]attendance.Student, len(students))}
	for _, st := range students {
		if st.UID != "" {
			l.byUID[st.UID] = st
		}
	}
	d.cache[section] = l
	return l, nil
}

// readListing parses the sheet named after the section, or the first sheet.
// Column names are matched case-insensitively; rows without a name are skipped.
func readListing(path, section string) ([]attendance.Student, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheet := ""
	for _, name := range f.GetSheetList() {
		if strings.EqualFold(name, section) {
			sheet = name
			break
		}
	}
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return []attendance.Student{}, nil
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	cell := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	students := []attendance.Student{}
	for _, row := range rows[1:] {
		name := cell(row, "name")
		if name == "" {
			continue
		}
		sec := cell(row, "section")
		if sec == "" {
			sec = section
		}
		students = append(students, attendance.Student{
			Name:         name,
			EnrollmentNo: cell(row, "enrollment no"),
			RollNo:       cell(row, "roll no"),
			Subject:      cell(row, "subject"),
			Section:      attendance.NormalizeSection(sec),
			UID:          attendance.NormalizeUID(cell(row, "uid")),
		})
	}
	return students, nil
}

// Write replaces the listing of section with students.
func (d *Directory) Write(section string, students []attendance.Student) error {
	section = attendance.NormalizeSection(section)
	if section == "" {
		return errors.New("section required")
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), section); err != nil {
		return err
	}
	header := make([]interface{}, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(section, "A1", &header); err != nil {
		return err
	}
	for i, st := range students {
		cellName, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{st.Name, st.EnrollmentNo, st.RollNo, st.Subject, st.Section, st.UID}
		if err := f.SetSheetRow(section, cellName, &row); err != nil {
			return err
		}
	}
	if err := f.SaveAs(d.path(section)); err != nil {
		return fmt.Errorf("save section %s: %w", section, err)
	}
	d.mu.Lock()
	delete(d.cache, section)
	d.mu.Unlock()
	return nil
}

// WriteTemplates creates empty listings for sections that have no file yet.
// It returns the sections it created.
func (d *Directory) WriteTemplates(sections ...string) ([]string, error) {
	if len(sections) == 0 {
		sections = DemoSections
	}
	created := []string{}
	for _, sec := range sections {
		if _, err := os.Stat(d.path(sec)); err == nil {
			continue
		}
		if err := d.Write(sec, nil); err != nil {
			return created, err
		}
		created = append(created, attendance.NormalizeSection(sec))
	}
	return created, nil
}

var (
	firstNames = []string{
		"Aarav", "Vivaan", "Aditya", "Arjun", "Vihaan", "Reyansh", "Muhammad", "Sai", "Arnav", "Atharv",
		"Ishaan", "Kabir", "Krishna", "Rudra", "Rohan", "Yash", "Kartik", "Dev", "Parth", "Veer",
	}
	lastNames = []string{
		"Sharma", "Verma", "Gupta", "Bhardwaj", "Singh", "Kumar", "Mehta", "Patel", "Agarwal", "Joshi",
		"Reddy", "Nair", "Bose", "Chopra", "Kapoor", "Malhotra", "Pandey", "Rajput", "Nath", "Ghosh",
	}
)

// SeedStudentsPerSection is the size of each seeded demo section.
const SeedStudentsPerSection = 12

// Seed overwrites the demo sections with generated students. D2 always lists
// Aditya Bhardwaj with card 2297951A first. UIDs are unique across all seeded sections.
func (d *Directory) Seed(r *rand.Rand) error {
	if r == nil {
		r = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	used := map[string]struct{}{"2297951A": {}}
	randUID := func() string {
		for {
			uid := fmt.Sprintf("%08X", r.Uint32())
			if _, ok := used[uid]; !ok {
				used[uid] = struct{}{}
				return uid
			}
		}
	}

	for _, sec := range DemoSections {
		students := make([]attendance.Student, 0, SeedStudentsPerSection)
		for i := 0; i < SeedStudentsPerSection; i++ {
			students = append(students, attendance.Student{
				Name:         firstNames[r.IntN(len(firstNames))] + " " + lastNames[r.IntN(len(lastNames))],
				EnrollmentNo: fmt.Sprintf("%s%03d", sec, 100+i),
				RollNo:       fmt.Sprintf("%d", i+1),
				Subject:      "General",
				Section:      sec,
				UID:          randUID(),
			})
		}
		if sec == "D2" {
			students[0] = attendance.Student{
				Name:         "Aditya Bhardwaj",
				EnrollmentNo: sec + "900",
				RollNo:       "1",
				Subject:      "Major",
				Section:      sec,
				UID:          "2297951A",
			}
		}
		if err := d.Write(sec, students); err != nil {
			return err
		}
	}
	return nil
}
