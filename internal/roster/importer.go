package roster

import (
	"context"
	"errors"
	"fmt"

	"tapattend/internal/attendance"
)

// Enroller is the part of the primary store an import writes to.
type Enroller interface {
	AddStudent(ctx context.Context, st attendance.Student) (bool, error)
	ReplaceSection(ctx context.Context, section string) (int64, error)
}

// ImportResult counts what an import did.
type ImportResult struct {
	Section string `json:"section"`
	Added   int    `json:"added"`
	Skipped int    `json:"skipped"`
	Removed int64  `json:"removed,omitempty"`
}

// Importer copies section listings into the primary store.
type Importer struct {
	dir   *Directory
	store Enroller
}

// NewImporter creates an importer.
func NewImporter(dir *Directory, store Enroller) *Importer {
	return &Importer{dir: dir, store: store}
}

// Import adds every listed student of section that has a name and a UID.
// Students already in the store are neither added nor counted as skipped.
// With replace, the section's students and their attendance are removed first.
func (im *Importer) Import(ctx context.Context, section string, replace bool) (ImportResult, error) {
	section = attendance.NormalizeSection(section)
	res := ImportResult{Section: section}

	students, err := im.dir.Read(section)
	if err != nil {
		return res, err
	}

	if replace {
		n, err := im.store.ReplaceSection(ctx, section)
		if err != nil {
			return res, fmt.Errorf("replace section %s: %w", section, err)
		}
		res.Removed = n
	}

	for _, st := range students {
		if st.Name == "" || st.UID == "" {
			res.Skipped++
			continue
		}
		added, err := im.store.AddStudent(ctx, st)
		if err != nil {
			return res, fmt.Errorf("import %s: %w", st.UID, err)
		}
		if added {
			res.Added++
		}
	}
	return res, nil
}

// ImportAll imports every section that has a listing. Failures are reported per section.
func (im *Importer) ImportAll(ctx context.Context) ([]ImportResult, error) {
	sections, err := im.dir.Sections()
	if err != nil {
		return nil, err
	}
	var errs []error
	results := make([]ImportResult, 0, len(sections))
	for _, sec := range sections {
		res, err := im.Import(ctx, sec, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sec, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Lister lists stored students of a section.
type Lister interface {
	ListStudents(ctx context.Context, section string) ([]attendance.Student, error)
}

// Roster returns the students of a section from its listing and the primary store,
// deduplicated by UID with the listing taking precedence.
func Roster(ctx context.Context, dir *Directory, svc Lister, section string) ([]attendance.Student, error) {
	listed, err := dir.Read(section)
	if err != nil && !errors.Is(err, ErrSectionNotFound) {
		return nil, err
	}
	seen := make(map[string]struct{}, len(listed))
	out := make([]attendance.Student, 0, len(listed))
	for _, st := range listed {
		if st.UID != "" {
			seen[st.UID] = struct{}{}
		}
		out = append(out, st)
	}
	stored, err := svc.ListStudents(ctx, section)
	if err != nil {
		return nil, err
	}
	for _, st := range stored {
		if _, ok := seen[st.UID]; ok {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}
