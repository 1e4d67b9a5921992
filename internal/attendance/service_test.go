package attendance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapattend/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.NewDB("sqlite3", filepath.Join(t.TempDir(), "attendance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewRepository(db.Client)
	require.NoError(t, repo.Migrate(context.Background()))

	svc := NewService(repo, time.UTC)
	svc.SetClock(func() time.Time { return time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC) })
	return svc
}

func TestAddStudentOnce(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	added, err := svc.AddStudent(ctx, Student{UID: "aabbccdd", Name: "Bob Wilson", Section: "d2"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = svc.AddStudent(ctx, Student{UID: "AABBCCDD", Name: "Someone Else", Section: "A2"})
	require.NoError(t, err)
	assert.False(t, added)

	st, err := svc.FindByUID(ctx, "AABBCCDD")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "Bob Wilson", st.Name)
	assert.Equal(t, "D2", st.Section)
}

func TestAddStudentValidation(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.AddStudent(context.Background(), Student{UID: "", Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidStudent)
}

func TestFindByUIDMissing(t *testing.T) {
	svc := newTestService(t)
	st, err := svc.FindByUID(context.Background(), "00000000")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestLogAttendanceOncePerDay(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.AddStudent(ctx, Student{UID: "AABBCCDD", Name: "Bob", Section: "D2"})
	require.NoError(t, err)

	rec, created, err := svc.LogAttendance(ctx, "aabbccdd")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "2026-03-02", rec.Date)
	assert.Equal(t, "09:15:00", rec.Time)

	_, created, err = svc.LogAttendance(ctx, "AABBCCDD")
	require.NoError(t, err)
	assert.False(t, created)

	entries, err := svc.EntriesOn(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStatsBySection(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	for _, st := range []Student{
		{UID: "11111111", Name: "A", Section: "D2"},
		{UID: "22222222", Name: "B", Section: "D2"},
		{UID: "33333333", Name: "C", Section: "A2"},
	} {
		_, err := svc.AddStudent(ctx, st)
		require.NoError(t, err)
	}
	_, _, err := svc.LogAttendance(ctx, "11111111")
	require.NoError(t, err)
	_, _, err = svc.LogAttendance(ctx, "33333333")
	require.NoError(t, err)

	stats, err := svc.TodayStats(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Present: 1, Absent: 1}, stats)

	all, err := svc.TodayStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Present: 2, Absent: 1}, all)

	present, err := svc.PresentUIDsToday(ctx, "D2")
	require.NoError(t, err)
	assert.Contains(t, present, "11111111")
	assert.NotContains(t, present, "33333333")
}

func TestClearAndReplaceSection(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	_, err := svc.AddStudent(ctx, Student{UID: "11111111", Name: "A", Section: "D2"})
	require.NoError(t, err)
	_, err = svc.AddStudent(ctx, Student{UID: "33333333", Name: "C", Section: "A2"})
	require.NoError(t, err)
	_, _, err = svc.LogAttendance(ctx, "11111111")
	require.NoError(t, err)
	_, _, err = svc.LogAttendance(ctx, "33333333")
	require.NoError(t, err)

	n, err := svc.ClearToday(ctx, "D2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	removed, err := svc.ReplaceSection(ctx, "A2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	students, err := svc.ListStudents(ctx, "")
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "11111111", students[0].UID)

	entries, err := svc.EntriesOn(ctx, "2026-03-02", "")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEntriesOnRejectsBadDate(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.EntriesOn(context.Background(), "02/03/2026", "")
	assert.Error(t, err)
}
