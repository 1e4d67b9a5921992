package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "attendance.db")
	db, err := NewDB("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "sqlite3", db.Driver)
	assert.True(t, db.Healthy(context.Background()))
}

func TestSQLiteDSNKeepsQuery(t *testing.T) {
	path, dsn := sqliteDSN("data/attendance.db")
	assert.Equal(t, "data/attendance.db", path)
	assert.Equal(t, "data/attendance.db?"+sqliteParams, dsn)

	path, dsn = sqliteDSN("data/attendance.db?_txlock=immediate")
	assert.Equal(t, "data/attendance.db", path)
	assert.Equal(t, "data/attendance.db?_txlock=immediate&"+sqliteParams, dsn)

	file := filepath.Join(t.TempDir(), "q", "attendance.db")
	db, err := NewDB("sqlite3", file+"?_txlock=immediate")
	require.NoError(t, err)
	defer db.Close()
	assert.True(t, db.Healthy(context.Background()))
	_, err = os.Stat(file)
	assert.NoError(t, err)
}

func TestNewDBUnsupportedDriver(t *testing.T) {
	_, err := NewDB("oracle", "whatever")
	assert.Error(t, err)
}

func TestNilHealth(t *testing.T) {
	var db *DB
	assert.False(t, db.Healthy(context.Background()))
	assert.NoError(t, db.Close())

	var r *Redis
	assert.False(t, r.Healthy(context.Background()))
}
