package stores

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/nudge/internal/data/db"
)

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, IsNotFoundError(sql.ErrNoRows))
	assert.True(t, IsNotFoundError(fmt.Errorf("wrapped: %w", sql.ErrNoRows)))
	assert.False(t, IsNotFoundError(errors.New("other")))
}

func TestIsCorruptionError_Messages(t *testing.T) {
	assert.True(t, IsCorruptionError(errors.New("database disk image is malformed")))
	assert.True(t, IsCorruptionError(errors.New("file is not a database")))
	assert.False(t, IsCorruptionError(errors.New("no such table")))
	assert.False(t, IsCorruptionError(nil))
}

func TestRecoverFromCorruption(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, db.FileName)

	for _, suffix := range []string{"", "-wal", "-shm"} {
		require.NoError(t, os.WriteFile(dbPath+suffix, []byte("garbage"), 0o644))
	}

	require.NoError(t, RecoverFromCorruption(dir))

	for _, suffix := range []string{"", "-wal", "-shm"} {
		_, err := os.Stat(dbPath + suffix)
		assert.True(t, os.IsNotExist(err), "%s should be moved aside", db.FileName+suffix)
	}

	backups, err := filepath.Glob(filepath.Join(dir, db.FileName+".corrupt.*"))
	require.NoError(t, err)
	assert.Len(t, backups, 3)

	// A fresh database opens cleanly afterwards.
	database, err := db.Open(dir, db.DefaultOpenOptions())
	require.NoError(t, err)
	require.NoError(t, database.Close())
}

func TestRecoverFromCorruption_NothingToMove(t *testing.T) {
	assert.NoError(t, RecoverFromCorruption(t.TempDir()))
}
