package stores

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hay-kot/nudge/internal/data/db"
)

// IsBusyError returns true if the error is a SQLITE_BUSY or SQLITE_LOCKED error.
func IsBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xff // strip extended result code
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

// IsCorruptionError returns true if the error indicates database corruption.
func IsCorruptionError(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xff
		return code == sqlite3.SQLITE_CORRUPT || code == sqlite3.SQLITE_NOTADB
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database disk image is malformed") ||
		strings.Contains(errStr, "file is not a database")
}

// IsNotFoundError returns true if the error is a "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// RecoverFromCorruption moves a corrupted database and its WAL/SHM companions
// aside as nudge.db.corrupt.<timestamp>* so the next Open starts fresh.
// Missing files are not an error.
func RecoverFromCorruption(dataDir string) error {
	dbPath := filepath.Join(dataDir, db.FileName)
	backupPath := filepath.Join(dataDir,
		fmt.Sprintf("%s.corrupt.%s", db.FileName, time.Now().Format("20060102-150405")))

	// WAL and SHM files must move with the database, otherwise SQLite pairs
	// the orphaned WAL with the fresh file.
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := moveAside(dbPath+suffix, backupPath+suffix); err != nil {
			return err
		}
	}

	return nil
}

func moveAside(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || os.IsNotExist(err) {
		return nil
	}

	if delErr := os.Remove(src); delErr != nil && !os.IsNotExist(delErr) {
		return fmt.Errorf("failed to back up or remove %s: %w", filepath.Base(src), err)
	}
	return nil
}
