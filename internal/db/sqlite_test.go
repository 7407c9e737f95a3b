package db

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN_Write(t *testing.T) {
	dsn := buildDSN("/tmp/test.sqlite", "write")

	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_busy_timeout=5000")
	assert.Contains(t, dsn, "_synchronous=NORMAL")
	assert.Contains(t, dsn, "_foreign_keys=on")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.True(t, strings.HasPrefix(dsn, "/tmp/test.sqlite?"))
}

func TestBuildDSN_Read(t *testing.T) {
	dsn := buildDSN("/tmp/test.sqlite", "read")

	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.NotContains(t, dsn, "_txlock")
}

func TestOpen_InvalidMode(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "test.db"), "invalid", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid SQLite mode")
}

func TestOpenPair_PoolSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	writeDB, readDB, err := OpenPair(path, 4)
	require.NoError(t, err)
	t.Cleanup(func() {
		writeDB.Close()
		readDB.Close()
	})

	assert.Equal(t, 1, writeDB.Stats().MaxOpenConnections)
	assert.Equal(t, 4, readDB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, writeDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", strings.ToLower(journalMode))
}

func TestOpenPair_WriteThenRead(t *testing.T) {
	writeDB, readDB := OpenTestStore(t)

	_, err := writeDB.Exec(
		"INSERT INTO cached_records (kind, id, origin, payload, updated_at) VALUES ('risk', 'r-1', 'local-optimistic', NULL, CURRENT_TIMESTAMP)")
	require.NoError(t, err)

	var origin string
	err = readDB.QueryRow("SELECT origin FROM cached_records WHERE kind='risk' AND id='r-1'").Scan(&origin)
	require.NoError(t, err)
	assert.Equal(t, "local-optimistic", origin)
}

// Concurrent readers must not block each other, and the busy timeout must
// absorb writer contention without surfacing SQLITE_BUSY.
func TestOpenPair_ConcurrentAccess(t *testing.T) {
	writeDB, readDB := OpenTestStore(t)

	var wg sync.WaitGroup
	writeErrs := make([]error, 10)
	readErrs := make([]error, 10)

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(idx int) {
			defer wg.Done()
			_, writeErrs[idx] = writeDB.Exec(
				"INSERT INTO cached_records (kind, id, origin, payload, updated_at) VALUES ('audit', ?, 'server-confirmed', NULL, CURRENT_TIMESTAMP)",
				"a-"+string(rune('0'+idx)))
		}(i)
		go func(idx int) {
			defer wg.Done()
			var n int
			readErrs[idx] = readDB.QueryRow("SELECT count(*) FROM cached_records").Scan(&n)
		}(i)
	}
	wg.Wait()

	for i := range writeErrs {
		assert.NoError(t, writeErrs[i], "writer %d failed", i)
		assert.NoError(t, readErrs[i], "reader %d failed", i)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	writeDB, _ := OpenTestStore(t)
	// OpenTestStore already migrated; a second run must be a no-op.
	require.NoError(t, RunMigrations(writeDB))
}
