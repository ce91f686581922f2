package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, profile Profile) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), profile)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	db, err := Open(path, ProfileStandard)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, ProfileStandard, db.Profile())
	require.NoError(t, db.Conn().Ping())
}

func TestOpen_EmptyProfileDefaultsToStandard(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), "")
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, ProfileStandard, db.Profile())
}

func TestOpen_FileURIPassesThrough(t *testing.T) {
	db, err := Open("file:dbtest?mode=memory&cache=shared", ProfileStandard)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Conn().Ping())
}

func TestLedgerProfilePragmas(t *testing.T) {
	db := openTestDB(t, ProfileLedger)

	var synchronous int
	require.NoError(t, db.Conn().QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 2, synchronous) // FULL

	var autoVacuum int
	require.NoError(t, db.Conn().QueryRow("PRAGMA auto_vacuum").Scan(&autoVacuum))
	assert.Equal(t, 0, autoVacuum) // NONE
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t, ProfileStandard)
	require.NoError(t, db.HealthCheck(context.Background()))
}

func TestWALCheckpoint(t *testing.T) {
	db := openTestDB(t, ProfileLedger)
	_, err := db.Conn().Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.Conn().Exec(`INSERT INTO t DEFAULT VALUES`)
	require.NoError(t, err)
	require.NoError(t, db.WALCheckpoint(""))
}

func TestWithTransaction_Commit(t *testing.T) {
	db := openTestDB(t, ProfileStandard)
	_, err := db.Conn().Exec(`CREATE TABLE t (n INTEGER)`)
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO t (n) VALUES (1)`)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	db := openTestDB(t, ProfileStandard)
	_, err := db.Conn().Exec(`CREATE TABLE t (n INTEGER)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (n) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTransaction_RecoversPanic(t *testing.T) {
	db := openTestDB(t, ProfileStandard)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("unexpected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
}
