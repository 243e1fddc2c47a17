package logger

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func newHookedDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "hook.db"))
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	db.AddQueryHook(NewQueryHook(0, false))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestQueryHookIgnoresRollbackAfterCommit(t *testing.T) {
	db := newHookedDB(t)
	buf := captureDefault(t)
	ctx := context.Background()

	commit := func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS t (id INTEGER)"); err != nil {
			return err
		}
		return tx.Commit()
	}
	require.NoError(t, commit())

	assert.NotContains(t, buf.String(), "level=ERROR")
}

func TestQueryHookLogsFailedQuery(t *testing.T) {
	db := newHookedDB(t)
	buf := captureDefault(t)

	_, err := db.ExecContext(context.Background(), "SELECT * FROM missing_table")
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "Query failed")
	assert.Contains(t, out, "missing_table")
}

func TestQueryHookSkipsNoRows(t *testing.T) {
	db := newHookedDB(t)
	buf := captureDefault(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS empty_rows (id INTEGER)")
	require.NoError(t, err)

	var id int64
	err = db.NewSelect().Table("empty_rows").Column("id").Limit(1).Scan(ctx, &id)
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NotContains(t, buf.String(), "level=ERROR")
}
