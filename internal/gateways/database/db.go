package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/gohye/auction-core/internal/logger"
)

const (
	defaultConnTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
	sqliteBusyTimeout    = 5 * time.Second
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type Config struct {
	// StorePath is a SQLite file path or a postgres:// connection string.
	StorePath  string
	SlowQuery  time.Duration
	LogQueries bool
}

type DB struct {
	bunDB   *bun.DB
	dialect Dialect
	path    string
}

// Open connects to the store named by cfg.StorePath. Callers run Migrate
// before handing the DB to a repository.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is empty")
	}

	var (
		db  *DB
		err error
	)
	if isPostgres(cfg.StorePath) {
		db, err = openPostgres(cfg.StorePath)
	} else {
		db, err = openSQLite(cfg.StorePath)
	}
	if err != nil {
		return nil, err
	}
	db.bunDB.AddQueryHook(logger.NewQueryHook(cfg.SlowQuery, cfg.LogQueries))

	for i := 0; i < defaultMaxRetries; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
		err = db.bunDB.PingContext(pingCtx)
		cancel()
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		time.Sleep(defaultRetryInterval)
	}
	if err != nil {
		_ = db.bunDB.Close()
		return nil, fmt.Errorf("store unreachable after %d attempts: %w", defaultMaxRetries, err)
	}

	slog.Info("Store opened",
		slog.String("type", "db"),
		slog.String("dialect", string(db.dialect)),
	)
	return db, nil
}

func isPostgres(path string) bool {
	return strings.HasPrefix(path, "postgres://") || strings.HasPrefix(path, "postgresql://")
}

func openSQLite(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate&_foreign_keys=0",
		path, sqliteBusyTimeout.Milliseconds())
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// One writer; the engine's per-auction locks keep the queue short.
	sqldb.SetMaxOpenConns(1)

	return &DB{
		bunDB:   bun.NewDB(sqldb, sqlitedialect.New()),
		dialect: DialectSQLite,
		path:    path,
	}, nil
}

func openPostgres(dsn string) (*DB, error) {
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Default to disabling SSL unless explicitly overridden by env
	sslMode := os.Getenv("PG_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(connConfig.User, connConfig.Password),
		Host:     net.JoinHostPort(connConfig.Host, strconv.Itoa(int(connConfig.Port))),
		Path:     "/" + connConfig.Database,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(u.String())))
	return &DB{
		bunDB:   bun.NewDB(sqldb, pgdialect.New()),
		dialect: DialectPostgres,
		path:    dsn,
	}, nil
}

func (db *DB) BunDB() *bun.DB {
	return db.bunDB
}

func (db *DB) Dialect() Dialect {
	return db.dialect
}

func (db *DB) Close() error {
	return db.bunDB.Close()
}

// Snapshot writes a consistent copy of a SQLite store to dest.
func (db *DB) Snapshot(ctx context.Context, dest string) error {
	if db.dialect != DialectSQLite {
		return fmt.Errorf("snapshots are only supported for sqlite stores, not %s", db.dialect)
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear snapshot target: %w", err)
	}
	if _, err := db.bunDB.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("failed to snapshot store: %w", Classify(err))
	}
	return nil
}
