package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/uptrace/bun"
)

const schemaVersionKey = "schema_version"

type migration struct {
	version int
	name    string
	up      func(ctx context.Context, tx bun.Tx, d Dialect) error
}

// Migrations run in order; each one is idempotent so a store that already
// has its change (for example a hand-patched legacy database) passes through.
var migrations = []migration{
	{1, "create auctions and bids", createBaseTables},
	{2, "add tenant_id", addTenantColumns},
	{3, "widen money columns to decimal", widenMoneyColumns},
	{4, "add currency", addCurrencyColumn},
	{5, "add bid_count", addBidCount},
	{6, "create indexes", createIndexes},
}

// LatestVersion is the schema version Migrate leaves behind.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

// Migrate brings the store up to LatestVersion. Each step commits together
// with its version marker.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.bunDB.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}

	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > LatestVersion() {
		return fmt.Errorf("store schema version %d is newer than supported version %d", current, LatestVersion())
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return err
		}
		slog.Info("Schema migrated",
			slog.String("type", "db"),
			slog.Int("version", m.version),
			slog.String("migration", m.name),
		)
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.bunDB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to start migration %d: %w", m.version, err)
	}
	defer tx.Rollback()

	if err := m.up(ctx, tx, db.dialect); err != nil {
		return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		schemaVersionKey, strconv.Itoa(m.version),
	); err != nil {
		return fmt.Errorf("failed to record schema version %d: %w", m.version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
	}
	return nil
}

// SchemaVersion reads the version marker; a store without one is at 0.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var value string
	err := db.bunDB.NewRaw(`SELECT value FROM meta WHERE key = ?`, schemaVersionKey).Scan(ctx, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("corrupt schema version %q: %w", value, err)
	}
	return v, nil
}

func createBaseTables(ctx context.Context, tx bun.Tx, d Dialect) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS auctions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_name TEXT NOT NULL,
			starting_price INTEGER NOT NULL,
			"increment" INTEGER NOT NULL,
			duration_hours INTEGER NOT NULL,
			creator_id INTEGER NOT NULL,
			creator_name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			end_time TIMESTAMP NOT NULL,
			current_price INTEGER NOT NULL,
			current_bidder_id INTEGER,
			current_bidder_name TEXT,
			is_active BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS bids (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			auction_id INTEGER NOT NULL REFERENCES auctions (id),
			bidder_id INTEGER NOT NULL,
			bidder_name TEXT NOT NULL,
			amount INTEGER NOT NULL,
			"timestamp" TIMESTAMP NOT NULL
		)`,
	}
	if d == DialectPostgres {
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS auctions (
				id BIGSERIAL PRIMARY KEY,
				item_name TEXT NOT NULL,
				starting_price BIGINT NOT NULL,
				"increment" BIGINT NOT NULL,
				duration_hours INTEGER NOT NULL,
				creator_id BIGINT NOT NULL,
				creator_name TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				end_time TIMESTAMPTZ NOT NULL,
				current_price BIGINT NOT NULL,
				current_bidder_id BIGINT,
				current_bidder_name TEXT,
				is_active BOOLEAN NOT NULL DEFAULT TRUE
			)`,
			`CREATE TABLE IF NOT EXISTS bids (
				id BIGSERIAL PRIMARY KEY,
				auction_id BIGINT NOT NULL REFERENCES auctions (id),
				bidder_id BIGINT NOT NULL,
				bidder_name TEXT NOT NULL,
				amount BIGINT NOT NULL,
				"timestamp" TIMESTAMPTZ NOT NULL
			)`,
		}
	}
	return execAll(ctx, tx, stmts)
}

func addTenantColumns(ctx context.Context, tx bun.Tx, d Dialect) error {
	intType := "INTEGER"
	if d == DialectPostgres {
		intType = "BIGINT"
	}
	for _, table := range []string{"auctions", "bids"} {
		if err := addColumnIfMissing(ctx, tx, d, table, "tenant_id", intType+" NOT NULL DEFAULT 0"); err != nil {
			return err
		}
	}
	return nil
}

var moneyColumns = map[string][]string{
	"auctions": {"starting_price", "increment", "current_price"},
	"bids":     {"amount"},
}

func widenMoneyColumns(ctx context.Context, tx bun.Tx, d Dialect) error {
	if d == DialectPostgres {
		for _, table := range []string{"auctions", "bids"} {
			cols, err := columns(ctx, tx, d, table)
			if err != nil {
				return err
			}
			for _, col := range moneyColumns[table] {
				if strings.Contains(cols[col], "NUMERIC") {
					continue
				}
				if _, err := tx.ExecContext(ctx, fmt.Sprintf(
					`ALTER TABLE %s ALTER COLUMN "%s" TYPE NUMERIC USING "%s"::numeric`, table, col, col,
				)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	// SQLite cannot change a column type in place, so the tables are rebuilt.
	// This relies on foreign key enforcement being off for the connection.
	cols, err := columns(ctx, tx, d, "auctions")
	if err != nil {
		return err
	}
	if strings.Contains(cols["starting_price"], "DECIMAL") {
		return nil
	}

	if err := rebuildTable(ctx, tx, "auctions", []columnDef{
		{"id", "INTEGER PRIMARY KEY AUTOINCREMENT"},
		{"tenant_id", "INTEGER NOT NULL DEFAULT 0"},
		{"item_name", "TEXT NOT NULL"},
		{"currency", "TEXT NOT NULL DEFAULT 'primary'"},
		{"starting_price", "DECIMAL NOT NULL"},
		{"increment", "DECIMAL NOT NULL"},
		{"duration_hours", "INTEGER NOT NULL"},
		{"creator_id", "INTEGER NOT NULL"},
		{"creator_name", "TEXT NOT NULL"},
		{"created_at", "TIMESTAMP NOT NULL"},
		{"end_time", "TIMESTAMP NOT NULL"},
		{"current_price", "DECIMAL NOT NULL"},
		{"current_bidder_id", "INTEGER"},
		{"current_bidder_name", "TEXT"},
		{"is_active", "BOOLEAN NOT NULL DEFAULT 1"},
		{"bid_count", "INTEGER NOT NULL DEFAULT 0"},
	}); err != nil {
		return err
	}
	return rebuildTable(ctx, tx, "bids", []columnDef{
		{"id", "INTEGER PRIMARY KEY AUTOINCREMENT"},
		{"auction_id", "INTEGER NOT NULL REFERENCES auctions (id)"},
		{"tenant_id", "INTEGER NOT NULL DEFAULT 0"},
		{"bidder_id", "INTEGER NOT NULL"},
		{"bidder_name", "TEXT NOT NULL"},
		{"amount", "DECIMAL NOT NULL"},
		{"timestamp", "TIMESTAMP NOT NULL"},
	})
}

type columnDef struct {
	name       string
	definition string
}

// rebuildTable recreates a SQLite table with defs. Columns of the old table
// that defs does not name are kept with their old declared type, and money
// columns are cast to NUMERIC on the way over.
func rebuildTable(ctx context.Context, tx bun.Tx, table string, defs []columnDef) error {
	rows, err := tx.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	var old []columnDef
	for rows.Next() {
		var c columnDef
		if err := rows.Scan(&c.name, &c.definition); err != nil {
			rows.Close()
			return err
		}
		old = append(old, c)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	declared := make(map[string]bool, len(defs))
	parts := make([]string, 0, len(defs)+len(old))
	for _, c := range defs {
		declared[c.name] = true
		parts = append(parts, fmt.Sprintf(`"%s" %s`, c.name, c.definition))
	}

	money := make(map[string]bool)
	for _, col := range moneyColumns[table] {
		money[col] = true
	}
	targets := make([]string, 0, len(old))
	sources := make([]string, 0, len(old))
	for _, c := range old {
		if !declared[c.name] {
			parts = append(parts, fmt.Sprintf(`"%s" %s`, c.name, c.definition))
		}
		targets = append(targets, fmt.Sprintf(`"%s"`, c.name))
		if money[c.name] {
			sources = append(sources, fmt.Sprintf(`CAST("%s" AS NUMERIC)`, c.name))
		} else {
			sources = append(sources, fmt.Sprintf(`"%s"`, c.name))
		}
	}

	rebuilt := table + "_rebuilt"
	return execAll(ctx, tx, []string{
		fmt.Sprintf(`CREATE TABLE %s (%s)`, rebuilt, strings.Join(parts, ", ")),
		fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s`,
			rebuilt, strings.Join(targets, ", "), strings.Join(sources, ", "), table),
		fmt.Sprintf(`DROP TABLE %s`, table),
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, rebuilt, table),
	})
}

func addCurrencyColumn(ctx context.Context, tx bun.Tx, d Dialect) error {
	return addColumnIfMissing(ctx, tx, d, "auctions", "currency", "TEXT NOT NULL DEFAULT 'primary'")
}

func addBidCount(ctx context.Context, tx bun.Tx, d Dialect) error {
	if err := addColumnIfMissing(ctx, tx, d, "auctions", "bid_count", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE auctions SET bid_count = (SELECT COUNT(*) FROM bids WHERE bids.auction_id = auctions.id)`)
	return err
}

func createIndexes(ctx context.Context, tx bun.Tx, _ Dialect) error {
	return execAll(ctx, tx, []string{
		`CREATE INDEX IF NOT EXISTS idx_auctions_tenant_live ON auctions (tenant_id, is_active, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bids_history ON bids (auction_id, amount DESC, "timestamp" DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_auctions_expiry ON auctions (is_active, end_time)`,
	})
}

func addColumnIfMissing(ctx context.Context, tx bun.Tx, d Dialect, table, column, definition string) error {
	cols, err := columns(ctx, tx, d, table)
	if err != nil {
		return err
	}
	if _, ok := cols[column]; ok {
		return nil
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition))
	return err
}

// columns maps column name to declared type for table.
func columns(ctx context.Context, tx bun.Tx, d Dialect, table string) (map[string]string, error) {
	query := `SELECT name, type FROM pragma_table_info(?)`
	if d == DialectPostgres {
		query = `SELECT column_name, data_type FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ?`
	}

	rows, err := tx.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, err
		}
		cols[name] = strings.ToUpper(typ)
	}
	return cols, rows.Err()
}

func execAll(ctx context.Context, tx bun.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
