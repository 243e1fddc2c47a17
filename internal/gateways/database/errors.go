package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/gohye/auction-core/internal/domain/auction"
)

// Classify wraps driver errors with the auction store sentinels so the
// engine can decide between retrying and failing.
func Classify(err error) error {
	if err == nil ||
		errors.Is(err, auction.ErrNotFound) ||
		errors.Is(err, auction.ErrTransient) ||
		errors.Is(err, auction.ErrIntegrity) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", auction.ErrNotFound, err)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", auction.ErrTransient, err)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", auction.ErrTransient, err)
		case sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %w", auction.ErrIntegrity, err)
		}
		return err
	}

	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		code := pgErr.Field('C')
		switch {
		case code == "40001", code == "40P01", code == "55P03", code == "53300":
			return fmt.Errorf("%w: %w", auction.ErrTransient, err)
		case strings.HasPrefix(code, "23"):
			return fmt.Errorf("%w: %w", auction.ErrIntegrity, err)
		}
	}
	return err
}
