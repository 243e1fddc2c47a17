package logger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
)

// QueryHook logs bun queries. Failed queries are logged at ERROR, queries
// slower than Slow at WARN and the rest at DEBUG when Verbose is set. A
// missing row and the deferred rollback of a committed transaction are not
// failures.
type QueryHook struct {
	Slow    time.Duration
	Verbose bool
}

var _ bun.QueryHook = (*QueryHook)(nil)

func NewQueryHook(slow time.Duration, verbose bool) *QueryHook {
	return &QueryHook{Slow: slow, Verbose: verbose}
}

func (h *QueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	took := time.Since(event.StartTime)
	attrs := []any{
		slog.String("type", "db"),
		slog.String("operation", event.Operation()),
		slog.Duration("took", took),
	}

	switch {
	case event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) && !errors.Is(event.Err, sql.ErrTxDone):
		slog.Error("Query failed", append(attrs,
			slog.String("query", event.Query),
			slog.Any("error", event.Err),
		)...)
	case h.Slow > 0 && took > h.Slow:
		slog.Warn("Slow query", append(attrs, slog.String("query", event.Query))...)
	case h.Verbose:
		slog.Debug("Query executed", append(attrs, slog.String("query", event.Query))...)
	}
}
