// Package postgres optionally loads the final table into Postgres in long
// format: one row per (run, key, column).
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"go.ngs.io/terraclimate-extract/internal/transform"
)

// CopyConn is the subset of *pgxpool.Pool used by the sink.
type CopyConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Columns of the target table, in COPY order.
var Columns = []string{"run_id", "mode", "accession_id", "year", "period", "variable", "value"}

// TableSink writes tables into one Postgres table.
type TableSink struct {
	conn   CopyConn
	table  string
	logger *slog.Logger
}

// NewTableSink creates a sink writing to table.
func NewTableSink(conn CopyConn, table string, logger *slog.Logger) *TableSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &TableSink{conn: conn, table: table, logger: logger}
}

// EnsureSchema creates the target table when it does not exist.
func (s *TableSink) EnsureSchema(ctx context.Context) error {
	ident := pgx.Identifier{s.table}.Sanitize()
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id       text NOT NULL,
	mode         text NOT NULL,
	accession_id text NOT NULL,
	year         integer,
	period       text,
	variable     text NOT NULL,
	value        double precision
)`, ident)
	if _, err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// Write replaces the rows of runID with the contents of t and returns the
// number of rows copied. Missing values are stored as NULL.
func (s *TableSink) Write(ctx context.Context, runID string, t *transform.Table) (int64, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return 0, err
	}
	ident := pgx.Identifier{s.table}.Sanitize()
	if _, err := s.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE run_id = $1", ident), runID); err != nil {
		return 0, fmt.Errorf("failed to clear previous rows: %w", err)
	}

	rows := make([][]any, 0, len(t.Rows)*len(t.Columns))
	for _, row := range t.Rows {
		year, period := keyFields(t.Mode, row.Key)
		for c, name := range t.Columns {
			var value any
			if f, ok := row.Values[c].Float(); ok {
				value = f
			}
			rows = append(rows, []any{runID, string(t.Mode), row.Key.LocationID, year, period, name, value})
		}
	}

	n, err := s.conn.CopyFrom(ctx, pgx.Identifier{s.table}, Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to copy rows into %s: %w", s.table, err)
	}
	s.logger.Info("copied table into postgres", "table", s.table, "run_id", runID, "rows", n)
	return n, nil
}

// keyFields maps a row key to the nullable year and period columns.
func keyFields(mode transform.Mode, k transform.RowKey) (year, period any) {
	switch mode {
	case transform.ModeMonthly:
		return k.Year, fmt.Sprintf("%02d", k.Month)
	case transform.ModeAnnual:
		return k.Year, nil
	case transform.ModeSeasonal:
		return k.Year, k.Season.String()
	case transform.ModeQuarterly:
		return k.Year, fmt.Sprintf("Q%d", k.Quarter)
	}
	return nil, nil
}
