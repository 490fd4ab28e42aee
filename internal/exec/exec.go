// Package exec runs compiled SQL through a dialect-specific driver binding,
// coerces measure columns, and assembles the typed result set. It is
// grounded on forma's internal/postgres_persistent_repository.go (pgx pool
// binding, scoped connection acquisition) and internal/duckdb_conn.go
// (database/sql driver wrapping, extension/PRAGMA setup at open time).
package exec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lychee-technology/cubeengine/internal/dialect"
)

// Row is one result row keyed by projection alias.
type Row map[string]any

// Result is the executor's output before annotation assembly (the root
// package's api.go layers Annotation/QueryWarning on top).
type Result struct {
	Rows []Row
}

// Runner executes compiled SQL against a specific driver. There is one
// implementation per connection technology (pgx pool for Postgres,
// database/sql for DuckDB/SQLite/MySQL/SingleStore), selected by the
// factory at wiring time — never by this package.
type Runner interface {
	Run(ctx context.Context, sql string, params []any) (*Result, error)
	Close()
}

// pgxQuerier is the minimal pgx pool surface PgxRunner needs, matching
// forma's factory.go queryPool pattern: satisfied directly by
// *pgxpool.Pool and by pgxmock's mock pool in tests, with no Acquire/
// Release step for callers to fake.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgxRunner runs SQL through a pgxpool.Pool, mirroring forma's
// postgres-backed entity manager connection-checkout pattern.
type PgxRunner struct {
	Pool pgxQuerier
}

func (r *PgxRunner) Run(ctx context.Context, sqlText string, params []any) (*Result, error) {
	rows, err := r.Pool.Query(ctx, sqlText, params...)
	if err != nil {
		return nil, classifyPgxError(err)
	}
	defer rows.Close()

	result, err := scanPgxRows(rows)
	if err != nil {
		return nil, err
	}
	if rows.Err() != nil {
		return nil, classifyPgxError(rows.Err())
	}
	return result, nil
}

// Close releases the underlying pool if it exposes one; pgxmock's test
// pool is closed directly by the test instead.
func (r *PgxRunner) Close() {
	if closer, ok := r.Pool.(interface{ Close() }); ok {
		closer.Close()
	}
}

func scanPgxRows(rows pgx.Rows) (*Result, error) {
	fds := rows.FieldDescriptions()
	names := make([]string, len(fds))
	for i, fd := range fds {
		names[i] = string(fd.Name)
	}

	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("exec: scan row: %w", err)
		}
		row := make(Row, len(vals))
		for i, v := range vals {
			if i < len(names) {
				row[names[i]] = v
			}
		}
		out = append(out, row)
	}
	return &Result{Rows: out}, nil
}

func classifyPgxError(err error) error {
	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Kind: "cancelled", Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Kind: "timeout", Cause: err}
	}
	return &ClassifiedError{Kind: "driver-error", Cause: err}
}

// SQLRunner runs SQL through a database/sql *sql.DB, the path forma uses
// for DuckDB; the same path is reused here for SQLite/MySQL/SingleStore
// since they're all database/sql-compatible drivers.
type SQLRunner struct {
	DB *sql.DB
}

func (r *SQLRunner) Run(ctx context.Context, sqlText string, params []any) (*Result, error) {
	rows, err := r.DB.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, classifySQLError(err)
	}
	defer rows.Close()

	result, err := scanSQLRows(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLError(err)
	}
	return result, nil
}

func (r *SQLRunner) Close() { r.DB.Close() }

func scanSQLRows(rows *sql.Rows) (*Result, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("exec: read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		scanDest := make([]any, len(cols))
		scanPtrs := make([]any, len(cols))
		for i := range scanDest {
			scanPtrs[i] = &scanDest[i]
		}
		if err := rows.Scan(scanPtrs...); err != nil {
			return nil, &ClassifiedError{Kind: "empty-result-malformed", Cause: err}
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = scanDest[i]
		}
		out = append(out, row)
	}
	return &Result{Rows: out}, nil
}

func classifySQLError(err error) error {
	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Kind: "cancelled", Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Kind: "timeout", Cause: err}
	}
	return &ClassifiedError{Kind: "driver-error", Cause: err}
}

// ClassifiedError tags a driver error with the exec/* kind the caller
// should wrap it as; the root package's api.go converts this to a
// *cubeengine.CubeError, keeping this package free of a root-package import.
type ClassifiedError struct {
	Kind  string // "driver-error" | "cancelled" | "timeout" | "empty-result-malformed"
	Cause error
}

func (e *ClassifiedError) Error() string { return fmt.Sprintf("exec/%s: %v", e.Kind, e.Cause) }
func (e *ClassifiedError) Unwrap() error { return e.Cause }

// CoerceRow converts every column in numericFields to a number via the
// adapter's CoerceMeasure, leaving every other column untouched: the
// coercion loop is a simple lookup, with no per-type dispatch.
func CoerceRow(adapter *dialect.Adapter, row Row, numericFields []string) error {
	for _, f := range numericFields {
		v, ok := row[f]
		if !ok {
			continue
		}
		coerced, err := adapter.CoerceMeasure(v)
		if err != nil {
			return fmt.Errorf("exec: coerce field %q: %w", f, err)
		}
		row[f] = coerced
	}
	return nil
}

// RunWithTimeout derives a bounded context from parent and runs through the
// runner, releasing resources on every exit path: a cancelled query
// releases its connection before the cancellation returns.
func RunWithTimeout(parent context.Context, runner Runner, timeout time.Duration, sqlText string, params []any) (*Result, error) {
	ctx := parent
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	result, err := runner.Run(ctx, sqlText, params)
	if err != nil {
		zap.S().Errorw("exec: query failed", "sql", sqlText, "paramCount", len(params), "err", err)
		return nil, err
	}
	return result, nil
}
