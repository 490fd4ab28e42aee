// Package dialect models the per-engine SQL idioms as a capability-flagged
// variant type, the way forma's duckdb/postgres SQL generators diverge on a
// handful of concrete behaviors (identifier quoting, type mapping, EXPLAIN
// syntax) rather than through deep inheritance.
package dialect

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Name identifies one of the five supported engines.
type Name string

const (
	Postgres   Name = "postgres"
	MySQL      Name = "mysql"
	SingleStore Name = "singlestore"
	SQLite     Name = "sqlite"
	DuckDB     Name = "duckdb"
)

// PlaceholderStyle is how a dialect spells a bound-parameter placeholder.
type PlaceholderStyle int

const (
	PlaceholderDollar     PlaceholderStyle = iota // $1, $2, ...
	PlaceholderQuestion                           // ?
)

// ExplainCommand names the dialect's EXPLAIN statement prefix.
type ExplainCommand string

const (
	ExplainPlain      ExplainCommand = "EXPLAIN"
	ExplainAnalyze    ExplainCommand = "EXPLAIN ANALYZE"
	ExplainQueryPlan  ExplainCommand = "EXPLAIN QUERY PLAN"
)

// Adapter is the capability object a planner, executor, or explain analyzer
// consults for dialect-specific behavior. It is a value type built once per
// Name by New; callers never type-switch on the dialect elsewhere.
type Adapter struct {
	name Name

	placeholder        PlaceholderStyle
	supportsWindow     bool
	supportsLateral    bool
	supportsFlow       bool
	supportsFilterClause bool
	caseInsensitiveLike bool // true if bare LIKE is already case-insensitive (sqlite default collation)
}

// New returns the Adapter for the named dialect.
func New(name Name) (*Adapter, error) {
	switch name {
	case Postgres:
		return &Adapter{name: name, placeholder: PlaceholderDollar, supportsWindow: true, supportsLateral: true, supportsFlow: true, supportsFilterClause: true}, nil
	case DuckDB:
		return &Adapter{name: name, placeholder: PlaceholderQuestion, supportsWindow: true, supportsLateral: true, supportsFlow: true, supportsFilterClause: true}, nil
	case MySQL, SingleStore:
		return &Adapter{name: name, placeholder: PlaceholderQuestion, supportsWindow: true, supportsLateral: true, supportsFlow: true, supportsFilterClause: false}, nil
	case SQLite:
		return &Adapter{name: name, placeholder: PlaceholderQuestion, supportsWindow: true, supportsLateral: false, supportsFlow: false, supportsFilterClause: true, caseInsensitiveLike: true}, nil
	default:
		return nil, fmt.Errorf("dialect: unknown dialect %q", name)
	}
}

// Name reports the adapter's dialect.
func (a *Adapter) Name() Name { return a.name }

// SupportsWindow reports whether window functions are available.
func (a *Adapter) SupportsWindow() bool { return a.supportsWindow }

// SupportsLateral reports whether CROSS JOIN LATERAL is available.
func (a *Adapter) SupportsLateral() bool { return a.supportsLateral }

// SupportsFlow reports whether flow queries may run against this dialect.
func (a *Adapter) SupportsFlow() bool { return a.supportsFlow }

// SupportsFilterClause reports whether `agg(...) FILTER (WHERE pred)` is
// available; when false, row-level measure filters must use
// `agg(CASE WHEN pred THEN expr END)` instead.
func (a *Adapter) SupportsFilterClause() bool { return a.supportsFilterClause }

// QuoteIdent quotes an identifier per the dialect's convention.
func (a *Adapter) QuoteIdent(ident string) string {
	switch a.name {
	case MySQL, SingleStore:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// Placeholder returns the bound-parameter placeholder for the n-th
// parameter (1-indexed).
func (a *Adapter) Placeholder(n int) string {
	if a.placeholder == PlaceholderDollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// DateTrunc returns an expression truncating expr to the given granularity.
func (a *Adapter) DateTrunc(granularity, expr string) string {
	switch a.name {
	case Postgres, DuckDB:
		return fmt.Sprintf("DATE_TRUNC('%s', %s)", granularity, expr)
	case MySQL, SingleStore:
		return mysqlDateTrunc(granularity, expr)
	case SQLite:
		return sqliteDateTrunc(granularity, expr)
	default:
		return expr
	}
}

func mysqlDateTrunc(granularity, expr string) string {
	switch granularity {
	case "second":
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d %%H:%%i:%%s')", expr)
	case "minute":
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d %%H:%%i:00')", expr)
	case "hour":
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-%%d %%H:00:00')", expr)
	case "day":
		return fmt.Sprintf("DATE(%s)", expr)
	case "week":
		return fmt.Sprintf("DATE_SUB(DATE(%s), INTERVAL WEEKDAY(%s) DAY)", expr, expr)
	case "month":
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-%%m-01')", expr)
	case "quarter":
		return fmt.Sprintf("MAKEDATE(YEAR(%s), 1) + INTERVAL (QUARTER(%s)-1) QUARTER", expr, expr)
	case "year":
		return fmt.Sprintf("DATE_FORMAT(%s, '%%Y-01-01')", expr)
	default:
		return expr
	}
}

func sqliteDateTrunc(granularity, expr string) string {
	switch granularity {
	case "second":
		return fmt.Sprintf("strftime('%%Y-%%m-%%d %%H:%%M:%%S', %s)", expr)
	case "minute":
		return fmt.Sprintf("strftime('%%Y-%%m-%%d %%H:%%M:00', %s)", expr)
	case "hour":
		return fmt.Sprintf("strftime('%%Y-%%m-%%d %%H:00:00', %s)", expr)
	case "day":
		return fmt.Sprintf("date(%s)", expr)
	case "week":
		return fmt.Sprintf("date(%s, 'weekday 0', '-6 days')", expr)
	case "month":
		return fmt.Sprintf("date(%s, 'start of month')", expr)
	case "quarter":
		return fmt.Sprintf("date(%s, 'start of month', printf('-%%d months', (strftime('%%m', %s)-1) %% 3))", expr, expr)
	case "year":
		return fmt.Sprintf("date(%s, 'start of year')", expr)
	default:
		return expr
	}
}

// Percentile returns a continuous-percentile expression for the given
// quantile (0..1) over expr.
func (a *Adapter) Percentile(quantile float64, expr string) (string, error) {
	switch a.name {
	case Postgres, DuckDB:
		return fmt.Sprintf("PERCENTILE_CONT(%s) WITHIN GROUP (ORDER BY %s)", formatQuantile(quantile), expr), nil
	case MySQL, SingleStore:
		// MySQL 8.0/SingleStore lacks PERCENTILE_CONT. The adapter returns
		// an error naming the dialect, and the compiler surfaces it as-is;
		// no approximation is attempted.
		return "", fmt.Errorf("dialect: %s has no native percentile_cont; percentile and median measures are not supported", a.name)
	case SQLite:
		return "", fmt.Errorf("dialect: sqlite has no native percentile_cont; percentile and median measures are not supported")
	default:
		return "", fmt.Errorf("dialect: unsupported dialect for percentile")
	}
}

func formatQuantile(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// ExplainCommand returns the EXPLAIN statement prefix, optionally with ANALYZE.
func (a *Adapter) ExplainCommand(analyze bool) ExplainCommand {
	switch a.name {
	case SQLite:
		return ExplainQueryPlan
	case Postgres, DuckDB, MySQL, SingleStore:
		if analyze {
			return ExplainAnalyze
		}
		return ExplainPlain
	default:
		return ExplainPlain
	}
}

// AcceptsParamsInExplain reports whether EXPLAIN can run with bound
// parameters, or whether placeholders must be inlined as literals first.
func (a *Adapter) AcceptsParamsInExplain() bool {
	switch a.name {
	case Postgres, DuckDB:
		return true
	default:
		return false
	}
}

// InlineLiteral renders v as a SQL literal for EXPLAIN inlining when the
// dialect cannot EXPLAIN a parameterised statement.
func (a *Adapter) InlineLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int, int32, int64, float32, float64:
		return fmt.Sprintf("%v", val)
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", val), "'", "''") + "'"
	}
}

// CoerceMeasure converts a driver-produced value to a number when it
// represents a measure column: numeric strings (including scientific
// notation), arbitrary-precision decimal wrappers exposing a Stringer
// whose text matches a numeric literal, and integer types all become
// float64; null passes through untouched.
func (a *Adapter) CoerceMeasure(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case int8, int16, uint, uint8, uint16, uint32, uint64:
		return strconv.ParseFloat(fmt.Sprint(val), 64)
	case []byte:
		return parseNumericString(string(val))
	case string:
		return parseNumericString(val)
	case fmt.Stringer:
		return parseNumericString(val.String())
	default:
		return v, nil
	}
}

func parseNumericString(s string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, fmt.Errorf("dialect: value %q is not numeric: %w", s, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("dialect: value %q is not a finite number", s)
	}
	return f, nil
}

// LikeCaseFolded wraps expr/pattern for a case-insensitive LIKE per the
// dialect's convention: contains case-folding is dialect-specific and not
// papered over. Postgres uses ILIKE; mysql and duckdb lower both sides;
// sqlite's bare LIKE is already ASCII
// case-insensitive so no wrapping is applied, which means non-ASCII
// case-folding diverges from the other dialects there by design.
func (a *Adapter) LikeCaseFolded(exprSQL, placeholder string) string {
	switch a.name {
	case Postgres:
		return fmt.Sprintf("%s ILIKE %s", exprSQL, placeholder)
	case SQLite:
		return fmt.Sprintf("%s LIKE %s", exprSQL, placeholder)
	default:
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", exprSQL, placeholder)
	}
}
