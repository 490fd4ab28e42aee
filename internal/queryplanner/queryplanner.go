// Package queryplanner assembles a resolved semantic query into SQL text,
// grounded on forma's query-to-plan orchestration
// (internal/entity_manager_query.go) and its plan-to-SQL emission
// (internal/postgres_persistent_repository_query.go) — generalized from
// EAV attribute projections to cube-qualified dimension/measure
// projections with calculated and window measure staging.
package queryplanner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lychee-technology/cubeengine/internal/dialect"
)

// FromItem is one cube's base relation, already aliased.
type FromItem struct {
	Cube  string
	Alias string
	From  string // table name or subquery
	Where string // base predicate SQL, already parameterised in-order
	Args  []any
}

// JoinItem is one join step, SQL-ready.
type JoinItem struct {
	Type  string // "INNER" | "LEFT"
	From  FromItem
	OnSQL string // equality predicate(s) SQL, no leading "ON "
}

// Dimension is a resolved projected dimension.
type Dimension struct {
	Alias string // projection alias, e.g. "Employees.name"
	SQL   string // already-qualified column/expression SQL
}

// AggMeasure is a resolved simple/statistical measure.
type AggMeasure struct {
	Alias string
	SQL   string // full aggregate call, e.g. COUNT(*), SUM("t"."x")
}

// CalcMeasure is a calculated measure, staged in the outer SELECT.
type CalcMeasure struct {
	Alias string
	SQL   string // expression referencing outer-select aliases of sibling measures
}

// WindowMeasure is a window measure, staged after aggregation.
type WindowMeasure struct {
	Alias string
	SQL   string // full window function call incl. OVER(...)
}

// OrderItem is one ORDER BY entry against a projection alias.
type OrderItem struct {
	Alias     string
	Direction string // "ASC" | "DESC"
}

// Request is everything the planner needs to assemble SQL; all semantic
// resolution (field lookup, join path selection, filter tree building,
// measure-kind-to-SQL translation) happens in the caller.
type Request struct {
	Adapter *dialect.Adapter

	Base  FromItem
	Joins []JoinItem

	Dimensions  []Dimension
	TimeBuckets []Dimension // time-dimension granularity bucket expressions, treated as GROUP-BY dimensions
	Aggregates  []AggMeasure
	Calculated  []CalcMeasure
	Window      []WindowMeasure

	WhereSQL  string
	WhereArgs []any

	HavingSQL  string
	HavingArgs []any

	Order  []OrderItem
	Limit  *int
	Offset *int

	// Comparison mode: when non-empty, the planner emits one aggregation
	// per entry, each filtered by FilterSQL/FilterArgs additionally, UNIONed
	// with a literal __period label.
	Comparisons []ComparisonBranch
}

// ComparisonBranch is one UNION branch of comparison-mode output.
type ComparisonBranch struct {
	Period     string // "current" | "prior"
	FilterSQL  string
	FilterArgs []any
}

// Compiled is the planner's SQL text plus the ordered parameter list and
// the set of projection aliases that are measures (for executor coercion).
type Compiled struct {
	SQL           string
	Params        []any
	NumericFields []string
}

// Compile assembles the full statement. Parameter placeholders are
// renumbered in final emission order so Postgres's positional $n
// references stay correct regardless of the order fragments were built in.
func Compile(req Request) (*Compiled, error) {
	if req.Offset != nil && req.Limit == nil {
		return nil, fmt.Errorf("queryplanner: offset given without a limit")
	}

	hasStaging := len(req.Calculated) > 0 || len(req.Window) > 0
	hasGrouping := len(req.Dimensions) > 0 || len(req.TimeBuckets) > 0 || len(req.Aggregates) > 0

	numericFields := make([]string, 0, len(req.Aggregates)+len(req.Calculated)+len(req.Window))
	for _, a := range req.Aggregates {
		numericFields = append(numericFields, a.Alias)
	}
	for _, c := range req.Calculated {
		numericFields = append(numericFields, c.Alias)
	}
	for _, w := range req.Window {
		numericFields = append(numericFields, w.Alias)
	}

	// buildStatement assembles one full inner-aggregation (plus optional
	// outer staging) pipeline, with extraWhereSQL/extraWhereArgs applied
	// pre-aggregation alongside the base and caller WHERE predicates.
	// Comparison-mode calls this once per branch so current/prior periods
	// are each aggregated independently rather than filtered after the
	// fact.
	buildStatement := func(extraWhereSQL string, extraWhereArgs []any) (string, []any, error) {
		var params []any
		var inner strings.Builder
		inner.WriteString("SELECT ")

		cols := make([]string, 0, len(req.Dimensions)+len(req.TimeBuckets)+len(req.Aggregates))
		for _, d := range req.Dimensions {
			cols = append(cols, fmt.Sprintf("%s AS %s", d.SQL, quoteAlias(req.Adapter, d.Alias)))
		}
		for _, d := range req.TimeBuckets {
			cols = append(cols, fmt.Sprintf("%s AS %s", d.SQL, quoteAlias(req.Adapter, d.Alias)))
		}
		for _, a := range req.Aggregates {
			cols = append(cols, fmt.Sprintf("%s AS %s", a.SQL, quoteAlias(req.Adapter, a.Alias)))
		}
		if len(cols) == 0 {
			cols = append(cols, "1 AS __pivot")
		}
		inner.WriteString(strings.Join(cols, ", "))

		inner.WriteString(" FROM ")
		inner.WriteString(fromClause(req.Base))

		for _, j := range req.Joins {
			inner.WriteString(" ")
			inner.WriteString(j.Type)
			inner.WriteString(" JOIN ")
			inner.WriteString(fromClause(j.From))
			inner.WriteString(" ON ")
			inner.WriteString(j.OnSQL)
		}

		var whereParts []string
		if req.Base.Where != "" {
			whereParts = append(whereParts, req.Base.Where)
			params = append(params, req.Base.Args...)
		}
		if req.WhereSQL != "" {
			whereParts = append(whereParts, req.WhereSQL)
			params = append(params, req.WhereArgs...)
		}
		if extraWhereSQL != "" {
			whereParts = append(whereParts, extraWhereSQL)
			params = append(params, extraWhereArgs...)
		}
		for _, j := range req.Joins {
			if j.From.Where != "" {
				whereParts = append(whereParts, j.From.Where)
			}
			params = append(params, j.From.Args...)
		}
		if len(whereParts) > 0 {
			inner.WriteString(" WHERE ")
			inner.WriteString(strings.Join(whereParts, " AND "))
		}

		if hasGrouping {
			groupCols := make([]string, 0, len(req.Dimensions)+len(req.TimeBuckets))
			for _, d := range req.Dimensions {
				groupCols = append(groupCols, d.SQL)
			}
			for _, d := range req.TimeBuckets {
				groupCols = append(groupCols, d.SQL)
			}
			if len(groupCols) > 0 {
				inner.WriteString(" GROUP BY ")
				inner.WriteString(strings.Join(groupCols, ", "))
			}
		}

		if req.HavingSQL != "" {
			inner.WriteString(" HAVING ")
			inner.WriteString(req.HavingSQL)
			params = append(params, req.HavingArgs...)
		}

		innerSQL := inner.String()
		if !hasStaging {
			return innerSQL, params, nil
		}

		var outer strings.Builder
		outer.WriteString("SELECT ")
		outerCols := make([]string, 0)
		for _, d := range req.Dimensions {
			outerCols = append(outerCols, quoteAlias(req.Adapter, d.Alias))
		}
		for _, d := range req.TimeBuckets {
			outerCols = append(outerCols, quoteAlias(req.Adapter, d.Alias))
		}
		for _, a := range req.Aggregates {
			outerCols = append(outerCols, quoteAlias(req.Adapter, a.Alias))
		}
		for _, c := range req.Calculated {
			outerCols = append(outerCols, fmt.Sprintf("%s AS %s", c.SQL, quoteAlias(req.Adapter, c.Alias)))
		}
		for _, w := range req.Window {
			outerCols = append(outerCols, fmt.Sprintf("%s AS %s", w.SQL, quoteAlias(req.Adapter, w.Alias)))
		}
		outer.WriteString(strings.Join(outerCols, ", "))
		outer.WriteString(" FROM (")
		outer.WriteString(innerSQL)
		outer.WriteString(") AS agg")
		return outer.String(), params, nil
	}

	var finalSQL string
	var params []any

	if len(req.Comparisons) == 0 {
		sqlText, p, err := buildStatement("", nil)
		if err != nil {
			return nil, err
		}
		finalSQL, params = sqlText, p
	} else {
		branches := make([]string, 0, len(req.Comparisons))
		for _, c := range req.Comparisons {
			if c.Period != "current" && c.Period != "prior" {
				return nil, fmt.Errorf("queryplanner: comparison period must be \"current\" or \"prior\", got %q", c.Period)
			}
			sqlText, p, err := buildStatement(c.FilterSQL, c.FilterArgs)
			if err != nil {
				return nil, err
			}
			branches = append(branches, fmt.Sprintf("SELECT *, ? AS __period FROM (%s) AS p", sqlText))
			params = append(params, c.Period)
			params = append(params, p...)
		}
		finalSQL = strings.Join(branches, " UNION ALL ")
	}

	if len(req.Order) > 0 {
		orderParts := make([]string, 0, len(req.Order))
		for _, o := range req.Order {
			orderParts = append(orderParts, fmt.Sprintf("%s %s", quoteAlias(req.Adapter, o.Alias), o.Direction))
		}
		finalSQL += " ORDER BY " + strings.Join(orderParts, ", ")
	}

	if req.Limit != nil {
		finalSQL += fmt.Sprintf(" LIMIT %d", *req.Limit)
	}
	if req.Offset != nil {
		finalSQL += fmt.Sprintf(" OFFSET %d", *req.Offset)
	}

	sort.Strings(numericFields)
	finalSQL, params = renumberPlaceholders(req.Adapter, finalSQL, params)

	return &Compiled{SQL: finalSQL, Params: params, NumericFields: dedupe(numericFields)}, nil
}

func fromClause(item FromItem) string {
	if item.Alias == "" || item.Alias == item.From {
		return item.From
	}
	return fmt.Sprintf("%s AS %s", item.From, item.Alias)
}

func quoteAlias(adapter *dialect.Adapter, alias string) string {
	return adapter.QuoteIdent(alias)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// renumberPlaceholders rewrites sequential "?" placeholders (as emitted by
// fragment builders that don't know their final position) into the
// dialect's real placeholder scheme in left-to-right emission order. For
// dialects already using "?" this is a no-op rewrite pass; for Postgres/
// DuckDB's "$n" style it assigns n in source order.
func renumberPlaceholders(adapter *dialect.Adapter, sql string, params []any) (string, []any) {
	if adapter.Placeholder(1) == "?" {
		return sql, params
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] == '?' {
			n++
			b.WriteString(adapter.Placeholder(n))
			continue
		}
		b.WriteByte(sql[i])
	}
	return b.String(), params
}
