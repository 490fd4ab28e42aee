// Package filterbuilder translates a cubeengine.Filter tree into SQL
// predicates, the way forma's condition.go walks CompositeCondition/
// KvCondition trees into nested SQL clauses — generalized here from EAV
// key-value leaves to cube-field predicates, and from INTERSECT/UNION
// subqueries to plain boolean AND/OR.
//
// Built SQL uses the neutral "?" placeholder token regardless of dialect;
// internal/queryplanner renumbers every "?" into the target dialect's real
// placeholder scheme once, at final statement assembly, so fragments never
// need to know their eventual position in the full parameter list.
package filterbuilder

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/cubeengine/internal/dialect"
)

// FieldResolver maps a cube-qualified field name to its quoted SQL
// expression (the planner supplies this from the Expression Resolver's
// output, already bound to a concrete table alias).
type FieldResolver func(field string) (sql string, isTime bool, err error)

// DateRangeResolver expands an inDateRange/beforeDate/afterDate operator's
// values into an inclusive [start, end] pair of SQL-ready parameter values.
// Supplied by internal/datetime to avoid an import cycle.
type DateRangeResolver func(dateRange any) (start, end any, err error)

// Built is a composed SQL predicate plus the parameter values it bound, in
// the same left-to-right order as the "?" tokens appear in SQL.
type Built struct {
	SQL    string
	Params []any
}

// Builder composes Filter trees into SQL, given a dialect adapter and the
// resolvers above. The adapter is consulted only for case-folding
// conventions (LikeCaseFolded) — placeholder spelling is handled later.
type Builder struct {
	Adapter   *dialect.Adapter
	Fields    FieldResolver
	DateRange DateRangeResolver
}

// operator-level leaf types, defined locally to avoid importing the root
// package (which would create an import cycle, since the root package's
// Engine wires this package). The root package's FilterOperator/Logic
// constants use identical string values, so callers pass those directly.
type Leaf struct {
	Member   string
	Operator string
	Values   []any
}

type Group struct {
	Logic    string // "and" | "or"
	Children []Node
}

// Node is either a Leaf or a Group.
type Node interface{ isNode() }

func (Leaf) isNode()  {}
func (Group) isNode() {}

// Build walks the filter tree into a single SQL predicate (possibly
// "(1=1)" for an empty/nil tree): empty groups collapse to true,
// single-member groups collapse to the member.
func (b *Builder) Build(node Node) (Built, error) {
	if node == nil {
		return Built{SQL: "(1=1)"}, nil
	}

	switch n := node.(type) {
	case Leaf:
		return b.buildLeaf(n)
	case Group:
		return b.buildGroup(n)
	default:
		return Built{}, fmt.Errorf("filterbuilder: unknown node type %T", node)
	}
}

func (b *Builder) buildGroup(g Group) (Built, error) {
	if len(g.Children) == 0 {
		return Built{SQL: "(1=1)"}, nil
	}

	joiner := " AND "
	if g.Logic == "or" {
		joiner = " OR "
	}

	var parts []string
	var params []any
	for _, child := range g.Children {
		built, err := b.Build(child)
		if err != nil {
			return Built{}, err
		}
		parts = append(parts, built.SQL)
		params = append(params, built.Params...)
	}

	if len(parts) == 1 {
		return Built{SQL: parts[0], Params: params}, nil
	}
	return Built{SQL: "(" + strings.Join(parts, joiner) + ")", Params: params}, nil
}

func (b *Builder) buildLeaf(l Leaf) (Built, error) {
	exprSQL, _, err := b.Fields(l.Member)
	if err != nil {
		return Built{}, err
	}

	switch l.Operator {
	case "equals", "notEquals":
		return b.buildEquality(exprSQL, l)

	case "contains", "notContains", "startsWith", "endsWith":
		return b.buildLike(exprSQL, l)

	case "gt", "gte", "lt", "lte":
		return b.buildComparison(exprSQL, l)

	case "set":
		return Built{SQL: fmt.Sprintf("%s IS NOT NULL", exprSQL)}, nil
	case "notSet":
		return Built{SQL: fmt.Sprintf("%s IS NULL", exprSQL)}, nil

	case "inDateRange":
		return b.buildDateRange(exprSQL, l)
	case "beforeDate":
		return b.buildDateBound(exprSQL, l, "<")
	case "afterDate":
		return b.buildDateBound(exprSQL, l, ">")

	default:
		return Built{}, fmt.Errorf("filterbuilder: unknown operator %q", l.Operator)
	}
}

const placeholder = "?"

func (b *Builder) buildEquality(exprSQL string, l Leaf) (Built, error) {
	neg := l.Operator == "notEquals"
	if len(l.Values) == 0 {
		return Built{}, fmt.Errorf("filterbuilder: %s requires at least one value", l.Operator)
	}
	if len(l.Values) == 1 {
		op := "="
		if neg {
			op = "!="
		}
		return Built{SQL: fmt.Sprintf("%s %s %s", exprSQL, op, placeholder), Params: []any{l.Values[0]}}, nil
	}

	phs := make([]string, len(l.Values))
	for i := range l.Values {
		phs[i] = placeholder
	}
	op := "IN"
	if neg {
		op = "NOT IN"
	}
	return Built{SQL: fmt.Sprintf("%s %s (%s)", exprSQL, op, strings.Join(phs, ", ")), Params: l.Values}, nil
}

func (b *Builder) buildLike(exprSQL string, l Leaf) (Built, error) {
	if len(l.Values) != 1 {
		return Built{}, fmt.Errorf("filterbuilder: %s requires exactly one value", l.Operator)
	}
	str, ok := l.Values[0].(string)
	if !ok {
		return Built{}, fmt.Errorf("filterbuilder: %s requires a string value", l.Operator)
	}

	var pattern string
	switch l.Operator {
	case "contains", "notContains":
		pattern = "%" + escapeLike(str) + "%"
	case "startsWith":
		pattern = escapeLike(str) + "%"
	case "endsWith":
		pattern = "%" + escapeLike(str)
	}

	predicate := b.Adapter.LikeCaseFolded(exprSQL, placeholder)
	if l.Operator == "notContains" {
		predicate = "NOT (" + predicate + ")"
	}
	return Built{SQL: predicate, Params: []any{pattern}}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (b *Builder) buildComparison(exprSQL string, l Leaf) (Built, error) {
	if len(l.Values) != 1 {
		return Built{}, fmt.Errorf("filterbuilder: %s requires exactly one value", l.Operator)
	}
	ops := map[string]string{"gt": ">", "gte": ">=", "lt": "<", "lte": "<="}
	op, ok := ops[l.Operator]
	if !ok {
		return Built{}, fmt.Errorf("filterbuilder: unknown comparison operator %q", l.Operator)
	}
	return Built{SQL: fmt.Sprintf("%s %s %s", exprSQL, op, placeholder), Params: []any{l.Values[0]}}, nil
}

func (b *Builder) buildDateRange(exprSQL string, l Leaf) (Built, error) {
	if b.DateRange == nil || len(l.Values) == 0 {
		return Built{}, fmt.Errorf("filterbuilder: inDateRange requires a date range resolver and value")
	}
	start, end, err := b.DateRange(l.Values[0])
	if err != nil {
		return Built{}, err
	}
	return Built{
		SQL:    fmt.Sprintf("(%s >= %s AND %s <= %s)", exprSQL, placeholder, exprSQL, placeholder),
		Params: []any{start, end},
	}, nil
}

func (b *Builder) buildDateBound(exprSQL string, l Leaf, op string) (Built, error) {
	if len(l.Values) != 1 {
		return Built{}, fmt.Errorf("filterbuilder: beforeDate/afterDate requires exactly one value")
	}
	return Built{SQL: fmt.Sprintf("%s %s %s", exprSQL, op, placeholder), Params: []any{l.Values[0]}}, nil
}

// RowFilterClause composes a row-level measure filter into an aggregate
// call, using native FILTER (WHERE ...) where the adapter supports it, else
// a CASE WHEN wrapper inside the aggregate, preserving identical counts.
func RowFilterClause(adapter *dialect.Adapter, aggCall, aggArg, predicateSQL string) string {
	if adapter.SupportsFilterClause() {
		return fmt.Sprintf("%s(%s) FILTER (WHERE %s)", aggCall, aggArg, predicateSQL)
	}
	return fmt.Sprintf("%s(CASE WHEN %s THEN %s END)", aggCall, predicateSQL, aggArg)
}
