package queryplanner

import (
	"strings"
	"testing"

	"github.com/lychee-technology/cubeengine/internal/dialect"
)

func mustAdapter(t *testing.T, name dialect.Name) *dialect.Adapter {
	t.Helper()
	a, err := dialect.New(name)
	if err != nil {
		t.Fatalf("dialect.New: %v", err)
	}
	return a
}

func TestCompile_SimpleAggregationNoGrouping(t *testing.T) {
	adapter := mustAdapter(t, dialect.SQLite)
	req := Request{
		Adapter:    adapter,
		Base:       FromItem{Cube: "Employees", Alias: "e", From: "employees"},
		Aggregates: []AggMeasure{{Alias: "Employees.count", SQL: "COUNT(*)"}},
	}
	compiled, err := Compile(req)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, "COUNT(*)") {
		t.Fatalf("missing aggregate in SQL: %q", compiled.SQL)
	}
	if !strings.Contains(compiled.SQL, "FROM employees") {
		t.Fatalf("missing from clause: %q", compiled.SQL)
	}
	if len(compiled.NumericFields) != 1 || compiled.NumericFields[0] != "Employees.count" {
		t.Fatalf("got numeric fields %v", compiled.NumericFields)
	}
}

func TestCompile_DimensionsProduceGroupBy(t *testing.T) {
	adapter := mustAdapter(t, dialect.SQLite)
	req := Request{
		Adapter:    adapter,
		Base:       FromItem{Cube: "Employees", Alias: "e", From: "employees"},
		Dimensions: []Dimension{{Alias: "Employees.departmentId", SQL: `"e"."department_id"`}},
		Aggregates: []AggMeasure{{Alias: "Employees.count", SQL: "COUNT(*)"}},
	}
	compiled, err := Compile(req)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, "GROUP BY") {
		t.Fatalf("expected GROUP BY clause, got %q", compiled.SQL)
	}
}

func TestCompile_JoinsEmitCorrectType(t *testing.T) {
	adapter := mustAdapter(t, dialect.SQLite)
	req := Request{
		Adapter: adapter,
		Base:    FromItem{Cube: "Employees", Alias: "e", From: "employees"},
		Joins: []JoinItem{
			{Type: "LEFT", From: FromItem{Cube: "Productivity", Alias: "p", From: "productivity"}, OnSQL: `"e"."id" = "p"."employee_id"`},
		},
		Aggregates: []AggMeasure{{Alias: "Employees.count", SQL: "COUNT(*)"}},
	}
	compiled, err := Compile(req)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, "LEFT JOIN productivity AS p ON") {
		t.Fatalf("missing left join clause: %q", compiled.SQL)
	}
}

func TestCompile_CalculatedMeasureStagesOuterSelect(t *testing.T) {
	adapter := mustAdapter(t, dialect.SQLite)
	req := Request{
		Adapter:    adapter,
		Base:       FromItem{Cube: "Employees", Alias: "e", From: "employees"},
		Aggregates: []AggMeasure{{Alias: "Employees.count", SQL: "COUNT(*)"}},
		Calculated: []CalcMeasure{{Alias: "Employees.ratio", SQL: `"Employees.count" * 1.0`}},
	}
	compiled, err := Compile(req)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, "FROM (") || !strings.Contains(compiled.SQL, ") AS agg") {
		t.Fatalf("expected staged outer select, got %q", compiled.SQL)
	}
	found := false
	for _, f := range compiled.NumericFields {
		if f == "Employees.ratio" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected calculated measure in numeric fields, got %v", compiled.NumericFields)
	}
}

func TestCompile_ComparisonsUnionBranchesWithPeriodLabel(t *testing.T) {
	adapter := mustAdapter(t, dialect.SQLite)
	req := Request{
		Adapter:    adapter,
		Base:       FromItem{Cube: "Employees", Alias: "e", From: "employees"},
		Aggregates: []AggMeasure{{Alias: "Employees.count", SQL: "COUNT(*)"}},
		Comparisons: []ComparisonBranch{
			{Period: "current", FilterSQL: `"e"."created_at" >= ?`, FilterArgs: []any{"2026-01-01"}},
			{Period: "prior", FilterSQL: `"e"."created_at" >= ?`, FilterArgs: []any{"2025-01-01"}},
		},
	}
	compiled, err := Compile(req)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if strings.Count(compiled.SQL, "? AS __period") != 2 {
		t.Fatalf("expected a bound period label per branch, got %q", compiled.SQL)
	}
	if !strings.Contains(compiled.SQL, " UNION ALL ") {
		t.Fatalf("expected UNION ALL, got %q", compiled.SQL)
	}
	if len(compiled.Params) != 4 {
		t.Fatalf("got %d params, want 4", len(compiled.Params))
	}
	if compiled.Params[0] != "current" || compiled.Params[2] != "prior" {
		t.Fatalf("expected period labels bound in branch order, got %v", compiled.Params)
	}
}

func TestCompile_ComparisonPeriodOutsideClosedSetErrors(t *testing.T) {
	adapter := mustAdapter(t, dialect.SQLite)
	req := Request{
		Adapter:    adapter,
		Base:       FromItem{Cube: "Employees", Alias: "e", From: "employees"},
		Aggregates: []AggMeasure{{Alias: "Employees.count", SQL: "COUNT(*)"}},
		Comparisons: []ComparisonBranch{
			{Period: "'; DROP TABLE employees; --"},
		},
	}
	if _, err := Compile(req); err == nil {
		t.Fatalf("expected error for comparison period outside the current/prior closed set")
	}
}

func TestCompile_OffsetWithoutLimitErrors(t *testing.T) {
	adapter := mustAdapter(t, dialect.SQLite)
	offset := 10
	req := Request{
		Adapter:    adapter,
		Base:       FromItem{Cube: "Employees", Alias: "e", From: "employees"},
		Aggregates: []AggMeasure{{Alias: "Employees.count", SQL: "COUNT(*)"}},
		Offset:     &offset,
	}
	if _, err := Compile(req); err == nil {
		t.Fatal("expected error for offset without limit")
	}
}

func TestCompile_LimitAndOffsetAppended(t *testing.T) {
	adapter := mustAdapter(t, dialect.SQLite)
	limit, offset := 20, 40
	req := Request{
		Adapter:    adapter,
		Base:       FromItem{Cube: "Employees", Alias: "e", From: "employees"},
		Aggregates: []AggMeasure{{Alias: "Employees.count", SQL: "COUNT(*)"}},
		Limit:      &limit,
		Offset:     &offset,
	}
	compiled, err := Compile(req)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.HasSuffix(compiled.SQL, "LIMIT 20 OFFSET 40") {
		t.Fatalf("unexpected tail: %q", compiled.SQL)
	}
}

func TestCompile_RenumbersPlaceholdersForPostgres(t *testing.T) {
	adapter := mustAdapter(t, dialect.Postgres)
	req := Request{
		Adapter:    adapter,
		Base:       FromItem{Cube: "Employees", Alias: "e", From: "employees", Where: `"e"."active" = ?`, Args: []any{true}},
		Aggregates: []AggMeasure{{Alias: "Employees.count", SQL: "COUNT(*)"}},
		WhereSQL:   `"e"."department_id" = ?`,
		WhereArgs:  []any{7},
	}
	compiled, err := Compile(req)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, "$1") || !strings.Contains(compiled.SQL, "$2") {
		t.Fatalf("expected renumbered postgres placeholders, got %q", compiled.SQL)
	}
	if strings.Contains(compiled.SQL, "?") {
		t.Fatalf("expected no bare ? left in postgres SQL, got %q", compiled.SQL)
	}
}

func TestCompile_JoinedCubeWherePredicateIsAppliedAndPlaceholdersStayAligned(t *testing.T) {
	adapter := mustAdapter(t, dialect.Postgres)
	req := Request{
		Adapter: adapter,
		Base:    FromItem{Cube: "Employees", Alias: "e", From: "employees", Where: `"e"."org_id" = ?`, Args: []any{1}},
		Joins: []JoinItem{
			{
				Type:  "LEFT",
				From:  FromItem{Cube: "Departments", Alias: "d", From: "departments", Where: `"d"."org_id" = ?`, Args: []any{1}},
				OnSQL: `"e"."department_id" = "d"."id"`,
			},
		},
		Dimensions: []Dimension{{Alias: "Departments.name", SQL: `"d"."name"`}},
		Aggregates: []AggMeasure{{Alias: "Employees.count", SQL: "COUNT(*)"}},
	}
	compiled, err := Compile(req)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, `"e"."org_id" = $1`) || !strings.Contains(compiled.SQL, `"d"."org_id" = $2`) {
		t.Fatalf("expected both base and joined cube security predicates bound in order, got %q", compiled.SQL)
	}
	if len(compiled.Params) != 2 || compiled.Params[0] != 1 || compiled.Params[1] != 1 {
		t.Fatalf("got params %v, want [1 1]", compiled.Params)
	}
}

func TestCompile_NumericFieldsDeduplicatedAndSorted(t *testing.T) {
	adapter := mustAdapter(t, dialect.SQLite)
	req := Request{
		Adapter: adapter,
		Base:    FromItem{Cube: "Employees", Alias: "e", From: "employees"},
		Aggregates: []AggMeasure{
			{Alias: "Employees.count", SQL: "COUNT(*)"},
			{Alias: "Employees.count", SQL: "COUNT(*)"},
		},
	}
	compiled, err := Compile(req)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(compiled.NumericFields) != 1 {
		t.Fatalf("expected deduplicated numeric fields, got %v", compiled.NumericFields)
	}
}
