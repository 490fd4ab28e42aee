package filterbuilder

import (
	"fmt"
	"testing"

	"github.com/lychee-technology/cubeengine/internal/dialect"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	adapter, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatalf("dialect.New: %v", err)
	}
	return &Builder{
		Adapter: adapter,
		Fields: func(field string) (string, bool, error) {
			if field == "Employees.departmentId" {
				return `"e"."department_id"`, false, nil
			}
			if field == "Productivity.date" {
				return `"p"."date"`, true, nil
			}
			return "", false, fmt.Errorf("unknown field %q", field)
		},
		DateRange: func(v any) (any, any, error) {
			return "2026-01-01", "2026-01-31", nil
		},
	}
}

func TestBuild_NilNodeIsAlwaysTrue(t *testing.T) {
	b := testBuilder(t)
	built, err := b.Build(nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if built.SQL != "(1=1)" {
		t.Fatalf("got %q, want (1=1)", built.SQL)
	}
}

func TestBuild_EmptyGroupIsAlwaysTrue(t *testing.T) {
	b := testBuilder(t)
	built, err := b.Build(Group{Logic: "and"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if built.SQL != "(1=1)" {
		t.Fatalf("got %q, want (1=1)", built.SQL)
	}
}

func TestBuild_EqualsSingleValue(t *testing.T) {
	b := testBuilder(t)
	built, err := b.Build(Leaf{Member: "Employees.departmentId", Operator: "equals", Values: []any{10}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if built.SQL != `"e"."department_id" = ?` {
		t.Fatalf("got %q", built.SQL)
	}
	if len(built.Params) != 1 || built.Params[0] != 10 {
		t.Fatalf("got params %v", built.Params)
	}
}

func TestBuild_EqualsMultiValueBecomesIn(t *testing.T) {
	b := testBuilder(t)
	built, err := b.Build(Leaf{Member: "Employees.departmentId", Operator: "equals", Values: []any{10, 20, 30}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := `"e"."department_id" IN (?, ?, ?)`
	if built.SQL != want {
		t.Fatalf("got %q, want %q", built.SQL, want)
	}
	if len(built.Params) != 3 {
		t.Fatalf("got %d params, want 3", len(built.Params))
	}
}

func TestBuild_NotEqualsMultiValueBecomesNotIn(t *testing.T) {
	b := testBuilder(t)
	built, err := b.Build(Leaf{Member: "Employees.departmentId", Operator: "notEquals", Values: []any{10, 20}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := `"e"."department_id" NOT IN (?, ?)`
	if built.SQL != want {
		t.Fatalf("got %q, want %q", built.SQL, want)
	}
}

func TestBuild_SetAndNotSet(t *testing.T) {
	b := testBuilder(t)

	built, err := b.Build(Leaf{Member: "Employees.departmentId", Operator: "set"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if built.SQL != `"e"."department_id" IS NOT NULL` {
		t.Fatalf("got %q", built.SQL)
	}

	built, err = b.Build(Leaf{Member: "Employees.departmentId", Operator: "notSet"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if built.SQL != `"e"."department_id" IS NULL` {
		t.Fatalf("got %q", built.SQL)
	}
}

func TestBuild_ContainsEscapesLikeMetacharacters(t *testing.T) {
	b := testBuilder(t)
	built, err := b.Build(Leaf{Member: "Employees.departmentId", Operator: "contains", Values: []any{"50%_off"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if built.Params[0] != `%50\%\_off%` {
		t.Fatalf("got pattern %v", built.Params[0])
	}
}

func TestBuild_NotContainsNegatesPredicate(t *testing.T) {
	b := testBuilder(t)
	built, err := b.Build(Leaf{Member: "Employees.departmentId", Operator: "notContains", Values: []any{"x"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if built.SQL[:4] != "NOT " {
		t.Fatalf("got %q, want NOT (...) prefix", built.SQL)
	}
}

func TestBuild_GroupJoinsChildrenWithLogic(t *testing.T) {
	b := testBuilder(t)
	built, err := b.Build(Group{
		Logic: "or",
		Children: []Node{
			Leaf{Member: "Employees.departmentId", Operator: "equals", Values: []any{1}},
			Leaf{Member: "Employees.departmentId", Operator: "equals", Values: []any{2}},
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := `("e"."department_id" = ? OR "e"."department_id" = ?)`
	if built.SQL != want {
		t.Fatalf("got %q, want %q", built.SQL, want)
	}
}

func TestBuild_SingleChildGroupCollapsesWithoutParens(t *testing.T) {
	b := testBuilder(t)
	built, err := b.Build(Group{
		Logic:    "and",
		Children: []Node{Leaf{Member: "Employees.departmentId", Operator: "equals", Values: []any{1}}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if built.SQL != `"e"."department_id" = ?` {
		t.Fatalf("got %q", built.SQL)
	}
}

func TestBuild_InDateRangeProducesInclusiveBounds(t *testing.T) {
	b := testBuilder(t)
	built, err := b.Build(Leaf{Member: "Productivity.date", Operator: "inDateRange", Values: []any{"this month"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := `("p"."date" >= ? AND "p"."date" <= ?)`
	if built.SQL != want {
		t.Fatalf("got %q, want %q", built.SQL, want)
	}
	if built.Params[0] != "2026-01-01" || built.Params[1] != "2026-01-31" {
		t.Fatalf("got params %v", built.Params)
	}
}

func TestBuild_UnknownOperatorErrors(t *testing.T) {
	b := testBuilder(t)
	if _, err := b.Build(Leaf{Member: "Employees.departmentId", Operator: "bogus", Values: []any{1}}); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestBuild_UnknownFieldErrors(t *testing.T) {
	b := testBuilder(t)
	if _, err := b.Build(Leaf{Member: "Nope.field", Operator: "equals", Values: []any{1}}); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestRowFilterClause_UsesNativeFilterWhenSupported(t *testing.T) {
	adapter, _ := dialect.New(dialect.Postgres)
	got := RowFilterClause(adapter, "COUNT", "*", `"e"."active" = true`)
	want := `COUNT(*) FILTER (WHERE "e"."active" = true)`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRowFilterClause_FallsBackToCaseWhenUnsupported(t *testing.T) {
	adapter, _ := dialect.New(dialect.MySQL)
	got := RowFilterClause(adapter, "COUNT", "*", `active = 1`)
	want := `COUNT(CASE WHEN active = 1 THEN * END)`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
