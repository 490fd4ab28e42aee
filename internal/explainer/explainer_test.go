package explainer

import (
	"strings"
	"testing"

	"github.com/lychee-technology/cubeengine/internal/dialect"
	"github.com/lychee-technology/cubeengine/internal/exec"
)

func TestParseTreeText_BuildsNestedChildrenByIndent(t *testing.T) {
	lines := []string{
		"Hash Join  (cost=1.00..20.00 rows=100 width=8)",
		"  ->  Seq Scan on employees  (cost=0.00..10.00 rows=50 width=4)",
		"  ->  Seq Scan on departments  (cost=0.00..5.00 rows=10 width=4)",
	}
	roots := parseTreeText(lines)
	if len(roots) != 1 {
		t.Fatalf("got %d roots, want 1", len(roots))
	}
	if roots[0].NodeType != "Hash" {
		t.Fatalf("got node type %q, want Hash", roots[0].NodeType)
	}
	if len(roots[0].Children) != 2 {
		t.Fatalf("got %d children, want 2", len(roots[0].Children))
	}
	if roots[0].EstimatedRows == nil || *roots[0].EstimatedRows != 100 {
		t.Fatalf("got rows %v, want 100", roots[0].EstimatedRows)
	}
	if roots[0].EstimatedCost == nil || *roots[0].EstimatedCost != 20.00 {
		t.Fatalf("got cost %v, want 20.00 (second number of range)", roots[0].EstimatedCost)
	}
}

func TestParseTreeText_SkipsBlankLines(t *testing.T) {
	roots := parseTreeText([]string{"", "Seq Scan on employees  (rows=5)", ""})
	if len(roots) != 1 {
		t.Fatalf("got %d roots, want 1", len(roots))
	}
}

func TestParseTabular_MapsAccessTypeToSeverity(t *testing.T) {
	rows := []exec.Row{
		{"type": "ALL", "table": "employees", "rows": int64(1000)},
		{"type": "ref", "table": "departments", "rows": int64(1)},
		{"type": "const", "table": "config", "rows": int64(1)},
	}
	nodes := parseTabular(rows)
	if len(nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(nodes))
	}
	if nodes[0].NodeType != "full-scan" {
		t.Fatalf("got %q, want full-scan", nodes[0].NodeType)
	}
	if nodes[1].NodeType != "ref-lookup" {
		t.Fatalf("got %q, want ref-lookup", nodes[1].NodeType)
	}
	if nodes[2].NodeType != "const-lookup" {
		t.Fatalf("got %q, want const-lookup", nodes[2].NodeType)
	}
	if nodes[0].Relation != "employees" {
		t.Fatalf("got relation %q, want employees", nodes[0].Relation)
	}
	if nodes[0].EstimatedRows == nil || *nodes[0].EstimatedRows != 1000 {
		t.Fatalf("got rows %v, want 1000", nodes[0].EstimatedRows)
	}
}

func TestParseTabular_UnknownAccessTypePassesThrough(t *testing.T) {
	rows := []exec.Row{{"type": "fulltext"}}
	nodes := parseTabular(rows)
	if nodes[0].NodeType != "fulltext" {
		t.Fatalf("got %q, want passthrough fulltext", nodes[0].NodeType)
	}
}

func TestParseQueryPlanRows_BuildsTreeByParentID(t *testing.T) {
	rows := []exec.Row{
		{"id": int64(1), "parent": int64(0), "detail": "SCAN employees"},
		{"id": int64(2), "parent": int64(1), "detail": "SEARCH departments USING INDEX"},
	}
	roots := parseQueryPlanRows(rows)
	if len(roots) != 1 {
		t.Fatalf("got %d roots, want 1", len(roots))
	}
	if roots[0].NodeType != "SCAN employees" {
		t.Fatalf("got %q", roots[0].NodeType)
	}
	if len(roots[0].Children) != 1 || roots[0].Children[0].NodeType != "SEARCH departments USING INDEX" {
		t.Fatalf("got children %+v", roots[0].Children)
	}
}

func TestInlineParams_SubstitutesQuestionMarkPlaceholders(t *testing.T) {
	adapter, err := dialect.New(dialect.SQLite)
	if err != nil {
		t.Fatalf("dialect.New: %v", err)
	}
	got := inlineParams("SELECT * FROM t WHERE a = ? AND b = ?", []any{"x", 5}, adapter)
	want := "SELECT * FROM t WHERE a = 'x' AND b = 5"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestInlineParams_SubstitutesDollarPlaceholders(t *testing.T) {
	adapter, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatalf("dialect.New: %v", err)
	}
	got := inlineParams("SELECT * FROM t WHERE a = $1 AND b = $2", []any{"x", 5}, adapter)
	want := "SELECT * FROM t WHERE a = 'x' AND b = 5"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractFloatAfter_ReturnsSecondNumberForCostRange(t *testing.T) {
	f, ok := extractFloatAfter("cost=0.00..12.34 rows=5", "cost=")
	if !ok || f != 12.34 {
		t.Fatalf("got (%v, %v), want (12.34, true)", f, ok)
	}
}

func TestExtractFloatAfter_MissingMarkerReturnsFalse(t *testing.T) {
	if _, ok := extractFloatAfter("no markers here", "cost="); ok {
		t.Fatal("expected false for missing marker")
	}
}

func TestTableIndexesQuery_PostgresUsesDollarPlaceholders(t *testing.T) {
	adapter, err := dialect.New(dialect.Postgres)
	if err != nil {
		t.Fatalf("dialect.New: %v", err)
	}
	sqlText, args, err := TableIndexesQuery(adapter, []string{"employees", "departments"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(args) != 2 {
		t.Fatalf("got %d args, want 2", len(args))
	}
	if !containsAll(sqlText, "$1", "$2", "pg_index") {
		t.Fatalf("unexpected sql: %q", sqlText)
	}
}

func TestTableIndexesQuery_MySQLUsesInformationSchema(t *testing.T) {
	adapter, err := dialect.New(dialect.MySQL)
	if err != nil {
		t.Fatalf("dialect.New: %v", err)
	}
	sqlText, args, err := TableIndexesQuery(adapter, []string{"employees"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(args) != 1 {
		t.Fatalf("got %d args, want 1", len(args))
	}
	if !containsAll(sqlText, "information_schema.statistics") {
		t.Fatalf("unexpected sql: %q", sqlText)
	}
}

func TestTableIndexesQuery_SQLiteRejectsMultipleTables(t *testing.T) {
	adapter, err := dialect.New(dialect.SQLite)
	if err != nil {
		t.Fatalf("dialect.New: %v", err)
	}
	if _, _, err := TableIndexesQuery(adapter, []string{"a", "b"}); err == nil {
		t.Fatal("expected error for multiple table names against sqlite")
	}
}

func TestTableIndexesQuery_SQLiteSingleTableUsesPragma(t *testing.T) {
	adapter, err := dialect.New(dialect.SQLite)
	if err != nil {
		t.Fatalf("dialect.New: %v", err)
	}
	sqlText, args, err := TableIndexesQuery(adapter, []string{"employees"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !containsAll(sqlText, "pragma_index_list") {
		t.Fatalf("unexpected sql: %q", sqlText)
	}
	if len(args) != 1 || args[0] != "employees" {
		t.Fatalf("got args %v", args)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
