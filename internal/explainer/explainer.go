// Package explainer runs and parses EXPLAIN output per dialect (spec
// §4.10), and retrieves existing indexes from each engine's system
// catalog. It is grounded on forma's catalog-probing style
// (internal/postgres_health.go, internal/s3_health.go).
package explainer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/lychee-technology/cubeengine/internal/dialect"
	"github.com/lychee-technology/cubeengine/internal/exec"
)

// Node is one node of the normalized operation tree.
type Node struct {
	NodeType      string
	Relation      string
	EstimatedRows *float64
	EstimatedCost *float64
	ActualRows    *float64
	ActualTime    *float64
	Children      []Node
}

// Result is the normalized EXPLAIN output.
type Result struct {
	Operations []Node
	Raw        []string
}

// Run executes the dialect's EXPLAIN command and parses its output.
func Run(ctx context.Context, runner exec.Runner, adapter *dialect.Adapter, sql string, params []any, analyze bool) (*Result, error) {
	cmd := string(adapter.ExplainCommand(analyze))

	explainSQL := sql
	explainParams := params
	if !adapter.AcceptsParamsInExplain() {
		explainSQL = inlineParams(sql, params, adapter)
		explainParams = nil
	}

	res, err := runner.Run(ctx, cmd+" "+explainSQL, explainParams)
	if err != nil {
		return nil, fmt.Errorf("explainer: %w", err)
	}

	raw := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		raw = append(raw, formatRow(row))
	}

	var ops []Node
	switch adapter.Name() {
	case dialect.Postgres, dialect.DuckDB:
		ops = parseTreeText(raw)
	case dialect.MySQL, dialect.SingleStore:
		ops = parseTabular(res.Rows)
	case dialect.SQLite:
		ops = parseQueryPlanRows(res.Rows)
	}

	return &Result{Operations: ops, Raw: raw}, nil
}

func formatRow(row exec.Row) string {
	// A single-column row (postgres's "QUERY PLAN") is one plan line as-is,
	// so its indentation and leading node type survive for parseTreeText.
	if len(row) == 1 {
		for _, v := range row {
			return fmt.Sprintf("%v", v)
		}
	}
	var parts []string
	for k, v := range row {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}

func inlineParams(sql string, params []any, adapter *dialect.Adapter) string {
	var b strings.Builder
	n := 0
	for i := 0; i < len(sql); i++ {
		if sql[i] == '?' && n < len(params) {
			b.WriteString(adapter.InlineLiteral(params[n]))
			n++
			continue
		}
		if sql[i] == '$' && i+1 < len(sql) && sql[i+1] >= '0' && sql[i+1] <= '9' {
			j := i + 1
			for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
				j++
			}
			idx, _ := strconv.Atoi(sql[i+1 : j])
			if idx-1 < len(params) {
				b.WriteString(adapter.InlineLiteral(params[idx-1]))
			}
			i = j - 1
			continue
		}
		b.WriteByte(sql[i])
	}
	return b.String()
}

// parseTreeText parses postgres/duckdb's textual plan tree, reading
// indentation depth to infer parent/child nesting and pulling rows/cost
// estimates (and actual rows/time when ANALYZE was used) out of each line.
func parseTreeText(lines []string) []Node {
	type stackEntry struct {
		depth int
		node  *Node
	}
	var roots []Node
	var stack []stackEntry

	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " ")
		depth := len(line) - len(trimmed)
		if trimmed == "" {
			continue
		}

		node := Node{NodeType: firstToken(trimmed)}
		if rows, ok := extractFloatAfter(trimmed, "rows="); ok {
			node.EstimatedRows = &rows
		}
		if cost, ok := extractFloatAfter(trimmed, "cost="); ok {
			node.EstimatedCost = &cost
		}
		if i := strings.Index(trimmed, "actual time="); i >= 0 {
			actual := trimmed[i:]
			if actualTime, ok := extractFloatAfter(actual, "actual time="); ok {
				node.ActualTime = &actualTime
			}
			if actualRows, ok := extractFloatAfter(actual, "rows="); ok {
				node.ActualRows = &actualRows
			}
		}

		for len(stack) > 0 && stack[len(stack)-1].depth >= depth {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, node)
			stack = append(stack, stackEntry{depth, &roots[len(roots)-1]})
		} else {
			parent := stack[len(stack)-1].node
			parent.Children = append(parent.Children, node)
			stack = append(stack, stackEntry{depth, &parent.Children[len(parent.Children)-1]})
		}
	}
	return roots
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	return fields[0]
}

func extractFloatAfter(s, marker string) (float64, bool) {
	idx := strings.Index(s, marker)
	if idx < 0 {
		return 0, false
	}
	rest := s[idx+len(marker):]
	end := strings.IndexAny(rest, " )")
	if end < 0 {
		end = len(rest)
	}
	// cost markers are typically "cost=0.00..1.23"; take the second number.
	numStr := rest[:end]
	if strings.Contains(numStr, "..") {
		parts := strings.SplitN(numStr, "..", 2)
		numStr = parts[1]
	}
	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseTabular parses mysql/singlestore's tabular EXPLAIN columns and maps
// `type` into an estimated severity node type.
func parseTabular(rows []exec.Row) []Node {
	nodes := make([]Node, 0, len(rows))
	for _, row := range rows {
		n := Node{NodeType: severityFor(stringField(row, "type"))}
		if table, ok := row["table"]; ok {
			n.Relation = fmt.Sprintf("%v", table)
		}
		if rowsVal, ok := row["rows"]; ok {
			if f, ok := toFloat(rowsVal); ok {
				n.EstimatedRows = &f
			}
		}
		nodes = append(nodes, n)
	}
	return nodes
}

func severityFor(accessType string) string {
	switch accessType {
	case "ALL":
		return "full-scan"
	case "index":
		return "index-scan"
	case "range":
		return "range-scan"
	case "ref", "eq_ref":
		return "ref-lookup"
	case "const", "system":
		return "const-lookup"
	default:
		return accessType
	}
}

// parseQueryPlanRows flattens sqlite's (id, parent, detail) EXPLAIN QUERY
// PLAN rows into a tree by parent id.
func parseQueryPlanRows(rows []exec.Row) []Node {
	type rec struct {
		id, parent int
		detail     string
	}
	var recs []rec
	for _, row := range rows {
		id, _ := toInt(row["id"])
		parent, _ := toInt(row["parent"])
		recs = append(recs, rec{id: id, parent: parent, detail: stringField(row, "detail")})
	}

	byID := make(map[int]*Node, len(recs))
	childrenOf := make(map[int][]int)
	for _, r := range recs {
		byID[r.id] = &Node{NodeType: r.detail}
		childrenOf[r.parent] = append(childrenOf[r.parent], r.id)
	}

	var build func(id int) Node
	build = func(id int) Node {
		n := *byID[id]
		for _, childID := range childrenOf[id] {
			n.Children = append(n.Children, build(childID))
		}
		return n
	}

	var roots []Node
	for _, childID := range childrenOf[0] {
		roots = append(roots, build(childID))
	}
	return roots
}

func stringField(row exec.Row, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case []byte:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	return int(f), ok
}

// TableIndexesQuery returns the catalog query for the given dialect, to be
// run through the caller's Runner; the shape of its result columns is
// documented per-dialect since each catalog names them differently — the
// caller normalizes rows into cubeengine.IndexInfo.
func TableIndexesQuery(adapter *dialect.Adapter, tableNames []string) (string, []any, error) {
	switch adapter.Name() {
	case dialect.Postgres, dialect.DuckDB:
		placeholders := make([]string, len(tableNames))
		args := make([]any, len(tableNames))
		for i, t := range tableNames {
			placeholders[i] = adapter.Placeholder(i + 1)
			args[i] = t
		}
		return fmt.Sprintf(
			`SELECT t.relname AS table_name, i.relname AS index_name, ix.indisunique AS is_unique, ix.indisprimary AS is_primary
			 FROM pg_index ix
			 JOIN pg_class t ON t.oid = ix.indrelid
			 JOIN pg_class i ON i.oid = ix.indexrelid
			 WHERE t.relname IN (%s)`, strings.Join(placeholders, ", ")), args, nil
	case dialect.MySQL, dialect.SingleStore:
		placeholders := make([]string, len(tableNames))
		args := make([]any, len(tableNames))
		for i, t := range tableNames {
			placeholders[i] = "?"
			args[i] = t
		}
		return fmt.Sprintf(
			`SELECT table_name, index_name, non_unique, column_name
			 FROM information_schema.statistics WHERE table_name IN (%s)`, strings.Join(placeholders, ", ")), args, nil
	case dialect.SQLite:
		if len(tableNames) != 1 {
			return "", nil, fmt.Errorf("explainer: sqlite pragma_index_list takes exactly one table name")
		}
		return `SELECT name AS index_name, "unique" AS is_unique FROM pragma_index_list(?)`, []any{tableNames[0]}, nil
	default:
		return "", nil, fmt.Errorf("explainer: unsupported dialect for tableIndexes")
	}
}
