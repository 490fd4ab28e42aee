package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/lychee-technology/cubeengine"
	"github.com/lychee-technology/cubeengine/factory"
	"github.com/lychee-technology/cubeengine/internal/sampledata"
)

func main() {
	dbPath := flag.String("db-path", "", "DuckDB database path (empty for in-memory)")
	queryFile := flag.String("query", "", "path to a JSON-encoded SemanticQuery (defaults to a built-in demo query)")
	analyze := flag.Bool("analyze", false, "run EXPLAIN ANALYZE instead of a plan-only EXPLAIN")
	indexesOnly := flag.Bool("indexes", false, "print the index catalog for the query's tables instead of the plan")
	flag.Parse()

	ctx := context.Background()
	registry := cubeengine.NewCubeRegistry()
	if err := sampledata.RegisterDemoCubes(registry); err != nil {
		log.Fatalf("register cubes: %v", err)
	}
	engine, err := factory.NewDuckDBEngine(ctx, *dbPath, registry, nil)
	if err != nil {
		log.Fatalf("open engine: %v", err)
	}
	defer engine.Runner.Close()

	query, err := loadQuery(*queryFile)
	if err != nil {
		log.Fatalf("load query: %v", err)
	}
	qctx := cubeengine.NewQueryContext(ctx, cubeengine.SecurityContext{})

	if *indexesOnly {
		printIndexes(engine, query)
		return
	}

	result, err := engine.Explain(query, qctx, *analyze)
	if err != nil {
		log.Fatalf("explain: %v", err)
	}
	printExplain(result)
}

func loadQuery(path string) (cubeengine.SemanticQuery, error) {
	if path == "" {
		return cubeengine.SemanticQuery{
			Measures:   []string{"Employees.count", "Employees.activeCount"},
			Dimensions: []string{"Employees.departmentId"},
		}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cubeengine.SemanticQuery{}, err
	}
	var q cubeengine.SemanticQuery
	if err := json.Unmarshal(data, &q); err != nil {
		return cubeengine.SemanticQuery{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return q, nil
}

// printExplain renders the normalized operation tree, color-coding each
// node label by its operation type (see nodeLabel) and printing row/cost
// estimates in yellow, the way janus-datalog's query REPL colors scan counts
// and datom totals in its output.
func printExplain(result *cubeengine.ExplainResult) {
	fmt.Println(color.BlueString("SQL:"), result.SQL.SQL)
	if len(result.SQL.Params) > 0 {
		fmt.Println(color.BlueString("Params:"), result.SQL.Params)
	}
	fmt.Println()

	for _, op := range result.Operations {
		printNode(op, 0)
	}

	fmt.Println()
	fmt.Println(color.YellowString("Rows processed:"), result.Summary.RowsProcessed)
	if result.Summary.Cost != nil {
		fmt.Println(color.YellowString("Cost:"), *result.Summary.Cost)
	}
	for _, w := range result.Summary.Warnings {
		fmt.Println(color.RedString("⚠ " + w))
	}
}

func printNode(node cubeengine.OperationNode, depth int) {
	indent := strings.Repeat("  ", depth)
	label := nodeLabel(node)
	fmt.Printf("%s%s", indent, label)
	if node.Relation != "" {
		fmt.Printf(" %s", color.CyanString(node.Relation))
	}
	if node.EstimatedRows != nil {
		fmt.Printf(" %s", color.YellowString("rows=%.0f", *node.EstimatedRows))
	}
	if node.EstimatedCost != nil {
		fmt.Printf(" %s", color.YellowString("cost=%.2f", *node.EstimatedCost))
	}
	if node.ActualRows != nil {
		fmt.Printf(" %s", color.GreenString("actual_rows=%.0f", *node.ActualRows))
	}
	fmt.Println()
	for _, child := range node.Children {
		printNode(child, depth+1)
	}
}

// nodeLabel color-codes the node's operation type: red for full scans (the
// plan shape worth flagging), green for index/ref lookups, plain otherwise.
func nodeLabel(node cubeengine.OperationNode) string {
	switch node.NodeType {
	case "full-scan", "ALL", "Seq Scan":
		return color.RedString(node.NodeType)
	case "index-scan", "ref-lookup", "const-lookup", "Index Scan", "Index Only Scan":
		return color.GreenString(node.NodeType)
	default:
		return color.BlueString(node.NodeType)
	}
}

func printIndexes(engine *cubeengine.Engine, query cubeengine.SemanticQuery) {
	tables := tableNamesFor(query)
	indexes, err := engine.TableIndexes(tables)
	if err != nil {
		log.Fatalf("table indexes: %v", err)
	}
	if len(indexes) == 0 {
		fmt.Println(color.YellowString("no indexes found for:"), strings.Join(tables, ", "))
		return
	}
	for _, idx := range indexes {
		flags := ""
		if idx.Primary {
			flags = color.GreenString(" [primary]")
		} else if idx.Unique {
			flags = color.CyanString(" [unique]")
		}
		fmt.Printf("%s.%s%s columns=%v\n", idx.TableName, idx.IndexName, flags, idx.Columns)
	}
}

// tableNamesFor collects the cube names named by a query's measures,
// dimensions and Cubes hint (time dimensions and filters are not scanned),
// which for the sample engine double as the underlying table/relation names.
func tableNamesFor(query cubeengine.SemanticQuery) []string {
	seen := map[string]bool{}
	var names []string
	add := func(ref string) {
		cube, _, found := strings.Cut(ref, ".")
		if !found || seen[cube] {
			return
		}
		seen[cube] = true
		names = append(names, cube)
	}
	for _, m := range query.Measures {
		add(m)
	}
	for _, d := range query.Dimensions {
		add(d)
	}
	for _, c := range query.Cubes {
		if !seen[c] {
			seen[c] = true
			names = append(names, c)
		}
	}
	return names
}
