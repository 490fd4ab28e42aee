package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/lychee-technology/cubeengine"
	"github.com/lychee-technology/cubeengine/factory"
	"github.com/lychee-technology/cubeengine/internal/sampledata"
)

func main() {
	dbPath := flag.String("db-path", "", "DuckDB database path (empty for in-memory)")
	scenario := flag.String("scenario", "all", "Scenario to run: s1-s6 or all")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	logger := log.New(os.Stdout, "", log.LstdFlags)
	if *verbose {
		logger.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	ctx := context.Background()

	registry := cubeengine.NewCubeRegistry()
	if err := sampledata.RegisterDemoCubes(registry); err != nil {
		logger.Fatalf("register cubes: %v", err)
	}

	engine, err := factory.NewDuckDBEngine(ctx, *dbPath, registry, nil)
	if err != nil {
		logger.Fatalf("open engine: %v", err)
	}
	defer engine.Runner.Close()

	logger.Printf("engine ready: dialect=%s cubes=%d", engine.Adapter.Name(), len(registry.Metadata()))

	for _, s := range scenarios {
		if *scenario != "all" && *scenario != s.id {
			continue
		}
		fmt.Printf("\n=== %s: %s ===\n", strings.ToUpper(s.id), s.title)
		if err := s.run(engine); err != nil {
			logger.Printf("scenario %s failed: %v", s.id, err)
			continue
		}
	}
}

type scenario struct {
	id    string
	title string
	run   func(engine *cubeengine.Engine) error
}

var scenarios = []scenario{
	{"s1", "headcount and active count by department", runS1},
	{"s2", "monthly lines of code", runS2},
	{"s3", "active headcount joined across cubes by department name", runS3},
	{"s4", "calculated measure: active employee percentage", runS4},
	{"s5", "7-day moving average of lines of code", runS5},
	{"s6", "pull request lifecycle flow", runS6},
}

func runQuery(engine *cubeengine.Engine, q cubeengine.SemanticQuery) error {
	qctx := cubeengine.NewQueryContext(context.Background(), cubeengine.SecurityContext{})
	result, err := engine.Execute(q, qctx)
	if err != nil {
		return err
	}
	printResultSet(result)
	return nil
}

func runS1(engine *cubeengine.Engine) error {
	return runQuery(engine, cubeengine.SemanticQuery{
		Measures:   []string{"Employees.count", "Employees.activeCount"},
		Dimensions: []string{"Employees.departmentId"},
		Order:      []cubeengine.Order{{Field: "Employees.departmentId", Direction: cubeengine.OrderAsc}},
	})
}

func runS2(engine *cubeengine.Engine) error {
	return runQuery(engine, cubeengine.SemanticQuery{
		Measures: []string{"Productivity.totalLinesOfCode"},
		TimeDimensions: []cubeengine.TimeDimension{
			{Dimension: "Productivity.date", Granularity: cubeengine.GranularityMonth},
		},
		Order: []cubeengine.Order{{Field: "Productivity.date", Direction: cubeengine.OrderAsc}},
	})
}

func runS3(engine *cubeengine.Engine) error {
	return runQuery(engine, cubeengine.SemanticQuery{
		Measures:   []string{"Employees.activeCount"},
		Dimensions: []string{"Departments.name"},
		Order:      []cubeengine.Order{{Field: "Departments.name", Direction: cubeengine.OrderAsc}},
	})
}

func runS4(engine *cubeengine.Engine) error {
	return runQuery(engine, cubeengine.SemanticQuery{
		Measures:   []string{"Employees.activePercentage"},
		Dimensions: []string{"Employees.departmentId"},
		Order:      []cubeengine.Order{{Field: "Employees.departmentId", Direction: cubeengine.OrderAsc}},
	})
}

func runS5(engine *cubeengine.Engine) error {
	limit := 14
	return runQuery(engine, cubeengine.SemanticQuery{
		Measures:   []string{"Productivity.totalLinesOfCode", "Productivity.movingAvg7Period"},
		Dimensions: []string{"Productivity.employeeId"},
		TimeDimensions: []cubeengine.TimeDimension{
			{Dimension: "Productivity.date", Granularity: cubeengine.GranularityDay},
		},
		Filters: cubeengine.FilterLeaf{
			Member: "Productivity.employeeId", Operator: cubeengine.OpEquals, Values: []any{1},
		},
		Order: []cubeengine.Order{{Field: "Productivity.date", Direction: cubeengine.OrderAsc}},
		Limit: &limit,
	})
}

func runS6(engine *cubeengine.Engine) error {
	qctx := cubeengine.NewQueryContext(context.Background(), cubeengine.SecurityContext{})
	result, err := engine.Execute(cubeengine.SemanticQuery{
		Cubes: []string{"PREvents"},
		Flow: &cubeengine.FlowQueryConfig{
			StartingStep: cubeengine.FilterLeaf{
				Member: "PREvents.eventType", Operator: cubeengine.OpEquals, Values: []any{"opened"},
			},
			BindingKey:     "PREvents.prNumber",
			TimeDimension:  "PREvents.eventTime",
			EventDimension: "PREvents.eventType",
			StepsAfter:     3,
			OutputMode:     cubeengine.OutputSankey,
		},
	}, qctx)
	if err != nil {
		return err
	}
	printResultSet(result)
	return nil
}

// printResultSet renders a query result as a markdown table, the way
// table_formatter.go's TableFormatter renders datalog relations.
func printResultSet(result *cubeengine.ResultSet) {
	if len(result.Data) == 0 {
		fmt.Println("_No rows_")
		return
	}

	columns := columnOrder(result.Data)
	tableString := &strings.Builder{}
	alignment := make([]tw.Align, len(columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(columns)

	for _, row := range result.Data {
		rendered := make([]string, len(columns))
		for i, col := range columns {
			rendered[i] = formatCell(row[col])
		}
		table.Append(rendered)
	}
	table.Render()

	fmt.Print(tableString.String())
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s: %s\n", w.Kind, w.Message)
	}
}

// columnOrder collects the union of keys across rows, favoring the first
// row's own ordering so dimension/measure columns stay stable.
func columnOrder(rows []cubeengine.Row) []string {
	var order []string
	seen := make(map[string]bool)
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				order = append(order, col)
			}
		}
	}
	return order
}

func formatCell(val any) string {
	if val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.2f", v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
