// Package sampledata builds a small in-memory cube model — Employees,
// Departments, Productivity, and an event-stream PREvents cube — shared by
// cmd/sample and cmd/server so both demo the same six end-to-end scenarios
// against DuckDB-backed VALUES tables.
package sampledata

import (
	"fmt"
	"strings"
	"time"

	"github.com/lychee-technology/cubeengine"
)

func valuesRow(cols ...string) string {
	return "(" + strings.Join(cols, ", ") + ")"
}

func quoteLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// EmployeesCube and DepartmentsCube model a small HR domain: employees
// belong to departments, and an employee's activePercentage is a calculated
// measure over two simple counts.
func EmployeesCube() *cubeengine.Cube {
	rows := []string{
		valuesRow("1", "'Alice'", "TRUE", "10"),
		valuesRow("2", "'Bob'", "FALSE", "10"),
		valuesRow("3", "'Carol'", "TRUE", "10"),
		valuesRow("4", "'Dan'", "TRUE", "20"),
		valuesRow("5", "'Erin'", "FALSE", "20"),
		valuesRow("6", "'Frank'", "TRUE", "20"),
		valuesRow("7", "'Grace'", "TRUE", "20"),
		valuesRow("8", "'Heidi'", "TRUE", "20"),
		valuesRow("9", "'Ivan'", "FALSE", "20"),
		valuesRow("10", "'Judy'", "TRUE", "20"),
	}
	from := fmt.Sprintf("(VALUES %s) AS t(id, name, active, department_id)", strings.Join(rows, ", "))

	c := cubeengine.NewCube("Employees", "Employees")
	c.Base = func(qctx *cubeengine.QueryContext) (cubeengine.BaseQuery, error) {
		return cubeengine.BaseQuery{From: from}, nil
	}
	c.AddDimension(&cubeengine.Dimension{Name: "id", SQL: "id", Type: cubeengine.FieldNumber, PrimaryKey: true})
	c.AddDimension(&cubeengine.Dimension{Name: "name", SQL: "name", Type: cubeengine.FieldString})
	c.AddDimension(&cubeengine.Dimension{Name: "active", SQL: "active", Type: cubeengine.FieldBool})
	c.AddDimension(&cubeengine.Dimension{Name: "departmentId", SQL: "department_id", Type: cubeengine.FieldNumber})
	c.AddMeasure(&cubeengine.Measure{Name: "count", Kind: cubeengine.MeasureCount})
	c.AddMeasure(&cubeengine.Measure{
		Name: "activeCount", Kind: cubeengine.MeasureCount,
		Filters: []cubeengine.RowFilter{{Member: "Employees.active", Operator: cubeengine.OpEquals, Values: []any{true}}},
	})
	c.AddMeasure(&cubeengine.Measure{
		Name: "activePercentage", Kind: cubeengine.MeasureCalculated,
		Template: "({activeCount} * 100.0 / NULLIF({count}, 0))",
	})
	c.AddJoin("Departments", &cubeengine.Join{
		TargetCube: "Departments", Relationship: cubeengine.RelBelongsTo,
		On: []cubeengine.JoinPair{{SourceColumn: "department_id", TargetColumn: "id"}},
	})
	return c
}

func DepartmentsCube() *cubeengine.Cube {
	from := fmt.Sprintf("(VALUES %s) AS t(id, name)",
		strings.Join([]string{
			valuesRow("10", "'Engineering'"),
			valuesRow("20", "'Sales'"),
		}, ", "))

	c := cubeengine.NewCube("Departments", "Departments")
	c.Base = func(qctx *cubeengine.QueryContext) (cubeengine.BaseQuery, error) {
		return cubeengine.BaseQuery{From: from}, nil
	}
	c.AddDimension(&cubeengine.Dimension{Name: "id", SQL: "id", Type: cubeengine.FieldNumber, PrimaryKey: true})
	c.AddDimension(&cubeengine.Dimension{Name: "name", SQL: "name", Type: cubeengine.FieldString})
	return c
}

// ProductivityCube generates 90 days of daily lines-of-code per employee, so
// the moving-average scenario and the month-granularity scenario both have
// enough history to exercise.
func ProductivityCube() *cubeengine.Cube {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	employeeIDs := []int{1, 2, 3, 4}
	var rows []string
	for day := 0; day < 90; day++ {
		date := start.AddDate(0, 0, day)
		for i, empID := range employeeIDs {
			loc := 50 + (day*7+i*13)%120
			rows = append(rows, valuesRow(
				fmt.Sprintf("%d", empID),
				quoteLit(date.Format("2006-01-02")),
				fmt.Sprintf("%d", loc),
			))
		}
	}
	from := fmt.Sprintf("(VALUES %s) AS t(employee_id, date, lines_of_code)", strings.Join(rows, ", "))

	c := cubeengine.NewCube("Productivity", "Productivity")
	c.Base = func(qctx *cubeengine.QueryContext) (cubeengine.BaseQuery, error) {
		return cubeengine.BaseQuery{From: from}, nil
	}
	c.AddDimension(&cubeengine.Dimension{Name: "employeeId", SQL: "employee_id", Type: cubeengine.FieldNumber})
	c.AddDimension(&cubeengine.Dimension{Name: "date", SQL: "date::TIMESTAMP", Type: cubeengine.FieldTime})
	c.AddMeasure(&cubeengine.Measure{Name: "totalLinesOfCode", Kind: cubeengine.MeasureSum, SQL: "lines_of_code"})
	c.AddMeasure(&cubeengine.Measure{
		Name: "movingAvg7Period", Kind: cubeengine.MeasureWindow,
		WindowOp: cubeengine.WindowMovingAvg, SourceMeasure: "totalLinesOfCode",
		Frame: &cubeengine.WindowFrame{
			Start: cubeengine.FrameBound{Kind: "n", N: -6},
			End:   cubeengine.FrameBound{Kind: "current"},
		},
	})
	c.AddJoin("Employees", &cubeengine.Join{
		TargetCube: "Employees", Relationship: cubeengine.RelBelongsTo,
		On: []cubeengine.JoinPair{{SourceColumn: "employee_id", TargetColumn: "id"}},
	})
	return c
}

// PREventsCube is the event-stream cube a flow query walks: one row per
// pull-request lifecycle event.
func PREventsCube() *cubeengine.Cube {
	type event struct {
		pr        int
		eventType string
		offset    int // minutes after a per-PR base time
	}
	events := []event{
		{101, "opened", 0}, {101, "review_requested", 30}, {101, "approved", 120}, {101, "merged", 150},
		{102, "opened", 0}, {102, "review_requested", 20}, {102, "merged", 200},
		{103, "opened", 0}, {103, "review_requested", 45}, {103, "approved", 90},
		{104, "opened", 0}, {104, "merged", 60},
	}
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	var rows []string
	for _, e := range events {
		rows = append(rows, valuesRow(
			fmt.Sprintf("%d", e.pr),
			quoteLit(e.eventType),
			quoteLit(base.Add(time.Duration(e.offset)*time.Minute).Format("2006-01-02 15:04:05")),
		))
	}
	from := fmt.Sprintf("(VALUES %s) AS t(pr_number, event_type, event_time)", strings.Join(rows, ", "))

	c := cubeengine.NewCube("PREvents", "Pull Request Events")
	c.EventStream = true
	c.Base = func(qctx *cubeengine.QueryContext) (cubeengine.BaseQuery, error) {
		return cubeengine.BaseQuery{From: from}, nil
	}
	c.AddDimension(&cubeengine.Dimension{Name: "prNumber", SQL: "pr_number", Type: cubeengine.FieldNumber})
	c.AddDimension(&cubeengine.Dimension{Name: "eventType", SQL: "event_type", Type: cubeengine.FieldString})
	c.AddDimension(&cubeengine.Dimension{Name: "eventTime", SQL: "event_time::TIMESTAMP", Type: cubeengine.FieldTime})
	return c
}

// RegisterDemoCubes registers all four demo cubes into registry and freezes
// it, ready for querying.
func RegisterDemoCubes(registry cubeengine.CubeRegistry) error {
	for _, c := range []*cubeengine.Cube{EmployeesCube(), DepartmentsCube(), ProductivityCube(), PREventsCube()} {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("register %s: %w", c.Name, err)
		}
	}
	return registry.Freeze()
}
