package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/lychee-technology/cubeengine"
)

func valuesRow(cols ...string) string {
	return "(" + strings.Join(cols, ", ") + ")"
}

// employeesCube and departmentsCube are a larger-cardinality twin of
// cmd/sample's cubes, sized to give aggregate/join queries something
// non-trivial to scan.
func employeesCube() *cubeengine.Cube {
	departments := []int{10, 20, 30, 40, 50}
	var rows []string
	for id := 1; id <= 2000; id++ {
		active := "TRUE"
		if id%3 == 0 {
			active = "FALSE"
		}
		dept := departments[id%len(departments)]
		rows = append(rows, valuesRow(fmt.Sprintf("%d", id), fmt.Sprintf("'employee-%d'", id), active, fmt.Sprintf("%d", dept)))
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

func departmentsCube() *cubeengine.Cube {
	from := "(VALUES (10, 'Engineering'), (20, 'Sales'), (30, 'Support'), (40, 'Marketing'), (50, 'Operations')) AS t(id, name)"

	c := cubeengine.NewCube("Departments", "Departments")
	c.Base = func(qctx *cubeengine.QueryContext) (cubeengine.BaseQuery, error) {
		return cubeengine.BaseQuery{From: from}, nil
	}
	c.AddDimension(&cubeengine.Dimension{Name: "id", SQL: "id", Type: cubeengine.FieldNumber, PrimaryKey: true})
	c.AddDimension(&cubeengine.Dimension{Name: "name", SQL: "name", Type: cubeengine.FieldString})
	return c
}

// productivityCube generates a full year of daily rows for 50 employees, to
// give the moving-average window measure a realistic row count to scan.
func productivityCube() *cubeengine.Cube {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var rows []string
	for day := 0; day < 365; day++ {
		date := start.AddDate(0, 0, day)
		for empID := 1; empID <= 50; empID++ {
			loc := 40 + (day*11+empID*7)%150
			rows = append(rows, valuesRow(
				fmt.Sprintf("%d", empID),
				fmt.Sprintf("'%s'", date.Format("2006-01-02")),
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

func registerBenchmarkCubes(registry cubeengine.CubeRegistry) error {
	for _, c := range []*cubeengine.Cube{employeesCube(), departmentsCube(), productivityCube()} {
		if err := registry.Register(c); err != nil {
			return fmt.Errorf("register %s: %w", c.Name, err)
		}
	}
	return registry.Freeze()
}
