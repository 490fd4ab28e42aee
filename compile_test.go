package cubeengine

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/lychee-technology/cubeengine/internal/dialect"
)

func employeesDeptRegistry(t *testing.T) CubeRegistry {
	t.Helper()
	r := NewCubeRegistry()

	employees := NewCube("Employees", "Employees")
	employees.Base = func(qctx *QueryContext) (BaseQuery, error) {
		return BaseQuery{From: "employees"}, nil
	}
	employees.AddDimension(&Dimension{Name: "id", SQL: "id", Type: FieldString, PrimaryKey: true})
	employees.AddDimension(&Dimension{Name: "departmentId", SQL: "department_id", Type: FieldString})
	employees.AddDimension(&Dimension{Name: "hiredAt", SQL: "hired_at", Type: FieldTime})
	employees.AddMeasure(&Measure{Name: "count", Kind: MeasureCount})
	employees.AddMeasure(&Measure{Name: "salarySum", Kind: MeasureSum, SQL: "salary"})
	employees.AddJoin("dept", &Join{
		TargetCube:   "Departments",
		Relationship: RelBelongsTo,
		On:           []JoinPair{{SourceColumn: "department_id", TargetColumn: "id"}},
	})

	departments := NewCube("Departments", "Departments")
	departments.Base = func(qctx *QueryContext) (BaseQuery, error) {
		return BaseQuery{From: "departments"}, nil
	}
	departments.AddDimension(&Dimension{Name: "id", SQL: "id", Type: FieldString, PrimaryKey: true})
	departments.AddDimension(&Dimension{Name: "name", SQL: "name", Type: FieldString})

	if err := r.Register(employees); err != nil {
		t.Fatalf("register employees: %v", err)
	}
	if err := r.Register(departments); err != nil {
		t.Fatalf("register departments: %v", err)
	}
	if err := r.Freeze(); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	return r
}

func newTestEngine(t *testing.T, name dialect.Name) *Engine {
	t.Helper()
	adapter, err := dialect.New(name)
	if err != nil {
		t.Fatalf("dialect.New: %v", err)
	}
	return NewEngine(employeesDeptRegistry(t), adapter, nil, DefaultEngineConfig())
}

func testQCtx() *QueryContext {
	return NewQueryContext(context.Background(), SecurityContext{})
}

func TestCompileStandard_SimpleMeasureOnly(t *testing.T) {
	e := newTestEngine(t, dialect.Postgres)
	compiled, err := e.Compile(SemanticQuery{Measures: []string{"Employees.count"}}, testQCtx())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, "COUNT(*)") {
		t.Fatalf("expected COUNT(*) in SQL, got %s", compiled.SQL)
	}
	if !strings.Contains(compiled.SQL, "employees") {
		t.Fatalf("expected base table in SQL, got %s", compiled.SQL)
	}
}

func TestCompileStandard_DimensionAddsJoin(t *testing.T) {
	e := newTestEngine(t, dialect.Postgres)
	compiled, err := e.Compile(SemanticQuery{
		Measures:   []string{"Employees.count"},
		Dimensions: []string{"Departments.name"},
	}, testQCtx())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, "JOIN") {
		t.Fatalf("expected a join clause, got %s", compiled.SQL)
	}
	if !strings.Contains(compiled.SQL, "departments") {
		t.Fatalf("expected departments table, got %s", compiled.SQL)
	}
}

func TestCompileStandard_OffsetWithoutLimitErrors(t *testing.T) {
	e := newTestEngine(t, dialect.Postgres)
	offset := 10
	_, err := e.Compile(SemanticQuery{Measures: []string{"Employees.count"}, Offset: &offset}, testQCtx())
	if !IsKind(err, ErrOffsetWithoutLimit) {
		t.Fatalf("got %v, want ErrOffsetWithoutLimit", err)
	}
}

func TestCompileStandard_UnknownMeasureErrors(t *testing.T) {
	e := newTestEngine(t, dialect.Postgres)
	_, err := e.Compile(SemanticQuery{Measures: []string{"Employees.bogus"}}, testQCtx())
	if !IsKind(err, ErrUnknownField) {
		t.Fatalf("got %v, want ErrUnknownField", err)
	}
}

func TestCompileStandard_FilterOnDimensionProducesWhere(t *testing.T) {
	e := newTestEngine(t, dialect.Postgres)
	compiled, err := e.Compile(SemanticQuery{
		Measures: []string{"Employees.count"},
		Filters:  FilterLeaf{Member: "Employees.departmentId", Operator: OpEquals, Values: []any{"42"}},
	}, testQCtx())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, "WHERE") {
		t.Fatalf("expected WHERE clause, got %s", compiled.SQL)
	}
	if len(compiled.Params) != 1 || compiled.Params[0] != "42" {
		t.Fatalf("got params %+v", compiled.Params)
	}
}

func TestCompileStandard_FilterOnMeasureProducesHaving(t *testing.T) {
	e := newTestEngine(t, dialect.Postgres)
	compiled, err := e.Compile(SemanticQuery{
		Measures: []string{"Employees.count"},
		Filters:  FilterLeaf{Member: "Employees.count", Operator: OpGt, Values: []any{5}},
	}, testQCtx())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, "HAVING") {
		t.Fatalf("expected HAVING clause, got %s", compiled.SQL)
	}
}

func TestCompileStandard_OrderOnUnprojectedFieldErrors(t *testing.T) {
	e := newTestEngine(t, dialect.Postgres)
	_, err := e.Compile(SemanticQuery{
		Measures: []string{"Employees.count"},
		Order:    []Order{{Field: "Employees.salarySum", Direction: OrderDesc}},
	}, testQCtx())
	if !IsKind(err, ErrInvalidOrderField) {
		t.Fatalf("got %v, want ErrInvalidOrderField", err)
	}
}

func TestCompileStandard_LimitCappedAtMaxLimit(t *testing.T) {
	e := newTestEngine(t, dialect.Postgres)
	big := e.Config.Query.MaxLimit + 1000
	compiled, err := e.Compile(SemanticQuery{Measures: []string{"Employees.count"}, Limit: &big}, testQCtx())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := "LIMIT " + strconv.Itoa(e.Config.Query.MaxLimit)
	if !strings.Contains(compiled.SQL, want) {
		t.Fatalf("expected %q in SQL, got %s", want, compiled.SQL)
	}
}

func TestCompileStandard_UnreferencedCubeGraphIsUnconnectedErrors(t *testing.T) {
	r := NewCubeRegistry()
	a := NewCube("A", "A")
	a.Base = func(qctx *QueryContext) (BaseQuery, error) { return BaseQuery{From: "a"}, nil }
	a.AddMeasure(&Measure{Name: "count", Kind: MeasureCount})
	b := NewCube("B", "B")
	b.Base = func(qctx *QueryContext) (BaseQuery, error) { return BaseQuery{From: "b"}, nil }
	b.AddDimension(&Dimension{Name: "name", SQL: "name", Type: FieldString})
	if err := r.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := r.Register(b); err != nil {
		t.Fatalf("register b: %v", err)
	}
	if err := r.Freeze(); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	adapter, _ := dialect.New(dialect.Postgres)
	e := NewEngine(r, adapter, nil, DefaultEngineConfig())
	_, err := e.Compile(SemanticQuery{Measures: []string{"A.count"}, Dimensions: []string{"B.name"}}, testQCtx())
	if !IsKind(err, ErrUnconnectedCubes) {
		t.Fatalf("got %v, want ErrUnconnectedCubes", err)
	}
}

func TestCompileStandard_CalculatedMeasureCycleErrors(t *testing.T) {
	r := NewCubeRegistry()
	c := NewCube("Employees", "Employees")
	c.Base = func(qctx *QueryContext) (BaseQuery, error) { return BaseQuery{From: "employees"}, nil }
	c.AddMeasure(&Measure{Name: "a", Kind: MeasureCalculated, Template: "{b}"})
	c.AddMeasure(&Measure{Name: "b", Kind: MeasureCalculated, Template: "{a}"})
	if err := r.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Freeze(); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	adapter, _ := dialect.New(dialect.Postgres)
	e := NewEngine(r, adapter, nil, DefaultEngineConfig())
	_, err := e.Compile(SemanticQuery{Measures: []string{"Employees.a"}}, testQCtx())
	if !IsKind(err, ErrCalcCycle) {
		t.Fatalf("got %v, want ErrCalcCycle", err)
	}
}

func TestCompileFlow_SQLiteUnsupportedDialectErrors(t *testing.T) {
	r := NewCubeRegistry()
	events := NewCube("Events", "Events")
	events.EventStream = true
	events.Base = func(qctx *QueryContext) (BaseQuery, error) { return BaseQuery{From: "events"}, nil }
	events.AddDimension(&Dimension{Name: "userId", SQL: "user_id", Type: FieldString})
	events.AddDimension(&Dimension{Name: "time", SQL: "occurred_at", Type: FieldTime})
	events.AddDimension(&Dimension{Name: "type", SQL: "event_type", Type: FieldString})
	if err := r.Register(events); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Freeze(); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	adapter, _ := dialect.New(dialect.SQLite)
	e := NewEngine(r, adapter, nil, DefaultEngineConfig())
	_, err := e.Compile(SemanticQuery{Flow: &FlowQueryConfig{
		StartingStep:   FilterLeaf{Member: "Events.type", Operator: OpEquals, Values: []any{"signup"}},
		BindingKey:     "Events.userId",
		TimeDimension:  "Events.time",
		EventDimension: "Events.type",
	}}, testQCtx())
	if !IsKind(err, ErrFlowEngineUnsupported) {
		t.Fatalf("got %v, want ErrFlowEngineUnsupported", err)
	}
}

func TestCompileFlow_PostgresProducesStartingEntitiesCTE(t *testing.T) {
	r := NewCubeRegistry()
	events := NewCube("Events", "Events")
	events.EventStream = true
	events.Base = func(qctx *QueryContext) (BaseQuery, error) { return BaseQuery{From: "events"}, nil }
	events.AddDimension(&Dimension{Name: "userId", SQL: "user_id", Type: FieldString})
	events.AddDimension(&Dimension{Name: "time", SQL: "occurred_at", Type: FieldTime})
	events.AddDimension(&Dimension{Name: "type", SQL: "event_type", Type: FieldString})
	if err := r.Register(events); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Freeze(); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	adapter, _ := dialect.New(dialect.Postgres)
	e := NewEngine(r, adapter, nil, DefaultEngineConfig())
	compiled, err := e.Compile(SemanticQuery{Flow: &FlowQueryConfig{
		StartingStep:   FilterLeaf{Member: "Events.type", Operator: OpEquals, Values: []any{"signup"}},
		BindingKey:     "Events.userId",
		TimeDimension:  "Events.time",
		EventDimension: "Events.type",
		StepsAfter:     1,
	}}, testQCtx())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(compiled.SQL, "starting_entities") {
		t.Fatalf("expected starting_entities CTE, got %s", compiled.SQL)
	}
}

func TestCompileFlow_MissingStartingStepErrors(t *testing.T) {
	r := NewCubeRegistry()
	events := NewCube("Events", "Events")
	events.EventStream = true
	events.Base = func(qctx *QueryContext) (BaseQuery, error) { return BaseQuery{From: "events"}, nil }
	events.AddDimension(&Dimension{Name: "userId", SQL: "user_id", Type: FieldString})
	events.AddDimension(&Dimension{Name: "time", SQL: "occurred_at", Type: FieldTime})
	events.AddDimension(&Dimension{Name: "type", SQL: "event_type", Type: FieldString})
	if err := r.Register(events); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Freeze(); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	adapter, _ := dialect.New(dialect.Postgres)
	e := NewEngine(r, adapter, nil, DefaultEngineConfig())
	_, err := e.Compile(SemanticQuery{Flow: &FlowQueryConfig{
		BindingKey:     "Events.userId",
		TimeDimension:  "Events.time",
		EventDimension: "Events.type",
	}}, testQCtx())
	if !IsKind(err, ErrFlowMissingStartingStep) {
		t.Fatalf("got %v, want ErrFlowMissingStartingStep", err)
	}
}

func TestCompileFlow_DepthOutOfRangeErrors(t *testing.T) {
	r := NewCubeRegistry()
	events := NewCube("Events", "Events")
	events.EventStream = true
	events.Base = func(qctx *QueryContext) (BaseQuery, error) { return BaseQuery{From: "events"}, nil }
	events.AddDimension(&Dimension{Name: "userId", SQL: "user_id", Type: FieldString})
	events.AddDimension(&Dimension{Name: "time", SQL: "occurred_at", Type: FieldTime})
	events.AddDimension(&Dimension{Name: "type", SQL: "event_type", Type: FieldString})
	if err := r.Register(events); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Freeze(); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	adapter, _ := dialect.New(dialect.Postgres)
	e := NewEngine(r, adapter, nil, DefaultEngineConfig())
	_, err := e.Compile(SemanticQuery{Flow: &FlowQueryConfig{
		StartingStep:   FilterLeaf{Member: "Events.type", Operator: OpEquals, Values: []any{"signup"}},
		BindingKey:     "Events.userId",
		TimeDimension:  "Events.time",
		EventDimension: "Events.type",
		StepsBefore:    99,
	}}, testQCtx())
	if !IsKind(err, ErrFlowDepthOutOfRange) {
		t.Fatalf("got %v, want ErrFlowDepthOutOfRange", err)
	}
}
