package cubeengine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lychee-technology/cubeengine/internal/datetime"
	"github.com/lychee-technology/cubeengine/internal/dialect"
	"github.com/lychee-technology/cubeengine/internal/exprresolver"
	"github.com/lychee-technology/cubeengine/internal/filterbuilder"
	"github.com/lychee-technology/cubeengine/internal/flowplanner"
	"github.com/lychee-technology/cubeengine/internal/joinplanner"
	"github.com/lychee-technology/cubeengine/internal/queryplanner"
)

var cubeFieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_]*$`)

// planContext carries the per-compile resolved state shared between
// dimension, measure and filter resolution, keeping compileStandard's body
// readable.
type planContext struct {
	e    *Engine
	qctx *QueryContext

	cubes map[string]*Cube // referenced cube name -> definition
	bases map[string]queryplanner.FromItem

	aliases     map[string]bool // every known projection alias, for order validation
	dimAliases  []string        // projected non-time dimension aliases, in order
	timeAliases []string        // projected time-bucket aliases, in order
}

type whereFragment struct {
	SQL  string
	Args []any
}

// compileStandard plans a non-flow SemanticQuery: it resolves every
// referenced cube's base relation, picks a join spanning tree, translates
// dimensions/measures/filters to SQL fragments and hands the assembled
// request to the query planner.
func (e *Engine) compileStandard(query SemanticQuery, qctx *QueryContext) (*CompiledSQL, error) {
	if query.Offset != nil && query.Limit == nil {
		return nil, NewOffsetWithoutLimitError()
	}

	referenced, err := referencedCubes(query)
	if err != nil {
		return nil, err
	}
	if len(referenced) == 0 {
		return nil, NewUnknownFieldError("")
	}

	pc := &planContext{
		e: e, qctx: qctx,
		cubes: map[string]*Cube{}, bases: map[string]queryplanner.FromItem{}, aliases: map[string]bool{},
	}
	for _, name := range referenced {
		cube, ok := e.Registry.Lookup(name)
		if !ok {
			return nil, NewUnknownFieldError(name)
		}
		pc.cubes[name] = cube
	}

	root, err := rootCube(query, referenced)
	if err != nil {
		return nil, err
	}

	graph, err := buildJoinGraph(e.Registry)
	if err != nil {
		return nil, err
	}
	if !joinplanner.Connected(graph, root, referenced) {
		return nil, NewUnconnectedCubesError(referenced)
	}
	plan, err := joinplanner.BuildPlan(graph, root, referenced)
	if err != nil {
		return nil, NewUnconnectedCubesError(referenced)
	}

	for _, name := range referenced {
		base, err := pc.cubes[name].Base(qctx)
		if err != nil {
			return nil, fmt.Errorf("cubeengine: cube %s base query: %w", name, err)
		}
		pc.bases[name] = queryplanner.FromItem{Cube: name, Alias: name, From: base.From, Where: base.Where, Args: base.Args}
	}

	dims, err := resolveDimensions(pc, query.Dimensions)
	if err != nil {
		return nil, err
	}
	for _, d := range dims {
		pc.aliases[d.Alias] = true
		pc.dimAliases = append(pc.dimAliases, d.Alias)
	}

	timeBuckets, timeExtra, comparisons, err := resolveTimeDimensions(pc, query.TimeDimensions)
	if err != nil {
		return nil, err
	}
	for _, d := range timeBuckets {
		pc.aliases[d.Alias] = true
		pc.timeAliases = append(pc.timeAliases, d.Alias)
	}

	aggregates, calculated, window, measureAliases, err := resolveMeasures(pc, query.Measures)
	if err != nil {
		return nil, err
	}
	for _, a := range measureAliases {
		pc.aliases[a] = true
	}

	whereSQL, whereArgs, havingSQL, havingArgs, err := resolveFilters(pc, query.Filters)
	if err != nil {
		return nil, err
	}
	whereSQL, whereArgs = appendFragments(whereSQL, whereArgs, timeExtra)

	order, err := resolveOrder(pc, query.Order)
	if err != nil {
		return nil, err
	}

	joins, warnings := assembleJoins(pc, plan, dims)

	limit, offset := e.resolveLimitOffset(query)

	req := queryplanner.Request{
		Adapter:     e.Adapter,
		Base:        pc.bases[root],
		Joins:       joins,
		Dimensions:  dims,
		TimeBuckets: timeBuckets,
		Aggregates:  aggregates,
		Calculated:  calculated,
		Window:      window,
		WhereSQL:    whereSQL,
		WhereArgs:   whereArgs,
		HavingSQL:   havingSQL,
		HavingArgs:  havingArgs,
		Order:       order,
		Limit:       limit,
		Offset:      offset,
		Comparisons: comparisons,
	}

	compiled, err := queryplanner.Compile(req)
	if err != nil {
		return nil, fmt.Errorf("cubeengine: %w", err)
	}

	return &CompiledSQL{SQL: compiled.SQL, Params: compiled.Params, NumericFields: compiled.NumericFields, Warnings: warnings}, nil
}

func appendFragments(sql string, args []any, extra []whereFragment) (string, []any) {
	parts := make([]string, 0, len(extra)+1)
	if sql != "" {
		parts = append(parts, sql)
	}
	for _, f := range extra {
		parts = append(parts, f.SQL)
		args = append(args, f.Args...)
	}
	return strings.Join(parts, " AND "), args
}

func (e *Engine) resolveLimitOffset(query SemanticQuery) (*int, *int) {
	limit := query.Limit
	if limit == nil {
		def := e.Config.Query.DefaultLimit
		limit = &def
	} else if *limit > e.Config.Query.MaxLimit {
		capped := e.Config.Query.MaxLimit
		limit = &capped
	}
	return limit, query.Offset
}

// referencedCubes collects every distinct "Cube" prefix named across
// measures, dimensions, time dimensions, order and the filter tree, plus any
// explicit Cubes hint.
func referencedCubes(query SemanticQuery) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(ref string) error {
		cube, _, err := splitCubeField(ref)
		if err != nil {
			return err
		}
		if !seen[cube] {
			seen[cube] = true
			out = append(out, cube)
		}
		return nil
	}

	for _, m := range query.Measures {
		if err := add(m); err != nil {
			return nil, err
		}
	}
	for _, d := range query.Dimensions {
		if err := add(d); err != nil {
			return nil, err
		}
	}
	for _, td := range query.TimeDimensions {
		if err := add(td.Dimension); err != nil {
			return nil, err
		}
	}
	for _, o := range query.Order {
		if cubeFieldPattern.MatchString(o.Field) {
			if err := add(o.Field); err != nil {
				return nil, err
			}
		}
	}
	if err := walkFilterCubes(query.Filters, add); err != nil {
		return nil, err
	}
	for _, c := range query.Cubes {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}

	sort.Strings(out)
	return out, nil
}

func walkFilterCubes(f Filter, add func(string) error) error {
	switch n := f.(type) {
	case nil:
		return nil
	case FilterLeaf:
		return add(n.Member)
	case FilterGroup:
		for _, child := range n.Filters {
			if err := walkFilterCubes(child, add); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}

func splitCubeField(ref string) (cube, field string, err error) {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", NewUnknownFieldError(ref)
	}
	return parts[0], parts[1], nil
}

// rootCube picks the join spanning tree's root: the first measure's cube if
// any measure is projected, else the first dimension's cube, else the first
// entry of the explicit Cubes hint.
func rootCube(query SemanticQuery, referenced []string) (string, error) {
	if len(query.Measures) > 0 {
		cube, _, err := splitCubeField(query.Measures[0])
		return cube, err
	}
	if len(query.Dimensions) > 0 {
		cube, _, err := splitCubeField(query.Dimensions[0])
		return cube, err
	}
	if len(query.Cubes) > 0 {
		return query.Cubes[0], nil
	}
	if len(referenced) > 0 {
		return referenced[0], nil
	}
	return "", NewUnknownFieldError("")
}

// buildJoinGraph walks every registered cube's declared joins into an
// undirected joinplanner graph. It registers the whole registry rather than
// just the referenced subset, which is simpler and still correct: cubes
// outside the referenced set never appear in a spanning tree built from it.
func buildJoinGraph(reg CubeRegistry) (*joinplanner.Graph, error) {
	graph := joinplanner.NewGraph()
	for _, desc := range reg.Metadata() {
		cube, ok := reg.Lookup(desc.Name)
		if !ok {
			continue
		}
		for _, j := range cube.Joins {
			if _, ok := reg.Lookup(j.TargetCube); !ok {
				return nil, NewRegistryUnresolvedJoinError(cube.Name, j.TargetCube)
			}
			pairs := make([]joinplanner.Pair, len(j.On))
			for i, p := range j.On {
				pairs[i] = joinplanner.Pair{SourceColumn: p.SourceColumn, TargetColumn: p.TargetColumn}
			}
			graph.AddEdge(joinplanner.Edge{
				Source:       cube.Name,
				Target:       j.TargetCube,
				Relationship: joinplanner.Relationship(j.Relationship),
				PreferredFor: j.PreferredFor,
				On:           pairs,
			})
		}
	}
	return graph, nil
}

// assembleJoins converts a join spanning tree's steps into SQL-ready
// queryplanner.JoinItem values, and reports the hasMany-fan-out warning
// when a hasMany step contributes no projected dimension.
func assembleJoins(pc *planContext, plan *joinplanner.Plan, dims []queryplanner.Dimension) ([]queryplanner.JoinItem, []QueryWarning) {
	projectedCube := map[string]bool{}
	for _, d := range dims {
		if cube, _, err := splitCubeField(d.Alias); err == nil {
			projectedCube[cube] = true
		}
	}

	var warnings []QueryWarning
	joins := make([]queryplanner.JoinItem, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		onParts := make([]string, 0, len(step.Edge.On))
		for _, p := range step.Edge.On {
			left, _ := exprresolver.ResolveColumn(pc.e.Adapter, step.From, p.SourceColumn)
			right, _ := exprresolver.ResolveColumn(pc.e.Adapter, step.To, p.TargetColumn)
			onParts = append(onParts, fmt.Sprintf("%s = %s", left.SQL, right.SQL))
		}
		joins = append(joins, queryplanner.JoinItem{
			Type:  string(step.Type),
			From:  pc.bases[step.To],
			OnSQL: strings.Join(onParts, " AND "),
		})
		if step.Type == joinplanner.Left && step.Edge.Relationship == joinplanner.HasMany && !projectedCube[step.To] {
			warnings = append(warnings, QueryWarning{Kind: WarnHasManyFanOut, Message: fmt.Sprintf("join to %s may duplicate rows from %s", step.To, step.From)})
		}
	}
	return joins, warnings
}

func resolveDimensions(pc *planContext, refs []string) ([]queryplanner.Dimension, error) {
	out := make([]queryplanner.Dimension, 0, len(refs))
	for _, ref := range refs {
		cubeName, field, err := splitCubeField(ref)
		if err != nil {
			return nil, err
		}
		cube, ok := pc.cubes[cubeName]
		if !ok {
			return nil, NewUnknownFieldError(ref)
		}
		dim, ok := cube.Dimensions[field]
		if !ok {
			return nil, NewUnknownFieldError(ref)
		}
		resolved, err := exprresolver.ResolveColumn(pc.e.Adapter, cubeName, dim.SQL)
		if err != nil {
			return nil, NewUnknownFieldError(ref)
		}
		out = append(out, queryplanner.Dimension{Alias: ref, SQL: resolved.SQL})
	}
	return out, nil
}

// resolveTimeDimensions resolves each timeDimensions[] entry into a bucket
// expression, any dateRange predicate, and (for the single entry carrying
// compareDateRange, if any) the current/prior comparison branches.
func resolveTimeDimensions(pc *planContext, tds []TimeDimension) ([]queryplanner.Dimension, []whereFragment, []queryplanner.ComparisonBranch, error) {
	var buckets []queryplanner.Dimension
	var extra []whereFragment
	var comparisons []queryplanner.ComparisonBranch

	for _, td := range tds {
		cubeName, field, err := splitCubeField(td.Dimension)
		if err != nil {
			return nil, nil, nil, err
		}
		cube, ok := pc.cubes[cubeName]
		if !ok {
			return nil, nil, nil, NewUnknownFieldError(td.Dimension)
		}
		dim, ok := cube.Dimensions[field]
		if !ok {
			return nil, nil, nil, NewUnknownFieldError(td.Dimension)
		}
		resolved, err := exprresolver.ResolveColumn(pc.e.Adapter, cubeName, dim.SQL)
		if err != nil {
			return nil, nil, nil, NewUnknownFieldError(td.Dimension)
		}

		alias := timeDimensionAlias(td)
		bucketSQL := resolved.SQL
		if td.Granularity != "" {
			if !datetime.ValidateGranularity(datetime.Granularity(td.Granularity)) {
				return nil, nil, nil, NewInvalidGranularityError(string(td.Granularity))
			}
			bucketSQL = pc.e.Adapter.DateTrunc(string(td.Granularity), resolved.SQL)
		}
		buckets = append(buckets, queryplanner.Dimension{Alias: alias, SQL: bucketSQL})

		if td.DateRange != nil {
			r, err := datetime.ParseNamedRange(td.DateRange, pc.qctx.Now)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("cubeengine: dateRange for %s: %w", td.Dimension, err)
			}
			extra = append(extra, whereFragment{
				SQL:  fmt.Sprintf("(%s >= ? AND %s <= ?)", resolved.SQL, resolved.SQL),
				Args: []any{r.Start, r.End},
			})
		}

		if td.CompareDateRange != nil && len(comparisons) == 0 {
			current, err := datetime.ParseNamedRange(td.CompareDateRange, pc.qctx.Now)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("cubeengine: compareDateRange for %s: %w", td.Dimension, err)
			}
			prior := current.PriorPeriod()
			comparisons = []queryplanner.ComparisonBranch{
				{Period: "current", FilterSQL: fmt.Sprintf("(%s >= ? AND %s <= ?)", resolved.SQL, resolved.SQL), FilterArgs: []any{current.Start, current.End}},
				{Period: "prior", FilterSQL: fmt.Sprintf("(%s >= ? AND %s <= ?)", resolved.SQL, resolved.SQL), FilterArgs: []any{prior.Start, prior.End}},
			}
		}
	}

	return buckets, extra, comparisons, nil
}

// resolveMeasures translates every measures[] reference into its
// queryplanner shape: simple/statistical aggregations become AggMeasure,
// "calculated" becomes a CalcMeasure staged in the outer SELECT (with
// sibling-reference template substitution and cycle detection), and
// "window" becomes a WindowMeasure staged alongside it.
func resolveMeasures(pc *planContext, refs []string) (aggregates []queryplanner.AggMeasure, calculated []queryplanner.CalcMeasure, window []queryplanner.WindowMeasure, aliases []string, err error) {
	for _, ref := range refs {
		cubeName, field, splitErr := splitCubeField(ref)
		if splitErr != nil {
			return nil, nil, nil, nil, splitErr
		}
		cube, ok := pc.cubes[cubeName]
		if !ok {
			return nil, nil, nil, nil, NewUnknownFieldError(ref)
		}
		m, ok := cube.Measures[field]
		if !ok {
			return nil, nil, nil, nil, NewUnknownFieldError(ref)
		}

		switch m.Kind {
		case MeasureCalculated:
			sql, cerr := resolveCalculatedTemplate(cube, field, map[string]bool{})
			if cerr != nil {
				return nil, nil, nil, nil, cerr
			}
			calculated = append(calculated, queryplanner.CalcMeasure{Alias: ref, SQL: sql})

		case MeasureWindow:
			sql, werr := resolveWindowMeasure(pc, cube, m)
			if werr != nil {
				return nil, nil, nil, nil, werr
			}
			window = append(window, queryplanner.WindowMeasure{Alias: ref, SQL: sql})

		default:
			sql, merr := measureAggregateSQL(pc.e.Adapter, cubeName, m)
			if merr != nil {
				return nil, nil, nil, nil, merr
			}
			aggregates = append(aggregates, queryplanner.AggMeasure{Alias: ref, SQL: sql})
		}
		aliases = append(aliases, ref)
	}
	return aggregates, calculated, window, aliases, nil
}

// measureAggregateSQL translates a simple or statistical measure kind into
// its full aggregate call, applying any row-level filter via
// filterbuilder.RowFilterClause.
func measureAggregateSQL(adapter *dialect.Adapter, cubeName string, m *Measure) (string, error) {
	arg := "*"
	if m.SQL != "" {
		resolved, err := exprresolver.ResolveColumn(adapter, cubeName, m.SQL)
		if err != nil {
			return "", NewUnknownFieldError(cubeName + "." + m.Name)
		}
		arg = resolved.SQL
	}

	call, err := measureCall(adapter, m, arg)
	if err != nil {
		return "", err
	}

	if len(m.Filters) == 0 {
		return call, nil
	}
	predicate, err := rowFilterPredicate(adapter, cubeName, m.Filters)
	if err != nil {
		return "", err
	}
	aggName, aggArg := splitAggregateCall(call)
	if aggName == "" {
		return fmt.Sprintf("CASE WHEN %s THEN %s END", predicate, call), nil
	}
	return filterbuilder.RowFilterClause(adapter, aggName, aggArg, predicate), nil
}

func measureCall(a *dialect.Adapter, m *Measure, arg string) (string, error) {
	switch m.Kind {
	case MeasureCount:
		if m.SQL == "" {
			return "COUNT(*)", nil
		}
		return fmt.Sprintf("COUNT(%s)", arg), nil
	case MeasureCountDistinct:
		return fmt.Sprintf("COUNT(DISTINCT %s)", arg), nil
	case MeasureCountDistinctApprox:
		return approxCountDistinctSQL(a, arg), nil
	case MeasureSum:
		return fmt.Sprintf("SUM(%s)", arg), nil
	case MeasureAvg:
		return fmt.Sprintf("AVG(%s)", arg), nil
	case MeasureMin:
		return fmt.Sprintf("MIN(%s)", arg), nil
	case MeasureMax:
		return fmt.Sprintf("MAX(%s)", arg), nil
	case MeasureStddev:
		return fmt.Sprintf("STDDEV(%s)", arg), nil
	case MeasureMedian:
		expr, err := a.Percentile(0.5, arg)
		if err != nil {
			return "", fmt.Errorf("cubeengine: %w", err)
		}
		return expr, nil
	case MeasurePercentile:
		expr, err := a.Percentile(m.Percentile, arg)
		if err != nil {
			return "", fmt.Errorf("cubeengine: %w", err)
		}
		return expr, nil
	default:
		return "", fmt.Errorf("cubeengine: measure kind %q has no aggregate translation", m.Kind)
	}
}

// approxCountDistinctSQL uses each dialect's native approximate-distinct
// function where one exists, falling back to an exact COUNT(DISTINCT ...)
// on engines without one (mysql/singlestore/sqlite).
func approxCountDistinctSQL(a *dialect.Adapter, arg string) string {
	switch a.Name() {
	case dialect.Postgres, dialect.DuckDB:
		return fmt.Sprintf("approx_count_distinct(%s)", arg)
	default:
		return fmt.Sprintf("COUNT(DISTINCT %s)", arg)
	}
}

// splitAggregateCall pulls "COUNT"/"(*)" apart from a call like
// "COUNT(*)" so RowFilterClause can rebuild it with a FILTER/CASE wrapper.
// The split is at the first "(", so a percentile expression yields
// "PERCENTILE_CONT" plus the rest of the text, which RowFilterClause
// rebuilds unchanged. A call whose prefix contains a space or comma, or that
// has no parentheses, yields an empty name; the caller then wraps the whole
// expression in a CASE WHEN instead.
func splitAggregateCall(call string) (name, arg string) {
	idx := strings.Index(call, "(")
	if idx < 0 || !strings.HasSuffix(call, ")") {
		return "", call
	}
	name = call[:idx]
	if strings.ContainsAny(name, " ,") {
		return "", call
	}
	return name, call[idx+1 : len(call)-1]
}

func rowFilterPredicate(a *dialect.Adapter, cubeName string, filters []RowFilter) (string, error) {
	builder := &filterbuilder.Builder{Adapter: a, Fields: func(field string) (string, bool, error) {
		resolved, err := exprresolver.ResolveColumn(a, cubeName, field)
		return resolved.SQL, false, err
	}}
	var node filterbuilder.Node
	if len(filters) == 1 {
		node = filterbuilder.Leaf{Member: filters[0].Member, Operator: string(filters[0].Operator), Values: filters[0].Values}
	} else {
		children := make([]filterbuilder.Node, len(filters))
		for i, f := range filters {
			children[i] = filterbuilder.Leaf{Member: f.Member, Operator: string(f.Operator), Values: f.Values}
		}
		node = filterbuilder.Group{Logic: "and", Children: children}
	}
	built, err := builder.Build(node)
	return built.SQL, err
}

// resolveCalculatedTemplate substitutes {name} tokens in a calculated
// measure's template with the quoted outer-select alias of the named
// sibling measure, detecting reference cycles via the in-progress set.
func resolveCalculatedTemplate(cube *Cube, name string, inProgress map[string]bool) (string, error) {
	if inProgress[name] {
		return "", NewCalcCycleError(cube.Name, name)
	}
	inProgress[name] = true
	defer delete(inProgress, name)

	m, ok := cube.Measures[name]
	if !ok {
		return "", NewCalcUnresolvedError(cube.Name, name, name)
	}

	var substErr error
	result := calcTokenPattern.ReplaceAllStringFunc(m.Template, func(tok string) string {
		ref := tok[1 : len(tok)-1]
		sibling, ok := cube.Measures[ref]
		if !ok {
			substErr = NewCalcUnresolvedError(cube.Name, name, ref)
			return tok
		}
		if sibling.Kind == MeasureCalculated {
			if _, err := resolveCalculatedTemplate(cube, ref, inProgress); err != nil {
				substErr = err
				return tok
			}
		}
		return `"` + cube.Name + "." + ref + `"`
	})
	if substErr != nil {
		return "", substErr
	}
	return result, nil
}

var calcTokenPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// resolveWindowMeasure translates a window measure into its OVER-clause
// expression staged in the outer SELECT, partitioned by every projected
// non-time dimension and ordered by the measure's orderBy (or, absent one,
// the first projected time bucket). difference/percentChange transforms
// are computed directly against LAG(source) rather than nesting a window
// function inside another window function's arguments, which SQL disallows
// at the same SELECT level.
func resolveWindowMeasure(pc *planContext, cube *Cube, m *Measure) (string, error) {
	source, ok := cube.Measures[m.SourceMeasure]
	if !ok {
		return "", NewIncompatibleWindowError(cube.Name, m.Name, fmt.Sprintf("source measure %q is not defined", m.SourceMeasure))
	}
	if source.Kind == MeasureWindow {
		return "", NewIncompatibleWindowError(cube.Name, m.Name, "window measures cannot source from another window measure")
	}
	if !pc.e.Adapter.SupportsWindow() {
		return "", NewIncompatibleWindowError(cube.Name, m.Name, fmt.Sprintf("dialect %s does not support window functions", pc.e.Adapter.Name()))
	}

	sourceRef := pc.e.Adapter.QuoteIdent(cube.Name + "." + m.SourceMeasure)

	partition := make([]string, 0, len(pc.dimAliases))
	for _, alias := range pc.dimAliases {
		partition = append(partition, pc.e.Adapter.QuoteIdent(alias))
	}

	orderCols := make([]string, 0, len(m.OrderBy))
	for _, o := range m.OrderBy {
		orderCols = append(orderCols, pc.e.Adapter.QuoteIdent(o.Field)+" "+strings.ToUpper(string(o.Direction)))
	}
	if len(orderCols) == 0 && len(pc.timeAliases) > 0 {
		orderCols = append(orderCols, pc.e.Adapter.QuoteIdent(pc.timeAliases[0])+" ASC")
	}
	if len(orderCols) == 0 {
		return "", NewIncompatibleWindowError(cube.Name, m.Name, "window measure requires either orderBy or a projected time dimension")
	}

	partitionClause := ""
	if len(partition) > 0 {
		partitionClause = "PARTITION BY " + strings.Join(partition, ", ") + " "
	}
	over := fmt.Sprintf("OVER (%sORDER BY %s%s)", partitionClause, strings.Join(orderCols, ", "), frameClause(m.Frame, m.WindowOp))

	var raw string
	switch m.WindowOp {
	case WindowLag:
		raw = fmt.Sprintf("LAG(%s) %s", sourceRef, over)
	case WindowRank:
		raw = fmt.Sprintf("RANK() %s", over)
	case WindowMovingSum:
		raw = fmt.Sprintf("SUM(%s) %s", sourceRef, over)
	case WindowMovingAvg:
		raw = fmt.Sprintf("AVG(%s) %s", sourceRef, over)
	case WindowRunningTotal:
		raw = fmt.Sprintf("SUM(%s) %s", sourceRef, over)
	default:
		return "", NewIncompatibleWindowError(cube.Name, m.Name, fmt.Sprintf("unknown window op %q", m.WindowOp))
	}

	switch m.Transform {
	case WindowRaw, "":
		return raw, nil
	case WindowDifference:
		lag := fmt.Sprintf("LAG(%s) %s", sourceRef, over)
		return fmt.Sprintf("(%s - %s)", sourceRef, lag), nil
	case WindowPercentChange:
		lag := fmt.Sprintf("LAG(%s) %s", sourceRef, over)
		return fmt.Sprintf("((%s - %s) / NULLIF(%s, 0) * 100)", sourceRef, lag, lag), nil
	default:
		return "", NewIncompatibleWindowError(cube.Name, m.Name, fmt.Sprintf("unknown transform %q", m.Transform))
	}
}

func frameClause(f *WindowFrame, op WindowOp) string {
	if f == nil {
		if op == WindowMovingSum || op == WindowMovingAvg || op == WindowRunningTotal {
			return " ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW"
		}
		return ""
	}
	return fmt.Sprintf(" ROWS BETWEEN %s AND %s", frameBoundSQL(f.Start), frameBoundSQL(f.End))
}

func frameBoundSQL(b FrameBound) string {
	switch b.Kind {
	case "unbounded":
		return "UNBOUNDED PRECEDING"
	case "current":
		return "CURRENT ROW"
	default:
		if b.N < 0 {
			return fmt.Sprintf("%d PRECEDING", -b.N)
		}
		return fmt.Sprintf("%d FOLLOWING", b.N)
	}
}

// resolveFilters classifies the filter tree as a whole: if any leaf
// references a measure, the entire predicate is a HAVING clause (it can
// only be evaluated after aggregation); otherwise it's a WHERE clause.
// Splitting a single OR group across WHERE and HAVING would change its
// meaning, so the tree is never divided leaf-by-leaf.
func resolveFilters(pc *planContext, root Filter) (whereSQL string, whereArgs []any, havingSQL string, havingArgs []any, err error) {
	if root == nil {
		return "", nil, "", nil, nil
	}

	referencesMeasure, err := filterReferencesMeasure(pc, root)
	if err != nil {
		return "", nil, "", nil, err
	}

	builder := &filterbuilder.Builder{
		Adapter: pc.e.Adapter,
		Fields: func(field string) (string, bool, error) {
			return pc.resolveFieldSQL(field)
		},
		DateRange: func(dateRange any) (any, any, error) {
			r, err := datetime.ParseNamedRange(dateRange, pc.qctx.Now)
			if err != nil {
				return nil, nil, err
			}
			return r.Start, r.End, nil
		},
	}

	node, err := convertFilterNode(root)
	if err != nil {
		return "", nil, "", nil, err
	}
	built, err := builder.Build(node)
	if err != nil {
		return "", nil, "", nil, err
	}

	if referencesMeasure {
		return "", nil, built.SQL, built.Params, nil
	}
	return built.SQL, built.Params, "", nil, nil
}

// resolveFieldSQL resolves a cube-qualified field for use inside a filter
// predicate: a dimension resolves to its quoted base-table column; a
// simple/statistical measure resolves to its raw aggregate expression,
// since HAVING filters run against the inner aggregation, not the outer
// projection. Calculated and window measures have no inner-query
// expression to filter against.
func (pc *planContext) resolveFieldSQL(field string) (string, bool, error) {
	cubeName, fieldName, err := splitCubeField(field)
	if err != nil {
		return "", false, err
	}
	cube, ok := pc.cubes[cubeName]
	if !ok {
		return "", false, NewUnknownFieldError(field)
	}
	if dim, ok := cube.Dimensions[fieldName]; ok {
		resolved, err := exprresolver.ResolveColumn(pc.e.Adapter, cubeName, dim.SQL)
		return resolved.SQL, dim.Type == FieldTime, err
	}
	if m, ok := cube.Measures[fieldName]; ok {
		if m.Kind == MeasureCalculated || m.Kind == MeasureWindow {
			return "", false, fmt.Errorf("cubeengine: measure %q cannot be filtered (calculated/window measures have no inner-query expression)", field)
		}
		sql, err := measureAggregateSQL(pc.e.Adapter, cubeName, m)
		return sql, false, err
	}
	return "", false, NewUnknownFieldError(field)
}

func filterReferencesMeasure(pc *planContext, f Filter) (bool, error) {
	switch n := f.(type) {
	case nil:
		return false, nil
	case FilterLeaf:
		cubeName, fieldName, err := splitCubeField(n.Member)
		if err != nil {
			return false, err
		}
		cube, ok := pc.cubes[cubeName]
		if !ok {
			return false, NewUnknownFieldError(n.Member)
		}
		_, isMeasure := cube.Measures[fieldName]
		return isMeasure, nil
	case FilterGroup:
		for _, child := range n.Filters {
			yes, err := filterReferencesMeasure(pc, child)
			if err != nil {
				return false, err
			}
			if yes {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, nil
	}
}

func convertFilterNode(f Filter) (filterbuilder.Node, error) {
	switch n := f.(type) {
	case nil:
		return nil, nil
	case FilterLeaf:
		return filterbuilder.Leaf{Member: n.Member, Operator: string(n.Operator), Values: n.Values}, nil
	case FilterGroup:
		children := make([]filterbuilder.Node, 0, len(n.Filters))
		for _, child := range n.Filters {
			cn, err := convertFilterNode(child)
			if err != nil {
				return nil, err
			}
			children = append(children, cn)
		}
		return filterbuilder.Group{Logic: string(n.Logic), Children: children}, nil
	default:
		return nil, fmt.Errorf("cubeengine: unknown filter node type %T", f)
	}
}

func resolveOrder(pc *planContext, orders []Order) ([]queryplanner.OrderItem, error) {
	out := make([]queryplanner.OrderItem, 0, len(orders))
	for _, o := range orders {
		if !pc.aliases[o.Field] {
			return nil, NewInvalidOrderFieldError(o.Field)
		}
		out = append(out, queryplanner.OrderItem{Alias: o.Field, Direction: strings.ToUpper(string(o.Direction))})
	}
	return out, nil
}

// compileFlow validates a flow query configuration against the target
// cube's dimensions and the adapter's capabilities, then hands the
// resolved configuration to the flow planner.
func (e *Engine) compileFlow(query SemanticQuery, qctx *QueryContext) (*CompiledSQL, error) {
	flow := query.Flow
	if !e.Adapter.SupportsFlow() {
		return nil, NewFlowEngineUnsupportedError(string(e.Adapter.Name()))
	}
	if flow.StepsBefore < 0 || flow.StepsBefore > e.Config.Flow.MaxStepsBefore {
		return nil, NewFlowDepthOutOfRangeError("stepsBefore", flow.StepsBefore)
	}
	if flow.StepsAfter < 0 || flow.StepsAfter > e.Config.Flow.MaxStepsAfter {
		return nil, NewFlowDepthOutOfRangeError("stepsAfter", flow.StepsAfter)
	}
	if flow.JoinStrategy == JoinLateral && !e.Adapter.SupportsLateral() {
		return nil, NewFlowLateralUnsupportedError(string(e.Adapter.Name()))
	}
	if flow.StartingStep == nil {
		return nil, NewFlowMissingStartingStepError()
	}

	stepsBefore := flow.StepsBefore
	if flow.OutputMode == OutputSunburst {
		stepsBefore = 0
	}

	cubeName, _, err := splitCubeField(flow.BindingKey)
	if err != nil {
		return nil, err
	}
	cube, ok := e.Registry.Lookup(cubeName)
	if !ok || !cube.EventStream {
		return nil, NewFlowInvalidDimensionError(flow.BindingKey)
	}

	bindingSQL, err := flowFieldSQL(e.Adapter, cube, flow.BindingKey)
	if err != nil {
		return nil, err
	}
	timeSQL, err := flowFieldSQL(e.Adapter, cube, flow.TimeDimension)
	if err != nil {
		return nil, err
	}
	eventSQL, err := flowFieldSQL(e.Adapter, cube, flow.EventDimension)
	if err != nil {
		return nil, err
	}

	base, err := cube.Base(qctx)
	if err != nil {
		return nil, fmt.Errorf("cubeengine: cube %s base query: %w", cube.Name, err)
	}

	pc := &planContext{e: e, qctx: qctx, cubes: map[string]*Cube{cube.Name: cube}}
	node, err := convertFilterNode(flow.StartingStep)
	if err != nil {
		return nil, err
	}
	builder := &filterbuilder.Builder{Adapter: e.Adapter, Fields: func(field string) (string, bool, error) {
		return pc.resolveFieldSQL(field)
	}}
	startBuilt, err := builder.Build(node)
	if err != nil {
		return nil, err
	}

	entityLimit := flow.EntityLimit
	if entityLimit == nil {
		def := e.Config.Flow.DefaultEntityLimit
		entityLimit = &def
	}

	cfg := flowplanner.Config{
		Adapter:          e.Adapter,
		FromSQL:          fromWithWhere(base),
		StartingStepSQL:  startBuilt.SQL,
		StartingStepArgs: startBuilt.Params,
		BindingKeySQL:    bindingSQL,
		TimeSQL:          timeSQL,
		EventSQL:         eventSQL,
		StepsBefore:      stepsBefore,
		StepsAfter:       flow.StepsAfter,
		OutputMode:       flowplanner.OutputMode(flow.OutputMode),
		EntityLimit:      entityLimit,
		JoinStrategy:     flowplanner.JoinStrategy(flow.JoinStrategy),
	}

	compiled, err := flowplanner.Compile(cfg)
	if err != nil {
		return nil, fmt.Errorf("cubeengine: %w", err)
	}

	var warnings []QueryWarning
	if stepsBefore+flow.StepsAfter >= e.Config.Flow.HighDepthWarningThreshold {
		warnings = append(warnings, QueryWarning{Kind: WarnFlowHighDepth, Message: "flow query spans a high number of steps and may be slow"})
	}

	return &CompiledSQL{SQL: compiled.SQL, Params: compiled.Params, Warnings: warnings}, nil
}

func flowFieldSQL(adapter *dialect.Adapter, cube *Cube, ref string) (string, error) {
	_, field, err := splitCubeField(ref)
	if err != nil {
		return "", err
	}
	dim, ok := cube.Dimensions[field]
	if !ok {
		return "", NewFlowInvalidDimensionError(ref)
	}
	// Flow queries compile every CTE against a single event-stream relation
	// (no joins), so the dimension's column never needs a table-alias
	// qualifier; qualifying it against the cube name would reference an
	// alias the base relation never declares (e.g. a VALUES-table base
	// aliasing its columns directly, as PREventsCube does).
	resolved, err := exprresolver.ResolveColumn(adapter, "", dim.SQL)
	if err != nil {
		return "", NewFlowInvalidDimensionError(ref)
	}
	return resolved.SQL, nil
}

func fromWithWhere(base BaseQuery) string {
	if base.Where == "" {
		return base.From
	}
	return fmt.Sprintf("(SELECT * FROM %s WHERE %s) AS base", base.From, base.Where)
}
