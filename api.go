// Package cubeengine is the public entry point of the semantic layer and
// analytics query engine: cube registration, query compilation, execution,
// EXPLAIN analysis and metadata. Dialect-specific wiring lives in package
// factory.
package cubeengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lychee-technology/cubeengine/internal/dialect"
	"github.com/lychee-technology/cubeengine/internal/exec"
	"github.com/lychee-technology/cubeengine/internal/explainer"
	"github.com/lychee-technology/cubeengine/internal/exprresolver"
)

// Engine wires a frozen CubeRegistry, a dialect Adapter and an exec.Runner
// together. Dialect-specific convenience constructors live in package
// factory.
type Engine struct {
	Registry CubeRegistry
	Adapter  *dialect.Adapter
	Runner   exec.Runner
	Config   *EngineConfig
}

// NewEngine builds an Engine from its already-wired parts.
func NewEngine(registry CubeRegistry, adapter *dialect.Adapter, runner exec.Runner, cfg *EngineConfig) *Engine {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	return &Engine{Registry: registry, Adapter: adapter, Runner: runner, Config: cfg}
}

// Metadata returns a descriptor for every registered cube.
func (e *Engine) Metadata() []CubeDescriptor { return e.Registry.Metadata() }

// Compile plans query without executing it.
func (e *Engine) Compile(query SemanticQuery, qctx *QueryContext) (*CompiledSQL, error) {
	if query.Flow != nil {
		return e.compileFlow(query, qctx)
	}
	return e.compileStandard(query, qctx)
}

// DryRun is an alias for Compile: planner output without execution.
func (e *Engine) DryRun(query SemanticQuery, qctx *QueryContext) (*CompiledSQL, error) {
	return e.Compile(query, qctx)
}

// Execute compiles and runs query, coercing numeric fields and assembling
// the annotated result set.
func (e *Engine) Execute(query SemanticQuery, qctx *QueryContext) (*ResultSet, error) {
	compiled, err := e.Compile(query, qctx)
	if err != nil {
		return nil, err
	}

	zap.S().Debugw("cubeengine: executing query", "sql", compiled.SQL, "paramCount", len(compiled.Params))

	res, err := exec.RunWithTimeout(qctx.Context, e.Runner, e.Config.Query.DefaultTimeout, compiled.SQL, compiled.Params)
	if err != nil {
		return nil, wrapExecError(compiled.SQL, len(compiled.Params), err)
	}

	rows := make([]Row, 0, len(res.Rows))
	for _, r := range res.Rows {
		row := Row(r)
		if err := exec.CoerceRow(e.Adapter, exec.Row(row), compiled.NumericFields); err != nil {
			return nil, newCubeError(ErrExecEmptyResultMalformed, "failed to coerce a numeric field").WithSQL(compiled.SQL).WithCause(err)
		}
		rows = append(rows, row)
	}

	for _, w := range compiled.Warnings {
		zap.S().Warnw("cubeengine: query warning", "kind", w.Kind, "message", w.Message)
	}

	return &ResultSet{Data: rows, Annotation: e.annotate(query), Warnings: compiled.Warnings}, nil
}

// Explain compiles query then runs the dialect's EXPLAIN command against it.
func (e *Engine) Explain(query SemanticQuery, qctx *QueryContext, analyze bool) (*ExplainResult, error) {
	compiled, err := e.Compile(query, qctx)
	if err != nil {
		return nil, err
	}

	res, err := explainer.Run(qctx.Context, e.Runner, e.Adapter, compiled.SQL, compiled.Params, analyze)
	if err != nil {
		return nil, wrapExecError(compiled.SQL, len(compiled.Params), err)
	}

	ops := make([]OperationNode, len(res.Operations))
	for i, n := range res.Operations {
		ops[i] = convertExplainNode(n)
	}

	return &ExplainResult{
		Database:   string(e.Adapter.Name()),
		SQL:        *compiled,
		Operations: ops,
		Raw:        res.Raw,
		Summary:    summarizeExplain(ops),
	}, nil
}

func convertExplainNode(n explainer.Node) OperationNode {
	children := make([]OperationNode, len(n.Children))
	for i, c := range n.Children {
		children[i] = convertExplainNode(c)
	}
	return OperationNode{
		NodeType: n.NodeType, Relation: n.Relation,
		EstimatedRows: n.EstimatedRows, EstimatedCost: n.EstimatedCost,
		ActualRows: n.ActualRows, ActualTime: n.ActualTime,
		Children: children,
	}
}

func summarizeExplain(ops []OperationNode) ExplainSummary {
	var summary ExplainSummary
	var walk func([]OperationNode)
	walk = func(ns []OperationNode) {
		for _, n := range ns {
			if n.EstimatedRows != nil && *n.EstimatedRows > summary.RowsProcessed {
				summary.RowsProcessed = *n.EstimatedRows
			}
			if n.EstimatedCost != nil {
				summary.Cost = n.EstimatedCost
			}
			walk(n.Children)
		}
	}
	walk(ops)
	return summary
}

// TableIndexes reports the existing indexes on the named tables via the
// dialect's system catalog.
func (e *Engine) TableIndexes(tables []string) ([]IndexInfo, error) {
	sqlText, params, err := explainer.TableIndexesQuery(e.Adapter, tables)
	if err != nil {
		return nil, newCubeError(ErrMetaUnavailable, err.Error())
	}
	res, err := e.Runner.Run(context.Background(), sqlText, params)
	if err != nil {
		return nil, wrapExecError(sqlText, len(params), err)
	}
	return normalizeIndexRows(e.Adapter, res.Rows), nil
}

func normalizeIndexRows(adapter *dialect.Adapter, rows []exec.Row) []IndexInfo {
	byKey := make(map[string]*IndexInfo)
	var order []string

	for _, r := range rows {
		table, _ := r["table_name"].(string)
		name, _ := r["index_name"].(string)
		key := table + "." + name
		info, ok := byKey[key]
		if !ok {
			info = &IndexInfo{TableName: table, IndexName: name}
			byKey[key] = info
			order = append(order, key)
		}
		if v, ok := r["is_unique"]; ok {
			info.Unique = truthy(v)
		}
		if v, ok := r["non_unique"]; ok {
			info.Unique = !truthy(v)
		}
		if v, ok := r["is_primary"]; ok {
			info.Primary = truthy(v)
		}
		if col, ok := r["column_name"].(string); ok && col != "" {
			info.Columns = append(info.Columns, col)
		}
	}

	out := make([]IndexInfo, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int64:
		return val != 0
	case int:
		return val != 0
	case string:
		return val == "t" || val == "true" || val == "1"
	default:
		return false
	}
}

// DistinctValues returns the ordered list of distinct non-null values for a
// cube-qualified dimension, bounded by limit.
func (e *Engine) DistinctValues(dimension string, qctx *QueryContext, limit int) ([]any, error) {
	cubeName, field, err := parseCubeField(dimension)
	if err != nil {
		return nil, newCubeError(ErrUnknownField, err.Error())
	}
	cube, ok := e.Registry.Lookup(cubeName)
	if !ok {
		return nil, NewUnknownFieldError(dimension)
	}
	dim, ok := cube.Dimensions[field]
	if !ok {
		return nil, NewMetaUnavailableError(dimension)
	}

	base, err := cube.Base(qctx)
	if err != nil {
		return nil, fmt.Errorf("cubeengine: cube %s base query: %w", cube.Name, err)
	}
	resolved, err := exprresolver.ResolveColumn(e.Adapter, cube.Name, dim.SQL)
	if err != nil {
		return nil, NewUnknownFieldError(dimension)
	}

	sqlText := fmt.Sprintf("SELECT DISTINCT %s AS v FROM %s", resolved.SQL, base.From)
	params := append([]any(nil), base.Args...)
	if base.Where != "" {
		sqlText += fmt.Sprintf(" WHERE %s AND %s IS NOT NULL", base.Where, resolved.SQL)
	} else {
		sqlText += fmt.Sprintf(" WHERE %s IS NOT NULL", resolved.SQL)
	}
	sqlText += fmt.Sprintf(" ORDER BY v LIMIT %d", limit)

	res, err := exec.RunWithTimeout(qctx.Context, e.Runner, e.Config.Query.DefaultTimeout, sqlText, params)
	if err != nil {
		return nil, wrapExecError(sqlText, len(params), err)
	}

	values := make([]any, 0, len(res.Rows))
	for _, r := range res.Rows {
		values = append(values, r["v"])
	}
	return values, nil
}

func wrapExecError(sqlText string, paramCount int, err error) error {
	var ce *exec.ClassifiedError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case "cancelled":
			return NewExecCancelledError().WithSQL(sqlText).WithCause(ce.Cause)
		case "timeout":
			return NewExecTimeoutError().WithSQL(sqlText).WithCause(ce.Cause)
		case "empty-result-malformed":
			return NewExecEmptyResultMalformedError().WithSQL(sqlText).WithCause(ce.Cause)
		default:
			return NewExecDriverError(sqlText, paramCount, ce.Cause)
		}
	}
	return NewExecDriverError(sqlText, paramCount, err)
}

func parseCubeField(ref string) (cube, field string, err error) {
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%q is not a cube-qualified field reference", ref)
	}
	return parts[0], parts[1], nil
}

// annotate builds the field-metadata block returned alongside results,
// looking up each referenced field's declared type/title/format.
func (e *Engine) annotate(query SemanticQuery) Annotation {
	ann := Annotation{
		Measures:       map[string]FieldAnnotation{},
		Dimensions:     map[string]FieldAnnotation{},
		TimeDimensions: map[string]FieldAnnotation{},
	}
	for _, ref := range query.Measures {
		cubeName, field, err := parseCubeField(ref)
		if err != nil {
			continue
		}
		if cube, ok := e.Registry.Lookup(cubeName); ok {
			if m, ok := cube.Measures[field]; ok {
				ann.Measures[ref] = FieldAnnotation{Type: FieldNumber, Format: m.Format, Title: m.Title, Description: m.Description}
			}
		}
	}
	for _, ref := range query.Dimensions {
		cubeName, field, err := parseCubeField(ref)
		if err != nil {
			continue
		}
		if cube, ok := e.Registry.Lookup(cubeName); ok {
			if d, ok := cube.Dimensions[field]; ok {
				ann.Dimensions[ref] = FieldAnnotation{Type: d.Type, Title: d.Title, Description: d.Description}
			}
		}
	}
	for _, td := range query.TimeDimensions {
		cubeName, field, err := parseCubeField(td.Dimension)
		if err != nil {
			continue
		}
		if cube, ok := e.Registry.Lookup(cubeName); ok {
			if d, ok := cube.Dimensions[field]; ok {
				alias := timeDimensionAlias(td)
				ann.TimeDimensions[alias] = FieldAnnotation{Type: d.Type, Title: d.Title, Description: d.Description}
			}
		}
	}
	return ann
}

func timeDimensionAlias(td TimeDimension) string {
	if td.Granularity == "" {
		return td.Dimension
	}
	return td.Dimension + "." + string(td.Granularity)
}
