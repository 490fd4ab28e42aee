// Package flowplanner compiles a validated flow-query configuration into a
// chained-CTE statement producing Sankey/sunburst node and link rows. It is
// grounded on forma's CTE-composition style in
// internal/dualpath_sql_generator.go and the deterministic windowed
// tie-breaking of internal/federated_merge.go's chooseLWW, adapted from
// row-merge conflict resolution to event-layer aggregation.
package flowplanner

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/cubeengine/internal/dialect"
)

// OutputMode selects node/link id composition.
type OutputMode string

const (
	Sankey   OutputMode = "sankey"
	Sunburst OutputMode = "sunburst"
)

// JoinStrategy selects how before/after-step CTEs pick the adjacent event.
type JoinStrategy string

const (
	Auto    JoinStrategy = "auto"
	Lateral JoinStrategy = "lateral"
	Window  JoinStrategy = "window"
)

// Config is the resolved, SQL-ready flow configuration; semantic resolution
// (dimension lookup, filter tree building) happens in the caller.
type Config struct {
	Adapter *dialect.Adapter

	FromSQL          string // event-stream cube's base relation (already aliased)
	StartingStepSQL  string // starting-step WHERE predicate, "?" placeholders
	StartingStepArgs []any

	BindingKeySQL string // already-qualified binding-key column expression
	TimeSQL       string // already-qualified time column expression
	EventSQL      string // already-qualified event-type column expression

	StepsBefore  int
	StepsAfter   int
	OutputMode   OutputMode
	EntityLimit  *int
	JoinStrategy JoinStrategy
}

// Compiled is the assembled flow statement.
type Compiled struct {
	SQL    string
	Params []any
}

// Compile builds the chained-CTE statement. Validation (depth range,
// dimension existence, dialect support) is the caller's responsibility —
// this package assumes a config that has already passed those checks.
func Compile(cfg Config) (*Compiled, error) {
	useLateral := cfg.JoinStrategy == Lateral || (cfg.JoinStrategy == Auto && cfg.Adapter.SupportsLateral())

	var params []any
	var ctes []string

	startingCTE, startingArgs := buildStartingEntities(cfg)
	ctes = append(ctes, startingCTE)
	params = append(params, startingArgs...)
	params = append(params, cfg.StartingStepArgs...)

	prevBefore := "starting_entities"
	for depth := 1; depth <= cfg.StepsBefore; depth++ {
		name := fmt.Sprintf("before_step_%d", depth)
		cte, err := buildStepCTE(cfg, name, prevBefore, "before", useLateral)
		if err != nil {
			return nil, err
		}
		ctes = append(ctes, cte)
		prevBefore = name
	}

	prevAfter := "starting_entities"
	for depth := 1; depth <= cfg.StepsAfter; depth++ {
		name := fmt.Sprintf("after_step_%d", depth)
		cte, err := buildStepCTE(cfg, name, prevAfter, "after", useLateral)
		if err != nil {
			return nil, err
		}
		ctes = append(ctes, cte)
		prevAfter = name
	}

	layerNames := layerSequence(cfg.StepsBefore, cfg.StepsAfter)

	ctes = append(ctes, buildNodesAgg(cfg, layerNames))
	ctes = append(ctes, buildLinksAgg(cfg, layerNames))

	sql := "WITH " + strings.Join(ctes, ",\n") + "\n" +
		"SELECT node_id, name, layer, value, NULL AS source_id, NULL AS target_id, 'node' AS record_type FROM nodes_agg " +
		"UNION ALL " +
		"SELECT NULL AS node_id, NULL AS name, NULL AS layer, value, source_id, target_id, 'link' AS record_type FROM links_agg"

	return &Compiled{SQL: sql, Params: params}, nil
}

func buildStartingEntities(cfg Config) (string, []any) {
	limitClause := ""
	if cfg.EntityLimit != nil {
		limitClause = fmt.Sprintf(" LIMIT %d", *cfg.EntityLimit)
	}
	cte := fmt.Sprintf(
		`starting_entities AS (
  SELECT %s AS binding_key, %s AS start_time, %s AS event_type, %s AS event_path, 0 AS layer
  FROM %s
  WHERE %s%s
)`,
		cfg.BindingKeySQL, cfg.TimeSQL, cfg.EventSQL, cfg.EventSQL,
		cfg.FromSQL, cfg.StartingStepSQL, limitClause,
	)
	return cte, nil
}

// buildStepCTE emits before_step_N / after_step_N using either a LATERAL
// join or a ROW_NUMBER()-ranked subquery.
func buildStepCTE(cfg Config, name, prevCTE, direction string, useLateral bool) (string, error) {
	cmpOp, orderDir := "<", "DESC"
	if direction == "after" {
		cmpOp, orderDir = ">", "ASC"
	}

	layer := "prev.layer - 1"
	if direction == "after" {
		layer = "prev.layer + 1"
	}

	if useLateral && !cfg.Adapter.SupportsLateral() {
		return "", fmt.Errorf("flowplanner: lateral strategy requested but dialect %s does not support LATERAL", cfg.Adapter.Name())
	}

	if useLateral {
		return fmt.Sprintf(
			`%s AS (
  SELECT prev.binding_key, step.start_time, step.event_type, prev.event_path || '>' || step.event_type AS event_path, %s AS layer
  FROM %s AS prev
  CROSS JOIN LATERAL (
    SELECT %s AS start_time, %s AS event_type
    FROM %s
    WHERE %s = prev.binding_key AND %s %s prev.start_time
    ORDER BY %s %s
    LIMIT 1
  ) AS step
)`,
			name, layer, prevCTE,
			cfg.TimeSQL, cfg.EventSQL, cfg.FromSQL, cfg.BindingKeySQL, cfg.TimeSQL, cmpOp, cfg.TimeSQL, orderDir,
		), nil
	}

	return fmt.Sprintf(
		`%s AS (
  SELECT binding_key, start_time, event_type, event_path, layer FROM (
    SELECT prev.binding_key AS binding_key, %s AS start_time, %s AS event_type,
           prev.event_path || '>' || %s AS event_path, %s AS layer,
           ROW_NUMBER() OVER (PARTITION BY prev.binding_key ORDER BY %s %s) AS rn
    FROM %s AS prev
    JOIN %s ON %s = prev.binding_key AND %s %s prev.start_time
  ) ranked WHERE rn = 1
)`,
		name,
		cfg.TimeSQL, cfg.EventSQL, cfg.EventSQL, layer, cfg.TimeSQL, orderDir,
		prevCTE, cfg.FromSQL, cfg.BindingKeySQL, cfg.TimeSQL, cmpOp,
	), nil
}

func layerSequence(before, after int) []string {
	var names []string
	for d := before; d >= 1; d-- {
		names = append(names, fmt.Sprintf("before_step_%d", d))
	}
	names = append(names, "starting_entities")
	for d := 1; d <= after; d++ {
		names = append(names, fmt.Sprintf("after_step_%d", d))
	}
	return names
}

// nodeIDExpr composes the node_id: sankey merges paths sharing the same
// event at a layer; sunburst keeps every distinct path.
func nodeIDExpr(mode OutputMode, prefix string) string {
	if mode == Sunburst {
		return fmt.Sprintf("'%s_' || event_path", prefix)
	}
	return fmt.Sprintf("'%s_' || event_type", prefix)
}

func buildNodesAgg(cfg Config, layers []string) string {
	var parts []string
	for _, layer := range layers {
		parts = append(parts, fmt.Sprintf(
			`SELECT %s AS node_id, event_type AS name, layer, COUNT(*) AS value FROM %s GROUP BY %s, event_type, layer`,
			nodeIDExpr(cfg.OutputMode, "n"), layer, nodeIDExpr(cfg.OutputMode, "n"),
		))
	}
	return "nodes_agg AS (\n  " + strings.Join(parts, "\n  UNION ALL\n  ") + "\n)"
}

func buildLinksAgg(cfg Config, layers []string) string {
	var parts []string
	for i := 0; i < len(layers)-1; i++ {
		a, b := layers[i], layers[i+1]
		parts = append(parts, fmt.Sprintf(
			`SELECT %s AS source_id, %s AS target_id, COUNT(*) AS value
   FROM %s s JOIN %s t ON s.binding_key = t.binding_key
   GROUP BY %s, %s`,
			nodeIDExprAliased(cfg.OutputMode, "n", "s"), nodeIDExprAliased(cfg.OutputMode, "n", "t"),
			a, b,
			nodeIDExprAliased(cfg.OutputMode, "n", "s"), nodeIDExprAliased(cfg.OutputMode, "n", "t"),
		))
	}
	return "links_agg AS (\n  " + strings.Join(parts, "\n  UNION ALL\n  ") + "\n)"
}

func nodeIDExprAliased(mode OutputMode, prefix, tableAlias string) string {
	if mode == Sunburst {
		return fmt.Sprintf("'%s_' || %s.event_path", prefix, tableAlias)
	}
	return fmt.Sprintf("'%s_' || %s.event_type", prefix, tableAlias)
}
