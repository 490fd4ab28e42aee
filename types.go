package cubeengine

import (
	"encoding/json"
	"fmt"
)

// FilterOperator enumerates the predicate operators.
type FilterOperator string

const (
	OpEquals      FilterOperator = "equals"
	OpNotEquals   FilterOperator = "notEquals"
	OpContains    FilterOperator = "contains"
	OpNotContains FilterOperator = "notContains"
	OpStartsWith  FilterOperator = "startsWith"
	OpEndsWith    FilterOperator = "endsWith"
	OpGt          FilterOperator = "gt"
	OpGte         FilterOperator = "gte"
	OpLt          FilterOperator = "lt"
	OpLte         FilterOperator = "lte"
	OpSet         FilterOperator = "set"
	OpNotSet      FilterOperator = "notSet"
	OpInDateRange FilterOperator = "inDateRange"
	OpBeforeDate  FilterOperator = "beforeDate"
	OpAfterDate   FilterOperator = "afterDate"
)

// Logic is the boolean combinator of a FilterGroup.
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Filter is either a leaf predicate or a logical group of filters. Both are
// accepted from JSON as a single sum type: a payload carrying "member" is a
// leaf, a payload carrying "and"/"or" or a client-style "type"+"filters" is
// a group.
type Filter interface {
	isFilter()
}

// FilterLeaf is a single-field predicate: `{member, operator, values[], dateRange?}`.
type FilterLeaf struct {
	Member    string         `json:"member"`
	Operator  FilterOperator `json:"operator"`
	Values    []any          `json:"values,omitempty"`
	DateRange any            `json:"dateRange,omitempty"`
}

func (FilterLeaf) isFilter() {}

// FilterGroup is a logical AND/OR combination of child filters. Collapsing
// rules (empty group → true, single member → the member) are applied by the
// filter builder, not at parse time, so the tree is preserved as parsed.
type FilterGroup struct {
	Logic   Logic    `json:"logic"`
	Filters []Filter `json:"filters"`
}

func (FilterGroup) isFilter() {}

// unmarshalFilter sniffs the payload shape: "member" marks a leaf; "and",
// "or", or a client-style {type, filters} marks a group. This mirrors the
// logic/attr discriminator forma's condition tree uses, generalized from
// EAV key-value leaves to cube-field leaves.
func unmarshalFilter(data []byte) (Filter, error) {
	var discriminator struct {
		Member  *string           `json:"member"`
		And     []json.RawMessage `json:"and"`
		Or      []json.RawMessage `json:"or"`
		Type    *Logic            `json:"type"`
		Filters []json.RawMessage `json:"filters"`
	}
	if err := json.Unmarshal(data, &discriminator); err != nil {
		return nil, err
	}

	switch {
	case discriminator.Member != nil:
		var leaf FilterLeaf
		if err := json.Unmarshal(data, &leaf); err != nil {
			return nil, err
		}
		return leaf, nil

	case discriminator.And != nil:
		return unmarshalFilterGroup(LogicAnd, discriminator.And)

	case discriminator.Or != nil:
		return unmarshalFilterGroup(LogicOr, discriminator.Or)

	case discriminator.Type != nil:
		switch *discriminator.Type {
		case LogicAnd, LogicOr:
			return unmarshalFilterGroup(*discriminator.Type, discriminator.Filters)
		default:
			return nil, fmt.Errorf("unknown filter group type: %s", *discriminator.Type)
		}

	default:
		return nil, fmt.Errorf("invalid filter payload: expected 'member', 'and', 'or', or 'type'+'filters'")
	}
}

func unmarshalFilterGroup(logic Logic, raw []json.RawMessage) (Filter, error) {
	children := make([]Filter, 0, len(raw))
	for _, r := range raw {
		child, err := unmarshalFilter(r)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return FilterGroup{Logic: logic, Filters: children}, nil
}

// FilterTree wraps a Filter so it can appear as a SemanticQuery field and
// unmarshal via the sniff-then-dispatch above.
type FilterTree struct {
	Root Filter
}

func (ft *FilterTree) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		ft.Root = nil
		return nil
	}
	root, err := unmarshalFilter(data)
	if err != nil {
		return err
	}
	ft.Root = root
	return nil
}

func (ft FilterTree) MarshalJSON() ([]byte, error) {
	if ft.Root == nil {
		return []byte("null"), nil
	}
	return json.Marshal(ft.Root)
}

// Granularity is the time-bucket unit used by a TimeDimension.
type Granularity string

const (
	GranularitySecond  Granularity = "second"
	GranularityMinute  Granularity = "minute"
	GranularityHour    Granularity = "hour"
	GranularityDay     Granularity = "day"
	GranularityWeek    Granularity = "week"
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
	GranularityYear    Granularity = "year"
)

// TimeDimension is a `timeDimensions[]` entry of a SemanticQuery.
type TimeDimension struct {
	Dimension       string      `json:"dimension"`
	Granularity     Granularity `json:"granularity,omitempty"`
	DateRange       any         `json:"dateRange,omitempty"`
	CompareDateRange any        `json:"compareDateRange,omitempty"`
}

// OrderDirection is "asc" or "desc".
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// Order is one `order` entry of a SemanticQuery, keeping field and
// direction paired (the wire format is a map, but ordering within that map
// is not guaranteed across JSON implementations, so SemanticQuery carries
// an ordered slice built by the caller or decoded explicitly).
type Order struct {
	Field     string
	Direction OrderDirection
}

// OutputMode selects the node/link id composition of a flow query.
type OutputMode string

const (
	OutputSankey   OutputMode = "sankey"
	OutputSunburst OutputMode = "sunburst"
)

// JoinStrategy selects how FlowQueryPlanner builds before/after-step CTEs.
type JoinStrategy string

const (
	JoinAuto    JoinStrategy = "auto"
	JoinLateral JoinStrategy = "lateral"
	JoinWindow  JoinStrategy = "window"
)

// FlowQueryConfig is the `flow` block of a SemanticQuery.
type FlowQueryConfig struct {
	StartingStep  Filter
	BindingKey    string
	TimeDimension string
	EventDimension string
	StepsBefore   int
	StepsAfter    int
	OutputMode    OutputMode
	EntityLimit   *int
	JoinStrategy  JoinStrategy
}

// SemanticQuery is the request the Query Planner consumes.
type SemanticQuery struct {
	Measures      []string
	Dimensions    []string
	TimeDimensions []TimeDimension
	Filters       Filter
	Order         []Order
	Limit         *int
	Offset        *int
	Flow          *FlowQueryConfig
	Cubes         []string
}

// semanticQueryWire is the JSON-decodable shape of SemanticQuery; its
// Filters/Flow.StartingStep fields go through the sniff-then-dispatch
// unmarshaller rather than encoding/json's default struct decoding.
type semanticQueryWire struct {
	Measures       []string          `json:"measures,omitempty"`
	Dimensions     []string          `json:"dimensions,omitempty"`
	TimeDimensions []TimeDimension   `json:"timeDimensions,omitempty"`
	Filters        json.RawMessage   `json:"filters,omitempty"`
	Order          map[string]string `json:"order,omitempty"`
	Limit          *int              `json:"limit,omitempty"`
	Offset         *int              `json:"offset,omitempty"`
	Flow           *flowQueryWire    `json:"flow,omitempty"`
	Cubes          []string          `json:"cubes,omitempty"`
}

type flowQueryWire struct {
	StartingStep   json.RawMessage `json:"startingStep"`
	BindingKey     string          `json:"bindingKey"`
	TimeDimension  string          `json:"timeDimension"`
	EventDimension string          `json:"eventDimension"`
	StepsBefore    int             `json:"stepsBefore"`
	StepsAfter     int             `json:"stepsAfter"`
	OutputMode     OutputMode      `json:"outputMode"`
	EntityLimit    *int            `json:"entityLimit,omitempty"`
	JoinStrategy   JoinStrategy    `json:"joinStrategy,omitempty"`
}

// UnmarshalJSON decodes the wire format of §6, dispatching filter/group
// shapes through unmarshalFilter and preserving order as a slice by
// iterating the decoded map (callers that need a stable order should send
// order as distinct keys; Go's map has no defined iteration order, so for
// deterministic behavior prefer constructing SemanticQuery.Order directly
// in Go code rather than round-tripping through JSON in tests).
func (q *SemanticQuery) UnmarshalJSON(data []byte) error {
	var wire semanticQueryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	q.Measures = wire.Measures
	q.Dimensions = wire.Dimensions
	q.TimeDimensions = wire.TimeDimensions
	q.Limit = wire.Limit
	q.Offset = wire.Offset
	q.Cubes = wire.Cubes

	if len(wire.Filters) > 0 && string(wire.Filters) != "null" {
		f, err := unmarshalFilter(wire.Filters)
		if err != nil {
			return fmt.Errorf("filters: %w", err)
		}
		q.Filters = f
	}

	for field, dir := range wire.Order {
		d := OrderDirection(dir)
		if d != OrderAsc && d != OrderDesc {
			return fmt.Errorf("order: invalid direction %q for field %q", dir, field)
		}
		q.Order = append(q.Order, Order{Field: field, Direction: d})
	}

	if wire.Flow != nil {
		flow := &FlowQueryConfig{
			BindingKey:     wire.Flow.BindingKey,
			TimeDimension:  wire.Flow.TimeDimension,
			EventDimension: wire.Flow.EventDimension,
			StepsBefore:    wire.Flow.StepsBefore,
			StepsAfter:     wire.Flow.StepsAfter,
			OutputMode:     wire.Flow.OutputMode,
			EntityLimit:    wire.Flow.EntityLimit,
			JoinStrategy:   wire.Flow.JoinStrategy,
		}
		if len(wire.Flow.StartingStep) > 0 && string(wire.Flow.StartingStep) != "null" {
			f, err := unmarshalFilter(wire.Flow.StartingStep)
			if err != nil {
				return fmt.Errorf("flow.startingStep: %w", err)
			}
			flow.StartingStep = f
		}
		q.Flow = flow
	}

	return nil
}
