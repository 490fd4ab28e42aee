package cubeengine

// FieldType is the declared type of a dimension, shared with measures that
// expose a value (calculated measures report the type of their result).
type FieldType string

const (
	FieldString FieldType = "string"
	FieldNumber FieldType = "number"
	FieldBool   FieldType = "boolean"
	FieldTime   FieldType = "time"
)

// MeasureKind enumerates the measure families a cube can declare.
type MeasureKind string

const (
	MeasureCount               MeasureKind = "count"
	MeasureCountDistinct       MeasureKind = "countDistinct"
	MeasureCountDistinctApprox MeasureKind = "countDistinctApprox"
	MeasureSum                 MeasureKind = "sum"
	MeasureAvg                 MeasureKind = "avg"
	MeasureMin                 MeasureKind = "min"
	MeasureMax                 MeasureKind = "max"
	MeasureStddev              MeasureKind = "stddev"
	MeasureMedian              MeasureKind = "median"
	MeasurePercentile          MeasureKind = "percentile"
	MeasureCalculated          MeasureKind = "calculated"
	MeasureWindow              MeasureKind = "window"
)

// WindowOp enumerates the window-measure operations.
type WindowOp string

const (
	WindowLag         WindowOp = "lag"
	WindowRank        WindowOp = "rank"
	WindowMovingSum   WindowOp = "movingSum"
	WindowMovingAvg   WindowOp = "movingAvg"
	WindowRunningTotal WindowOp = "runningTotal"
)

// WindowTransform is applied to the window result before projection.
type WindowTransform string

const (
	WindowRaw            WindowTransform = "raw"
	WindowDifference     WindowTransform = "difference"
	WindowPercentChange  WindowTransform = "percentChange"
)

// FrameBound is one end of a window frame specification.
type FrameBound struct {
	// Kind is one of "unbounded", "n", "current".
	Kind string
	N    int
}

// WindowFrame is an optional ROWS frame for a window measure.
type WindowFrame struct {
	Start FrameBound
	End   FrameBound
}

// DisplayFormat is an optional rendering hint surfaced in metadata/annotations.
type DisplayFormat string

const (
	FormatNumber   DisplayFormat = "number"
	FormatPercent  DisplayFormat = "percent"
	FormatCurrency DisplayFormat = "currency"
)

// Dimension is a groupable or filterable attribute of a cube.
type Dimension struct {
	Name        string
	Title       string
	Description string
	SQL         string // column reference or templated expression
	Type        FieldType
	PrimaryKey  bool
}

// RowFilter is a row-level predicate injected into a measure's aggregate via
// FILTER (WHERE ...) or an equivalent CASE WHEN.
type RowFilter struct {
	Member   string
	Operator FilterOperator
	Values   []any
}

// Measure is an aggregated, calculated, or window-derived value of a cube.
type Measure struct {
	Name        string
	Title       string
	Description string
	Format      DisplayFormat
	Kind        MeasureKind

	// Simple/statistical aggregations.
	SQL        string // column reference aggregated by Kind
	Percentile float64 // quantile in [0,1], used when Kind == percentile

	// Calculated measures: a template referencing sibling measures by name.
	Template string

	// Window measures.
	WindowOp        WindowOp
	SourceMeasure   string
	Transform       WindowTransform
	OrderBy         []Order
	Frame           *WindowFrame

	Filters      []RowFilter
	DrillMembers []string
}

// Relationship is the cardinality of a Join.
type Relationship string

const (
	RelBelongsTo Relationship = "belongsTo"
	RelHasOne    Relationship = "hasOne"
	RelHasMany   Relationship = "hasMany"
)

// JoinPair is one equality condition of a join.
type JoinPair struct {
	SourceColumn string
	TargetColumn string
}

// Join declares a relationship from one cube to another.
type Join struct {
	TargetCube   string
	Relationship Relationship
	On           []JoinPair
	PreferredFor []string
}

// Hierarchy is a named ordered sequence of dimension names for drill-down.
type Hierarchy struct {
	Name       string
	Dimensions []string
}

// BaseQuery is what a cube's base-query builder returns: the relation to
// select from, and an optional security/base predicate.
type BaseQuery struct {
	From  string
	Where string
	Args  []any
}

// BaseQueryBuilder produces a cube's base relation and predicate for a
// given query context, typically injecting the security context.
type BaseQueryBuilder func(ctx *QueryContext) (BaseQuery, error)

// Cube is a named analytical entity: a base relation plus dimensions,
// measures, joins and hierarchies.
type Cube struct {
	Name        string
	Title       string
	Description string
	Questions   []string

	Base BaseQueryBuilder

	Dimensions map[string]*Dimension
	Measures   map[string]*Measure
	Joins      map[string]*Join
	Hierarchies map[string]*Hierarchy

	// EventStream marks this cube as usable as the pivot/event source of a
	// flow query.
	EventStream bool
}

// NewCube builds an empty cube shell ready for dimensions/measures/joins to
// be attached before registration.
func NewCube(name, title string) *Cube {
	return &Cube{
		Name:        name,
		Title:       title,
		Dimensions:  make(map[string]*Dimension),
		Measures:    make(map[string]*Measure),
		Joins:       make(map[string]*Join),
		Hierarchies: make(map[string]*Hierarchy),
	}
}

// AddDimension registers a dimension on the cube definition (pre-registration).
func (c *Cube) AddDimension(d *Dimension) *Cube {
	c.Dimensions[d.Name] = d
	return c
}

// AddMeasure registers a measure on the cube definition (pre-registration).
func (c *Cube) AddMeasure(m *Measure) *Cube {
	c.Measures[m.Name] = m
	return c
}

// AddJoin registers a join on the cube definition (pre-registration).
func (c *Cube) AddJoin(name string, j *Join) *Cube {
	c.Joins[name] = j
	return c
}

// AddHierarchy registers a hierarchy on the cube definition (pre-registration).
func (c *Cube) AddHierarchy(h *Hierarchy) *Cube {
	c.Hierarchies[h.Name] = h
	return c
}

// PrimaryKeyDimension returns the cube's primary-key dimension, if any.
func (c *Cube) PrimaryKeyDimension() (*Dimension, bool) {
	for _, d := range c.Dimensions {
		if d.PrimaryKey {
			return d, true
		}
	}
	return nil, false
}
