package cubeengine

// Row is one result row keyed by cube-qualified column name.
type Row map[string]any

// FieldAnnotation describes one returned field's display metadata.
type FieldAnnotation struct {
	Type        FieldType     `json:"type"`
	Format      DisplayFormat `json:"format,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
}

// Annotation groups field metadata by kind, as returned alongside query
// results for charting clients.
type Annotation struct {
	Measures       map[string]FieldAnnotation `json:"measures"`
	Dimensions     map[string]FieldAnnotation `json:"dimensions"`
	TimeDimensions map[string]FieldAnnotation `json:"timeDimensions"`
}

// WarningKind enumerates non-fatal conditions surfaced alongside a result.
type WarningKind string

const (
	WarnHasManyFanOut   WarningKind = "hasMany-fan-out"
	WarnFlowHighDepth   WarningKind = "flow-high-depth"
	WarnAmbiguousJoin   WarningKind = "ambiguous-join-path"
)

// QueryWarning is a non-fatal condition attached to a result.
type QueryWarning struct {
	Kind    WarningKind
	Message string
}

// ResultSet is the typed result of Engine.Execute.
type ResultSet struct {
	Data       []Row
	Annotation Annotation
	Warnings   []QueryWarning
}

// CompiledSQL is the planner's SQL + params output, shared by compile,
// dryRun, and execute.
type CompiledSQL struct {
	SQL           string
	Params        []any
	NumericFields []string
	Warnings      []QueryWarning
}

// OperationNode is one node of an EXPLAIN operation tree.
type OperationNode struct {
	NodeType      string
	Relation      string
	EstimatedRows *float64
	EstimatedCost *float64
	ActualRows    *float64
	ActualTime    *float64
	Children      []OperationNode
}

// ExplainSummary aggregates headline figures across an ExplainResult.
type ExplainSummary struct {
	RowsProcessed float64
	Cost          *float64
	Warnings      []string
}

// ExplainResult is the normalized output of the EXPLAIN Analyzer.
type ExplainResult struct {
	Database   string
	SQL        CompiledSQL
	Operations []OperationNode
	Raw        []string
	Summary    ExplainSummary
}

// IndexInfo describes one index on a table, normalized across dialects.
type IndexInfo struct {
	TableName string
	IndexName string
	Columns   []string
	Unique    bool
	Primary   bool
}

// CubeDescriptor is the metadata shape returned by Engine.Metadata() for
// external consumers (ERD rendering, the AI-assisted query translator).
type CubeDescriptor struct {
	Name         string
	Title        string
	Description  string
	Questions    []string
	Dimensions   []DimensionDescriptor
	Measures     []MeasureDescriptor
	Hierarchies  []Hierarchy
	Relationships []JoinDescriptor
}

// DimensionDescriptor is the metadata view of a Dimension.
type DimensionDescriptor struct {
	Name        string
	Title       string
	Description string
	Type        FieldType
	PrimaryKey  bool
}

// MeasureDescriptor is the metadata view of a Measure.
type MeasureDescriptor struct {
	Name        string
	Title       string
	Description string
	Format      DisplayFormat
	Kind        MeasureKind
}

// JoinDescriptor is the metadata view of a Join, for ERD rendering.
type JoinDescriptor struct {
	TargetCube   string
	Relationship Relationship
}
