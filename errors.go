package cubeengine

import "fmt"

// ErrorKind categorizes a CubeError into the taxonomy the planner, join
// planner, flow planner, executor and registry can raise.
type ErrorKind string

const (
	// Validation errors — raised during planning, before any SQL runs.
	ErrUnknownField        ErrorKind = "query/unknown-field"
	ErrUnconnectedCubes    ErrorKind = "query/unconnected-cubes"
	ErrCalcCycle           ErrorKind = "query/calc-cycle"
	ErrCalcUnresolved      ErrorKind = "query/calc-unresolved"
	ErrOffsetWithoutLimit  ErrorKind = "query/offset-without-limit"
	ErrInvalidGranularity  ErrorKind = "query/invalid-granularity"
	ErrIncompatibleWindow  ErrorKind = "query/incompatible-window"
	ErrInvalidOrderField   ErrorKind = "query/invalid-order-field"
	ErrFlowInvalidDimension ErrorKind = "flow/invalid-dimension"
	ErrFlowMissingStartingStep ErrorKind = "flow/missing-starting-step"
	ErrFlowDepthOutOfRange ErrorKind = "flow/depth-out-of-range"
	ErrFlowLateralUnsupported ErrorKind = "flow/lateral-unsupported"
	ErrFlowEngineUnsupported  ErrorKind = "flow/engine-unsupported"

	// Execution errors — raised once SQL has been handed to a driver.
	ErrExecDriverError         ErrorKind = "exec/driver-error"
	ErrExecCancelled           ErrorKind = "exec/cancelled"
	ErrExecTimeout             ErrorKind = "exec/timeout"
	ErrExecEmptyResultMalformed ErrorKind = "exec/empty-result-malformed"

	// Registry errors — raised at cube registration time.
	ErrRegistryDuplicateCube  ErrorKind = "registry/duplicate-cube"
	ErrRegistryDuplicateField ErrorKind = "registry/duplicate-field"
	ErrRegistryUnresolvedJoin ErrorKind = "registry/unresolved-join"

	// Metadata errors.
	ErrMetaUnavailable ErrorKind = "meta/unavailable"
)

// CubeError is the single error type returned across planning and
// execution. It never carries parameter values in Message or Details —
// only the kind, a human message, the SQL text (when relevant), and an
// optional hint for the caller.
type CubeError struct {
	Kind    ErrorKind
	Code    string
	Message string
	SQL     string
	Hint    string
	Details map[string]any
	Cause   error
}

func (e *CubeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *CubeError) Unwrap() error { return e.Cause }

// WithDetail adds a single detail to the error and returns it for chaining.
func (e *CubeError) WithDetail(key string, value any) *CubeError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithSQL attaches the generated SQL text (never parameter values) to the error.
func (e *CubeError) WithSQL(sql string) *CubeError {
	e.SQL = sql
	return e
}

// WithHint attaches a caller-facing hint to the error.
func (e *CubeError) WithHint(hint string) *CubeError {
	e.Hint = hint
	return e
}

// WithCause attaches an underlying cause (e.g. a driver error) to the error.
func (e *CubeError) WithCause(cause error) *CubeError {
	e.Cause = cause
	return e
}

// newCubeError is the base constructor all New<Kind>Error helpers use.
func newCubeError(kind ErrorKind, message string) *CubeError {
	return &CubeError{Kind: kind, Message: message, Details: make(map[string]any)}
}

// NewUnknownFieldError reports a cube-qualified field that does not
// resolve to a registered dimension or measure.
func NewUnknownFieldError(field string) *CubeError {
	return newCubeError(ErrUnknownField, fmt.Sprintf("unknown field %q", field)).WithDetail("field", field)
}

// NewUnconnectedCubesError reports a referenced cube set with no
// connected join spanning tree.
func NewUnconnectedCubesError(cubes []string) *CubeError {
	return newCubeError(ErrUnconnectedCubes, "referenced cubes are not connected by any declared join").WithDetail("cubes", cubes)
}

// NewCalcCycleError reports a cycle among calculated measures.
func NewCalcCycleError(cube, measure string) *CubeError {
	return newCubeError(ErrCalcCycle, fmt.Sprintf("calculated measure %s.%s participates in a reference cycle", cube, measure)).
		WithDetail("cube", cube).WithDetail("measure", measure)
}

// NewCalcUnresolvedError reports a calculated measure referencing an
// unknown sibling measure.
func NewCalcUnresolvedError(cube, measure, ref string) *CubeError {
	return newCubeError(ErrCalcUnresolved, fmt.Sprintf("calculated measure %s.%s references unknown measure %q", cube, measure, ref)).
		WithDetail("cube", cube).WithDetail("measure", measure).WithDetail("ref", ref)
}

// NewOffsetWithoutLimitError reports an offset given without a limit.
func NewOffsetWithoutLimitError() *CubeError {
	return newCubeError(ErrOffsetWithoutLimit, "offset given without a limit")
}

// NewInvalidGranularityError reports an unrecognized time granularity.
func NewInvalidGranularityError(granularity string) *CubeError {
	return newCubeError(ErrInvalidGranularity, fmt.Sprintf("invalid granularity %q", granularity)).WithDetail("granularity", granularity)
}

// NewIncompatibleWindowError reports a window measure referencing a
// missing or incompatible source measure.
func NewIncompatibleWindowError(cube, measure string, reason string) *CubeError {
	return newCubeError(ErrIncompatibleWindow, fmt.Sprintf("window measure %s.%s is incompatible: %s", cube, measure, reason)).
		WithDetail("cube", cube).WithDetail("measure", measure)
}

// NewInvalidOrderFieldError reports an order-by field missing from the projection.
func NewInvalidOrderFieldError(field string) *CubeError {
	return newCubeError(ErrInvalidOrderField, fmt.Sprintf("order field %q is not present in the projection", field)).WithDetail("field", field)
}

// NewFlowInvalidDimensionError reports an unknown binding-key, time, or event dimension in a flow config.
func NewFlowInvalidDimensionError(field string) *CubeError {
	return newCubeError(ErrFlowInvalidDimension, fmt.Sprintf("flow query references unknown dimension %q", field)).WithDetail("field", field)
}

// NewFlowMissingStartingStepError reports a flow config without a valid startingStep filter.
func NewFlowMissingStartingStepError() *CubeError {
	return newCubeError(ErrFlowMissingStartingStep, "flow query is missing a valid startingStep filter")
}

// NewFlowDepthOutOfRangeError reports stepsBefore/stepsAfter outside [0, 5].
func NewFlowDepthOutOfRangeError(field string, depth int) *CubeError {
	return newCubeError(ErrFlowDepthOutOfRange, fmt.Sprintf("%s=%d is outside the allowed range [0, 5]", field, depth)).
		WithDetail("field", field).WithDetail("depth", depth)
}

// NewFlowLateralUnsupportedError reports joinStrategy=lateral requested against an adapter without LATERAL support.
func NewFlowLateralUnsupportedError(dialect string) *CubeError {
	return newCubeError(ErrFlowLateralUnsupported, fmt.Sprintf("dialect %q does not support LATERAL joins", dialect)).WithDetail("dialect", dialect)
}

// NewFlowEngineUnsupportedError reports a flow query against an adapter that cannot run flow queries at all (sqlite).
func NewFlowEngineUnsupportedError(dialect string) *CubeError {
	return newCubeError(ErrFlowEngineUnsupported, fmt.Sprintf("dialect %q does not support flow queries", dialect)).WithDetail("dialect", dialect)
}

// NewExecDriverError wraps a driver error with the generated SQL text. The
// parameter count (never the values) is attached as a detail.
func NewExecDriverError(sql string, paramCount int, cause error) *CubeError {
	return newCubeError(ErrExecDriverError, "driver returned an error executing the query").
		WithSQL(sql).WithDetail("param_count", paramCount).WithCause(cause)
}

// NewExecCancelledError reports a query cancelled via its context or cancellation handle.
func NewExecCancelledError() *CubeError {
	return newCubeError(ErrExecCancelled, "query execution was cancelled")
}

// NewExecTimeoutError reports a query that exceeded its wall-clock timeout.
func NewExecTimeoutError() *CubeError {
	return newCubeError(ErrExecTimeout, "query execution exceeded its configured timeout")
}

// NewExecEmptyResultMalformedError reports a driver returning a
// non-array/non-rows shape where rows were expected.
func NewExecEmptyResultMalformedError() *CubeError {
	return newCubeError(ErrExecEmptyResultMalformed, "driver returned a malformed (non-row) result")
}

// NewRegistryDuplicateCubeError reports a second registration of the same cube name.
func NewRegistryDuplicateCubeError(name string) *CubeError {
	return newCubeError(ErrRegistryDuplicateCube, fmt.Sprintf("cube %q already registered", name)).WithDetail("cube", name)
}

// NewRegistryDuplicateFieldError reports two fields (dimension/measure) sharing a name within one cube.
func NewRegistryDuplicateFieldError(cube, field string) *CubeError {
	return newCubeError(ErrRegistryDuplicateField, fmt.Sprintf("cube %q declares field %q more than once", cube, field)).
		WithDetail("cube", cube).WithDetail("field", field)
}

// NewRegistryUnresolvedJoinError reports a join whose targetCube never resolves.
func NewRegistryUnresolvedJoinError(cube, target string) *CubeError {
	return newCubeError(ErrRegistryUnresolvedJoin, fmt.Sprintf("cube %q declares a join to unresolved cube %q", cube, target)).
		WithDetail("cube", cube).WithDetail("target", target)
}

// NewMetaUnavailableError reports distinctValues called against an unknown dimension.
func NewMetaUnavailableError(field string) *CubeError {
	return newCubeError(ErrMetaUnavailable, fmt.Sprintf("no metadata available for %q", field)).WithDetail("field", field)
}

// IsKind reports whether err is a *CubeError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	ce, ok := err.(*CubeError)
	if !ok {
		return false
	}
	return ce.Kind == kind
}
