package cubeengine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SecurityContext carries the per-request tenant-scoping values injected
// into every cube's base predicate.
type SecurityContext struct {
	OrganisationID any
	UserID         any
}

// QueryContext is created once per query and flows through every resolver
// so base-query builders can inject mandatory WHERE clauses. It embeds a
// standard context.Context for cancellation and deadline propagation.
type QueryContext struct {
	context.Context

	Security SecurityContext

	// Now is the instant "named" date ranges resolve against. Defaults to
	// time.Now() at construction; tests may pin it via NewQueryContextAt.
	Now time.Time

	// TraceID identifies this query for logging correlation.
	TraceID string
}

// NewQueryContext builds a QueryContext rooted at parent, stamping Now at
// construction time.
func NewQueryContext(parent context.Context, sec SecurityContext) *QueryContext {
	return &QueryContext{
		Context:  parent,
		Security: sec,
		Now:      time.Now().UTC(),
		TraceID:  uuid.NewString(),
	}
}

// NewQueryContextAt builds a QueryContext with an explicit "now", for
// deterministic date-range tests.
func NewQueryContextAt(parent context.Context, sec SecurityContext, now time.Time) *QueryContext {
	qc := NewQueryContext(parent, sec)
	qc.Now = now
	return qc
}

// WithTimeout returns a derived QueryContext whose embedded context.Context
// carries a deadline, and a CancelFunc the caller must invoke.
func (qc *QueryContext) WithTimeout(d time.Duration) (*QueryContext, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(qc.Context, d)
	derived := *qc
	derived.Context = ctx
	return &derived, cancel
}

// Cancelled reports whether the underlying context has been cancelled or
// has exceeded its deadline.
func (qc *QueryContext) Cancelled() bool {
	select {
	case <-qc.Done():
		return true
	default:
		return false
	}
}
