package cubeengine

import (
	"context"
	"testing"
	"time"
)

func TestNewQueryContext_StampsNowAndTraceID(t *testing.T) {
	qc := NewQueryContext(context.Background(), SecurityContext{UserID: 7})
	if qc.TraceID == "" {
		t.Fatal("expected a non-empty trace id")
	}
	if qc.Now.IsZero() {
		t.Fatal("expected Now to be stamped")
	}
	if qc.Security.UserID != 7 {
		t.Fatalf("got userID %v, want 7", qc.Security.UserID)
	}
}

func TestNewQueryContextAt_PinsNow(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	qc := NewQueryContextAt(context.Background(), SecurityContext{}, fixed)
	if !qc.Now.Equal(fixed) {
		t.Fatalf("got %v, want %v", qc.Now, fixed)
	}
}

func TestQueryContext_WithTimeoutDerivesCancellableContext(t *testing.T) {
	qc := NewQueryContext(context.Background(), SecurityContext{})
	derived, cancel := qc.WithTimeout(time.Hour)
	defer cancel()

	if derived.Cancelled() {
		t.Fatal("freshly derived context should not be cancelled yet")
	}
	cancel()
	if !derived.Cancelled() {
		t.Fatal("expected derived context to be cancelled after calling cancel")
	}
	if qc.Cancelled() {
		t.Fatal("cancelling the derived context should not affect the parent")
	}
}

func TestQueryContext_WithTimeoutPreservesSecurityAndTraceID(t *testing.T) {
	qc := NewQueryContext(context.Background(), SecurityContext{UserID: "u1"})
	derived, cancel := qc.WithTimeout(time.Hour)
	defer cancel()
	if derived.TraceID != qc.TraceID {
		t.Fatalf("expected derived trace id to match parent, got %q vs %q", derived.TraceID, qc.TraceID)
	}
	if derived.Security.UserID != "u1" {
		t.Fatalf("expected derived security context to be preserved, got %+v", derived.Security)
	}
}
