package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Wrapped(t *testing.T) {
	errShort := New(InsufficientResource, "ledger: insufficient balance")
	wrapped := fmt.Errorf("withdraw u1: %w", errShort)

	if got := KindOf(wrapped); got != InsufficientResource {
		t.Errorf("expected insufficient_resource, got %s", got)
	}
	if !errors.Is(wrapped, errShort) {
		t.Error("wrapped error should match its sentinel")
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Errorf("expected internal, got %s", got)
	}
	if got := KindOf(nil); got != Internal {
		t.Errorf("expected internal for nil, got %s", got)
	}
}
