package runtime

import (
	"errors"
	"fmt"
	"testing"
)

func TestFlowErrorRetriable(t *testing.T) {
	tests := []struct {
		name      string
		err       *FlowError
		retriable bool
	}{
		{
			name:      "transient is retriable",
			err:       NewTransientError("lookup", errors.New("connection reset")),
			retriable: true,
		},
		{
			name:      "timeout is retriable",
			err:       NewTimeoutError("lookup", errors.New("deadline exceeded")),
			retriable: true,
		},
		{
			name:      "permanent is not retriable",
			err:       NewPermanentError("lookup", errors.New("bad request")),
			retriable: false,
		},
		{
			name:      "structural is not retriable",
			err:       NewStructuralError(ErrorCodeNoMatchingEdge, "router", "no edge matched"),
			retriable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retriable(); got != tt.retriable {
				t.Errorf("got %v, want %v", got, tt.retriable)
			}
		})
	}
}

func TestFlowErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	wrapped := fmt.Errorf("step failed: %w", NewTransientError("lookup", cause))

	var ferr *FlowError
	if !errors.As(wrapped, &ferr) {
		t.Fatal("FlowError not found in chain")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("cause not found in chain")
	}
}

func TestFlowErrorToMap(t *testing.T) {
	err := NewStructuralError(ErrorCodeUnknownState, "ghost", "state ghost does not exist")
	m := err.ToMap()
	if m["type"] != "structural" || m["code"] != "UNKNOWN_STATE" || m["state"] != "ghost" {
		t.Errorf("unexpected map: %v", m)
	}
}
