package authority

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantInternal bool
		wantStatus   int
	}{
		{"bad request", badRequest("nope"), false, 400},
		{"unauthorized", unauthorized("nope"), false, 401},
		{"internal", internalError("boom", errors.New("db down")), true, 500},
		{"wrapped internal", fmt.Errorf("outer: %w", internalError("boom", nil)), true, 500},
		{"wrapped caller", fmt.Errorf("outer: %w", badRequest("nope")), false, 400},
		{"unclassified", errors.New("mystery"), true, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isInternal(tt.err); got != tt.wantInternal {
				t.Errorf("isInternal() = %v, want %v", got, tt.wantInternal)
			}
			if got := statusOf(tt.err); got != tt.wantStatus {
				t.Errorf("statusOf() = %d, want %d", got, tt.wantStatus)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("db down")
	err := internalError("lookup failed", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is() does not reach the wrapped cause")
	}
	if err.Error() != "lookup failed: db down" {
		t.Errorf("Error() = %q", err.Error())
	}
}
