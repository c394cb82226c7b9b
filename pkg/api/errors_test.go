package api

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetryableByDefault(t *testing.T) {
	cases := map[ErrorKind]bool{
		ErrorKindStepNotFound:   false,
		ErrorKindActionNotFound: false,
		ErrorKindValidation:     false,
		ErrorKindExecution:      true,
		ErrorKindTimeout:        true,
		ErrorKindConfiguration:  false,
	}
	for kind, want := range cases {
		if got := kind.RetryableByDefault(); got != want {
			t.Fatalf("%s: expected retryable=%v, got %v", kind, want, got)
		}
	}
}

func TestAsStepError_PassthroughAndCoercion(t *testing.T) {
	se := NewStepError(ErrorKindValidation, "bad input")
	if got := AsStepError(se); got != se {
		t.Fatalf("expected passthrough of StepError")
	}

	wrapped := fmt.Errorf("context: %w", se)
	if got := AsStepError(wrapped); got != se {
		t.Fatalf("expected unwrapped StepError, got %v", got)
	}

	plain := errors.New("boom")
	got := AsStepError(plain)
	if got.Kind != ErrorKindExecution || !got.Retryable {
		t.Fatalf("expected retryable EXECUTION_ERROR, got %+v", got)
	}

	if AsStepError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestStepError_ErrorString(t *testing.T) {
	se := NewStepError(ErrorKindTimeout, "too slow")
	se.StepID = "fetch"
	if se.Error() != "TIMEOUT: too slow (step fetch)" {
		t.Fatalf("unexpected message: %s", se.Error())
	}
}
