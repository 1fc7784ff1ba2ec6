package pipelineerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_DirectError(t *testing.T) {
	err := Validationf("missing file %s", "x.mp4")
	if KindOf(err) != Validation {
		t.Errorf("expected Validation, got %s", KindOf(err))
	}
}

func TestKindOf_WrappedError(t *testing.T) {
	inner := DecodingFailuref(errors.New("bad json"), "parse failed")
	wrapped := fmt.Errorf("transcribe: %w", inner)
	if KindOf(wrapped) != DecodingFailure {
		t.Errorf("expected DecodingFailure, got %s", KindOf(wrapped))
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if KindOf(errors.New("oops")) != FatalInternal {
		t.Error("expected plain errors to classify as FatalInternal")
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := TransientIOf(cause, "write segment")
	if err.Error() != "write segment: disk full" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if errors.Unwrap(err) != cause {
		t.Error("expected Unwrap to return cause")
	}
}
