package errors

import (
	stdErrors "errors"
	"testing"
)

func TestErrorIncludesInternal(t *testing.T) {
	internal := stdErrors.New("boom")
	err := Wrap(internal, "failed")

	if err.Error() != "failed: boom" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}
}

func TestWithInternalCopies(t *testing.T) {
	with := ErrBadFrame.WithInternal(stdErrors.New("short read"))

	if with == ErrBadFrame {
		t.Fatal("expected WithInternal to return a copy")
	}

	if ErrBadFrame.Internal != nil {
		t.Fatal("expected sentinel to remain unchanged")
	}

	if with.Internal == nil {
		t.Fatal("expected internal error to be set")
	}
}

func TestFromError(t *testing.T) {
	if out := FromError(ErrBadUpdate); out != ErrBadUpdate {
		t.Fatal("expected FromError to return the same AppError instance")
	}

	raw := stdErrors.New("raw")
	out := FromError(raw)
	if out.Code != ErrInternalServer.Code {
		t.Fatalf("expected internal server code, got %s", out.Code)
	}
	if out.Internal == nil {
		t.Fatal("expected internal error to be attached")
	}
}

func TestSentinelMatchSurvivesWithInternal(t *testing.T) {
	err := ErrBadFrame.WithInternal(stdErrors.New("short read"))

	if !stdErrors.Is(err, ErrBadFrame) {
		t.Fatal("expected copy to still match its sentinel by code")
	}
	if stdErrors.Is(err, ErrBadUpdate) {
		t.Fatal("did not expect a match against a different code")
	}
}

func TestUnwrapSupportsErrorsIs(t *testing.T) {
	inner := stdErrors.New("inner")
	err := ErrBadFrame.WithInternal(inner)

	if !stdErrors.Is(err, inner) {
		t.Fatal("expected errors.Is to reach the internal error")
	}
}
