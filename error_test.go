package orbit

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func Test_Error_CodeSurvivesWrapping(t *testing.T) {
	cause := errors.New("row missing")
	err := Error{Code: RecordNotFound, Err: cause, UserData: "planet/p1"}

	wrapped := fmt.Errorf("applying operation: %w", err)
	if !IsCode(wrapped, RecordNotFound) {
		t.Fatalf("IsCode through wrapping got = false")
	}
	if got := CodeOf(wrapped); got != RecordNotFound {
		t.Fatalf("CodeOf got = %d, want = %d", got, RecordNotFound)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatalf("errors.Is lost the cause")
	}
}

func Test_Error_CodeOf_UncodedIsUnknown(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != Unknown {
		t.Fatalf("CodeOf(plain) got = %d, want Unknown", got)
	}
	if got := CodeOf(nil); got != Unknown {
		t.Fatalf("CodeOf(nil) got = %d, want Unknown", got)
	}
	if IsCode(errors.New("plain"), StoreUnavailable) {
		t.Fatalf("IsCode matched an uncoded error")
	}
}

func Test_Error_NestedCode_OuterWins(t *testing.T) {
	inner := Error{Code: RecordNotFound, Err: errors.New("row missing")}
	outer := Error{Code: ActionProcessingError, Err: inner, UserData: "transform"}

	if got := CodeOf(outer); got != ActionProcessingError {
		t.Fatalf("CodeOf got = %d, want the outermost code", got)
	}
	// The inner code stays reachable by unwrapping one layer.
	if !IsCode(errors.Unwrap(outer), RecordNotFound) {
		t.Fatalf("inner code unreachable: %v", errors.Unwrap(outer))
	}
}

func Test_Error_Error_IncludesUserData(t *testing.T) {
	withData := Error{Code: SchemaMismatch, Err: errors.New("bad index"), UserData: "related"}
	if msg := withData.Error(); !strings.Contains(msg, "user data: related") || !strings.Contains(msg, "bad index") {
		t.Fatalf("message got = %q", msg)
	}
	bare := Error{Code: SchemaMismatch, Err: errors.New("bad index")}
	if msg := bare.Error(); strings.Contains(msg, "user data") {
		t.Fatalf("message mentions absent user data: %q", msg)
	}
}
