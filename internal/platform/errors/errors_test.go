package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := WithMetadata(CodeValidationFailed, "saving contact failed", map[string]string{"name": "Bob"})
	if !stderrors.Is(err, New(CodeValidationFailed, "other message")) {
		t.Fatal("expected errors.Is to match on code")
	}
	if stderrors.Is(err, New(CodeUnauthenticated, "saving contact failed")) {
		t.Fatal("expected different codes not to match")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("constraint failed")
	err := Wrap(CodeInternal, "count contacts", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
}

func TestExtensionsCarryCodeAndInvalidArgs(t *testing.T) {
	err := WithMetadata(CodeValidationFailed, "saving identity failed", map[string]string{"username": "al"})
	ext := err.Extensions()
	if ext["code"] != "VALIDATION_FAILED" {
		t.Fatalf("code = %v, want VALIDATION_FAILED", ext["code"])
	}
	args, ok := ext["invalidArgs"].(map[string]string)
	if !ok {
		t.Fatalf("invalidArgs type = %T", ext["invalidArgs"])
	}
	if args["username"] != "al" {
		t.Fatalf("invalidArgs[username] = %q, want al", args["username"])
	}

	args["username"] = "mutated"
	if err.Metadata["username"] != "al" {
		t.Fatal("extensions must not alias error metadata")
	}
}

func TestExtensionsOmitEmptyInvalidArgs(t *testing.T) {
	ext := New(CodeUnauthenticated, "not authenticated").Extensions()
	if _, ok := ext["invalidArgs"]; ok {
		t.Fatal("expected no invalidArgs for metadata-free error")
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("resolve: %w", New(CodeTokenInvalid, "token signature is invalid"))
	if got := CodeOf(wrapped); got != CodeTokenInvalid {
		t.Fatalf("CodeOf = %q, want %q", got, CodeTokenInvalid)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf plain = %q, want %q", got, CodeUnknown)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeUnauthenticated, http.StatusUnauthorized},
		{CodeInvalidCredentials, http.StatusUnauthorized},
		{CodeTokenInvalid, http.StatusUnauthorized},
		{CodeBadRequest, http.StatusBadRequest},
		{CodeValidationFailed, http.StatusBadRequest},
		{CodeInternal, http.StatusInternalServerError},
		{CodeUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.code.HTTPStatus(); got != tt.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", tt.code, got, tt.want)
		}
	}
}
