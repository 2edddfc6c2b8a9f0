package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeNotFound, "")
	err := fmt.Errorf("lookup: %w", Wrap(CodeNotFound, stdErrors.New("missing row"), "job not found"))

	if !stdErrors.Is(err, sentinel) {
		t.Fatalf("expected wrapped error to match sentinel by code")
	}
	if stdErrors.Is(err, New(CodeConflict, "")) {
		t.Fatalf("unexpected match on a different code")
	}
	if CodeOf(err) != CodeNotFound {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if !IsCode(err, CodeNotFound) {
		t.Fatalf("expected IsCode to report NOT_FOUND")
	}
}

func TestDefaultsFollowRegistry(t *testing.T) {
	err := New(CodeStorageFailure, "")
	if err.Message() != "storage failure" {
		t.Fatalf("expected registered default message, got %q", err.Message())
	}
	if !err.Retryable() || !err.ShouldAlert() || err.Severity() != SeverityCritical {
		t.Fatalf("unexpected attributes: retryable=%v alert=%v severity=%s", err.Retryable(), err.ShouldAlert(), err.Severity())
	}

	overridden := New(CodeStorageFailure, "", WithRetryable(false), WithAlert(false), WithSeverity(SeverityInfo))
	if overridden.Retryable() || overridden.ShouldAlert() || overridden.Severity() != SeverityInfo {
		t.Fatalf("options did not override attributes")
	}
}

func TestRegisterCustomCode(t *testing.T) {
	code := Code("TEST_CUSTOM")
	Register(code, Attributes{Message: "custom", Severity: SeverityWarning, Retryable: true})
	if !Registered(code) {
		t.Fatalf("expected code to be registered")
	}
	if !RetryableError(New(code, "")) {
		t.Fatalf("expected custom code to be retryable")
	}
	if RetryableError(stdErrors.New("plain")) {
		t.Fatalf("plain errors are never retryable")
	}
	if SeverityOf(stdErrors.New("plain")) != SeverityCritical {
		t.Fatalf("plain errors should fall back to UNKNOWN severity")
	}
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(CodeInvalidArgument, "bad", WithMetadata("field", "amount_in"))
	meta := err.Metadata()
	meta["field"] = "changed"
	if err.Metadata()["field"] != "amount_in" {
		t.Fatalf("metadata should be returned as a copy")
	}
	if got := err.Error(); got != "[INVALID_ARGUMENT] bad" {
		t.Fatalf("unexpected message %q", got)
	}
}
