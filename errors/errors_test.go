package errors

import (
	"fmt"
	"testing"
)

func TestSyncError(t *testing.T) {
	// Test basic error creation
	err := New(ErrCodeEnvelopeTooLarge, "envelope too large")
	if err.Code != ErrCodeEnvelopeTooLarge {
		t.Errorf("expected code %s, got %s", ErrCodeEnvelopeTooLarge, err.Code)
	}

	// Test error wrapping
	cause := fmt.Errorf("underlying error")
	wrapped := Wrap(cause, ErrCodeMulticastJoin, "join failed")

	if wrapped.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}

	// Test Is function
	if !Is(wrapped, ErrCodeMulticastJoin) {
		t.Error("Is should return true for matching code")
	}

	if Is(wrapped, ErrCodeEnvelopeTooLarge) {
		t.Error("Is should return false for non-matching code")
	}

	// Test WithDetail
	detailed := err.WithDetail("size", 9000).WithDetail("limit", 8192)
	if detailed.Details["size"] != 9000 {
		t.Error("WithDetail should add details")
	}
}

func TestErrorConstructors(t *testing.T) {
	err := MulticastJoin(3000, fmt.Errorf("address in use"))
	if err.Code != ErrCodeMulticastJoin {
		t.Errorf("expected code %s, got %s", ErrCodeMulticastJoin, err.Code)
	}
	if err.Details["port"] != 3000 {
		t.Error("MulticastJoin should include port detail")
	}

	sizeErr := EnvelopeTooLarge(9000, 8192)
	if sizeErr.Details["size"] != 9000 || sizeErr.Details["limit"] != 8192 {
		t.Error("EnvelopeTooLarge should include size and limit details")
	}

	if GetCode(sizeErr) != ErrCodeEnvelopeTooLarge {
		t.Error("GetCode should extract the code")
	}
}
