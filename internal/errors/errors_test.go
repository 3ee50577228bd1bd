package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestCodeOfWrapped(t *testing.T) {
	base := NewRegistryUnavailableError("lookup_by_approval_no", fmt.Errorf("dial tcp: refused"))
	wrapped := fmt.Errorf("match: %w", base)

	if got := CodeOf(wrapped); got != ErrorRegistryUnavailable {
		t.Fatalf("CodeOf = %q, want %q", got, ErrorRegistryUnavailable)
	}
	if !Is(wrapped, ErrorRegistryUnavailable) {
		t.Fatal("Is should match wrapped code")
	}
	if Is(nil, ErrorRegistryUnavailable) {
		t.Fatal("Is(nil) must be false")
	}
	if CodeOf(stderrors.New("plain")) != "" {
		t.Fatal("plain errors carry no code")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := stderrors.New("broken header")
	err := NewInvalidImageError("cannot decode", cause)

	want := "INVALID_IMAGE: image rejected: cannot decode (caused by: broken header)"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("Unwrap should expose the cause")
	}
}

func TestToMap(t *testing.T) {
	err := NewImageTimeoutError(1, 30*time.Second)
	m := err.ToMap()

	if m["error_code"] != "IMAGE_TIMEOUT" {
		t.Errorf("error_code = %v", m["error_code"])
	}
	if m["timeout_duration"] != "30s" {
		t.Errorf("timeout_duration = %v", m["timeout_duration"])
	}
	if _, ok := m["cause"]; ok {
		t.Error("cause should be absent when nil")
	}
}

func TestEngineUnavailableMessage(t *testing.T) {
	if got := NewEngineUnavailableError("paddle", nil).Error(); got != "ENGINE_UNAVAILABLE: OCR engine paddle unavailable" {
		t.Errorf("named engine: %q", got)
	}
	if got := NewEngineUnavailableError("", nil).Error(); got != "ENGINE_UNAVAILABLE: no OCR engine available" {
		t.Errorf("no engine: %q", got)
	}
}
