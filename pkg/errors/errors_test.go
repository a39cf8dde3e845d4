package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := stdErrors.New("boom")
	err := Wrap(CodeDependency, cause, "calling provider")

	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to survive errors.Is")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code: %s", err.Code())
	}
}

func TestAsUnwrapsThroughFmt(t *testing.T) {
	t.Parallel()

	inner := New(CodeInsufficientStock, "product out of stock")
	wrapped := fmt.Errorf("checkout failed: %w", inner)

	typed := As(wrapped)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	if typed.Code() != CodeInsufficientStock {
		t.Fatalf("unexpected code: %s", typed.Code())
	}
}

func TestMetadataForUnknownCode(t *testing.T) {
	t.Parallel()

	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unknown code should map to internal, got %d", meta.HTTPStatus)
	}
}

func TestStateConflictMetadata(t *testing.T) {
	t.Parallel()

	meta := MetadataFor(CodeStateConflict)
	if meta.HTTPStatus != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: %d", meta.HTTPStatus)
	}
	if !meta.DetailsAllowed {
		t.Fatal("state conflicts should surface transition details")
	}
}
