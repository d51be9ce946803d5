package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("load: %w", Wrap(CodeCorruptDocument, "parse docx", stderrors.New("zip: not a valid zip file")))
	if !stderrors.Is(err, New(CodeCorruptDocument, "")) {
		t.Fatal("expected wrapped error to match CORRUPT_DOCUMENT")
	}
	if stderrors.Is(err, New(CodeNotFound, "")) {
		t.Fatal("expected wrapped error not to match NOT_FOUND")
	}
}

func TestErrorIncludesCause(t *testing.T) {
	t.Parallel()

	err := Wrap(CodeCorruptDocument, "parse docx", stderrors.New("bad zip"))
	if got := err.Error(); got != "parse docx: bad zip" {
		t.Fatalf("Error() = %q, want %q", got, "parse docx: bad zip")
	}
	if got := New(CodeNotFound, "document not found").Error(); got != "document not found" {
		t.Fatalf("Error() = %q, want %q", got, "document not found")
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	if got := CodeOf(fmt.Errorf("outer: %w", New(CodeNotFound, "missing"))); got != CodeNotFound {
		t.Fatalf("CodeOf = %q, want %q", got, CodeNotFound)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf = %q, want %q", got, CodeUnknown)
	}
}

func TestHTTPStatusMapsKnownCodes(t *testing.T) {
	t.Parallel()

	cases := map[Code]int{
		CodeUnsupportedFormat: http.StatusBadRequest,
		CodeInvalidArgument:   http.StatusBadRequest,
		CodeCorruptDocument:   http.StatusUnprocessableEntity,
		CodeNotFound:          http.StatusNotFound,
		CodeUnauthenticated:   http.StatusUnauthorized,
		CodeResourceExhausted: http.StatusRequestEntityTooLarge,
		CodeUnknown:           http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(New(code, "x")); got != want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
	if got := HTTPStatus(nil); got != http.StatusOK {
		t.Fatalf("HTTPStatus(nil) = %d, want %d", got, http.StatusOK)
	}
}

func TestWithMetadataKeepsMetadata(t *testing.T) {
	t.Parallel()

	err := WithMetadata(CodeUnsupportedFormat, "unsupported format", map[string]string{"extension": "pdf"})
	if err.Metadata["extension"] != "pdf" {
		t.Fatalf("metadata extension = %q, want %q", err.Metadata["extension"], "pdf")
	}
}
