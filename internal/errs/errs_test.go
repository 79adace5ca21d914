package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lbj9527/tgrelay/internal/errs"
)

func TestIs_MatchesWrappedKind(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	wrapped := errs.Wrap(errs.KindTransientIO, cause, "download failed")

	if !errs.Is(wrapped, errs.KindTransientIO) {
		t.Fatal("Is() = false, want true for matching kind")
	}
	if errs.Is(wrapped, errs.KindRateLimit) {
		t.Fatal("Is() = true, want false for mismatched kind")
	}
}

func TestIs_FalseForPlainError(t *testing.T) {
	t.Parallel()

	if errs.Is(errors.New("plain"), errs.KindValidation) {
		t.Fatal("Is() = true for a plain error, want false")
	}
}

func TestKindOf_DefaultsToUnknown(t *testing.T) {
	t.Parallel()

	if got := errs.KindOf(errors.New("plain")); got != errs.KindUnknown {
		t.Fatalf("KindOf() = %v, want KindUnknown", got)
	}
}

func TestWrap_NilCauseReturnsNil(t *testing.T) {
	t.Parallel()

	if err := errs.Wrap(errs.KindTransientIO, nil, "msg"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWrap_PreservesUnwrapChain(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("underlying")
	wrapped := errs.Wrap(errs.KindResource, cause, "context")

	if !errors.Is(wrapped, cause) {
		t.Fatal("errors.Is() did not find the wrapped cause")
	}
}

func TestIs_FindsKindThroughFmtWrap(t *testing.T) {
	t.Parallel()

	base := errs.New(errs.KindAuthorisation, "unauthorized")
	doubled := fmt.Errorf("retry: %w", base)

	if !errs.Is(doubled, errs.KindAuthorisation) {
		t.Fatal("Is() did not see through fmt.Errorf wrapping")
	}
}
