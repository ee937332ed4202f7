package dberrors

import (
	"errors"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	e := Corruption(42, "bad page type %d", 7)
	want := "corruption: bad page type 7 (page 42)"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestErrorMessageWithCause(t *testing.T) {
	cause := errors.New("disk full")
	e := IoError(cause, "write page %d", 3)
	want := "io_error: write page 3: disk full"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
	if !errors.Is(e, cause) {
		t.Errorf("expected Unwrap to expose the cause")
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	e := Rollback("ww-dependency forced abort")
	if !errors.Is(e, RollbackKind) {
		t.Errorf("expected errors.Is to match RollbackKind")
	}
	if errors.Is(e, TimeoutKind) {
		t.Errorf("did not expect errors.Is to match TimeoutKind")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindCorruption:  "corruption",
		KindIoError:     "io_error",
		KindInUse:       "in_use",
		KindTimeout:     "timeout",
		KindRollback:    "rollback",
		KindVolumeFull:  "volume_full",
		KindReadOnly:    "read_only",
		KindInterrupted: "interrupted",
		KindUnknown:     "unknown",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestEveryConstructorSetsItsKind(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"Corruption", Corruption(0, "x"), KindCorruption},
		{"IoError", IoError(nil, "x"), KindIoError},
		{"InUse", InUse("x"), KindInUse},
		{"Timeout", Timeout("x"), KindTimeout},
		{"Rollback", Rollback("x"), KindRollback},
		{"VolumeFull", VolumeFull("x"), KindVolumeFull},
		{"ReadOnly", ReadOnly("x"), KindReadOnly},
		{"Interrupted", Interrupted("x"), KindInterrupted},
	}
	for _, c := range cases {
		if c.err.Kind != c.kind {
			t.Errorf("%s: Kind = %v, want %v", c.name, c.err.Kind, c.kind)
		}
	}
}
