package failfast

import (
	"errors"
	"strings"
	"testing"
)

func expectPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Expected panic, got none")
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("Expected error type, got: %T", r)
		}
		if !strings.HasPrefix(err.Error(), want) {
			t.Errorf("panic = %q, want prefix %q", err.Error(), want)
		}
	}()
	fn()
}

func expectNoPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Expected no panic, got: %v", r)
		}
	}()
	fn()
}

func TestErr(t *testing.T) {
	expectNoPanic(t, func() { Err(nil) })
	expectPanic(t, "fail-fast: boom", func() { Err(errors.New("boom")) })
}

func TestIf(t *testing.T) {
	expectNoPanic(t, func() { If(true, "unused") })
	expectPanic(t, "fail-fast: size is -1", func() { If(false, "size is %d", -1) })
}

func TestInRange(t *testing.T) {
	expectNoPanic(t, func() { InRange("size", 0, 0, 4) })
	expectNoPanic(t, func() { InRange("size", 4, 0, 4) })
	expectPanic(t, "fail-fast: size = 5 outside [0, 4]", func() { InRange("size", 5, 0, 4) })
	expectPanic(t, "fail-fast: size = -1 outside [0, 4]", func() { InRange("size", -1, 0, 4) })
}
