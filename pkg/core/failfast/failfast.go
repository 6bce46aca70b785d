// Package failfast asserts internal invariants.
//
// A violated invariant means a data structure is corrupted; there is no safe
// way to continue, so these helpers panic with a stack trace instead of
// returning an error. Argument validation belongs in ordinary error returns.
package failfast

import (
	"fmt"
	"runtime/debug"
)

// Err panics if err != nil
func Err(err error) {
	if err != nil {
		panic(fmt.Errorf("fail-fast: %w\n%s", err, debug.Stack()))
	}
}

// If panics if condition is false
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		panic(fmt.Errorf("fail-fast: "+message, args...))
	}
}

// InRange panics unless min <= v <= max
func InRange(name string, v, min, max int) {
	if v < min || v > max {
		panic(fmt.Errorf("fail-fast: %s = %d outside [%d, %d]", name, v, min, max))
	}
}
