// Package invariant holds the small set of assertion helpers used to guard
// programmer-error conditions across the core (spec §7: invalid parents,
// out-of-range positions, and similar caller bugs abort rather than return
// an error).
package invariant

import "fmt"

// Check panics with a formatted message if cond is false.
func Check(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// Unreachable panics unconditionally; use it for switch branches that the
// caller has already proven can't happen.
func Unreachable(format string, args ...any) {
	panic(fmt.Sprintf("unreachable: "+format, args...))
}
