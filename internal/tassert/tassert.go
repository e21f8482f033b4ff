// Package tassert provides small assertion helpers for plain testing.T
// tables in leaf packages (codecs, hashers, buffering), cutting the usual
// "if err != nil { t.Fatalf(...) }" boilerplate down to one call.
package tassert

import "testing"

// CheckFatal fails the test immediately if err is non-nil.
func CheckFatal(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

// Fatalf fails the test immediately with a formatted message if cond is false.
func Fatalf(t *testing.T, cond bool, format string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

// Errorf records a failure without stopping the test if cond is false, for
// table-driven cases where later iterations still carry useful signal.
func Errorf(t *testing.T, cond bool, format string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Errorf(format, args...)
	}
}
