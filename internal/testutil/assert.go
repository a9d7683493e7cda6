// Package testutil holds small assertion helpers shared by package tests.
package testutil

import (
	"reflect"
	"testing"
	"time"
)

// Assert fails the test if the condition is false.
func Assert(t testing.TB, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Fatalf("assertion failed: %s", msg)
	}
}

// AssertEquals fails the test if a and b are not deeply equal.
func AssertEquals(t testing.TB, a, b interface{}) {
	t.Helper()
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected %#v to equal %#v", a, b)
	}
}

// AssertNotError fails the test if err is not nil.
func AssertNotError(t testing.TB, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error (%s): %v", msg, err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error (%s), got nil", msg)
	}
}

// Eventually polls cond every few milliseconds until it holds or timeout
// elapses.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s: %s", timeout, msg)
	}
}

// Never fails the test if cond becomes true within d.
func Never(t testing.TB, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			t.Fatalf("condition unexpectedly met: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
