// Package testutil provides shared test helpers.
package testutil

import (
	"testing"
	"time"
)

// WaitForCondition polls cond until it returns true or the timeout
// elapses, then fails the test. Use this instead of a bare sleep when a
// background goroutine (serial monitor, control loop) needs time to
// observe an event.
func WaitForCondition(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
