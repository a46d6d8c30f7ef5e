// Package testutil holds small helpers shared by unit tests across packages.
package testutil

import (
	"testing"
	"time"
)

// WaitFor polls condition every interval until it returns true or timeout
// elapses. The condition is checked before the first tick and once more at the
// deadline, so a slow interval never hides a late success.
func WaitFor(t *testing.T, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()

	if condition() {
		return true
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			return condition()
		case <-ticker.C:
			if condition() {
				return true
			}
		}
	}
}
