package testutil

import (
	"fmt"
	"testing"
	"time"
)

// WaitFor is a generic utility to wait for a condition to become true.
// It returns nil if the condition becomes true within the timeout and an
// error otherwise.
func WaitFor(t *testing.T, description string, timeout time.Duration, condition func() bool) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("condition '%s' not met within %v", description, timeout)
}
