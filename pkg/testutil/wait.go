package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/lightforgemedia/go-wsrpc/pkg/client"
)

// WaitFor is a generic utility to wait for a condition to be true.
// It returns nil if the condition becomes true within the timeout.
// It returns an error if the condition does not become true within the timeout.
func WaitFor(t *testing.T, description string, timeout time.Duration, condition func() bool) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("condition '%s' not met within %v", description, timeout)
}

// WaitForState waits until c reaches want.
func WaitForState(t *testing.T, c *client.Client, want client.State, timeout time.Duration) error {
	t.Helper()
	return WaitFor(t, fmt.Sprintf("client %s in state %s", c.ID(), want), timeout, func() bool {
		return c.State() == want
	})
}
