package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/lightforgemedia/go-wsrpc/pkg/client"
)

// NewTestClient creates a client for urlStr, connects it and disconnects it when the
// test ends. The test fails if the connection cannot be established.
func NewTestClient(t *testing.T, id, urlStr string, h client.MessageHandler, sh client.StatusHandler, opts ...client.Option) *client.Client {
	t.Helper()

	finalOpts := append([]client.Option{
		client.WithLogger(DefaultLogger),
		client.WithDefaultRequestTimeout(2 * time.Second),
	}, opts...)
	c, err := client.New(id, urlStr, h, sh, finalOpts...)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect client to %s: %v", urlStr, err)
	}
	t.Cleanup(c.Disconnect)
	return c
}
