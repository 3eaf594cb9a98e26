// Package testutil provides common test utilities for the go-wsrpc library.
package testutil

import (
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/lightforgemedia/go-wsrpc/pkg/peer"
)

var (
	// Default logger for tests
	defaultSlogHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	})
	DefaultLogger = slog.New(defaultSlogHandler)
)

// PeerServer combines a reference peer and its HTTP server for testing.
type PeerServer struct {
	*peer.Peer
	HTTP  *httptest.Server
	WSURL string
}

// NewPeerServer starts a peer on an httptest server. The server is closed when the test ends.
func NewPeerServer(t *testing.T, opts ...peer.Option) *PeerServer {
	t.Helper()

	finalOpts := append([]peer.Option{peer.WithLogger(DefaultLogger)}, opts...)
	p := peer.New(finalOpts...)
	s := httptest.NewServer(p.Handler())

	ps := &PeerServer{
		Peer:  p,
		HTTP:  s,
		WSURL: "ws" + strings.TrimPrefix(s.URL, "http") + "/ws",
	}
	t.Cleanup(ps.Close)
	return ps
}

// Close drops all connections and stops the HTTP server.
func (s *PeerServer) Close() {
	s.Peer.Shutdown()
	s.HTTP.Close()
}
