package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/lightforgemedia/go-wsrpc/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	for _, u := range []string{"ws://127.0.0.1:6382/ws", "wss://printer.local/ws?token=x", "WS://host"} {
		parsed, err := transport.ParseURL(u)
		require.NoError(t, err, u)
		assert.NotEmpty(t, parsed.Host)
	}
	for _, u := range []string{"", "127.0.0.1:6382", "http://host/ws", "ws://", "ws:///path", "%zz"} {
		_, err := transport.ParseURL(u)
		assert.ErrorIs(t, err, transport.ErrInvalidURL, u)
	}
}

func TestMessageKindString(t *testing.T) {
	assert.Equal(t, "text", transport.KindText.String())
	assert.Equal(t, "binary", transport.KindBinary.String())
}

// echoServer echoes every frame back with the same message type.
func echoServer(t *testing.T) string {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			typ, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if err := conn.Write(r.Context(), typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWebSocketRoundTrip(t *testing.T) {
	url := echoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := transport.NewWebSocket()
	require.NoError(t, tr.Connect(ctx, url))
	defer tr.Close()

	assert.ErrorIs(t, tr.Connect(ctx, url), transport.ErrAlreadyOpen)

	require.NoError(t, tr.Send(ctx, transport.Frame{Kind: transport.KindText, Payload: []byte(`{"id":"1"}`)}))
	f, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, transport.KindText, f.Kind)
	assert.Equal(t, `{"id":"1"}`, string(f.Payload))

	require.NoError(t, tr.Send(ctx, transport.Frame{Kind: transport.KindBinary, Payload: []byte{0x01, 0x02}}))
	f, err = tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, transport.KindBinary, f.Kind)
	assert.Equal(t, []byte{0x01, 0x02}, f.Payload)
}

func TestWebSocketClosed(t *testing.T) {
	url := echoServer(t)
	ctx := context.Background()

	tr := transport.NewWebSocket()
	_, err := tr.Receive(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, tr.Send(ctx, transport.Frame{}), transport.ErrClosed)
	assert.NoError(t, tr.Close())

	require.NoError(t, tr.Connect(ctx, url))
	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())
	assert.ErrorIs(t, tr.Send(ctx, transport.Frame{Payload: []byte("x")}), transport.ErrClosed)
}

func TestWebSocketConnectErrors(t *testing.T) {
	tr := transport.NewWebSocket()
	assert.ErrorIs(t, tr.Connect(context.Background(), "http://127.0.0.1/ws"), transport.ErrInvalidURL)

	s := httptest.NewServer(http.NotFoundHandler())
	defer s.Close()
	err := tr.Connect(context.Background(), "ws"+strings.TrimPrefix(s.URL, "http"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestWebSocketReadLimit(t *testing.T) {
	url := echoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := transport.NewWebSocket(transport.WithReadLimit(16))
	require.NoError(t, tr.Connect(ctx, url))
	defer tr.Close()

	require.NoError(t, tr.Send(ctx, transport.Frame{Payload: []byte(strings.Repeat("x", 64))}))
	_, err := tr.Receive(ctx)
	assert.Error(t, err)
}
