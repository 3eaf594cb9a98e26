package reportsink_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lightforgemedia/go-wsrpc/pkg/envelope"
	"github.com/lightforgemedia/go-wsrpc/pkg/reportsink"
	"github.com/lightforgemedia/go-wsrpc/pkg/testutil"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subj string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject: subj, data: data})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func TestSubjectPerClient(t *testing.T) {
	s := reportsink.NewWithPublisher(&fakePublisher{}, "", testutil.DefaultLogger)
	assert.Equal(t, "wsrpc.reports.p1", s.Subject("p1"))
	assert.Equal(t, "wsrpc.reports.printer_2_a", s.Subject("printer.2 a"))
	assert.Equal(t, "wsrpc.reports._", s.Subject(""))

	s = reportsink.NewWithPublisher(&fakePublisher{}, "farm", nil)
	assert.Equal(t, "farm.x", s.Subject("x"))
}

func TestWrapForwardsAndDelegates(t *testing.T) {
	pub := &fakePublisher{}
	s := reportsink.NewWithPublisher(pub, "farm", testutil.DefaultLogger)

	var got []int
	h := s.Wrap("p1", envelope.NewHandler(func(env *envelope.Envelope) error {
		got = append(got, env.Method)
		return nil
	}))

	report, err := envelope.NewReport(6000, map[string]int{"progress": 40})
	require.NoError(t, err)
	raw, err := report.Marshal()
	require.NoError(t, err)

	assert.True(t, h.IsReport(raw))
	assert.False(t, h.IsResponse(raw))
	require.NoError(t, h.HandleReport(raw))

	assert.Equal(t, []int{6000}, got)
	msgs := pub.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "farm.p1", msgs[0].subject)
	assert.JSONEq(t, string(raw), string(msgs[0].data))
}

func TestWrapPublishFailureStillDelegates(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats down")}
	s := reportsink.NewWithPublisher(pub, "", testutil.DefaultLogger)

	delivered := false
	h := s.Wrap("p1", envelope.NewHandler(func(*envelope.Envelope) error {
		delivered = true
		return nil
	}))
	raw, err := (&envelope.Envelope{Version: envelope.Version, Method: 1, MessageType: envelope.MessageTypeNotification}).Marshal()
	require.NoError(t, err)

	err = h.HandleReport(raw)
	assert.Error(t, err)
	assert.True(t, delivered)
}

func TestWrapWithLiveClient(t *testing.T) {
	ps := testutil.NewPeerServer(t)
	pub := &fakePublisher{}
	s := reportsink.NewWithPublisher(pub, "farm", testutil.DefaultLogger)

	testutil.NewTestClient(t, "p1", ps.WSURL, s.Wrap("p1", envelope.NewHandler(nil)), nil)
	require.NoError(t, ps.Push(6000, map[string]string{"state": "printing"}))

	require.NoError(t, testutil.WaitFor(t, "report forwarded", time.Second, func() bool {
		return len(pub.all()) == 1
	}))
	assert.Equal(t, "farm.p1", pub.all()[0].subject)
}

func TestNATSRoundTrip(t *testing.T) {
	if !isNATSServerRunning() {
		t.Skip("Skipping test because no NATS server is running")
	}

	s, err := reportsink.New(reportsink.Options{Subject: "wsrpc.test", Logger: testutil.DefaultLogger})
	require.NoError(t, err)
	defer s.Close()

	nc, err := nats.Connect(nats.DefaultURL)
	require.NoError(t, err)
	defer nc.Close()
	sub, err := nc.SubscribeSync(s.Subject("p1"))
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	h := s.Wrap("p1", envelope.NewHandler(nil))
	raw, err := (&envelope.Envelope{Version: envelope.Version, Method: 9, MessageType: envelope.MessageTypeNotification}).Marshal()
	require.NoError(t, err)
	require.NoError(t, h.HandleReport(raw))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := sub.NextMsgWithContext(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(msg.Data))
}

func isNATSServerRunning() bool {
	nc, err := nats.Connect(nats.DefaultURL)
	if err != nil {
		return false
	}
	nc.Close()
	return true
}
