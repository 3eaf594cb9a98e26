// Package reportsink forwards the reports received by clients to NATS subjects, so
// other processes can follow what the peers push without holding a connection.
package reportsink

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lightforgemedia/go-wsrpc/pkg/client"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix used when Options.Subject is empty.
const DefaultSubject = "wsrpc.reports"

// Publisher publishes one message. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// Options contains configuration options for a NATS-backed Sink.
type Options struct {
	// URL is the NATS server URL.
	URL string

	// Subject is the prefix of the subjects reports are published on.
	// Each client publishes on "<Subject>.<clientID>".
	Subject string

	// ConnectionOptions are additional options for the NATS connection.
	ConnectionOptions []nats.Option

	Logger *slog.Logger
}

// Sink publishes reports on NATS subjects.
type Sink struct {
	pub     Publisher
	conn    *nats.Conn // nil when the publisher was supplied by the caller
	subject string
	logger  *slog.Logger
}

// New connects to NATS and returns a Sink publishing through that connection.
func New(opts Options) (*Sink, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	conn, err := nats.Connect(opts.URL, opts.ConnectionOptions...)
	if err != nil {
		return nil, fmt.Errorf("reportsink: failed to connect to NATS: %w", err)
	}
	s := NewWithPublisher(conn, opts.Subject, opts.Logger)
	s.conn = conn
	return s, nil
}

// NewWithPublisher returns a Sink that publishes through pub.
func NewWithPublisher(pub Publisher, subject string, logger *slog.Logger) *Sink {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{pub: pub, subject: subject, logger: logger}
}

// Subject returns the subject reports of clientID are published on.
func (s *Sink) Subject(clientID string) string {
	return s.subject + "." + subjectToken(clientID)
}

// Wrap returns a MessageHandler that behaves like next and also publishes every
// report of clientID before handing it to next.
func (s *Sink) Wrap(clientID string, next client.MessageHandler) client.MessageHandler {
	return &forwarder{MessageHandler: next, sink: s, subject: s.Subject(clientID)}
}

// Close drains and closes the NATS connection opened by New.
func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("reportsink: drain: %w", err)
	}
	return nil
}

type forwarder struct {
	client.MessageHandler
	sink    *Sink
	subject string
}

func (f *forwarder) HandleReport(raw []byte) error {
	var errs []error
	if err := f.sink.pub.Publish(f.subject, raw); err != nil {
		f.sink.logger.Warn(fmt.Sprintf("ReportSink: Publish to %s failed: %v", f.subject, err))
		errs = append(errs, fmt.Errorf("reportsink: publish %s: %w", f.subject, err))
	}
	if err := f.MessageHandler.HandleReport(raw); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// subjectToken makes id usable as a single NATS subject token.
func subjectToken(id string) string {
	if id == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, id)
}
