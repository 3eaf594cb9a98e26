package envelope

import (
	"context"
	"fmt"
	"time"
)

// Handler classifies envelopes for a client.Client and hands reports to OnReport.
type Handler struct {
	onReport func(*Envelope) error
}

// NewHandler returns a Handler that passes every decoded report to onReport.
// onReport may be nil, in which case reports are accepted and ignored.
func NewHandler(onReport func(*Envelope) error) *Handler {
	return &Handler{onReport: onReport}
}

// CorrelationID returns the envelope id, or "" for malformed payloads.
func (h *Handler) CorrelationID(raw []byte) string {
	env, err := Parse(raw)
	if err != nil {
		return ""
	}
	return env.ID
}

func (h *Handler) IsReport(raw []byte) bool {
	env, err := Parse(raw)
	return err == nil && env.IsReport()
}

func (h *Handler) IsResponse(raw []byte) bool {
	env, err := Parse(raw)
	return err == nil && env.IsResponse()
}

// HandleReport decodes raw and calls the report callback.
func (h *Handler) HandleReport(raw []byte) error {
	env, err := Parse(raw)
	if err != nil {
		return err
	}
	if h.onReport == nil {
		return nil
	}
	return h.onReport(env)
}

// SendFunc performs one correlated call. (*client.Client).Send has this shape.
type SendFunc func(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error)

// Call sends a request for method with req as data and decodes the response data into T.
func Call[T any](ctx context.Context, send SendFunc, method int, req any, timeout time.Duration) (*T, error) {
	env, err := NewRequest(method, req)
	if err != nil {
		return nil, err
	}
	payload, err := env.Marshal()
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to marshal request: %w", err)
	}
	raw, err := send(ctx, payload, timeout)
	if err != nil {
		return nil, err
	}
	resp, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	var out T
	if err := resp.DecodeData(&out); err != nil {
		return nil, fmt.Errorf("envelope: failed to unmarshal response data into %T: %w. Raw data: %s", out, err, string(resp.Data))
	}
	return &out, nil
}
