// Package envelope implements the reference JSON payload convention spoken by the
// printer peers:
//
//	{ "id": "<correlation-id>", "version": "1.0", "method": <int>, "data": { ... } }
//
// A response reuses the request's id. A report carries a "messageType" such as
// "notification" instead of answering a call.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Version is written into every envelope built by this package.
const Version = "1.0"

// MessageTypeNotification marks an unsolicited report.
const MessageTypeNotification = "notification"

// ErrMalformed is returned by Parse for payloads that are not a JSON object.
var ErrMalformed = errors.New("envelope: malformed message")

// Envelope is the standard message structure.
type Envelope struct {
	ID          string          `json:"id,omitempty"`          // correlation id, echoed by responses
	Version     string          `json:"version,omitempty"`     // protocol version, "1.0"
	Method      int             `json:"method,omitempty"`      // application method code
	MessageType string          `json:"messageType,omitempty"` // set on reports only
	Data        json.RawMessage `json:"data,omitempty"`        // application data
}

// GenerateID returns a new random correlation id.
func GenerateID() string {
	return uuid.NewString()
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("envelope: failed to marshal data: %w", err)
	}
	return b, nil
}

// NewRequest builds a request envelope with a fresh correlation id.
func NewRequest(method int, data any) (*Envelope, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{ID: GenerateID(), Version: Version, Method: method, Data: raw}, nil
}

// NewResponse builds the response to req.
func NewResponse(req *Envelope, data any) (*Envelope, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{ID: req.ID, Version: Version, Method: req.Method, Data: raw}, nil
}

// NewReport builds an unsolicited notification.
func NewReport(method int, data any) (*Envelope, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Version: Version, Method: method, MessageType: MessageTypeNotification, Data: raw}, nil
}

// Parse decodes raw into an Envelope.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &env, nil
}

// Marshal encodes e as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// IsReport reports whether e is a pushed notification.
func (e *Envelope) IsReport() bool {
	return e.MessageType != ""
}

// IsResponse reports whether e answers a call.
func (e *Envelope) IsResponse() bool {
	return e.MessageType == "" && e.ID != ""
}

// DecodeData unmarshals Data into v (must be a pointer). A missing or null data
// field leaves v untouched.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}
