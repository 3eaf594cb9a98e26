package client

// State is the connection state of a Client.
type State int32

const (
	// StateDisconnected is the initial state and the state after Disconnect.
	StateDisconnected State = iota
	// StateConnecting means a Connect call is dialing the peer.
	StateConnecting
	// StateConnected means the workers are running and calls may be sent.
	StateConnected
	// StateError means the last connect attempt or the live connection failed.
	// Only Disconnect leaves this state.
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MessageHandler classifies and parses raw inbound messages. It is supplied by the
// caller and owns the application payload schema.
type MessageHandler interface {
	// CorrelationID extracts the id that ties a response to its call.
	// An empty string means the message cannot be correlated.
	CorrelationID(raw []byte) string
	// IsReport reports whether raw is an unsolicited push from the peer.
	IsReport(raw []byte) bool
	// IsResponse reports whether raw answers a call. A message that is neither
	// a report nor a response is discarded.
	IsResponse(raw []byte) bool
	// HandleReport processes one report. It runs on the client's dispatcher
	// goroutine; a returned error is logged and does not stop later reports.
	HandleReport(raw []byte) error
}

// StatusHandler is notified on every state transition of a Client.
type StatusHandler interface {
	OnStatusChange(clientID string, state State, errText string)
}

// StatusHandlerFunc adapts a plain function to StatusHandler.
type StatusHandlerFunc func(clientID string, state State, errText string)

// OnStatusChange calls f.
func (f StatusHandlerFunc) OnStatusChange(clientID string, state State, errText string) {
	f(clientID, state, errText)
}
