package client

import "errors"

var (
	// ErrNilHandler is returned by New when no MessageHandler is given.
	ErrNilHandler = errors.New("client: message handler is nil")
	// ErrInvalidState is returned by Connect unless the client is disconnected.
	ErrInvalidState = errors.New("client: invalid state for operation")
	// ErrNotConnected is returned by Send and Post unless the client is connected.
	ErrNotConnected = errors.New("client: not connected")
	// ErrNoCorrelationID is returned by Send when the handler finds no id in the payload.
	ErrNoCorrelationID = errors.New("client: payload has no correlation id")
	// ErrDuplicateCall is returned by Send when a call with the same id is already pending.
	ErrDuplicateCall = errors.New("client: call with this correlation id already pending")
	// ErrRequestTimeout is returned by Send when no response arrived in time.
	ErrRequestTimeout = errors.New("client: request timed out")
	// ErrClientDisconnected fails calls still pending when Disconnect runs.
	ErrClientDisconnected = errors.New("client: client disconnected")
	// ErrConnectionLost fails calls still pending when the transport breaks.
	ErrConnectionLost = errors.New("client: connection lost")
)
