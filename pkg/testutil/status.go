package testutil

import (
	"sync"

	"github.com/lightforgemedia/go-wsrpc/pkg/client"
)

// StatusEvent is one recorded status notification.
type StatusEvent struct {
	ClientID string
	State    client.State
	ErrText  string
}

// StatusRecorder is a client.StatusHandler that remembers every notification.
type StatusRecorder struct {
	mu     sync.Mutex
	events []StatusEvent
}

// OnStatusChange records the notification.
func (r *StatusRecorder) OnStatusChange(clientID string, state client.State, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, StatusEvent{ClientID: clientID, State: state, ErrText: errText})
}

// Events returns a copy of the recorded notifications.
func (r *StatusRecorder) Events() []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusEvent(nil), r.events...)
}

// States returns the recorded states in order.
func (r *StatusRecorder) States() []client.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]client.State, len(r.events))
	for i, e := range r.events {
		states[i] = e.State
	}
	return states
}

// Has reports whether state has been recorded.
func (r *StatusRecorder) Has(state client.State) bool {
	for _, s := range r.States() {
		if s == state {
			return true
		}
	}
	return false
}
