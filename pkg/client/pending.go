package client

import (
	"fmt"
	"sync"
)

type result struct {
	payload []byte
	err     error
}

// pendingCall is a single-assignment result slot. Whoever removes the call from the
// table is the only one allowed to write to done, so the buffered send never blocks.
type pendingCall struct {
	id   string
	done chan result
}

type pendingTable struct {
	mu     sync.Mutex
	calls  map[string]*pendingCall
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		calls:  make(map[string]*pendingCall),
		closed: true,
	}
}

// open lets the table accept calls again after a sweep.
func (t *pendingTable) open() {
	t.mu.Lock()
	t.closed = false
	t.mu.Unlock()
}

func (t *pendingTable) add(id string) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrNotConnected
	}
	if _, exists := t.calls[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCall, id)
	}
	call := &pendingCall{id: id, done: make(chan result, 1)}
	t.calls[id] = call
	return call, nil
}

// fulfil delivers payload to the call waiting on id. It returns false for orphans.
func (t *pendingTable) fulfil(id string, payload []byte) bool {
	t.mu.Lock()
	call, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	call.done <- result{payload: payload}
	return true
}

// remove drops call if it is still the entry registered under its id.
func (t *pendingTable) remove(call *pendingCall) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.calls[call.id]; ok && cur == call {
		delete(t.calls, call.id)
		return true
	}
	return false
}

// sweep fails every pending call with err and closes the table.
func (t *pendingTable) sweep(err error) int {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[string]*pendingCall)
	t.closed = true
	t.mu.Unlock()

	for _, call := range calls {
		call.done <- result{err: err}
	}
	return len(calls)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
