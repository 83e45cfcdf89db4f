package xsvc

import "sync"

// pendingTable correlates message ids with awaitable response slots.
// A slot exists iff a Send with RequiresResponse is in flight; it is removed
// on resolution, on timeout, and on bus close, never left dangling.
type pendingTable struct {
	mu    sync.Mutex
	slots map[string]chan []byte
}

func newPendingTable() *pendingTable {
	return &pendingTable{slots: make(map[string]chan []byte)}
}

// create allocates the slot for id. The channel is buffered so resolve never
// blocks the responder.
func (t *pendingTable) create(id string) chan []byte {
	ch := make(chan []byte, 1)
	t.mu.Lock()
	t.slots[id] = ch
	t.mu.Unlock()
	return ch
}

// resolve delivers payload to the waiter and releases the slot.
// Returns false when the slot already expired.
func (t *pendingTable) resolve(id string, payload []byte) bool {
	t.mu.Lock()
	ch, ok := t.slots[id]
	if ok {
		delete(t.slots, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- payload
	return true
}

// release removes the slot without resolving it (timeout or cancellation).
func (t *pendingTable) release(id string) {
	t.mu.Lock()
	delete(t.slots, id)
	t.mu.Unlock()
}

// has reports whether a slot for id is still outstanding.
func (t *pendingTable) has(id string) bool {
	t.mu.Lock()
	_, ok := t.slots[id]
	t.mu.Unlock()
	return ok
}
