package xsvc

import "sync"

// overflowPolicy selects what happens when a bounded lane is full.
type overflowPolicy int

const (
	// overflowEvictOldest admits the new message by discarding the oldest
	// entry in the same lane (Critical/High: freshness favored for urgent
	// work).
	overflowEvictOldest overflowPolicy = iota
	// overflowDropNew drops the incoming message (Normal/Low).
	overflowDropNew
)

// policyFor maps a priority to its lane overflow policy.
func policyFor(p Priority) overflowPolicy {
	if p == PriorityCritical || p == PriorityHigh {
		return overflowEvictOldest
	}
	return overflowDropNew
}

// lane is one bounded FIFO message queue. Each lane carries its own mutex so
// unrelated priorities never contend with each other.
type lane struct {
	mu       sync.Mutex
	capacity int
	policy   overflowPolicy
	entries  []*Message
}

func newLane(capacity int, policy overflowPolicy) *lane {
	if capacity < 1 {
		capacity = 1
	}
	return &lane{
		capacity: capacity,
		policy:   policy,
		entries:  make([]*Message, 0, capacity),
	}
}

// push enqueues m. On overflow it either evicts and returns the displaced
// oldest entry (evicted != nil, ok == true) or refuses the new message
// (ok == false). FIFO order is preserved apart from the eviction itself.
func (l *lane) push(m *Message) (evicted *Message, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.capacity {
		if l.policy == overflowDropNew {
			return nil, false
		}
		evicted = l.entries[0]
		l.entries = append(l.entries[:0], l.entries[1:]...)
	}
	l.entries = append(l.entries, m)
	return evicted, true
}

// drain removes and returns every queued message in FIFO order.
func (l *lane) drain() []*Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return nil
	}
	out := l.entries
	l.entries = make([]*Message, 0, l.capacity)
	return out
}

// len reports the current queue depth.
func (l *lane) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
