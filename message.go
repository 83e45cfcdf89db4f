package xsvc

import (
	"time"
)

// Priority orders message lanes. Lower value means more urgent; drains always
// inspect Critical before High before Normal before Low.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow

	numPriorities = 4
)

// String returns the lane name used in logs and exported events.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

func (p Priority) valid() bool { return p >= PriorityCritical && p <= PriorityLow }

// Kind is the closed set of message kinds routed by the bus. Units declare
// the kinds they subscribe to at registration time.
type Kind string

const (
	KindHealthCheck   Kind = "health_check"
	KindHeartbeat     Kind = "heartbeat"
	KindStateUpdate   Kind = "state_update"
	KindSystemCommand Kind = "system_command"
	KindShutdown      Kind = "shutdown"
	KindData          Kind = "data"
	KindQuery         Kind = "query"
	KindResponse      Kind = "response"
)

// Message is the envelope traveling the bus. The Payload is opaque to the
// bus; use a Codec to exchange typed values. A Message must not be mutated
// after it is handed to Send: the bus shares the same pointer with every
// matching inbox.
type Message struct {
	// ID is unique across the owning bus instance's lifetime.
	// Send assigns it when empty.
	ID string
	// Kind is the logical message kind, used for subscription matching.
	Kind Kind
	// Priority selects the lane.
	Priority Priority
	// Sender is the registered name of the producing unit. Required.
	Sender string
	// Recipient is the registered name of the target unit.
	// Empty means broadcast to every subscriber of Kind.
	Recipient string
	// Payload is the encoded bytes of the message body.
	Payload []byte
	// Metadata is a bag for headers/tracing/tenancy/etc.
	Metadata map[string]string
	// CreatedAt is the production timestamp (from the bus clock).
	CreatedAt time.Time
	// RequiresResponse makes Send block until Respond resolves the message
	// id or ResponseTimeout elapses.
	RequiresResponse bool
	// ResponseTimeout bounds the wait when RequiresResponse is set.
	ResponseTimeout time.Duration
	// CorrelationID groups messages belonging to one logical session.
	CorrelationID string
}

// NewMessage builds a fire-and-forget message.
func NewMessage(kind Kind, prio Priority, sender string, payload []byte) *Message {
	return &Message{
		Kind:     kind,
		Priority: prio,
		Sender:   sender,
		Payload:  payload,
	}
}

// NewRequest builds a directed message that expects a response within timeout.
func NewRequest(kind Kind, prio Priority, sender, recipient string, payload []byte, timeout time.Duration) *Message {
	return &Message{
		Kind:             kind,
		Priority:         prio,
		Sender:           sender,
		Recipient:        recipient,
		Payload:          payload,
		RequiresResponse: true,
		ResponseTimeout:  timeout,
	}
}

// Metrics is the read-only counter snapshot for one bus instance.
type Metrics struct {
	Sent             uint64
	Delivered        uint64
	Dropped          uint64
	Evicted          uint64
	Responses        uint64
	ResponseTimeouts uint64
	EventsDropped    uint64
	ActiveUnits      int
}
