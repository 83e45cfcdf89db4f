package xsvc

import "time"

// EventType enumerates internal lifecycle events for the Observer pattern.
type EventType string

const (
	Registered      EventType = "registered"
	Unregistered    EventType = "unregistered"
	Enqueued        EventType = "enqueued"
	Dropped         EventType = "dropped"
	Evicted         EventType = "evicted"
	Delivered       EventType = "delivered"
	Responded       EventType = "responded"
	ResponseExpired EventType = "response_expired"
	Error           EventType = "error"
)

// Event carries telemetry for observers.
type Event struct {
	Type      EventType
	Unit      string
	MessageID string
	Kind      Kind
	Priority  Priority
	Duration  time.Duration
	Err       error

	// Internal: attached for async dispatch
	observers []Observer
}
