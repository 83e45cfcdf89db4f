package xsvc

import (
	"errors"
	"fmt"
)

var (
	// ErrBusClosed is returned by every operation after Close.
	ErrBusClosed = errors.New("xsvc: bus is closed")
	// ErrEmptySender rejects messages without a sender name.
	ErrEmptySender = errors.New("xsvc: message sender must not be empty")
	// ErrInvalidKind rejects messages without a kind.
	ErrInvalidKind = errors.New("xsvc: message kind must not be empty")
	// ErrInvalidPriority rejects messages outside the four defined lanes.
	ErrInvalidPriority = errors.New("xsvc: message priority out of range")
	// ErrLaneFull is the backpressure result for Normal/Low lanes: the new
	// message was dropped and counted, nothing else changed.
	ErrLaneFull = errors.New("xsvc: lane full, message dropped")
	// ErrResponseTimeout is returned by Send when no Respond arrived within
	// the message's ResponseTimeout. The pending slot has been released.
	ErrResponseTimeout = errors.New("xsvc: response timeout")
	// ErrObserverPoolShutdownTimeout is returned by Close when the observer
	// pool could not drain in time.
	ErrObserverPoolShutdownTimeout = errors.New("xsvc: observer pool shutdown timeout")
)

// ErrUnknownUnit reports a directed send to a name that is not registered.
type ErrUnknownUnit struct{ Name string }

func (e ErrUnknownUnit) Error() string { return fmt.Sprintf("xsvc: unknown unit: %s", e.Name) }

// ErrDuplicateUnit reports a Register call for a name that already exists.
type ErrDuplicateUnit struct{ Name string }

func (e ErrDuplicateUnit) Error() string {
	return fmt.Sprintf("xsvc: unit already registered: %s", e.Name)
}
