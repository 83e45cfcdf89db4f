package xsvc

import (
	"context"
	"time"
)

// API represents the complete bus surface exposed to units and to external
// collaborators (exporters, adapters, CLIs).
type API interface {
	Register(name string, kinds ...Kind) error
	Unregister(name string)
	Send(ctx context.Context, msg *Message) ([]byte, error)
	Poll(ctx context.Context, name string, timeout time.Duration) ([]*Message, error)
	Respond(messageID string, payload []byte) bool
	Metrics() Metrics
	Close(ctx context.Context) error
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}
