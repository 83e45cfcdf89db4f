package manager

import (
	"time"

	"github.com/trickstertwo/xsvc"
)

// State is the lifecycle state of a managed service.
type State string

const (
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateError        State = "error"
)

// record is the bookkeeping unit for one managed service. All fields are
// guarded by the manager's registry lock; unit calls happen outside it.
type record struct {
	name          string
	unit          Unit
	state         State
	startedAt     time.Time
	lastHeartbeat time.Time
	errorCount    int
	restarts      int
	deps          map[string]struct{}
	dependents    map[string]struct{}
	subscriptions []xsvc.Kind
}

// Status is the read-only snapshot of one service record.
type Status struct {
	Name          string
	State         State
	StartedAt     time.Time
	LastHeartbeat time.Time
	ErrorCount    int
	Restarts      int
	Dependencies  []string
	Dependents    []string
	Subscriptions []xsvc.Kind
}

// Stats is the instance-scoped counter snapshot of the manager.
type Stats struct {
	Started  uint64
	Stopped  uint64
	Failed   uint64
	Restarts uint64
	Active   int
}

// Snapshot aggregates the full observability surface: manager flag, totals,
// counters, and per-service status.
type Snapshot struct {
	Running         bool
	TotalServices   int
	RunningServices int
	FailedServices  int
	Stats           Stats
	Services        map[string]Status
}

func (r *record) status() Status {
	deps := make([]string, 0, len(r.deps))
	for d := range r.deps {
		deps = append(deps, d)
	}
	dependents := make([]string, 0, len(r.dependents))
	for d := range r.dependents {
		dependents = append(dependents, d)
	}
	subs := make([]xsvc.Kind, len(r.subscriptions))
	copy(subs, r.subscriptions)

	return Status{
		Name:          r.name,
		State:         r.state,
		StartedAt:     r.startedAt,
		LastHeartbeat: r.lastHeartbeat,
		ErrorCount:    r.errorCount,
		Restarts:      r.restarts,
		Dependencies:  deps,
		Dependents:    dependents,
		Subscriptions: subs,
	}
}
