package manager

import "context"

// Unit is the capability contract every managed service must expose.
//
// Start must be idempotent if the unit is already running. Stop must honor
// ctx (the manager derives it from the stop timeout); a unit that outlives
// its deadline is treated as failed. HealthCheck reports liveness and should
// be cheap; the manager bounds it with its own timeout.
type Unit interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
}

// UnitFunc bundles plain functions into a Unit, mostly for tests and small
// in-process workers.
type UnitFunc struct {
	StartFunc  func(ctx context.Context) error
	StopFunc   func(ctx context.Context) error
	HealthFunc func(ctx context.Context) bool
}

func (u UnitFunc) Start(ctx context.Context) error {
	if u.StartFunc == nil {
		return nil
	}
	return u.StartFunc(ctx)
}

func (u UnitFunc) Stop(ctx context.Context) error {
	if u.StopFunc == nil {
		return nil
	}
	return u.StopFunc(ctx)
}

func (u UnitFunc) HealthCheck(ctx context.Context) bool {
	if u.HealthFunc == nil {
		return true
	}
	return u.HealthFunc(ctx)
}
