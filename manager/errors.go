package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyCycle aborts StartAll before any service is started.
	ErrDependencyCycle = errors.New("manager: dependency cycle detected")
	// ErrNilUnit rejects registration of a unit missing the capability
	// contract.
	ErrNilUnit = errors.New("manager: unit must implement Start/Stop/HealthCheck")
	// ErrStopTimeout marks a unit that outlived its stop deadline.
	ErrStopTimeout = errors.New("manager: stop timeout")
)

// ErrUnknownService reports an operation on a name that is not registered.
type ErrUnknownService struct{ Name string }

func (e ErrUnknownService) Error() string {
	return fmt.Sprintf("manager: unknown service: %s", e.Name)
}

// ErrDuplicateService reports a Register call for a taken name.
type ErrDuplicateService struct{ Name string }

func (e ErrDuplicateService) Error() string {
	return fmt.Sprintf("manager: service already registered: %s", e.Name)
}

// ErrDependencyNotRunning blocks Start while a declared dependency is down.
type ErrDependencyNotRunning struct{ Service, Dependency string }

func (e ErrDependencyNotRunning) Error() string {
	return fmt.Sprintf("manager: dependency %s of %s is not running", e.Dependency, e.Service)
}
