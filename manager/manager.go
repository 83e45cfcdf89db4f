package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xsvc"
)

// RestartPolicy controls automatic recovery after consecutive health-check
// failures. The zero value is completed by defaults at construction.
type RestartPolicy struct {
	// Threshold is the consecutive-failure count that triggers one
	// stop+restart cycle (default 3).
	Threshold int
	// MaxRestarts caps lifetime restarts per service; 0 means unlimited.
	MaxRestarts int
	// Backoff is the pause between the stop and the restart (default 1s).
	Backoff time.Duration
}

// Config holds construction parameters for a Manager. The zero value is
// usable; every field has a production default.
type Config struct {
	// Bus receives unit subscriptions at Register time. Optional.
	Bus    *xsvc.Bus
	Logger *xlog.Logger
	Clock  xclock.Clock

	// HealthInterval paces the health loop (default 30s).
	HealthInterval time.Duration
	// DependencyInterval paces the dependency-integrity loop (default 60s).
	DependencyInterval time.Duration
	// HealthTimeout bounds one HealthCheck invocation (default 10s).
	HealthTimeout time.Duration
	// StopTimeout bounds unit stops issued by StopAll, the loops, and
	// restarts (default 10s).
	StopTimeout time.Duration
	// StaleAfter flags services whose heartbeat is older than this window
	// (default 5m). Observability only; nothing is forced.
	StaleAfter time.Duration

	Restart RestartPolicy
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = xlog.Default()
	}
	if c.Clock == nil {
		c.Clock = xclock.Default()
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.DependencyInterval <= 0 {
		c.DependencyInterval = 60 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 10 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.Restart.Threshold <= 0 {
		c.Restart.Threshold = 3
	}
	if c.Restart.Backoff <= 0 {
		c.Restart.Backoff = time.Second
	}
	return c
}

// Manager owns a dependency graph over named services, brings it up and down
// safely, and keeps services healthy.
type Manager struct {
	cfg    Config
	bus    *xsvc.Bus
	logger *xlog.Logger
	clock  xclock.Clock

	mu         sync.RWMutex
	records    map[string]*record
	regOrder   []string
	startOrder []string // last order computed by StartAll

	stats managerStats

	running    atomic.Bool
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
}

type managerStats struct {
	started  atomic.Uint64
	stopped  atomic.Uint64
	failed   atomic.Uint64
	restarts atomic.Uint64
}

// New constructs a Manager. No services are managed until Register.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:     cfg,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		records: make(map[string]*record),
	}
}

// Register adds a service with its dependency edges and bus subscriptions.
// It fails on a taken name or a missing capability contract, leaving
// existing state unmodified. The transpose (dependents) is maintained
// automatically in both directions.
func (m *Manager) Register(name string, unit Unit, dependencies []string, subscriptions []xsvc.Kind) error {
	if name == "" {
		return fmt.Errorf("manager: service name must not be empty")
	}
	if unit == nil {
		return ErrNilUnit
	}

	rec := &record{
		name:          name,
		unit:          unit,
		state:         StateInitializing,
		deps:          make(map[string]struct{}, len(dependencies)),
		dependents:    make(map[string]struct{}),
		subscriptions: append([]xsvc.Kind(nil), subscriptions...),
	}
	for _, d := range dependencies {
		rec.deps[d] = struct{}{}
	}

	m.mu.Lock()
	if _, exists := m.records[name]; exists {
		m.mu.Unlock()
		return ErrDuplicateService{Name: name}
	}
	// Transpose maintenance: wire both directions, including services that
	// declared this name as a dependency before it existed.
	for d := range rec.deps {
		if dep, ok := m.records[d]; ok {
			dep.dependents[name] = struct{}{}
		}
	}
	for _, other := range m.records {
		if _, ok := other.deps[name]; ok {
			rec.dependents[other.name] = struct{}{}
		}
	}
	m.records[name] = rec
	m.regOrder = append(m.regOrder, name)
	m.mu.Unlock()

	if m.bus != nil && len(subscriptions) > 0 {
		if err := m.bus.Register(name, subscriptions...); err != nil {
			// Roll the record back so a half-registered service never lingers.
			m.mu.Lock()
			delete(m.records, name)
			m.regOrder = m.regOrder[:len(m.regOrder)-1]
			for _, other := range m.records {
				delete(other.dependents, name)
			}
			m.mu.Unlock()
			return fmt.Errorf("manager: bus registration for %s: %w", name, err)
		}
	}

	m.logger.With(xlog.Str("service", name)).Debug().Msg("manager: registered service")
	return nil
}

// Unregister removes a service record. A Running service must be stopped
// first; a failed one remains visible in Error state until this call.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	rec, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownService{Name: name}
	}
	if rec.state == StateRunning || rec.state == StateStopping {
		m.mu.Unlock()
		return fmt.Errorf("manager: service %s must be stopped before unregistration", name)
	}
	delete(m.records, name)
	for i, n := range m.regOrder {
		if n == name {
			m.regOrder = append(m.regOrder[:i], m.regOrder[i+1:]...)
			break
		}
	}
	for _, other := range m.records {
		delete(other.dependents, name)
	}
	hadSubs := len(rec.subscriptions) > 0
	m.mu.Unlock()

	if m.bus != nil && hadSubs {
		m.bus.Unregister(name)
	}
	return nil
}

// Start brings one service up. No-op if already Running; fails while any
// declared dependency is not Running.
func (m *Manager) Start(ctx context.Context, name string) error {
	m.mu.Lock()
	rec, ok := m.records[name]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownService{Name: name}
	}
	if rec.state == StateRunning {
		m.mu.Unlock()
		return nil
	}
	for d := range rec.deps {
		dep, ok := m.records[d]
		if !ok || dep.state != StateRunning {
			m.mu.Unlock()
			return ErrDependencyNotRunning{Service: name, Dependency: d}
		}
	}
	rec.state = StateInitializing
	unit := rec.unit
	m.mu.Unlock()

	err := safeStart(ctx, unit)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		rec.state = StateError
		rec.errorCount++
		m.stats.failed.Add(1)
		m.logger.With(xlog.Str("service", name)).Warn().Err(err).Msg("manager: service failed to start")
		return fmt.Errorf("manager: start %s: %w", name, err)
	}
	now := m.clock.Now()
	rec.state = StateRunning
	rec.startedAt = now
	rec.lastHeartbeat = now
	rec.errorCount = 0
	m.stats.started.Add(1)
	m.logger.With(xlog.Str("service", name)).Info().Msg("manager: service started")
	return nil
}

// Stop brings one service down, stopping its Running dependents first.
// A stop that exceeds timeout is a failure: the record lands in Error and no
// retry happens at this call site.
func (m *Manager) Stop(ctx context.Context, name string, timeout time.Duration) error {
	m.mu.RLock()
	rec, ok := m.records[name]
	if !ok {
		m.mu.RUnlock()
		return ErrUnknownService{Name: name}
	}
	if rec.state == StateStopped || rec.state == StateStopping {
		m.mu.RUnlock()
		return nil
	}
	var runningDependents []string
	for d := range rec.dependents {
		if dep, ok := m.records[d]; ok && dep.state == StateRunning {
			runningDependents = append(runningDependents, d)
		}
	}
	m.mu.RUnlock()

	// Cascade: dependents go down before their dependency. Best effort; the
	// primary stop proceeds regardless.
	for _, d := range runningDependents {
		if err := m.Stop(ctx, d, timeout); err != nil {
			m.logger.With(xlog.Str("service", d)).Warn().Err(err).Msg("manager: dependent stop failed")
		}
	}

	m.mu.Lock()
	rec.state = StateStopping
	unit := rec.unit
	m.mu.Unlock()

	err := stopWithTimeout(ctx, unit, timeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		rec.state = StateError
		m.logger.With(xlog.Str("service", name)).Warn().Err(err).Msg("manager: service failed to stop")
		return fmt.Errorf("manager: stop %s: %w", name, err)
	}
	rec.state = StateStopped
	m.stats.stopped.Add(1)
	m.logger.With(xlog.Str("service", name)).Info().Msg("manager: service stopped")
	return nil
}

// StartAll computes the start order with Kahn's algorithm and starts every
// service strictly in order. A dependency cycle aborts the whole call before
// anything starts. On the first start failure, everything already started is
// stopped best-effort and the call reports failure.
//
// The health and dependency loops begin on the first successful StartAll and
// run until StopAll.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	order, err := m.topoOrderLocked()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.startOrder = order
	m.mu.Unlock()

	var started []string
	for _, name := range order {
		if err := m.Start(ctx, name); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				if serr := m.Stop(ctx, started[i], m.cfg.StopTimeout); serr != nil {
					m.logger.With(xlog.Str("service", started[i])).Warn().Err(serr).Msg("manager: rollback stop failed")
				}
			}
			return fmt.Errorf("manager: start all: %w", err)
		}
		started = append(started, name)
	}

	m.startLoops()
	m.logger.Info().Msg("manager: all services started")
	return nil
}

// StopAll stops every service in the reverse of the computed start order,
// falling back to registration order when no order is available. Loop
// goroutines are shut down first.
func (m *Manager) StopAll(ctx context.Context) error {
	m.stopLoops()

	m.mu.RLock()
	var order []string
	switch {
	case len(m.startOrder) > 0:
		order = make([]string, len(m.startOrder))
		for i, name := range m.startOrder {
			order[len(m.startOrder)-1-i] = name
		}
	default:
		if topo, err := m.topoOrderLocked(); err == nil {
			order = make([]string, len(topo))
			for i, name := range topo {
				order[len(topo)-1-i] = name
			}
		} else {
			order = append(order, m.regOrder...)
		}
	}
	m.mu.RUnlock()

	var errs []error
	for _, name := range order {
		if err := m.Stop(ctx, name, m.cfg.StopTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("manager: stop all: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("manager: all services stopped")
	return nil
}

// Status returns the snapshot for one service.
func (m *Manager) Status(name string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[name]
	if !ok {
		return Status{}, ErrUnknownService{Name: name}
	}
	return rec.status(), nil
}

// AllStatus returns the aggregate observability snapshot.
func (m *Manager) AllStatus() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Running:       m.running.Load(),
		TotalServices: len(m.records),
		Services:      make(map[string]Status, len(m.records)),
	}
	for name, rec := range m.records {
		snap.Services[name] = rec.status()
		switch rec.state {
		case StateRunning:
			snap.RunningServices++
		case StateError:
			snap.FailedServices++
		}
	}
	snap.Stats = m.statsLocked()
	return snap
}

// Stats returns the counter snapshot.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() Stats {
	active := 0
	for _, rec := range m.records {
		if rec.state == StateRunning {
			active++
		}
	}
	return Stats{
		Started:  m.stats.started.Load(),
		Stopped:  m.stats.stopped.Load(),
		Failed:   m.stats.failed.Load(),
		Restarts: m.stats.restarts.Load(),
		Active:   active,
	}
}

// safeStart invokes unit.Start, converting panics into errors so a broken
// unit escalates through the error counter instead of crashing the manager.
func safeStart(ctx context.Context, unit Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	return unit.Start(ctx)
}

// stopWithTimeout invokes unit.Stop bounded by timeout. A unit that neither
// returns nor honors its context within the deadline is treated as failed.
func stopWithTimeout(ctx context.Context, unit Unit, timeout time.Duration) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("panic recovered: %v", r)
			}
		}()
		errCh <- unit.Stop(sctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-sctx.Done():
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return ErrStopTimeout
		}
		return sctx.Err()
	}
}
