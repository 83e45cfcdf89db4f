package manager

import (
	"context"
	"strconv"
	"time"

	"github.com/trickstertwo/xlog"
)

// startLoops launches the health and dependency supervision goroutines.
// Idempotent across repeated StartAll calls.
func (m *Manager) startLoops() {
	if !m.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.loopCancel = cancel

	m.wg.Add(2)
	go m.healthLoop(ctx)
	go m.dependencyLoop(ctx)
}

// stopLoops shuts the supervision goroutines down and waits for them.
func (m *Manager) stopLoops() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	m.loopCancel()
	m.wg.Wait()
}

// healthLoop periodically health-checks every Running service. A success
// refreshes the heartbeat and clears the consecutive-error count; a failure
// increments it, and at the restart threshold the service gets exactly one
// stop+restart cycle. Stale heartbeats are flagged, never acted on.
func (m *Manager) healthLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runHealthChecks(ctx)
			m.flagStaleServices()
		}
	}
}

// runHealthChecks sweeps every Running service once.
func (m *Manager) runHealthChecks(ctx context.Context) {
	for _, name := range m.runningServices() {
		m.checkServiceHealth(ctx, name)
	}
}

func (m *Manager) checkServiceHealth(ctx context.Context, name string) {
	m.mu.RLock()
	rec, ok := m.records[name]
	if !ok || rec.state != StateRunning {
		m.mu.RUnlock()
		return
	}
	unit := rec.unit
	m.mu.RUnlock()

	hctx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
	healthy := safeHealthCheck(hctx, unit)
	cancel()

	m.mu.Lock()
	if rec.state != StateRunning {
		m.mu.Unlock()
		return
	}
	if healthy {
		rec.lastHeartbeat = m.clock.Now()
		rec.errorCount = 0
		m.mu.Unlock()
		return
	}

	rec.errorCount++
	failures := rec.errorCount
	restartsUsed := rec.restarts
	m.mu.Unlock()

	m.logger.With(
		xlog.Str("service", name),
		xlog.Str("failures", strconv.Itoa(failures)),
	).Warn().Msg("manager: health check failed")

	if failures < m.cfg.Restart.Threshold {
		return
	}
	if m.cfg.Restart.MaxRestarts > 0 && restartsUsed >= m.cfg.Restart.MaxRestarts {
		m.logger.With(xlog.Str("service", name)).Warn().Msg("manager: restart budget exhausted, stopping service")
		// Take the unit down first so Error state matches reality; a record
		// parked in Error must not hide a live process.
		if err := m.Stop(ctx, name, m.cfg.StopTimeout); err != nil {
			m.logger.With(xlog.Str("service", name)).Warn().Err(err).Msg("manager: stop after exhausted budget failed")
		}
		m.mu.Lock()
		rec.state = StateError
		m.mu.Unlock()
		m.stats.failed.Add(1)
		return
	}

	m.restartService(ctx, name, rec)
}

// restartService performs the single stop+restart cycle for one threshold
// crossing. The consecutive-error count is consumed up front so the crossing
// yields exactly one attempt.
func (m *Manager) restartService(ctx context.Context, name string, rec *record) {
	m.mu.Lock()
	rec.errorCount = 0
	rec.restarts++
	m.mu.Unlock()
	m.stats.restarts.Add(1)

	m.logger.With(xlog.Str("service", name)).Warn().Msg("manager: restarting unhealthy service")

	if err := m.Stop(ctx, name, m.cfg.StopTimeout); err != nil {
		m.logger.With(xlog.Str("service", name)).Warn().Err(err).Msg("manager: restart stop failed")
	}
	if m.cfg.Restart.Backoff > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.Restart.Backoff):
		}
	}
	if err := m.Start(ctx, name); err != nil {
		m.logger.With(xlog.Str("service", name)).Warn().Err(err).Msg("manager: restart failed")
	}
}

// flagStaleServices logs Running services whose heartbeat is older than the
// staleness window. Observability only.
func (m *Manager) flagStaleServices() {
	cutoff := m.clock.Now().Add(-m.cfg.StaleAfter)

	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, rec := range m.records {
		if rec.state != StateRunning {
			continue
		}
		if !rec.lastHeartbeat.IsZero() && rec.lastHeartbeat.Before(cutoff) {
			m.logger.With(
				xlog.Str("service", name),
				xlog.Str("last_heartbeat", rec.lastHeartbeat.Format(time.RFC3339)),
			).Warn().Msg("manager: service heartbeat is stale")
		}
	}
}

// dependencyLoop periodically verifies that every Running service still has
// all of its declared dependencies Running, stopping the dependent when not.
// This is a cascading safety net independent of the health loop.
func (m *Manager) dependencyLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.DependencyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.enforceDependencyIntegrity(ctx)
		}
	}
}

func (m *Manager) enforceDependencyIntegrity(ctx context.Context) {
	for _, name := range m.runningServices() {
		m.mu.RLock()
		rec, ok := m.records[name]
		if !ok || rec.state != StateRunning {
			m.mu.RUnlock()
			continue
		}
		var broken string
		for d := range rec.deps {
			dep, known := m.records[d]
			if !known || dep.state != StateRunning {
				broken = d
				break
			}
		}
		m.mu.RUnlock()

		if broken == "" {
			continue
		}
		m.logger.With(
			xlog.Str("service", name),
			xlog.Str("dependency", broken),
		).Warn().Msg("manager: dependency no longer running, stopping dependent")
		if err := m.Stop(ctx, name, m.cfg.StopTimeout); err != nil {
			m.logger.With(xlog.Str("service", name)).Warn().Err(err).Msg("manager: integrity stop failed")
		}
	}
}

// runningServices snapshots the names of Running services so the loops never
// hold the registry lock across unit calls.
func (m *Manager) runningServices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.records))
	for name, rec := range m.records {
		if rec.state == StateRunning {
			out = append(out, name)
		}
	}
	return out
}

// safeHealthCheck converts a panicking health check into a failure.
func safeHealthCheck(ctx context.Context, unit Unit) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			healthy = false
		}
	}()
	return unit.HealthCheck(ctx)
}
