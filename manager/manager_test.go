package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xsvc"
)

// mockUnit is a controllable Unit for lifecycle tests.
type mockUnit struct {
	starts   atomic.Int32
	stops    atomic.Int32
	healthy  atomic.Bool
	startErr error
	hangStop bool
	onStart  func(starts int32)
}

func newMockUnit() *mockUnit {
	u := &mockUnit{}
	u.healthy.Store(true)
	return u
}

func (u *mockUnit) Start(ctx context.Context) error {
	n := u.starts.Add(1)
	if u.onStart != nil {
		u.onStart(n)
	}
	return u.startErr
}

func (u *mockUnit) Stop(ctx context.Context) error {
	if u.hangStop {
		<-ctx.Done()
		return ctx.Err()
	}
	u.stops.Add(1)
	return nil
}

func (u *mockUnit) HealthCheck(ctx context.Context) bool {
	return u.healthy.Load()
}

func testConfig() Config {
	return Config{
		HealthInterval:     10 * time.Millisecond,
		DependencyInterval: 10 * time.Millisecond,
		HealthTimeout:      50 * time.Millisecond,
		StopTimeout:        100 * time.Millisecond,
		Restart:            RestartPolicy{Threshold: 3, Backoff: time.Millisecond},
	}
}

func TestRegisterDuplicate(t *testing.T) {
	m := New(testConfig())

	require.NoError(t, m.Register("db", newMockUnit(), nil, nil))
	err := m.Register("db", newMockUnit(), nil, nil)

	var dup ErrDuplicateService
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "db", dup.Name)
}

func TestRegisterNilUnit(t *testing.T) {
	m := New(testConfig())
	require.ErrorIs(t, m.Register("db", nil, nil, nil), ErrNilUnit)
	require.Error(t, m.Register("", newMockUnit(), nil, nil))
}

func TestStartRequiresRunningDependencies(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()

	require.NoError(t, m.Register("db", newMockUnit(), nil, nil))
	require.NoError(t, m.Register("api", newMockUnit(), []string{"db"}, nil))

	err := m.Start(ctx, "api")
	var blocked ErrDependencyNotRunning
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "api", blocked.Service)
	assert.Equal(t, "db", blocked.Dependency)

	require.NoError(t, m.Start(ctx, "db"))
	require.NoError(t, m.Start(ctx, "api"))

	st, err := m.Status("api")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
}

func TestStartIsIdempotentWhenRunning(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()
	unit := newMockUnit()

	require.NoError(t, m.Register("db", unit, nil, nil))
	require.NoError(t, m.Start(ctx, "db"))
	require.NoError(t, m.Start(ctx, "db"))

	assert.Equal(t, int32(1), unit.starts.Load())
}

func TestStartAllTopologicalOrder(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()
	defer m.StopAll(ctx)

	var mu sync.Mutex
	var order []string
	track := func(name string) *mockUnit {
		u := newMockUnit()
		u.onStart = func(int32) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
		return u
	}

	// Registration order deliberately reversed from dependency order.
	require.NoError(t, m.Register("api", track("api"), []string{"cache"}, nil))
	require.NoError(t, m.Register("cache", track("cache"), []string{"db"}, nil))
	require.NoError(t, m.Register("db", track("db"), nil, nil))

	require.NoError(t, m.StartAll(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"db", "cache", "api"}, order)
}

func TestStopAllReverseOrder(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()

	units := map[string]*mockUnit{
		"db":    newMockUnit(),
		"cache": newMockUnit(),
		"api":   newMockUnit(),
	}
	require.NoError(t, m.Register("db", units["db"], nil, nil))
	require.NoError(t, m.Register("cache", units["cache"], []string{"db"}, nil))
	require.NoError(t, m.Register("api", units["api"], []string{"cache"}, nil))

	require.NoError(t, m.StartAll(ctx))
	require.NoError(t, m.StopAll(ctx))

	for name, u := range units {
		assert.Equal(t, int32(1), u.stops.Load(), name)
		st, err := m.Status(name)
		require.NoError(t, err)
		assert.Equal(t, StateStopped, st.State, name)
	}
	assert.False(t, m.running.Load())
}

func TestStartAllCycleAborts(t *testing.T) {
	m := New(testConfig())

	a, b := newMockUnit(), newMockUnit()
	require.NoError(t, m.Register("a", a, []string{"b"}, nil))
	require.NoError(t, m.Register("b", b, []string{"a"}, nil))

	err := m.StartAll(context.Background())
	require.ErrorIs(t, err, ErrDependencyCycle)

	assert.Equal(t, int32(0), a.starts.Load())
	assert.Equal(t, int32(0), b.starts.Load())
	assert.Equal(t, 0, m.Stats().Active)
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	m := New(testConfig())

	db := newMockUnit()
	api := newMockUnit()
	api.startErr = errors.New("bind: address already in use")

	require.NoError(t, m.Register("db", db, nil, nil))
	require.NoError(t, m.Register("api", api, []string{"db"}, nil))

	err := m.StartAll(context.Background())
	require.Error(t, err)

	// db came up first and must be rolled back.
	assert.Equal(t, int32(1), db.starts.Load())
	assert.Equal(t, int32(1), db.stops.Load())

	st, err := m.Status("api")
	require.NoError(t, err)
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, uint64(1), m.Stats().Failed)
}

func TestStopCascadesToDependents(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()

	db, api := newMockUnit(), newMockUnit()
	require.NoError(t, m.Register("db", db, nil, nil))
	require.NoError(t, m.Register("api", api, []string{"db"}, nil))
	require.NoError(t, m.Start(ctx, "db"))
	require.NoError(t, m.Start(ctx, "api"))

	require.NoError(t, m.Stop(ctx, "db", 100*time.Millisecond))

	assert.Equal(t, int32(1), api.stops.Load())
	assert.Equal(t, int32(1), db.stops.Load())
	for _, name := range []string{"db", "api"} {
		st, err := m.Status(name)
		require.NoError(t, err)
		assert.Equal(t, StateStopped, st.State, name)
	}
}

func TestStopTimeoutMarksError(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()

	stuck := newMockUnit()
	stuck.hangStop = true
	require.NoError(t, m.Register("stuck", stuck, nil, nil))
	require.NoError(t, m.Start(ctx, "stuck"))

	err := m.Stop(ctx, "stuck", 20*time.Millisecond)
	require.Error(t, err)

	st, serr := m.Status("stuck")
	require.NoError(t, serr)
	assert.Equal(t, StateError, st.State)
}

func TestUnregisterRefusesRunning(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()

	require.NoError(t, m.Register("db", newMockUnit(), nil, nil))
	require.NoError(t, m.Start(ctx, "db"))

	require.Error(t, m.Unregister("db"))

	require.NoError(t, m.Stop(ctx, "db", 100*time.Millisecond))
	require.NoError(t, m.Unregister("db"))

	var unknown ErrUnknownService
	_, err := m.Status("db")
	require.ErrorAs(t, err, &unknown)
}

func TestHealthLoopRestartsAfterThreshold(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()
	defer m.StopAll(ctx)

	unit := newMockUnit()
	unit.healthy.Store(false)
	unit.onStart = func(starts int32) {
		// The restart brings the unit back healthy.
		if starts >= 2 {
			unit.healthy.Store(true)
		}
	}

	require.NoError(t, m.Register("flaky", unit, nil, nil))
	require.NoError(t, m.StartAll(ctx))

	require.Eventually(t, func() bool {
		return m.Stats().Restarts == 1 && unit.starts.Load() == 2
	}, 2*time.Second, 2*time.Millisecond, "service was not restarted exactly once")

	// Healthy again: no further restarts across later sweeps.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, uint64(1), m.Stats().Restarts)

	st, err := m.Status("flaky")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 1, st.Restarts)
}

func TestHealthLoopRespectsRestartBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Restart.MaxRestarts = 1
	m := New(cfg)
	ctx := context.Background()
	defer m.StopAll(ctx)

	unit := newMockUnit()
	unit.healthy.Store(false) // never recovers

	require.NoError(t, m.Register("doomed", unit, nil, nil))
	require.NoError(t, m.StartAll(ctx))

	require.Eventually(t, func() bool {
		st, err := m.Status("doomed")
		return err == nil && st.State == StateError
	}, 2*time.Second, 2*time.Millisecond, "service never landed in error state")

	assert.Equal(t, uint64(1), m.Stats().Restarts)
	// One stop from the restart cycle, one taking the unit down when the
	// budget ran out: Error state must not hide a live unit.
	assert.Equal(t, int32(2), unit.stops.Load())
}

func TestDependencyLoopStopsOrphanedDependent(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()
	defer m.StopAll(ctx)

	db, api := newMockUnit(), newMockUnit()
	require.NoError(t, m.Register("db", db, nil, nil))
	require.NoError(t, m.Register("api", api, []string{"db"}, nil))
	require.NoError(t, m.StartAll(ctx))

	// Simulate a dependency dying without the manager stopping it.
	m.mu.Lock()
	m.records["db"].state = StateError
	m.mu.Unlock()

	require.Eventually(t, func() bool {
		st, err := m.Status("api")
		return err == nil && st.State == StateStopped
	}, 2*time.Second, 2*time.Millisecond, "dependent kept running with a dead dependency")
}

func TestStartPanicBecomesError(t *testing.T) {
	m := New(testConfig())

	unit := newMockUnit()
	unit.onStart = func(int32) { panic("nil map write") }
	require.NoError(t, m.Register("broken", unit, nil, nil))

	err := m.Start(context.Background(), "broken")
	require.Error(t, err)

	st, serr := m.Status("broken")
	require.NoError(t, serr)
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, 1, st.ErrorCount)
}

func TestStatusSnapshot(t *testing.T) {
	m := New(testConfig())
	ctx := context.Background()

	require.NoError(t, m.Register("db", newMockUnit(), nil, nil))
	require.NoError(t, m.Register("api", newMockUnit(), []string{"db"}, nil))
	require.NoError(t, m.Start(ctx, "db"))

	snap := m.AllStatus()
	assert.Equal(t, 2, snap.TotalServices)
	assert.Equal(t, 1, snap.RunningServices)
	assert.Equal(t, 0, snap.FailedServices)
	assert.Equal(t, uint64(1), snap.Stats.Started)

	db := snap.Services["db"]
	assert.Equal(t, StateRunning, db.State)
	assert.Contains(t, db.Dependents, "api")

	api := snap.Services["api"]
	assert.Equal(t, StateInitializing, api.State)
	assert.Contains(t, api.Dependencies, "db")
}

func TestRegisterWiresBusSubscriptions(t *testing.T) {
	bus, closeBus, err := xsvc.New(nil)
	require.NoError(t, err)
	defer closeBus()

	cfg := testConfig()
	cfg.Bus = bus
	m := New(cfg)
	ctx := context.Background()

	require.NoError(t, m.Register("monitor", newMockUnit(), nil, []xsvc.Kind{xsvc.KindHeartbeat}))

	_, err = bus.Send(ctx, xsvc.NewMessage(xsvc.KindHeartbeat, xsvc.PriorityLow, "producer", nil))
	require.NoError(t, err)

	msgs, err := bus.Poll(ctx, "monitor", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Unregister releases the bus name for reuse.
	require.NoError(t, m.Unregister("monitor"))
	require.NoError(t, bus.Register("monitor", xsvc.KindHeartbeat))
}

func TestRegisterRollsBackOnBusConflict(t *testing.T) {
	bus, closeBus, err := xsvc.New(nil)
	require.NoError(t, err)
	defer closeBus()
	require.NoError(t, bus.Register("monitor", xsvc.KindHeartbeat))

	cfg := testConfig()
	cfg.Bus = bus
	m := New(cfg)

	err = m.Register("monitor", newMockUnit(), nil, []xsvc.Kind{xsvc.KindHeartbeat})
	require.Error(t, err)

	var unknown ErrUnknownService
	_, serr := m.Status("monitor")
	require.ErrorAs(t, serr, &unknown)
	assert.Equal(t, 0, m.AllStatus().TotalServices)
}
