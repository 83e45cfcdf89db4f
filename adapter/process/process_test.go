package process

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/trickstertwo/xsvc"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{Name: "w", Command: "sleep"}, true},
		{"missing name", Config{Command: "sleep"}, false},
		{"missing command", Config{Name: "w"}, false},
		{"negative heartbeat", Config{Name: "w", Command: "sleep", HeartbeatInterval: -time.Second}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("valid config rejected: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestStartStopLifecycle(t *testing.T) {
	u, err := New(Config{
		Name:        "sleeper",
		Command:     "sleep",
		Args:        []string{"60"},
		GracePeriod: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := u.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !u.HealthCheck(ctx) {
		t.Fatal("healthy process reported unhealthy")
	}
	if u.PID() <= 0 {
		t.Fatalf("PID = %d, want > 0", u.PID())
	}

	// Idempotent while running.
	if err := u.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if err := u.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if u.HealthCheck(ctx) {
		t.Fatal("stopped process reported healthy")
	}
	// Idempotent after stop.
	if err := u.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestConcurrentStartStopNeverLeaks(t *testing.T) {
	u, err := New(Config{
		Name:        "sleeper",
		Command:     "sleep",
		Args:        []string{"60"},
		GracePeriod: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	// A restart's Start racing an operator Stop must serialize: whatever
	// order wins, a final Stop leaves no process or goroutines behind.
	for i := 0; i < 10; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = u.Start(ctx)
		}()
		go func() {
			defer wg.Done()
			_ = u.Stop(ctx)
		}()
		wg.Wait()

		pid := u.PID()
		if err := u.Stop(ctx); err != nil {
			t.Fatalf("final stop: %v", err)
		}
		if u.HealthCheck(ctx) {
			t.Fatal("unit reported healthy after final stop")
		}
		if got := u.PID(); got != 0 {
			t.Fatalf("PID = %d after final stop, want 0", got)
		}
		if pid > 0 {
			if err := syscall.Kill(pid, 0); err == nil {
				t.Fatalf("process %d survived final stop", pid)
			}
		}
	}
}

func TestStartUnknownCommand(t *testing.T) {
	u, err := New(Config{Name: "ghost", Command: "definitely-not-a-real-binary-xsvc"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := u.Start(context.Background()); err == nil {
		t.Fatal("start of unknown command succeeded")
	}
	if u.HealthCheck(context.Background()) {
		t.Fatal("failed start reported healthy")
	}
}

func TestHealthCheckDetectsExit(t *testing.T) {
	u, err := New(Config{Name: "short", Command: "sh", Args: []string{"-c", "exit 0"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := u.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer u.Stop(ctx)

	deadline := time.After(2 * time.Second)
	for u.HealthCheck(ctx) {
		select {
		case <-deadline:
			t.Fatal("exited process still reported healthy")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHeartbeatRelay(t *testing.T) {
	bus, closeBus, err := xsvc.New(nil)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	defer closeBus()

	if err := bus.Register("collector", xsvc.KindHeartbeat); err != nil {
		t.Fatalf("register collector: %v", err)
	}

	u, err := New(Config{
		Name:              "sleeper",
		Command:           "sleep",
		Args:              []string{"60"},
		HeartbeatInterval: 20 * time.Millisecond,
	}, WithBus(bus))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := bus.Register("sleeper", xsvc.KindShutdown, xsvc.KindSystemCommand); err != nil {
		t.Fatalf("register sleeper: %v", err)
	}
	if err := u.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer u.Stop(ctx)

	msgs, err := bus.Poll(ctx, "collector", 2*time.Second)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) == 0 {
		t.Fatal("no heartbeat arrived")
	}
	hb := msgs[0]
	if hb.Kind != xsvc.KindHeartbeat || hb.Sender != "sleeper" {
		t.Fatalf("unexpected heartbeat %+v", hb)
	}
}

func TestShutdownViaBus(t *testing.T) {
	bus, closeBus, err := xsvc.New(nil)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}
	defer closeBus()

	u, err := New(Config{
		Name:         "sleeper",
		Command:      "sleep",
		Args:         []string{"60"},
		PollInterval: 20 * time.Millisecond,
	}, WithBus(bus))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := bus.Register("sleeper", xsvc.KindShutdown, xsvc.KindSystemCommand); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := u.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer u.Stop(ctx)

	req := xsvc.NewRequest(xsvc.KindShutdown, xsvc.PriorityCritical, "operator", "sleeper", nil, 2*time.Second)
	payload, err := bus.Send(ctx, req)
	if err != nil {
		t.Fatalf("send shutdown: %v", err)
	}
	if string(payload) != "terminating" {
		t.Fatalf("shutdown ack = %q", payload)
	}

	deadline := time.After(2 * time.Second)
	for u.HealthCheck(ctx) {
		select {
		case <-deadline:
			t.Fatal("process survived shutdown message")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
