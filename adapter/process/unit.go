package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xsvc"
)

// Unit manages one subprocess. It satisfies manager.Unit.
type Unit struct {
	cfg    Config
	bus    *xsvc.Bus
	logger *xlog.Logger

	// lifecycle serializes Start and Stop so a restart racing an operator
	// stop can never pair a fresh process with a stale loop context.
	lifecycle sync.Mutex

	mu     sync.Mutex
	cmd    *exec.Cmd
	waitCh chan error

	loopCancel context.CancelFunc
	wg         sync.WaitGroup

	running atomic.Bool
	exited  atomic.Bool
}

// Option configures the Unit construction.
type Option func(*Unit)

// WithBus attaches a bus for heartbeats and command draining.
func WithBus(b *xsvc.Bus) Option {
	return func(u *Unit) { u.bus = b }
}

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(u *Unit) {
		if l != nil {
			u.logger = l
		}
	}
}

// New constructs a Unit. Nothing runs until Start.
func New(cfg Config, opts ...Option) (*Unit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	u := &Unit{
		cfg:    cfg.withDefaults(),
		logger: xlog.Default(),
	}
	for _, o := range opts {
		if o != nil {
			o(u)
		}
	}
	u.logger = u.logger.With(xlog.Str("process", cfg.Name))
	return u, nil
}

// Start launches the subprocess in its own process group. Idempotent while
// the unit is running.
func (u *Unit) Start(ctx context.Context) error {
	u.lifecycle.Lock()
	defer u.lifecycle.Unlock()

	if !u.running.CompareAndSwap(false, true) {
		return nil
	}

	cmd := exec.Command(u.cfg.Command, u.cfg.Args...)
	cmd.Dir = u.cfg.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range u.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		u.running.Store(false)
		return fmt.Errorf("process: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		u.running.Store(false)
		return fmt.Errorf("process: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		u.running.Store(false)
		return fmt.Errorf("process: start %s: %w", u.cfg.Command, err)
	}

	u.exited.Store(false)
	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		u.exited.Store(true)
		waitCh <- err
	}()

	u.mu.Lock()
	u.cmd = cmd
	u.waitCh = waitCh
	u.mu.Unlock()

	go u.relay("stdout", stdout)
	go u.relay("stderr", stderr)

	lctx, cancel := context.WithCancel(context.Background())
	u.loopCancel = cancel
	if u.bus != nil {
		if u.cfg.HeartbeatInterval > 0 {
			u.wg.Add(1)
			go u.heartbeatLoop(lctx)
		}
		u.wg.Add(1)
		go u.commandLoop(lctx)
	}

	u.logger.With(xlog.Str("pid", strconv.Itoa(cmd.Process.Pid))).Info().Msg("process: started")
	return nil
}

// Stop terminates the process group: SIGTERM first, SIGKILL after the grace
// period or when ctx expires. A signal-caused exit is a clean stop.
func (u *Unit) Stop(ctx context.Context) error {
	u.lifecycle.Lock()
	defer u.lifecycle.Unlock()

	if !u.running.CompareAndSwap(true, false) {
		return nil
	}
	if u.loopCancel != nil {
		u.loopCancel()
	}
	u.wg.Wait()

	u.mu.Lock()
	cmd := u.cmd
	waitCh := u.waitCh
	u.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid

	if u.exited.Load() {
		<-waitCh
		return nil
	}

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// Group already gone; wait for the reaper.
		<-waitCh
		return nil
	}

	grace := time.NewTimer(u.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case <-waitCh:
		u.logger.Info().Msg("process: stopped")
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	_ = syscall.Kill(-pid, syscall.SIGKILL)
	<-waitCh
	u.logger.Warn().Msg("process: killed after grace period")
	return nil
}

// HealthCheck reports whether the subprocess is still alive.
func (u *Unit) HealthCheck(ctx context.Context) bool {
	return u.running.Load() && !u.exited.Load()
}

// PID returns the subprocess pid, or 0 when not running.
func (u *Unit) PID() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cmd == nil || u.cmd.Process == nil || u.exited.Load() {
		return 0
	}
	return u.cmd.Process.Pid
}

// relay streams one pipe to the logger line by line.
func (u *Unit) relay(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	lg := u.logger.With(xlog.Str("stream", stream))
	for scanner.Scan() {
		lg.Debug().Msg(scanner.Text())
	}
}

// heartbeatLoop broadcasts liveness on the bus while the process is up.
func (u *Unit) heartbeatLoop(ctx context.Context) {
	defer u.wg.Done()

	ticker := time.NewTicker(u.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if u.exited.Load() {
				continue
			}
			msg := xsvc.NewMessage(xsvc.KindHeartbeat, xsvc.PriorityLow, u.cfg.Name, []byte(strconv.Itoa(u.PID())))
			if _, err := u.bus.Send(ctx, msg); err != nil {
				u.logger.Debug().Err(err).Msg("process: heartbeat send failed")
			}
		}
	}
}

// commandLoop drains the unit's inbox for directed control messages.
func (u *Unit) commandLoop(ctx context.Context) {
	defer u.wg.Done()

	for {
		msgs, err := u.bus.Poll(ctx, u.cfg.Name, u.cfg.PollInterval)
		if err != nil {
			// Bus closed, unit unregistered, or loop cancelled.
			return
		}
		for _, m := range msgs {
			u.handleCommand(m)
		}
	}
}

func (u *Unit) handleCommand(m *xsvc.Message) {
	switch m.Kind {
	case xsvc.KindShutdown:
		if m.RequiresResponse {
			u.bus.Respond(m.ID, []byte("terminating"))
		}
		u.logger.With(xlog.Str("from", m.Sender)).Info().Msg("process: shutdown requested via bus")
		if pid := u.PID(); pid > 0 {
			_ = syscall.Kill(-pid, syscall.SIGTERM)
		}
	case xsvc.KindSystemCommand:
		// Only signal forwarding is supported; payload names the signal.
		sig, ok := signalFromName(string(m.Payload))
		if !ok {
			if m.RequiresResponse {
				u.bus.Respond(m.ID, []byte("unsupported"))
			}
			u.logger.With(xlog.Str("command", string(m.Payload))).Warn().Msg("process: unsupported system command")
			return
		}
		if pid := u.PID(); pid > 0 {
			_ = syscall.Kill(-pid, sig)
		}
		if m.RequiresResponse {
			u.bus.Respond(m.ID, []byte("ok"))
		}
	default:
		u.logger.With(xlog.Str("kind", string(m.Kind))).Debug().Msg("process: ignoring message")
	}
}

func signalFromName(name string) (syscall.Signal, bool) {
	switch name {
	case "SIGHUP":
		return syscall.SIGHUP, true
	case "SIGUSR1":
		return syscall.SIGUSR1, true
	case "SIGUSR2":
		return syscall.SIGUSR2, true
	case "SIGTERM":
		return syscall.SIGTERM, true
	default:
		return 0, false
	}
}
