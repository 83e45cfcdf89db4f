package redisexport

import (
	"context"
	"crypto/tls"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xsvc"
)

// Field constants (avoid typos/allocs)
const (
	fieldType      = "type"
	fieldUnit      = "unit"
	fieldMessageID = "message_id"
	fieldKind      = "kind"
	fieldLane      = "lane"
	fieldDuration  = "duration_ns"
	fieldError     = "error"
	fieldAt        = "at"
)

// Exporter buffers bus events and ships them to a Redis Stream in pipelined
// batches. OnEvent never blocks the bus: a full buffer drops the event and
// bumps a counter.
type Exporter struct {
	cfg    Config
	client *redis.Client
	logger *xlog.Logger
	clock  xclock.Clock

	events chan xsvc.Event

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	metrics exporterMetrics
}

type exporterMetrics struct {
	exported     atomic.Uint64
	dropped      atomic.Uint64
	exportErrors atomic.Uint64
}

// Stats is telemetry about the exporter.
type Stats struct {
	Exported uint64
	Dropped  uint64
	Errors   uint64
	Buffered int
}

// Option configures the Exporter construction.
type Option func(*Exporter)

// WithLogger injects a custom xlog logger.
func WithLogger(l *xlog.Logger) Option {
	return func(e *Exporter) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock injects a custom xclock clock.
func WithClock(c xclock.Clock) Option {
	return func(e *Exporter) {
		if c != nil {
			e.clock = c
		}
	}
}

// New constructs an Exporter. The Redis connection is verified at Start, not
// here, so the exporter can be registered before Redis is reachable.
func New(cfg Config, opts ...Option) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ropts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
	if cfg.TLS {
		ropts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	e := &Exporter{
		cfg:    cfg,
		client: redis.NewClient(ropts),
		logger: xlog.Default(),
		clock:  xclock.Default(),
		events: make(chan xsvc.Event, cfg.Buffer),
	}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e, nil
}

// OnEvent implements xsvc.Observer. Non-blocking: a full buffer drops the
// event.
func (e *Exporter) OnEvent(ev xsvc.Event) {
	if !e.running.Load() {
		e.metrics.dropped.Add(1)
		return
	}
	select {
	case e.events <- ev:
	default:
		e.metrics.dropped.Add(1)
	}
}

// Start implements manager.Unit: verify the connection and launch the flush
// worker. Idempotent while running.
func (e *Exporter) Start(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}
	if err := e.client.Ping(ctx).Err(); err != nil {
		e.running.Store(false)
		return err
	}

	wctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.worker(wctx)

	e.logger.With(xlog.Str("stream", e.cfg.Stream)).Debug().Msg("redisexport: started")
	return nil
}

// Stop implements manager.Unit: stop the worker, flush what is buffered, and
// close the connection.
func (e *Exporter) Stop(ctx context.Context) error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	e.cancel()
	e.wg.Wait()

	// Final drain of whatever arrived between the last flush and shutdown.
	batch := e.collect(nil)
	if len(batch) > 0 {
		e.flush(ctx, batch)
	}
	return e.client.Close()
}

// HealthCheck implements manager.Unit: liveness is a Redis ping.
func (e *Exporter) HealthCheck(ctx context.Context) bool {
	if !e.running.Load() {
		return false
	}
	return e.client.Ping(ctx).Err() == nil
}

// Stats returns current exporter telemetry.
func (e *Exporter) Stats() Stats {
	return Stats{
		Exported: e.metrics.exported.Load(),
		Dropped:  e.metrics.dropped.Load(),
		Errors:   e.metrics.exportErrors.Load(),
		Buffered: len(e.events),
	}
}

// worker batches events and flushes on size or interval, whichever first.
func (e *Exporter) worker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]xsvc.Event, 0, e.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				e.flush(context.Background(), batch)
			}
			return
		case ev := <-e.events:
			batch = append(batch, ev)
			if len(batch) >= e.cfg.BatchSize {
				e.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				e.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// collect drains the buffer without blocking, appending to batch.
func (e *Exporter) collect(batch []xsvc.Event) []xsvc.Event {
	for {
		select {
		case ev := <-e.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

// flush ships one batch with a pipelined XADD per event.
func (e *Exporter) flush(ctx context.Context, batch []xsvc.Event) {
	pipe := e.client.Pipeline()
	now := e.clock.Now().UnixNano()

	for i := range batch {
		ev := &batch[i]
		vals := make(map[string]any, 8)
		vals[fieldType] = string(ev.Type)
		vals[fieldAt] = now
		if ev.Unit != "" {
			vals[fieldUnit] = ev.Unit
		}
		if ev.MessageID != "" {
			vals[fieldMessageID] = ev.MessageID
		}
		if ev.Kind != "" {
			vals[fieldKind] = string(ev.Kind)
		}
		vals[fieldLane] = ev.Priority.String()
		if ev.Duration > 0 {
			vals[fieldDuration] = strconv.FormatInt(int64(ev.Duration), 10)
		}
		if ev.Err != nil {
			vals[fieldError] = ev.Err.Error()
		}

		args := &redis.XAddArgs{
			Stream: e.cfg.Stream,
			ID:     "*",
			Values: vals,
		}
		if e.cfg.MaxLenApprox > 0 {
			args.MaxLen = e.cfg.MaxLenApprox
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		e.metrics.exportErrors.Add(uint64(len(batch)))
		e.logger.Warn().Err(err).Msg("redisexport: flush failed")
		return
	}
	e.metrics.exported.Add(uint64(len(batch)))
}
