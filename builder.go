package xsvc

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Lane capacity defaults. Urgent lanes stay small so eviction keeps them
// fresh; bulk lanes absorb bursts.
const (
	DefaultCriticalCapacity = 256
	DefaultHighCapacity     = 512
	DefaultNormalCapacity   = 1024
	DefaultLowCapacity      = 1024

	defaultResponseTimeout = 30 * time.Second
)

// BusBuilder constructs Bus instances (Builder pattern).
type BusBuilder struct {
	laneCaps    [numPriorities]int
	observers   []Observer
	logger      *xlog.Logger
	clock       xclock.Clock
	poolWorkers int
	poolBuffer  int
}

// NewBusBuilder returns a builder with production-safe defaults.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		laneCaps: [numPriorities]int{
			PriorityCritical: DefaultCriticalCapacity,
			PriorityHigh:     DefaultHighCapacity,
			PriorityNormal:   DefaultNormalCapacity,
			PriorityLow:      DefaultLowCapacity,
		},
		poolWorkers: 4,
		poolBuffer:  1024,
	}
}

// WithLaneCapacity bounds one priority lane. Applies to every unit inbox
// created after Build.
func (bb *BusBuilder) WithLaneCapacity(p Priority, capacity int) *BusBuilder {
	if p.valid() && capacity > 0 {
		bb.laneCaps[p] = capacity
	}
	return bb
}

func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithObserverPool sizes the async observer dispatch pool.
func (bb *BusBuilder) WithObserverPool(workers, bufferSize int) *BusBuilder {
	if workers > 0 {
		bb.poolWorkers = workers
	}
	if bufferSize > 0 {
		bb.poolBuffer = bufferSize
	}
	return bb
}

func (bb *BusBuilder) Build() (*Bus, error) {
	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	b := &Bus{
		clock:        clk,
		logger:       lg,
		laneCaps:     bb.laneCaps,
		units:        make(map[string]*unit),
		pending:      newPendingTable(),
		done:         make(chan struct{}),
		observerPool: NewObserverPool(context.Background(), bb.poolWorkers, bb.poolBuffer),
	}

	// Attach a logging observer unless one was supplied externally.
	hasLoggingObserver := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLoggingObserver = true
			break
		}
	}
	if !hasLoggingObserver {
		b.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	return b, nil
}

// New constructs a Bus via the builder and returns a close func for
// convenience. There is deliberately no process-wide default bus: every
// caller owns its instance, so independent buses can coexist in one process.
func New(init func(b *BusBuilder)) (*Bus, func() error, error) {
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	bus, err := bb.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return bus.Close(context.Background()) }
	return bus, closeFn, nil
}
