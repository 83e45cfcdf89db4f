package xsvc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ObserverPool fans bus events out to observers on a fixed set of worker
// goroutines so a slow observer never stalls Send or Poll. Notify is
// non-blocking: when the buffer is full the event is dropped and counted.
type ObserverPool struct {
	events  chan Event
	workers int
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closed    atomic.Bool
	dropped   atomic.Uint64
	processed atomic.Uint64
}

// NewObserverPool creates a dispatch pool with the given worker count and
// event buffer size. Non-positive values fall back to defaults.
func NewObserverPool(ctx context.Context, workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}

	poolCtx, cancel := context.WithCancel(ctx)
	op := &ObserverPool{
		events:  make(chan Event, bufferSize),
		workers: workers,
		ctx:     poolCtx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		op.wg.Add(1)
		go op.worker()
	}
	return op
}

// Notify queues e for asynchronous dispatch. Ownership of observers passes
// to the pool; the caller snapshots the slice under its own lock and must
// not mutate it afterwards.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 {
		return
	}
	e.observers = observers

	select {
	case op.events <- e:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) worker() {
	defer op.wg.Done()
	for {
		select {
		case <-op.ctx.Done():
			// Flush whatever is still buffered before exiting.
			for {
				select {
				case e := <-op.events:
					op.dispatch(e)
				default:
					return
				}
			}
		case e := <-op.events:
			op.dispatch(e)
		}
	}
}

// dispatch delivers one event to every attached observer. A panicking
// observer only loses its own delivery, never the worker.
func (op *ObserverPool) dispatch(e Event) {
	for _, obs := range e.observers {
		if obs == nil {
			continue
		}
		func() {
			defer func() {
				_ = recover()
			}()
			obs.OnEvent(e)
		}()
	}
	op.processed.Add(1)
}

// Close stops the workers, waiting up to timeout for buffered events to
// flush. Idempotent.
func (op *ObserverPool) Close(timeout time.Duration) error {
	if op.closed.Swap(true) {
		return nil
	}
	op.cancel()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolShutdownTimeout
	}
}

// PoolStats is telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64
	Processed    uint64
	ActiveEvents int
	Workers      int
	BufferSize   int
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.events),
		Workers:      op.workers,
		BufferSize:   cap(op.events),
	}
}
