package xsvc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

var _ API = (*Bus)(nil)

// Bus is the in-process message bus: registration, priority-lane routing
// with backpressure, and response correlation. All state is owned by the
// instance; independent buses never share counters or registries.
//
// Delivery is fan-out at enqueue time: Send places the message into the
// per-unit inbox of every matching subscriber, so Poll drains only its own
// lanes and never has to put anything back.
type Bus struct {
	clock    xclock.Clock
	logger   *xlog.Logger
	laneCaps [numPriorities]int

	mu    sync.RWMutex
	units map[string]*unit

	pending *pendingTable

	observerPool *ObserverPool
	observersMu  sync.RWMutex
	observers    []Observer

	metrics   busMetrics
	idSeq     atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// busMetrics uses lock-free atomics on the send/poll path.
type busMetrics struct {
	sent             atomic.Uint64
	delivered        atomic.Uint64
	dropped          atomic.Uint64
	evicted          atomic.Uint64
	responses        atomic.Uint64
	responseTimeouts atomic.Uint64
}

// unit is one registered consumer: its subscriptions and its inbox of four
// bounded lanes. Each lane carries its own lock; lastSeen is atomic so Poll
// never touches the registry write lock.
type unit struct {
	name     string
	subs     map[Kind]struct{}
	lanes    [numPriorities]*lane
	notify   chan struct{}
	lastSeen atomic.Int64 // unix nanos
}

func (u *unit) subscribed(k Kind) bool {
	_, ok := u.subs[k]
	return ok
}

// wants reports whether m belongs in u's inbox: the kind must be subscribed
// and the recipient must be empty (broadcast) or u itself.
func (u *unit) wants(m *Message) bool {
	if !u.subscribed(m.Kind) {
		return false
	}
	return m.Recipient == "" || m.Recipient == u.name
}

// Register adds a named unit with its kind subscriptions and records a fresh
// heartbeat. It fails if the name is already taken; existing state is left
// unmodified.
func (b *Bus) Register(name string, kinds ...Kind) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if name == "" {
		return fmt.Errorf("xsvc: unit name must not be empty")
	}

	u := &unit{
		name:   name,
		subs:   make(map[Kind]struct{}, len(kinds)),
		notify: make(chan struct{}, 1),
	}
	for _, k := range kinds {
		u.subs[k] = struct{}{}
	}
	for p := PriorityCritical; p <= PriorityLow; p++ {
		u.lanes[p] = newLane(b.laneCaps[p], policyFor(p))
	}
	u.lastSeen.Store(b.clock.Now().UnixNano())

	b.mu.Lock()
	if _, exists := b.units[name]; exists {
		b.mu.Unlock()
		return ErrDuplicateUnit{Name: name}
	}
	b.units[name] = u
	b.mu.Unlock()

	b.notifyAsync(Event{Type: Registered, Unit: name})
	return nil
}

// Unregister removes the unit. In-flight messages directed at it vanish with
// its inbox; already resolved responses are unaffected.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	_, exists := b.units[name]
	delete(b.units, name)
	b.mu.Unlock()

	if exists {
		b.notifyAsync(Event{Type: Unregistered, Unit: name})
	}
}

// Send validates and enqueues the message. When it requires a response,
// Send blocks until Respond resolves it or ResponseTimeout elapses.
//
// Backpressure is a result, not an error condition to panic over: a full
// Critical/High lane evicts its own oldest entry to admit the new message; a
// full Normal/Low lane drops the new message and Send returns ErrLaneFull.
func (b *Bus) Send(ctx context.Context, msg *Message) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if msg == nil {
		return nil, fmt.Errorf("xsvc: message must not be nil")
	}
	if msg.Sender == "" {
		return nil, ErrEmptySender
	}
	if msg.Kind == "" {
		return nil, ErrInvalidKind
	}
	if !msg.Priority.valid() {
		return nil, ErrInvalidPriority
	}

	if msg.ID == "" {
		msg.ID = b.nextID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = b.clock.Now()
	}

	// Resolve targets under the registry read lock; enqueueing happens on
	// per-lane locks afterwards.
	b.mu.RLock()
	var targets []*unit
	if msg.Recipient != "" {
		rcpt, ok := b.units[msg.Recipient]
		if !ok {
			b.mu.RUnlock()
			return nil, ErrUnknownUnit{Name: msg.Recipient}
		}
		if rcpt.wants(msg) {
			targets = append(targets, rcpt)
		}
	} else {
		for _, u := range b.units {
			if u.wants(msg) {
				targets = append(targets, u)
			}
		}
	}
	b.mu.RUnlock()

	var slot chan []byte
	if msg.RequiresResponse {
		slot = b.pending.create(msg.ID)
	}

	b.metrics.sent.Add(1)

	enqueued, refused := 0, 0
	for _, u := range targets {
		evicted, ok := u.lanes[msg.Priority].push(msg)
		if !ok {
			refused++
			b.metrics.dropped.Add(1)
			b.notifyAsync(Event{Type: Dropped, Unit: u.name, MessageID: msg.ID, Kind: msg.Kind, Priority: msg.Priority, Err: ErrLaneFull})
			continue
		}
		if evicted != nil {
			b.metrics.evicted.Add(1)
			b.notifyAsync(Event{Type: Evicted, Unit: u.name, MessageID: evicted.ID, Kind: evicted.Kind, Priority: evicted.Priority})
		}
		enqueued++
		b.notifyAsync(Event{Type: Enqueued, Unit: u.name, MessageID: msg.ID, Kind: msg.Kind, Priority: msg.Priority})
		select {
		case u.notify <- struct{}{}:
		default:
		}
	}

	// Every matching lane refused the message: backpressure loss.
	if refused > 0 && enqueued == 0 {
		if slot != nil {
			b.pending.release(msg.ID)
		}
		return nil, ErrLaneFull
	}

	if slot == nil {
		return nil, nil
	}
	return b.awaitResponse(ctx, msg, slot)
}

// awaitResponse blocks the sender until resolution, timeout, cancellation,
// or bus close. Whatever the outcome, the pending slot is released before
// returning.
func (b *Bus) awaitResponse(ctx context.Context, msg *Message, slot chan []byte) ([]byte, error) {
	timeout := msg.ResponseTimeout
	if timeout <= 0 {
		timeout = defaultResponseTimeout
	}
	start := b.clock.Now()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-slot:
		b.metrics.responses.Add(1)
		b.notifyAsync(Event{Type: Responded, MessageID: msg.ID, Kind: msg.Kind, Priority: msg.Priority, Duration: b.clock.Since(start)})
		return payload, nil
	case <-timer.C:
		b.pending.release(msg.ID)
		b.metrics.responseTimeouts.Add(1)
		b.notifyAsync(Event{Type: ResponseExpired, MessageID: msg.ID, Kind: msg.Kind, Priority: msg.Priority, Duration: b.clock.Since(start), Err: ErrResponseTimeout})
		return nil, ErrResponseTimeout
	case <-ctx.Done():
		b.pending.release(msg.ID)
		return nil, ctx.Err()
	case <-b.done:
		b.pending.release(msg.ID)
		return nil, ErrBusClosed
	}
}

// Poll returns the messages queued for name, draining its lanes Critical
// through Low. With timeout > 0 it blocks until at least one message is
// available or the timeout elapses; an empty result after the timeout is not
// an error.
func (b *Bus) Poll(ctx context.Context, name string, timeout time.Duration) ([]*Message, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	b.mu.RLock()
	u, ok := b.units[name]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownUnit{Name: name}
	}

	u.lastSeen.Store(b.clock.Now().UnixNano())

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if msgs := b.drainInbox(u); len(msgs) > 0 {
			return msgs, nil
		}
		if timeout <= 0 {
			return nil, nil
		}
		select {
		case <-u.notify:
		case <-deadline:
			return b.drainInbox(u), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.done:
			return nil, ErrBusClosed
		}
	}
}

// drainInbox empties every lane of u in priority order.
func (b *Bus) drainInbox(u *unit) []*Message {
	var out []*Message
	for p := PriorityCritical; p <= PriorityLow; p++ {
		for _, m := range u.lanes[p].drain() {
			out = append(out, m)
			b.metrics.delivered.Add(1)
			b.notifyAsync(Event{Type: Delivered, Unit: u.name, MessageID: m.ID, Kind: m.Kind, Priority: m.Priority})
		}
	}
	return out
}

// Respond resolves the pending response for messageID with payload.
// It reports false when the slot already expired; that is a no-op, not an
// error.
func (b *Bus) Respond(messageID string, payload []byte) bool {
	return b.pending.resolve(messageID, payload)
}

// Metrics returns the current counter snapshot.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	active := len(b.units)
	b.mu.RUnlock()

	var eventsDropped uint64
	if b.observerPool != nil {
		eventsDropped = b.observerPool.Stats().Dropped
	}

	return Metrics{
		Sent:             b.metrics.sent.Load(),
		Delivered:        b.metrics.delivered.Load(),
		Dropped:          b.metrics.dropped.Load(),
		Evicted:          b.metrics.evicted.Load(),
		Responses:        b.metrics.responses.Load(),
		ResponseTimeouts: b.metrics.responseTimeouts.Load(),
		EventsDropped:    eventsDropped,
		ActiveUnits:      active,
	}
}

// LastSeen returns the heartbeat recorded by Register/Poll for name.
func (b *Bus) LastSeen(name string) (time.Time, bool) {
	b.mu.RLock()
	u, ok := b.units[name]
	b.mu.RUnlock()
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(0, u.lastSeen.Load()), true
}

// Close shuts the bus down: all blocked Send/Poll calls return ErrBusClosed
// and the observer pool is drained. Idempotent.
func (b *Bus) Close(ctx context.Context) error {
	var closeErr error

	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)

		if b.observerPool != nil {
			if err := b.observerPool.Close(5 * time.Second); err != nil {
				b.logger.Warn().Err(err).Msg("xsvc: observer pool shutdown timeout")
				closeErr = err
			}
		}
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes an observer.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()

	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync dispatches events without blocking the send/poll path.
func (b *Bus) notifyAsync(e Event) {
	if b.observerPool == nil || b.closed.Load() {
		return
	}

	b.observersMu.RLock()
	observerCount := len(b.observers)
	if observerCount == 0 {
		b.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, observerCount)
	copy(observers, b.observers)
	b.observersMu.RUnlock()

	b.observerPool.Notify(e, observers)
}

// nextID yields an id unique for this bus instance's lifetime.
func (b *Bus) nextID() string {
	return fmt.Sprintf("msg-%d", b.idSeq.Add(1))
}
