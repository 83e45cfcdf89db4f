// Package xsvc provides a single-host, in-memory message bus with four
// bounded priority lanes, plus (in subpackage manager) a dependency-aware
// service lifecycle supervisor built on top of it.
//
// The bus routes immutable Message envelopes between named units. Delivery
// is fan-out at enqueue time into per-unit inboxes; a unit drains its own
// inbox with Poll and never contends with other consumers. Backpressure is
// lane-local: full Critical/High lanes evict their oldest entry to admit
// fresh urgent work, full Normal/Low lanes drop the incoming message and
// report it as a counted, recoverable failure.
//
// Request/response correlation is built in: Send with RequiresResponse
// blocks until a matching Respond call resolves the message id or the
// response timeout elapses. Nothing lingers after a timeout.
//
// All registries and counters are owned by the constructed Bus instance, so
// independent buses can coexist in one process (notably for testing).
package xsvc
