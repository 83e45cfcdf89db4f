// Package manager supervises named services over an xsvc bus: it owns the
// dependency graph, brings services up in topological order and down in
// reverse, keeps them healthy with periodic checks, and enforces dependency
// integrity with a cascading safety net.
//
// A service is anything implementing the Unit contract: Start, Stop (bounded
// by the caller's context), and HealthCheck. The manager is otherwise fully
// agnostic to what a unit does internally; process-spawning adapters, bus
// exporters, and in-process workers all register the same way.
//
// All registries and counters are owned by the constructed Manager instance.
package manager
