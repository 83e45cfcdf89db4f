package redisexport

// Package redisexport ships bus lifecycle events to a Redis Stream.
//
// The Exporter is both an xsvc.Observer (attach it to a bus) and a
// manager.Unit (register it with a manager so it participates in the
// dependency graph, health checks, and ordered shutdown).
//
// Minimal config:
// - addr: "host:port" (default "127.0.0.1:6379")
// - stream: target stream name (default "xsvc-events")
// - buffer: in-memory event buffer (default 4096)
// - batch_size: XADD pipeline batch (default 128)
// - flush_interval: max latency before a partial batch ships (default 1s)
// - max_len_approx: approximate stream trim length (0 = unbounded)
//
// Example:
//
//  exp, _ := redisexport.New(redisexport.Defaults())
//  bus.AddObserver(exp)
//  mgr.Register("event-export", exp, nil, nil)
