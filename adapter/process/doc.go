package process

// Package process wraps an OS subprocess as a manager.Unit.
//
// The unit starts the command in its own process group, relays its stdout
// and stderr lines to the logger, and reports liveness through HealthCheck.
// Stop sends SIGTERM to the group and escalates to SIGKILL when the grace
// period runs out.
//
// With a bus attached the unit also:
// - broadcasts KindHeartbeat messages on a fixed interval, and
// - drains its inbox for directed KindShutdown / KindSystemCommand messages.
//
// Example:
//
//  u, _ := process.New(process.Config{
//      Name:    "disk-monitor",
//      Command: "disk-monitor",
//      Args:    []string{"--root", "/var"},
//  }, process.WithBus(bus))
//  mgr.Register("disk-monitor", u, nil, []xsvc.Kind{xsvc.KindShutdown, xsvc.KindSystemCommand})
