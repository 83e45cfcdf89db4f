// Package config loads the supervisor configuration from YAML: bus lane
// capacities, manager intervals and restart policy, the optional Redis event
// export, and the managed service definitions.
package config
