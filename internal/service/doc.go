// Package service owns the lifecycle of the router process under test:
// spawning it with synthesized configuration, capturing its combined output
// into a session log file, polling its status endpoint for readiness, and
// tearing it down without leaking processes, descriptors, or temp state.
//
// The manager drives a single instance through the states
// NotStarted -> Starting -> Ready -> Stopped, with a terminal Failed state
// reachable from Starting on readiness timeout. A stopped or failed instance
// is never restarted; a new session gets a new instance.
//
// Readiness is polled rather than signaled because the router's startup
// completion is only observable externally through its health endpoint.
package service
