// Package supervisor is the Session Supervisor: it owns the named
// registry mapping a session id to its live group (the Agent Runtime,
// its own tool registry, and the shared Sub-Agent Host), starts sessions
// (a crashed turn recovers itself inside internal/runtime; nothing here
// restarts one), and persists each session's tree to disk at the turn
// boundaries a client would expect to find it durable.
package supervisor
