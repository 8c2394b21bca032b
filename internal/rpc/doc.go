// Package rpc implements the line-framed, newline-delimited JSON-RPC 2.0
// transport the agent speaks over stdin/stdout: request dispatch for the
// supported method set, bus-event-to-notification forwarding, and the
// server-initiated client/confirm and client/input requests a permission
// check or a sub-agent's ask_parent call blocks on.
package rpc
