// Package mcpclient loads external Model Context Protocol tool servers
// into a session's tool registry, gated by the mcp feature toggle. Each
// configured server is dialed once per Manager, by the first session
// start that loads it; later session starts reuse that connection and
// re-register its tools. Every tool it advertises is wrapped as an internal/tool.Tool and
// registered under a name prefixed with the server's own name, so two
// servers exposing a "search" tool never collide.
package mcpclient
