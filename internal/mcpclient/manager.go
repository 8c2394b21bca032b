package mcpclient

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/opencode-ai/opal/internal/config"
	"github.com/opencode-ai/opal/internal/logging"
	"github.com/opencode-ai/opal/internal/tool"
)

const (
	clientName    = "opal-agent"
	clientVersion = "0.1.0"

	defaultTimeout   = 30 * time.Second
	healthInterval   = 30 * time.Second
	initialBackoff   = 2 * time.Second
	maxBackoff       = 60 * time.Second
	maxReconnectTry  = 10
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func sanitize(name string) string {
	return nonAlphanumeric.ReplaceAllString(name, "_")
}

// connection is one live server: its underlying mcp-go client plus the
// bookkeeping a reconnect loop needs.
type connection struct {
	name      string
	client    *mcpsdk.Client
	cancel    context.CancelFunc
	toolNames []string
	tools     []*bridgeTool

	mu       sync.Mutex
	attempts int
}

// Manager is the MCP Tool Loader: it dials the servers named in
// config.Config.MCP, registers each one's tools into a session's
// tool.Registry, and keeps a background health check running for as
// long as the session group lives.
type Manager struct {
	mu    sync.Mutex
	conns map[string]*connection
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{conns: make(map[string]*connection)}
}

// Load connects every enabled server in servers and registers its tools
// into registry, returning the names of servers that connected
// successfully (or that were already connected by an earlier session in
// this process, in which case the already-discovered tools are simply
// re-registered into registry without dialing again). A server that
// fails to connect is logged and skipped rather than failing the whole
// session start — one bad MCP server should never block a session from
// starting.
func (m *Manager) Load(ctx context.Context, servers map[string]config.MCPConfig, registry *tool.Registry) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var loaded []string
	for _, name := range names {
		cfg := servers[name]
		if cfg.Enabled != nil && !*cfg.Enabled {
			continue
		}

		m.mu.Lock()
		existing, ok := m.conns[name]
		m.mu.Unlock()
		if ok {
			registerTools(registry, existing.tools)
			loaded = append(loaded, name)
			continue
		}

		if err := m.connect(ctx, name, cfg, registry); err != nil {
			logging.Logger.Warn().Err(err).Str("server", name).Msg("failed to connect MCP server")
			continue
		}
		loaded = append(loaded, name)
	}
	return loaded
}

func registerTools(registry *tool.Registry, tools []*bridgeTool) {
	for _, bridge := range tools {
		if _, exists := registry.Get(bridge.ID()); exists {
			continue
		}
		registry.Register(bridge)
	}
}

func (m *Manager) connect(ctx context.Context, name string, cfg config.MCPConfig, registry *tool.Registry) error {
	c, transportKind, err := createClient(cfg)
	if err != nil {
		return fmt.Errorf("building client: %w", err)
	}

	if transportKind != "stdio" {
		if err := c.Start(ctx); err != nil {
			return fmt.Errorf("starting transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initializing: %w", err)
	}

	listResp, err := c.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("listing tools: %w", err)
	}

	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	conn := &connection{name: name, client: c}
	for _, t := range listResp.Tools {
		bridge := newBridgeTool(name, t, c, timeout)
		conn.tools = append(conn.tools, bridge)
		conn.toolNames = append(conn.toolNames, bridge.ID())
	}
	registerTools(registry, conn.tools)

	healthCtx, cancel := context.WithCancel(context.Background())
	conn.cancel = cancel

	m.mu.Lock()
	m.conns[name] = conn
	m.mu.Unlock()

	go m.healthLoop(healthCtx, conn)

	logging.Logger.Info().Str("server", name).Int("tools", len(conn.toolNames)).Msg("connected MCP server")
	return nil
}

// createClient builds the mcp-go client for cfg's transport. "local" (or
// an empty Type, the default) speaks stdio to cfg.Command; "remote"
// speaks streamable-HTTP to cfg.URL with cfg.Headers attached.
func createClient(cfg config.MCPConfig) (*mcpsdk.Client, string, error) {
	switch cfg.Type {
	case "remote":
		if cfg.URL == "" {
			return nil, "", fmt.Errorf("remote MCP server requires a url")
		}
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		c, err := mcpsdk.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, "", err
		}
		return c, "streamable-http", nil
	case "local", "":
		if len(cfg.Command) == 0 {
			return nil, "", fmt.Errorf("local MCP server requires a command")
		}
		env := make([]string, 0, len(cfg.Environment))
		for k, v := range cfg.Environment {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		c, err := mcpsdk.NewStdioMCPClient(cfg.Command[0], env, cfg.Command[1:]...)
		if err != nil {
			return nil, "", err
		}
		return c, "stdio", nil
	default:
		return nil, "", fmt.Errorf("unknown MCP transport type: %s", cfg.Type)
	}
}

// healthLoop pings a connected server on an interval. After a failed
// ping it calls reconnect, which waits with exponential backoff and pings
// once more; neither re-dials the server nor re-creates its client, and
// the tools registered from it stay registered either way.
func (m *Manager) healthLoop(ctx context.Context, conn *connection) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.client.Ping(pingCtx)
			cancel()
			if err == nil {
				conn.mu.Lock()
				conn.attempts = 0
				conn.mu.Unlock()
				continue
			}

			// Not every server implements ping; treat "not found" as healthy
			// rather than tearing down a perfectly good connection.
			if strings.Contains(strings.ToLower(err.Error()), "method not found") {
				continue
			}

			logging.Logger.Warn().Err(err).Str("server", conn.name).Msg("MCP server ping failed")
			m.reconnect(ctx, conn)
		}
	}
}

func (m *Manager) reconnect(ctx context.Context, conn *connection) {
	conn.mu.Lock()
	conn.attempts++
	attempt := conn.attempts
	conn.mu.Unlock()

	if attempt > maxReconnectTry {
		logging.Logger.Error().Str("server", conn.name).Msg("MCP server exhausted reconnect attempts, giving up")
		return
	}

	backoff := initialBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	if err := conn.client.Ping(ctx); err != nil {
		logging.Logger.Debug().Err(err).Str("server", conn.name).Int("attempt", attempt).Msg("MCP reconnect probe still failing")
	}
}

// Close tears down every connection this Manager opened, for use at
// session group teardown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, conn := range m.conns {
		conn.cancel()
		if err := conn.client.Close(); err != nil {
			logging.Logger.Debug().Err(err).Str("server", name).Msg("error closing MCP client")
		}
	}
	m.conns = make(map[string]*connection)
}
