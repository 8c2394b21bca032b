package rpc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/opal/internal/agentprofile"
	"github.com/opencode-ai/opal/internal/bus"
	"github.com/opencode-ai/opal/internal/chat"
	"github.com/opencode-ai/opal/internal/compaction"
	"github.com/opencode-ai/opal/internal/opalerr"
	"github.com/opencode-ai/opal/internal/permission"
	"github.com/opencode-ai/opal/internal/provider"
	"github.com/opencode-ai/opal/internal/runtime"
	"github.com/opencode-ai/opal/internal/tool"
)

type fakeProvider struct{ responses [][]*schema.Message }

func (f *fakeProvider) ID() string                        { return "fake" }
func (f *fakeProvider) Name() string                      { return "fake" }
func (f *fakeProvider) ChatModel() model.ToolCallingChatModel { return nil }
func (f *fakeProvider) Models() []provider.Model {
	return []provider.Model{{ID: "model-1", ProviderID: "fake", ContextLength: 1_000_000}}
}
func (f *fakeProvider) Stream(ctx context.Context, req *provider.CompletionRequest) (*provider.Stream, error) {
	return provider.NewStream(schema.StreamReaderFromArray(f.responses[0])), nil
}

func textResponse(text string) []*schema.Message {
	return []*schema.Message{
		{Role: schema.Assistant, Content: text},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{
			FinishReason: "stop",
			Usage:        &schema.TokenUsage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
		}},
	}
}

// fakeSessionManager is a minimal in-memory SessionManager, standing in
// for internal/supervisor's real rest-for-one registry.
type fakeSessionManager struct {
	deps runtime.Deps

	mu     sync.Mutex
	agents map[string]*runtime.Agent
	nextID int
}

func newFakeSessionManager(deps runtime.Deps) *fakeSessionManager {
	return &fakeSessionManager{deps: deps, agents: make(map[string]*runtime.Agent)}
}

func (m *fakeSessionManager) StartSession(ctx context.Context, opts StartSessionOptions) (*runtime.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := opts.SessionID
	if id == "" {
		id = fmt.Sprintf("sess-%d", m.nextID)
	}
	agent := runtime.New(m.deps, chat.New(id), runtime.Options{
		SessionID: id,
		Agent:     opts.Agent,
		WorkDir:   opts.Directory,
		Model:     runtime.ModelRef{Provider: "fake", ID: "model-1"},
	})
	m.agents[id] = agent
	return agent, nil
}

func (m *fakeSessionManager) GetAgent(sessionID string) (*runtime.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[sessionID]
	if !ok {
		return nil, opalerr.NewNotFound("session", sessionID)
	}
	return agent, nil
}

func (m *fakeSessionManager) BranchSession(ctx context.Context, sessionID, messageID string) (*runtime.Agent, error) {
	return nil, opalerr.Validation("branch not supported in this fixture")
}

func (m *fakeSessionManager) CompactSession(ctx context.Context, sessionID string) (*compaction.Result, error) {
	return &compaction.Result{BeforeCount: 1, AfterCount: 1}, nil
}

func (m *fakeSessionManager) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, sessionID)
	return nil
}

func (m *fakeSessionManager) ListSessions(directory string) ([]chat.SessionInfo, error) {
	return nil, nil
}

func newTestDeps(responses [][]*schema.Message) runtime.Deps {
	providers := provider.NewRegistry(nil)
	providers.Register(&fakeProvider{responses: responses})
	return runtime.Deps{
		Bus:         bus.New(),
		Providers:   providers,
		Tools:       tool.NewRegistry("/tmp", nil),
		Profiles:    agentprofile.NewRegistry(),
		Permissions: permission.NewChecker(nil),
		Compactor:   compaction.New(providers, compaction.Config{ContextThreshold: 0.99}),
	}
}

type testServer struct {
	srv          *Server
	clientReader *bufio.Reader
	clientWriter io.WriteCloser
}

func newTestServer(t *testing.T, deps runtime.Deps) *testServer {
	t.Helper()
	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	conn := NewConn(serverIn, serverOut)
	sessions := newFakeSessionManager(deps)
	srv := New(conn, deps.Bus, sessions, deps.Providers, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	return &testServer{srv: srv, clientReader: bufio.NewReader(clientIn), clientWriter: clientOut}
}

func (ts *testServer) send(t *testing.T, line string) string {
	t.Helper()
	_, err := ts.clientWriter.Write([]byte(line + "\n"))
	require.NoError(t, err)

	for {
		resp, err := ts.clientReader.ReadString('\n')
		require.NoError(t, err)
		if !assertIsNotification(resp) {
			return resp
		}
	}
}

func assertIsNotification(line string) bool {
	return !contains(line, `"id"`)
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func TestServer_PingPong(t *testing.T) {
	ts := newTestServer(t, newTestDeps(nil))
	resp := ts.send(t, `{"jsonrpc":"2.0","id":1,"method":"opal/ping"}`)
	assert.Contains(t, resp, `"pong":true`)
}

func TestServer_UnknownMethod(t *testing.T) {
	ts := newTestServer(t, newTestDeps(nil))
	resp := ts.send(t, `{"jsonrpc":"2.0","id":1,"method":"bogus/method"}`)
	assert.Contains(t, resp, fmt.Sprint(CodeMethodNotFound))
}

func TestServer_MissingJSONRPCVersion(t *testing.T) {
	ts := newTestServer(t, newTestDeps(nil))
	resp := ts.send(t, `{"id":1,"method":"opal/ping"}`)
	assert.Contains(t, resp, fmt.Sprint(CodeInvalidRequest))
}

func TestServer_WrongJSONRPCVersion(t *testing.T) {
	ts := newTestServer(t, newTestDeps(nil))
	resp := ts.send(t, `{"jsonrpc":"1.0","id":1,"method":"opal/ping"}`)
	assert.Contains(t, resp, fmt.Sprint(CodeInvalidRequest))
}

func TestServer_SessionStartThenPromptDrainsToAgentEnd(t *testing.T) {
	ts := newTestServer(t, newTestDeps([][]*schema.Message{textResponse("hello there")}))

	startResp := ts.send(t, `{"jsonrpc":"2.0","id":1,"method":"session/start","params":{"directory":"/tmp"}}`)
	assert.Contains(t, startResp, `"session_id"`)

	promptResp := ts.send(t, `{"jsonrpc":"2.0","id":2,"method":"agent/prompt","params":{"session_id":"sess-1","text":"hi"}}`)
	assert.Contains(t, promptResp, `"success":true`)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for agent_end notification")
		default:
		}
		line, err := ts.clientReader.ReadString('\n')
		require.NoError(t, err)
		if contains(line, `"type":"agent_end"`) {
			return
		}
	}
}

func TestServer_AgentPromptUnknownSession(t *testing.T) {
	ts := newTestServer(t, newTestDeps(nil))
	resp := ts.send(t, `{"jsonrpc":"2.0","id":1,"method":"agent/prompt","params":{"session_id":"nope","text":"hi"}}`)
	assert.Contains(t, resp, fmt.Sprint(CodeInvalidParams))
}
