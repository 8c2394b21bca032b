package provider

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	id     string
	name   string
	models []Model
}

func (f *fakeProvider) ID() string                         { return f.id }
func (f *fakeProvider) Name() string                       { return f.name }
func (f *fakeProvider) Models() []Model                    { return f.models }
func (f *fakeProvider) ChatModel() model.ToolCallingChatModel { return nil }
func (f *fakeProvider) Stream(ctx context.Context, req *CompletionRequest) (*Stream, error) {
	return nil, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&fakeProvider{id: "anthropic", name: "Anthropic"})

	p, err := r.Get("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "Anthropic", p.Name())

	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestRegistry_GetModel(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&fakeProvider{id: "anthropic", models: []Model{
		{ID: "claude-sonnet-4-20250514", ProviderID: "anthropic"},
	}})

	m, err := r.GetModel("anthropic", "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", m.ID)

	_, err = r.GetModel("anthropic", "nonexistent")
	assert.Error(t, err)
}

func TestRegistry_AllModelsSortedByPriority(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&fakeProvider{id: "openai", models: []Model{{ID: "gpt-4o"}}})
	r.Register(&fakeProvider{id: "anthropic", models: []Model{{ID: "claude-sonnet-4-20250514"}, {ID: "claude-3-5-sonnet"}}})

	models := r.AllModels()
	require.Len(t, models, 3)
	assert.Equal(t, "claude-sonnet-4-20250514", models[0].ID)
}

func TestRegistry_DefaultModel_FallsBackToFirstAvailable(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&fakeProvider{id: "custom", models: []Model{{ID: "house-model"}}})

	m, err := r.DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, "house-model", m.ID)
}

func TestRegistry_DefaultModel_NoneAvailable(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.DefaultModel()
	assert.Error(t, err)
}

func TestParseModelString(t *testing.T) {
	providerID, modelID := ParseModelString("anthropic/claude-sonnet-4-20250514")
	assert.Equal(t, "anthropic", providerID)
	assert.Equal(t, "claude-sonnet-4-20250514", modelID)

	providerID, modelID = ParseModelString("bare-model")
	assert.Equal(t, "", providerID)
	assert.Equal(t, "bare-model", modelID)
}

func TestInferProviderKind(t *testing.T) {
	assert.Equal(t, "anthropic", inferProviderKind("anthropic"))
	assert.Equal(t, "anthropic", inferProviderKind("claude"))
	assert.Equal(t, "openai", inferProviderKind("openai"))
	assert.Equal(t, "openai", inferProviderKind("local-llm-gateway"))
}
