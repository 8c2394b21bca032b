package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAskParentTool_Execute_RequiresQuestion(t *testing.T) {
	at := NewAskParentTool()
	ctx := &Context{QuestionHandler: func(ctx context.Context, q string, choices []string) (string, error) {
		return "yes", nil
	}}

	_, err := at.Execute(context.Background(), json.RawMessage(`{}`), ctx)
	assert.Error(t, err)
}

func TestAskParentTool_Execute_RequiresHandler(t *testing.T) {
	at := NewAskParentTool()
	input := json.RawMessage(`{"question":"Deploy?"}`)

	_, err := at.Execute(context.Background(), input, &Context{})
	assert.Error(t, err)
}

func TestAskParentTool_Execute_RelaysAndReturnsAnswer(t *testing.T) {
	at := NewAskParentTool()
	var gotQuestion string
	var gotChoices []string
	ctx := &Context{QuestionHandler: func(ctx context.Context, q string, choices []string) (string, error) {
		gotQuestion = q
		gotChoices = choices
		return "yes", nil
	}}
	input := json.RawMessage(`{"question":"Deploy?","choices":["yes","no"]}`)

	result, err := at.Execute(context.Background(), input, ctx)
	require.NoError(t, err)
	assert.Equal(t, "Deploy?", gotQuestion)
	assert.Equal(t, []string{"yes", "no"}, gotChoices)
	assert.Equal(t, "yes", result.Output)
}

func TestAskParentTool_Meta(t *testing.T) {
	at := NewAskParentTool()
	meta := at.Meta(json.RawMessage(`{"question":"Deploy?"}`))
	assert.Equal(t, "Deploy?", meta["question"])
}
