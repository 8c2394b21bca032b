package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasoningEfforts_OffAndUnsetOmitted(t *testing.T) {
	_, ok := reasoningEfforts[ThinkingOff]
	assert.False(t, ok)
	_, ok = reasoningEfforts[""]
	assert.False(t, ok)
}

func TestReasoningEfforts_MatchAPILiterals(t *testing.T) {
	assert.Equal(t, "low", reasoningEfforts[ThinkingLow])
	assert.Equal(t, "medium", reasoningEfforts[ThinkingMedium])
	assert.Equal(t, "high", reasoningEfforts[ThinkingHigh])
}
