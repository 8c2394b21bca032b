package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThinkingBudgets_OffAndUnsetOmitted(t *testing.T) {
	_, ok := thinkingBudgets[ThinkingOff]
	assert.False(t, ok)
	_, ok = thinkingBudgets[""]
	assert.False(t, ok)
}

func TestThinkingBudgets_IncreaseWithLevel(t *testing.T) {
	assert.Less(t, thinkingBudgets[ThinkingLow], thinkingBudgets[ThinkingMedium])
	assert.Less(t, thinkingBudgets[ThinkingMedium], thinkingBudgets[ThinkingHigh])
}
