package enrich

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClaudeRequiresKey(t *testing.T) {
	_, err := NewClaudeProvider("", "")
	require.Error(t, err)
}

func TestClaudeDefaults(t *testing.T) {
	p, err := NewClaudeProvider("sk-ant-test", "")
	require.NoError(t, err)
	require.Equal(t, "claude", p.Name())
	require.Equal(t, DefaultClaudeModel, p.Model())
}

func TestClaudeCustomModel(t *testing.T) {
	p, err := NewClaudeProvider("sk-ant-test", "claude-sonnet-4-5")
	require.NoError(t, err)
	require.Equal(t, "claude-sonnet-4-5", p.Model())
}
