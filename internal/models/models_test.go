package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapability_ExactMatch(t *testing.T) {
	table := Default()

	c, ok := table.Capability("gpt-4o")

	require.True(t, ok)
	assert.True(t, c.Images)
	assert.Equal(t, "o200k_base", c.Tokenizer)
	assert.Equal(t, DefaultMaxImageBytes, c.MaxImageBytes)
}

func TestCapability_PrefixMatch(t *testing.T) {
	table := Default()

	// Dated snapshots resolve through the family entry.
	c, ok := table.Capability("gpt-4o-2024-08-06")
	require.True(t, ok)
	assert.True(t, c.Images)
	assert.Equal(t, "o200k_base", c.Tokenizer)

	// A longer literal entry wins over the shorter family.
	mini, ok := table.Capability("gpt-4o-mini-2024-07-18")
	require.True(t, ok)
	assert.Equal(t, "o200k_base", mini.Tokenizer)
}

func TestCapability_NormalizesModelID(t *testing.T) {
	table := Default()

	c, ok := table.Capability("openai/gpt-4o")
	require.True(t, ok)
	assert.True(t, c.Images)

	// Bedrock version suffix.
	b, ok := table.Capability("anthropic.claude-3-5-sonnet-20241022-v2:0")
	require.True(t, ok)
	assert.True(t, b.Images)
}

func TestCapability_MissGetsDefaults(t *testing.T) {
	table := Default()

	c, ok := table.Capability("no-such-model")

	assert.False(t, ok)
	assert.False(t, c.Images)
	assert.Equal(t, DefaultMaxImageBytes, c.MaxImageBytes)
	assert.Equal(t, DefaultTokenizer, c.Tokenizer)
}

func TestPrice(t *testing.T) {
	table := Default()

	p, ok := table.Price("gpt-4o")
	require.True(t, ok)
	assert.Equal(t, 2.50, p.InputPerMTok)

	_, ok = table.Price("no-such-model")
	assert.False(t, ok)
}

func TestTokenizer(t *testing.T) {
	table := Default()

	assert.Equal(t, "o200k_base", table.Tokenizer("gpt-4o"))
	assert.Equal(t, "cl100k_base", table.Tokenizer("deepseek-chat"))
	assert.Equal(t, DefaultTokenizer, table.Tokenizer("no-such-model"))
}

func TestLoad_OverlaysBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
capabilities:
  my-local-model:
    images: true
    max_image_bytes: 1024
    tokenizer: cl100k_base
  gpt-4o:
    images: false
prices:
  my-local-model:
    input_per_mtok: 0.5
    output_per_mtok: 1.5
`), 0600))

	table, err := Load(path)
	require.NoError(t, err)

	// New entry.
	c, ok := table.Capability("my-local-model")
	require.True(t, ok)
	assert.True(t, c.Images)
	assert.Equal(t, 1024, c.MaxImageBytes)

	p, ok := table.Price("my-local-model")
	require.True(t, ok)
	assert.Equal(t, 0.5, p.InputPerMTok)

	// Override replaces the builtin entry.
	overridden, ok := table.Capability("gpt-4o")
	require.True(t, ok)
	assert.False(t, overridden.Images)

	// Untouched builtins survive.
	_, ok = table.Price("deepseek-chat")
	assert.True(t, ok)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/models.yaml")
	assert.Error(t, err)
}
