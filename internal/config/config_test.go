package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromBytes(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")

	cfg, err := LoadFromBytes([]byte(`
server:
  host: 0.0.0.0
  port: 9090
providers:
  openai:
    enabled: true
    api_key: ${TEST_OPENAI_KEY}
    timeout: 90s
  deepseek:
    enabled: false
compression:
  enabled: false
logging:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sk-from-env", cfg.Providers["openai"].APIKey)
	assert.Equal(t, 90*time.Second, cfg.Providers["openai"].Timeout)
	assert.False(t, cfg.Providers["deepseek"].Enabled)
	assert.False(t, cfg.Compression.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromBytes_EnvDefault(t *testing.T) {
	t.Setenv("UNSET_REGION", "")

	cfg, err := LoadFromBytes([]byte(`
providers:
  openai:
    enabled: false
  deepseek:
    enabled: false
  bedrock:
    enabled: true
    region: ${UNSET_REGION:-eu-west-1}
`))
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.Providers["bedrock"].Region)
}

func TestValidate_RequiresAPIKey(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
providers:
  openai:
    enabled: true
    api_key: ""
  deepseek:
    enabled: false
`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "without api_key")
}

func TestValidate_RejectsUnknownProvider(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["mystery"] = ProviderConfig{Enabled: true}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "mystery"`)
}

func TestValidate_RequiresEnabledProvider(t *testing.T) {
	cfg := Defaults()
	for name, p := range cfg.Providers {
		p.Enabled = false
		cfg.Providers[name] = p
	}

	assert.ErrorContains(t, cfg.Validate(), "no providers enabled")
}

func TestValidate_PortRange(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["openai"] = ProviderConfig{Enabled: true, APIKey: "sk-x"}
	cfg.Server.Port = 0

	assert.ErrorContains(t, cfg.Validate(), "invalid server port")
}
