package adapters

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/internal/models"
)

func testRegistry() *Registry {
	return NewRegistry(models.Default(), testCompressor())
}

func TestRegistry_BuiltinProviders(t *testing.T) {
	r := testRegistry()

	for _, p := range []Provider{ProviderOpenAI, ProviderDeepSeek, ProviderBedrock} {
		def, err := r.Get(p)
		require.NoError(t, err)
		assert.Equal(t, p, def.Name)
	}
	assert.Len(t, r.Providers(), 3)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	_, err := testRegistry().Get("anthropic")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "anthropic"`)
}

func TestRegistry_AdaptersCarryProvider(t *testing.T) {
	r := testRegistry()
	body := []byte(`{"model":"gpt-4o","messages":[]}`)

	for _, p := range []Provider{ProviderOpenAI, ProviderDeepSeek} {
		def, err := r.Get(p)
		require.NoError(t, err)
		assert.Equal(t, p, def.NewRequestAdapter(body, RequestOptions{}).Provider())
		assert.Equal(t, p, def.NewResponseAdapter(nil).Provider())
		assert.Equal(t, p, def.NewStreamAccumulator("gpt-4o").Provider())
	}

	def, err := r.Get(ProviderBedrock)
	require.NoError(t, err)
	assert.Equal(t, ProviderBedrock, def.NewStreamAccumulator("amazon.nova-pro-v1:0").Provider())
}

func TestRegistry_DefinitionsCarryEndpointAndErrorExtraction(t *testing.T) {
	r := testRegistry()

	for _, p := range []Provider{ProviderOpenAI, ProviderDeepSeek} {
		def, err := r.Get(p)
		require.NoError(t, err)

		endpoint, _, err := def.Endpoint(def.BaseURL, []byte(`{"model":"gpt-4o"}`), false)
		require.NoError(t, err)
		assert.Contains(t, endpoint, "/chat/completions")
		assert.Equal(t, "bad key", def.ExtractErrorMessage([]byte(`{"error":{"message":"bad key"}}`)))
	}

	def, err := r.Get(ProviderBedrock)
	require.NoError(t, err)
	endpoint, _, err := def.Endpoint("https://bedrock-runtime.us-east-1.amazonaws.com",
		[]byte(`{"modelId":"amazon.nova-pro-v1:0"}`), true)
	require.NoError(t, err)
	assert.Contains(t, endpoint, "/model/amazon.nova-pro-v1:0/converse-stream")
	assert.Equal(t, "ThrottlingException: slow down",
		def.ExtractErrorMessage([]byte(`{"__type":"ThrottlingException","message":"slow down"}`)))
}

func TestExtractAPIKey(t *testing.T) {
	r := testRegistry()

	h := http.Header{}
	h.Set("Authorization", "Bearer sk-test-123")

	openai, err := r.Get(ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", openai.ExtractAPIKey(h))
	assert.Equal(t, "", openai.ExtractAPIKey(http.Header{}))

	bedrock, err := r.Get(ProviderBedrock)
	require.NoError(t, err)
	assert.Equal(t, "", bedrock.ExtractAPIKey(h))
}
