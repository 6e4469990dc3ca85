// Registry manages provider registration and lookup.
//
// DESIGN: Thread-safe map of provider name → Definition. Built-in providers
// (OpenAI, DeepSeek, Bedrock) are registered at startup; a Definition
// bundles the constructors for the four per-provider pieces plus the
// endpoint and error extraction functions, so no other component needs
// provider-name conditionals.
package adapters

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/transform"
)

// Definition bundles everything the relay needs to speak one provider.
type Definition struct {
	Name Provider

	// BaseURL is the default API root; ClientOptions.BaseURL overrides it.
	BaseURL string

	NewRequestAdapter    func(body []byte, opts RequestOptions) RequestAdapter
	NewResponseAdapter   func(body []byte) ResponseAdapter
	NewStreamAccumulator func(model string) StreamAccumulator

	// NewClient builds the HTTP client for this provider. apiKey is
	// ignored by providers that sign requests instead.
	NewClient func(apiKey string, opts ClientOptions) (*Client, error)

	// ExtractAPIKey pulls the caller's upstream credential out of the
	// inbound request headers.
	ExtractAPIKey func(h http.Header) string

	// Endpoint resolves the request URL and final body for this provider.
	// NewClient installs it on the clients it builds.
	Endpoint EndpointFunc

	// ExtractErrorMessage normalizes this provider's error body into a
	// human-readable string.
	ExtractErrorMessage ErrorMessageFunc
}

// Registry is the lookup table of registered providers.
type Registry struct {
	defs map[Provider]*Definition
	mu   sync.RWMutex
}

// NewRegistry creates a registry with all built-in providers, sharing one
// capability table and compressor across them.
func NewRegistry(table *models.Table, compressor *transform.Compressor) *Registry {
	r := &Registry{defs: make(map[Provider]*Definition)}

	r.Register(&Definition{
		Name:    ProviderOpenAI,
		BaseURL: OpenAIBaseURL,
		NewRequestAdapter: func(body []byte, opts RequestOptions) RequestAdapter {
			return NewOpenAIRequestAdapter(body, opts, table, compressor)
		},
		NewResponseAdapter: func(body []byte) ResponseAdapter {
			return NewOpenAIResponseAdapter(body)
		},
		NewStreamAccumulator: func(string) StreamAccumulator {
			return NewOpenAIStreamAccumulator()
		},
		NewClient: func(apiKey string, opts ClientOptions) (*Client, error) {
			return NewClient(ProviderOpenAI, apiKey, OpenAIBaseURL, opts), nil
		},
		ExtractAPIKey:       bearerToken,
		Endpoint:            ChatCompletionsEndpoint,
		ExtractErrorMessage: OpenAIErrorMessage,
	})

	r.Register(&Definition{
		Name:    ProviderDeepSeek,
		BaseURL: DeepSeekBaseURL,
		NewRequestAdapter: func(body []byte, opts RequestOptions) RequestAdapter {
			return NewDeepSeekRequestAdapter(body, opts, table, compressor)
		},
		NewResponseAdapter: func(body []byte) ResponseAdapter {
			return NewDeepSeekResponseAdapter(body)
		},
		NewStreamAccumulator: func(string) StreamAccumulator {
			return NewDeepSeekStreamAccumulator()
		},
		NewClient: func(apiKey string, opts ClientOptions) (*Client, error) {
			return NewClient(ProviderDeepSeek, apiKey, DeepSeekBaseURL, opts), nil
		},
		ExtractAPIKey:       bearerToken,
		Endpoint:            ChatCompletionsEndpoint,
		ExtractErrorMessage: OpenAIErrorMessage,
	})

	r.Register(&Definition{
		Name: ProviderBedrock,
		NewRequestAdapter: func(body []byte, opts RequestOptions) RequestAdapter {
			return NewBedrockRequestAdapter(body, opts, table, compressor)
		},
		NewResponseAdapter: func(body []byte) ResponseAdapter {
			return NewBedrockResponseAdapter(body)
		},
		NewStreamAccumulator: func(model string) StreamAccumulator {
			return NewBedrockStreamAccumulator(model)
		},
		NewClient: func(_ string, opts ClientOptions) (*Client, error) {
			return NewBedrockClient(opts)
		},
		// SigV4 signing; no inbound credential to forward.
		ExtractAPIKey:       func(http.Header) string { return "" },
		Endpoint:            ConverseEndpoint,
		ExtractErrorMessage: BedrockErrorMessage,
	})

	return r
}

// Register adds a provider definition to the registry.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
}

// Get returns a provider definition, or an error naming the unknowns.
func (r *Registry) Get(name Provider) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (have: %s)", name, r.namesLocked())
	}
	return def, nil
}

// Providers lists the registered provider names.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.defs))
	for name := range r.defs {
		out = append(out, name)
	}
	return out
}

func (r *Registry) namesLocked() string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, string(name))
	}
	return strings.Join(names, ", ")
}

// bearerToken extracts an Authorization: Bearer credential.
func bearerToken(h http.Header) string {
	auth := h.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
