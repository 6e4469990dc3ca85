package adapters

import (
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/transform"
)

// DeepSeek speaks the Chat Completions wire format, so its adapters reuse
// the OpenAI implementations with three differences: the API root, the
// stream finality mode (the usage chunk follows the finish-reason chunk and
// ends the stream, there is a trailing [DONE] but finality doesn't wait for
// it), and reasoning_content deltas from the reasoner models, which the
// shared accumulator already collects.

// DeepSeekBaseURL is the default API root for DeepSeek.
const DeepSeekBaseURL = "https://api.deepseek.com"

// NewDeepSeekRequestAdapter wraps an inbound DeepSeek request.
func NewDeepSeekRequestAdapter(body []byte, opts RequestOptions, table *models.Table, compressor *transform.Compressor) *OpenAIRequestAdapter {
	return newCompatRequestAdapter(ProviderDeepSeek, body, opts, table, compressor)
}

// NewDeepSeekResponseAdapter wraps a raw DeepSeek response body.
func NewDeepSeekResponseAdapter(body []byte) *OpenAIResponseAdapter {
	return &OpenAIResponseAdapter{provider: ProviderDeepSeek, body: body}
}

// NewDeepSeekStreamAccumulator creates an accumulator for one DeepSeek
// stream. The usage chunk, arriving after finish_reason, is terminal.
func NewDeepSeekStreamAccumulator() *OpenAIStreamAccumulator {
	return &OpenAIStreamAccumulator{
		provider:      ProviderDeepSeek,
		state:         &StreamState{},
		finalAtDone:   false,
		usageLastWins: true,
	}
}
