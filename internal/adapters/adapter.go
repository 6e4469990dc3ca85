// Package adapters normalizes provider-specific request, response, and
// stream handling behind one contract.
//
// DESIGN: The relay supports multiple LLM providers (OpenAI, DeepSeek,
// Bedrock). Each has its own request shape, response shape, streaming chunk
// envelope, and tool-call encoding. Every provider contributes the same four
// pieces, reached only through the Registry:
//
//   - RequestAdapter:    inspect + mutate an inbound native request
//   - ResponseAdapter:   read a non-streaming native response
//   - StreamAccumulator: rebuild a logical response from stream chunks
//   - Client:            issue the native HTTP call (Execute/ExecuteStream)
//
// FLOW:
//  1. Caller resolves a provider name against the Registry
//  2. RequestAdapter applies tool-result updates, image policy, and TOON
//     compression, then materializes the native request
//  3. Client executes; ResponseAdapter or StreamAccumulator normalizes
//  4. For streams, the accumulator synthesizes a complete native response
//     at finality so downstream bookkeeping has one code path
//
// To add a provider: implement the four pieces and register a Definition.
// No other component contains provider-name conditionals.
package adapters

import (
	"github.com/modelrelay/modelrelay/internal/canonical"
	"github.com/modelrelay/modelrelay/internal/transform"
)

// Provider identifies a supported upstream.
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderDeepSeek Provider = "deepseek"
	ProviderBedrock  Provider = "bedrock"
)

// RequestOptions carries request facts the native body itself cannot:
// Bedrock selects streaming by endpoint rather than a body field.
type RequestOptions struct {
	Streaming bool

	// AutoCompress runs the TOON pass at materialization when the caller
	// hasn't triggered it explicitly. Materialization stays idempotent:
	// the pass runs at most once per adapter.
	AutoCompress bool
}

// ToolDefinition is the read-side view of one tool the request exposes.
type ToolDefinition struct {
	Name        string
	Description string
}

// RequestAdapter wraps one inbound native request. It is a builder: reads
// are served from the current mutation set, and ProviderRequest() is the
// single materialization point, so a partially-applied body is never sent.
// Instances are bound to one request and are not safe for concurrent use.
type RequestAdapter interface {
	Provider() Provider

	// Model returns the effective target model (override wins).
	Model() string
	// SetModel overrides the target model, e.g. for routing fallback.
	SetModel(model string)

	// IsStreaming reports whether the caller requested a streaming call.
	IsStreaming() bool

	// Messages projects the conversation into the canonical model for
	// read-side inspection. Tool-result messages get their tool name
	// resolved by scanning backward to the matching assistant tool call;
	// unresolvable names become canonical.UnknownToolName.
	Messages() []canonical.Message

	// ToolResults extracts the tool-result payloads with pending updates
	// applied, in message order.
	ToolResults() []transform.ToolResult
	// Tools lists the tool definitions the request exposes.
	Tools() []ToolDefinition
	HasTools() bool

	// UpdateToolResult records an in-place content substitution for the
	// tool result correlated with toolCallID.
	UpdateToolResult(toolCallID, content string)
	// ApplyToolResultUpdates records a batch of substitutions.
	ApplyToolResultUpdates(updates map[string]string)

	// ApplyToonCompression runs the token-aware compression pass against
	// the given target model and records the winning replacements as
	// updates. Stats are computed once per request; repeated calls return
	// the first result.
	ApplyToonCompression(model string) (*transform.CompressionStats, error)

	// CompressionStats returns the stats from the compression pass, or
	// nil if it hasn't run.
	CompressionStats() *transform.CompressionStats

	// ProviderRequest materializes the native request: replays recorded
	// updates and the model override onto the original body, applies the
	// image policy, then (when the adapter was built with auto-compression)
	// the TOON pass. Idempotent: calling it again without new mutations
	// returns identical bytes and never re-compresses.
	ProviderRequest() ([]byte, error)
}

// ResponseAdapter reads one non-streaming native response.
type ResponseAdapter interface {
	Provider() Provider

	// Text returns the assistant text content.
	Text() string
	// ToolCalls returns the assistant tool calls. Argument payloads that
	// fail to parse as JSON degrade to an empty object instead of failing
	// the response.
	ToolCalls() []canonical.ToolCall
	HasToolCalls() bool
	// Usage returns the normalized token accounting.
	Usage() canonical.Usage

	// RefusalResponse rewrites a refused response in place: refusal
	// markers are cleared and the content is replaced with contentMessage,
	// preserving the provider shape so upstream masking policies need no
	// per-provider knowledge.
	RefusalResponse(refusalMessage, contentMessage string) ([]byte, error)
}

// StreamAccumulator rebuilds a logical response from provider-native stream
// chunks. One instance per in-flight stream; chunks must be fed in arrival
// order by a single goroutine. If the stream aborts before finality the
// instance is simply discarded; partial state is never returned as if
// complete.
type StreamAccumulator interface {
	Provider() Provider

	// ProcessChunk ingests one decoded chunk payload and returns zero or
	// more outbound wire frames to forward.
	ProcessChunk(chunk []byte) ([][]byte, error)

	// IsFinal reports whether the stream is known complete. It becomes
	// true exactly once, and only after usage has been observed.
	IsFinal() bool

	// State exposes the accumulated state for inspection and bookkeeping.
	State() *StreamState

	// StopReason returns the finish reason normalized to the canonical
	// stop values, or "" until one arrives. State().StopReason keeps the
	// provider-native string for wire replay.
	StopReason() string

	// ProviderResponse synthesizes a complete non-streaming native
	// response from the accumulated state.
	ProviderResponse() ([]byte, error)

	// FormatTextDeltaSSE builds a provider-envelope frame carrying one
	// synthesized text delta (for replaying buffered or rewritten text as
	// if it streamed).
	FormatTextDeltaSSE(text string) []byte
	// FormatCompleteTextSSE builds the synthesized terminal chunk.
	FormatCompleteTextSSE(text string) []byte
	// FormatEndSSE builds the provider's end-of-stream marker, if it has
	// one.
	FormatEndSSE() []byte
}
