// Package canonical defines the provider-agnostic message model.
//
// DESIGN: Every provider wire format (OpenAI Chat Completions, DeepSeek,
// Bedrock Converse) is projected into these types for read-side inspection
// only: tool-name resolution, policy checks, logging. The native request
// body is never rebuilt from this model; adapters patch the original bytes
// in place and re-emit them, so provider-specific fields survive untouched.
package canonical

// Message roles. These match the OpenAI wire values; adapters for other
// providers translate into them (Bedrock tool results arrive inside user
// messages and are projected as RoleTool).
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// UnknownToolName is the sentinel used when a tool-result message references
// a tool-call id with no matching prior assistant tool call. Tool-result
// messages carry only the correlating id in every supported wire format, so
// resolution can genuinely fail; it must not fail the request.
const UnknownToolName = "unknown"

// Stop reasons, normalized. Adapters map provider values onto these for
// inspection; the native value is preserved on the wire.
const (
	StopEndTurn   = "stop"
	StopToolUse   = "tool_calls"
	StopMaxTokens = "length"
	StopFiltered  = "content_filter"
)

// Message is one conversation turn, projected from a native message.
// Immutable once constructed.
type Message struct {
	Role      string
	Content   string
	ToolCalls []ToolCall
}

// ToolCall is either an assistant-issued tool invocation (Arguments set) or
// a tool result (Content/IsError set). ID correlates the two; uniqueness is
// scoped to one request/response exchange.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON string on an assistant-issued call
	Content   string // result payload on a tool-result message
	IsError   bool
}

// IsResult reports whether the call carries a tool result rather than an
// assistant-issued invocation.
func (tc ToolCall) IsResult() bool {
	return tc.Arguments == ""
}

// Usage is the normalized token accounting shape, the only usage view
// exposed outside the adapter layer.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}
