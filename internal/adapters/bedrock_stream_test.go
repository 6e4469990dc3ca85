package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestBedrockStream_TextAccumulation(t *testing.T) {
	acc := NewBedrockStreamAccumulator("anthropic.claude-3-5-sonnet-20241022-v2:0")

	feed(t, acc,
		`{"role":"assistant"}`,
		`{"contentBlockIndex":0,"delta":{"text":"Hello"}}`,
		`{"contentBlockIndex":0,"delta":{"text":" there"}}`,
		`{"contentBlockIndex":0}`,
		`{"stopReason":"end_turn"}`,
	)

	state := acc.State()
	assert.Equal(t, "Hello there", state.Text)
	assert.Equal(t, "end_turn", state.StopReason)
	assert.NotEmpty(t, state.ResponseID)
	// stopReason alone is not terminal; metadata hasn't arrived.
	assert.False(t, acc.IsFinal())
}

func TestBedrockStream_FinalAtMetadata(t *testing.T) {
	acc := NewBedrockStreamAccumulator("amazon.nova-pro-v1:0")

	feed(t, acc,
		`{"role":"assistant"}`,
		`{"contentBlockIndex":0,"delta":{"text":"ok"}}`,
		`{"stopReason":"end_turn"}`,
	)
	assert.False(t, acc.IsFinal())

	feed(t, acc, `{"usage":{"inputTokens":9,"outputTokens":2},"metrics":{"latencyMs":120}}`)
	assert.True(t, acc.IsFinal())
	assert.Equal(t, 9, acc.State().Usage.InputTokens)
	assert.Equal(t, 2, acc.State().Usage.OutputTokens)
}

func TestBedrockStream_ToolUseFragments(t *testing.T) {
	acc := NewBedrockStreamAccumulator("anthropic.claude-3-5-sonnet-20241022-v2:0")

	feed(t, acc,
		`{"contentBlockIndex":1,"start":{"toolUse":{"toolUseId":"tool_9","name":"lookup"}}}`,
		`{"contentBlockIndex":1,"delta":{"toolUse":{"input":"{\"city\":"}}}`,
		`{"contentBlockIndex":1,"delta":{"toolUse":{"input":"\"Lyon\"}"}}}`,
		`{"contentBlockIndex":1}`,
		`{"stopReason":"tool_use"}`,
		`{"usage":{"inputTokens":20,"outputTokens":8}}`,
	)

	require.True(t, acc.IsFinal())
	state := acc.State()
	require.Len(t, state.ToolCalls, 1)
	assert.Equal(t, "tool_9", state.ToolCalls[0].ID)
	assert.Equal(t, "lookup", state.ToolCalls[0].Name)
	assert.Equal(t, `{"city":"Lyon"}`, state.ToolCalls[0].Arguments)
	assert.Len(t, state.RawToolEvents, 3)
}

func TestBedrockStream_StopReasonNormalized(t *testing.T) {
	cases := map[string]string{
		"end_turn":         "stop",
		"stop_sequence":    "stop",
		"tool_use":         "tool_calls",
		"max_tokens":       "length",
		"content_filtered": "content_filter",
		"guardrail_weird":  "guardrail_weird",
	}
	for native, want := range cases {
		acc := NewBedrockStreamAccumulator("amazon.nova-pro-v1:0")
		feed(t, acc, `{"stopReason":"`+native+`"}`)

		assert.Equal(t, want, acc.StopReason(), "stopReason %q", native)
		// Wire replay keeps the native string.
		assert.Equal(t, native, acc.State().StopReason)
	}
}

func TestBedrockStream_FirstUsageWins(t *testing.T) {
	acc := NewBedrockStreamAccumulator("amazon.nova-pro-v1:0")

	feed(t, acc,
		`{"stopReason":"end_turn"}`,
		`{"usage":{"inputTokens":3,"outputTokens":1}}`,
		`{"usage":{"inputTokens":99,"outputTokens":99}}`,
	)

	assert.Equal(t, 3, acc.State().Usage.InputTokens)
	assert.True(t, acc.IsFinal())
}

func TestBedrockStream_ProviderResponse(t *testing.T) {
	acc := NewBedrockStreamAccumulator("anthropic.claude-3-5-sonnet-20241022-v2:0")

	feed(t, acc,
		`{"role":"assistant"}`,
		`{"contentBlockIndex":0,"delta":{"text":"Using the tool."}}`,
		`{"contentBlockIndex":1,"start":{"toolUse":{"toolUseId":"tool_9","name":"lookup"}}}`,
		`{"contentBlockIndex":1,"delta":{"toolUse":{"input":"{\"q\":1}"}}}`,
		`{"stopReason":"tool_use"}`,
		`{"usage":{"inputTokens":5,"outputTokens":5}}`,
	)
	require.True(t, acc.IsFinal())

	resp, err := acc.ProviderResponse()
	require.NoError(t, err)

	assert.Equal(t, "Using the tool.", gjson.GetBytes(resp, "output.message.content.0.text").String())
	tu := gjson.GetBytes(resp, "output.message.content.1.toolUse")
	assert.Equal(t, "tool_9", tu.Get("toolUseId").String())
	assert.JSONEq(t, `{"q":1}`, tu.Get("input").Raw)
	assert.Equal(t, "tool_use", gjson.GetBytes(resp, "stopReason").String())
	assert.Equal(t, int64(10), gjson.GetBytes(resp, "usage.totalTokens").Int())
}

func TestBedrockStream_SynthFrames(t *testing.T) {
	acc := NewBedrockStreamAccumulator("amazon.nova-pro-v1:0")

	payload := sseFramePayload(t, acc.FormatTextDeltaSSE("hi"))
	assert.Equal(t, "hi", gjson.Get(payload, "delta.text").String())

	// Terminal synthesis carries the trailing delta plus messageStop.
	frames := string(acc.FormatCompleteTextSSE("bye"))
	assert.Contains(t, frames, `"text":"bye"`)
	assert.Contains(t, frames, `"stopReason":"end_turn"`)

	// ConverseStream has no end marker.
	assert.Nil(t, acc.FormatEndSSE())
}
