package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/modelrelay/modelrelay/internal/canonical"
)

func feed(t *testing.T, acc StreamAccumulator, chunks ...string) {
	t.Helper()
	for _, c := range chunks {
		_, err := acc.ProcessChunk([]byte(c))
		require.NoError(t, err)
	}
}

func TestOpenAIStream_AccumulatesText(t *testing.T) {
	acc := NewOpenAIStreamAccumulator()

	feed(t, acc,
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	)

	state := acc.State()
	assert.Equal(t, "Hello", state.Text)
	assert.Equal(t, "chatcmpl-1", state.ResponseID)
	assert.Equal(t, "gpt-4o", state.Model)
	assert.Equal(t, "stop", state.StopReason)
	assert.Equal(t, "stop", acc.StopReason())
	assert.False(t, acc.IsFinal())
}

func TestOpenAIStream_ToolCallFragments(t *testing.T) {
	acc := NewOpenAIStreamAccumulator()

	// The id and name arrive only on the first fragment; arguments build
	// up across three chunks.
	feed(t, acc,
		`{"id":"c","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"get_x","arguments":""}}]}}]}`,
		`{"id":"c","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"x\":"}}]}}]}`,
		`{"id":"c","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]}}]}`,
	)

	state := acc.State()
	require.Len(t, state.ToolCalls, 1)
	assert.Equal(t, "call_a", state.ToolCalls[0].ID)
	assert.Equal(t, "get_x", state.ToolCalls[0].Name)
	assert.Equal(t, `{"x":1}`, state.ToolCalls[0].Arguments)
	assert.Len(t, state.RawToolEvents, 3)
}

func TestOpenAIStream_FragmentBoundaryIndependence(t *testing.T) {
	full := `{"query":"weather in Paris","units":"metric"}`

	splitAt := func(points ...int) []string {
		var chunks []string
		prev := 0
		for _, p := range append(points, len(full)) {
			frag := full[prev:p]
			prev = p
			chunks = append(chunks,
				`{"id":"c","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"w","arguments":`+string(mustJSON(frag))+`}}]}}]}`)
		}
		return chunks
	}

	for _, points := range [][]int{{5}, {1, 2, 3}, {10, 20, 30, 40}, {}} {
		acc := NewOpenAIStreamAccumulator()
		feed(t, acc, splitAt(points...)...)
		require.Len(t, acc.State().ToolCalls, 1)
		assert.Equal(t, full, acc.State().ToolCalls[0].Arguments)
	}
}

func TestOpenAIStream_InterleavedToolCallIndexes(t *testing.T) {
	acc := NewOpenAIStreamAccumulator()

	feed(t, acc,
		`{"id":"c","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"second","arguments":"{}"}}]}}]}`,
		`{"id":"c","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"first","arguments":"{}"}}]}}]}`,
	)

	state := acc.State()
	require.Len(t, state.ToolCalls, 2)
	// Slots are ordered by provider index, not arrival.
	assert.Equal(t, "call_a", state.ToolCalls[0].ID)
	assert.Equal(t, "call_b", state.ToolCalls[1].ID)
}

func TestOpenAIStream_FinalOnlyAfterUsage(t *testing.T) {
	acc := NewOpenAIStreamAccumulator()

	feed(t, acc,
		`{"id":"c","choices":[{"index":0,"delta":{"content":"hi"}}]}`,
		`{"id":"c","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	)
	assert.False(t, acc.IsFinal())

	// [DONE] without usage: the stream is treated as aborted.
	feed(t, acc, `[DONE]`)
	assert.False(t, acc.IsFinal())
}

func TestOpenAIStream_FinalAtDoneWithUsage(t *testing.T) {
	acc := NewOpenAIStreamAccumulator()

	feed(t, acc,
		`{"id":"c","choices":[{"index":0,"delta":{"content":"hi"}}]}`,
		`{"id":"c","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"c","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5}}`,
	)
	assert.False(t, acc.IsFinal())

	feed(t, acc, `[DONE]`)
	assert.True(t, acc.IsFinal())
	assert.Equal(t, &canonical.Usage{InputTokens: 10, OutputTokens: 5}, acc.State().Usage)
}

func TestOpenAIStream_UsageLastWins(t *testing.T) {
	acc := NewOpenAIStreamAccumulator()

	feed(t, acc,
		`{"id":"c","choices":[],"usage":{"prompt_tokens":1,"completion_tokens":1}}`,
		`{"id":"c","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5}}`,
	)

	assert.Equal(t, 10, acc.State().Usage.InputTokens)
	assert.Equal(t, 5, acc.State().Usage.OutputTokens)
}

func TestOpenAIStream_ForwardsChunksVerbatim(t *testing.T) {
	acc := NewOpenAIStreamAccumulator()
	chunk := `{"id":"c","choices":[{"index":0,"delta":{"content":"hi"}}]}`

	frames, err := acc.ProcessChunk([]byte(chunk))

	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "data: "+chunk+"\n\n", string(frames[0]))
}

func TestOpenAIStream_ProviderResponse(t *testing.T) {
	acc := NewOpenAIStreamAccumulator()

	feed(t, acc,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"done"}}]}`,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"f","arguments":"{\"k\":1}"}}]}}]}`,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"chatcmpl-1","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3}}`,
		`[DONE]`,
	)
	require.True(t, acc.IsFinal())

	resp, err := acc.ProviderResponse()
	require.NoError(t, err)

	assert.Equal(t, "chat.completion", gjson.GetBytes(resp, "object").String())
	assert.Equal(t, "done", gjson.GetBytes(resp, "choices.0.message.content").String())
	assert.Equal(t, "tool_calls", gjson.GetBytes(resp, "choices.0.finish_reason").String())
	assert.Equal(t, "f", gjson.GetBytes(resp, "choices.0.message.tool_calls.0.function.name").String())
	assert.Equal(t, int64(7), gjson.GetBytes(resp, "usage.prompt_tokens").Int())
	assert.Equal(t, int64(10), gjson.GetBytes(resp, "usage.total_tokens").Int())
}

func TestOpenAIStream_SynthFrames(t *testing.T) {
	acc := NewOpenAIStreamAccumulator()
	feed(t, acc, `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"x"}}]}`)

	delta := acc.FormatTextDeltaSSE("hello")
	payload := sseFramePayload(t, delta)
	assert.Equal(t, "chat.completion.chunk", gjson.Get(payload, "object").String())
	assert.Equal(t, "hello", gjson.Get(payload, "choices.0.delta.content").String())

	end := acc.FormatCompleteTextSSE("")
	payload = sseFramePayload(t, end)
	assert.Equal(t, "stop", gjson.Get(payload, "choices.0.finish_reason").String())

	assert.Equal(t, "data: [DONE]\n\n", string(acc.FormatEndSSE()))
}
