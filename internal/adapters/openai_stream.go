package adapters

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/modelrelay/modelrelay/internal/canonical"
)

// doneMarker is the OpenAI end-of-stream sentinel payload.
const doneMarker = "[DONE]"

// chatCompletionChunk is the wire shape of one Chat Completions stream
// event. Pointer fields distinguish absent from zero.
type chatCompletionChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAIStreamAccumulator rebuilds a Chat Completions response from stream
// chunks. Finality requires both the terminal condition and an observed
// usage chunk; a stream that ends without usage is treated as aborted.
// DeepSeek reuses this accumulator with its own finality mode.
type OpenAIStreamAccumulator struct {
	provider Provider
	state    *StreamState

	// finalAtDone selects the terminal condition: true means the [DONE]
	// marker ends the stream (OpenAI); false means the usage chunk after a
	// finish reason does (DeepSeek, which emits finish_reason first).
	finalAtDone bool

	// usageLastWins selects which occurrence is authoritative when usage
	// appears on more than one chunk.
	usageLastWins bool

	sawFinish bool
	final     bool
}

var _ StreamAccumulator = (*OpenAIStreamAccumulator)(nil)

// NewOpenAIStreamAccumulator creates an accumulator for one OpenAI stream.
func NewOpenAIStreamAccumulator() *OpenAIStreamAccumulator {
	return &OpenAIStreamAccumulator{
		provider:      ProviderOpenAI,
		state:         &StreamState{},
		finalAtDone:   true,
		usageLastWins: true,
	}
}

func (s *OpenAIStreamAccumulator) Provider() Provider { return s.provider }

// ProcessChunk folds one decoded payload into the state and returns the
// frames to forward (the chunk itself, re-framed). Malformed chunks are
// forwarded untouched so the relay never swallows provider bytes.
func (s *OpenAIStreamAccumulator) ProcessChunk(chunk []byte) ([][]byte, error) {
	s.state.observeFirstChunk()

	if string(chunk) == doneMarker {
		if s.finalAtDone {
			s.markFinal()
		}
		return [][]byte{sseFrame(chunk)}, nil
	}

	var ev chatCompletionChunk
	if err := json.Unmarshal(chunk, &ev); err != nil {
		log.Debug().Str("provider", string(s.provider)).Err(err).Msg("unparseable stream chunk, forwarding as-is")
		return [][]byte{sseFrame(chunk)}, nil
	}
	if ev.Error != nil {
		return [][]byte{sseFrame(chunk)}, fmt.Errorf("%s stream error: %s", s.provider, ev.Error.Message)
	}

	s.state.observeIdentity(ev.ID, ev.Model)

	for _, choice := range ev.Choices {
		if choice.Index != 0 {
			continue
		}
		s.state.Text += choice.Delta.Content
		s.state.Reasoning += choice.Delta.ReasoningContent
		if len(choice.Delta.ToolCalls) > 0 {
			s.state.recordRawToolEvent(chunk)
			for _, tc := range choice.Delta.ToolCalls {
				s.state.mergeToolDelta(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" && s.state.StopReason == "" {
			s.state.StopReason = *choice.FinishReason
			s.sawFinish = true
		}
	}

	if ev.Usage != nil {
		if s.state.Usage == nil || s.usageLastWins {
			s.state.Usage = &canonical.Usage{
				InputTokens:  ev.Usage.PromptTokens,
				OutputTokens: ev.Usage.CompletionTokens,
			}
		}
		if !s.finalAtDone && s.sawFinish {
			s.markFinal()
		}
	}

	return [][]byte{sseFrame(chunk)}, nil
}

func (s *OpenAIStreamAccumulator) markFinal() {
	if s.final || s.state.Usage == nil {
		return
	}
	s.final = true
}

func (s *OpenAIStreamAccumulator) IsFinal() bool { return s.final }

func (s *OpenAIStreamAccumulator) State() *StreamState { return s.state }

// StopReason is already canonical on this wire format.
func (s *OpenAIStreamAccumulator) StopReason() string { return s.state.StopReason }

// ProviderResponse synthesizes a chat.completion document from the
// accumulated state.
func (s *OpenAIStreamAccumulator) ProviderResponse() ([]byte, error) {
	message := map[string]any{
		"role":    canonical.RoleAssistant,
		"content": s.state.Text,
	}
	if s.state.Reasoning != "" {
		message["reasoning_content"] = s.state.Reasoning
	}
	if len(s.state.ToolCalls) > 0 {
		calls := make([]any, 0, len(s.state.ToolCalls))
		for _, tc := range s.state.ToolCalls {
			args := tc.Arguments
			if args == "" {
				args = "{}"
			}
			calls = append(calls, map[string]any{
				"id":   tc.ID,
				"type": "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": args,
				},
			})
		}
		message["tool_calls"] = calls
	}

	finishReason := s.state.StopReason
	if finishReason == "" {
		finishReason = canonical.StopEndTurn
	}

	resp := map[string]any{
		"id":      s.state.ResponseID,
		"object":  "chat.completion",
		"created": s.state.FirstChunkAt.Unix(),
		"model":   s.state.Model,
		"choices": []any{map[string]any{
			"index":         0,
			"message":       message,
			"finish_reason": finishReason,
		}},
	}
	if s.state.Usage != nil {
		resp["usage"] = map[string]any{
			"prompt_tokens":     s.state.Usage.InputTokens,
			"completion_tokens": s.state.Usage.OutputTokens,
			"total_tokens":      s.state.Usage.Total(),
		}
	}
	return json.Marshal(resp)
}

// synthChunk builds one chat.completion.chunk frame carrying the delta.
func (s *OpenAIStreamAccumulator) synthChunk(delta map[string]any, finishReason any) []byte {
	chunk := map[string]any{
		"id":      s.state.ResponseID,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   s.state.Model,
		"choices": []any{map[string]any{
			"index":         0,
			"delta":         delta,
			"finish_reason": finishReason,
		}},
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return nil
	}
	return sseFrame(data)
}

func (s *OpenAIStreamAccumulator) FormatTextDeltaSSE(text string) []byte {
	return s.synthChunk(map[string]any{"content": text}, nil)
}

func (s *OpenAIStreamAccumulator) FormatCompleteTextSSE(text string) []byte {
	delta := map[string]any{}
	if text != "" {
		delta["content"] = text
	}
	return s.synthChunk(delta, canonical.StopEndTurn)
}

func (s *OpenAIStreamAccumulator) FormatEndSSE() []byte {
	return sseFrame([]byte(doneMarker))
}
