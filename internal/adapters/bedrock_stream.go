package adapters

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/modelrelay/modelrelay/internal/canonical"
)

// converseEvent is the union of ConverseStream event bodies. The wire
// carries no envelope tag; events are told apart by which fields are set.
type converseEvent struct {
	// messageStart
	Role string `json:"role"`

	// contentBlockStart
	Start *struct {
		ToolUse *struct {
			ToolUseID string `json:"toolUseId"`
			Name      string `json:"name"`
		} `json:"toolUse"`
	} `json:"start"`

	// contentBlockDelta
	Delta *struct {
		Text    string `json:"text"`
		ToolUse *struct {
			Input string `json:"input"`
		} `json:"toolUse"`
	} `json:"delta"`

	ContentBlockIndex *int `json:"contentBlockIndex"`

	// messageStop
	StopReason string `json:"stopReason"`

	// metadata
	Usage *struct {
		InputTokens  int `json:"inputTokens"`
		OutputTokens int `json:"outputTokens"`
	} `json:"usage"`
}

// BedrockStreamAccumulator rebuilds a Converse response from ConverseStream
// events. stopReason arrives on messageStop but finality waits for the
// metadata event, which carries usage and is the true last event. Converse
// responses have no id, so one is synthesized for bookkeeping.
type BedrockStreamAccumulator struct {
	model string
	state *StreamState
	final bool
}

var _ StreamAccumulator = (*BedrockStreamAccumulator)(nil)

// NewBedrockStreamAccumulator creates an accumulator for one ConverseStream
// call. The model comes from the request, since events never echo it.
func NewBedrockStreamAccumulator(model string) *BedrockStreamAccumulator {
	return &BedrockStreamAccumulator{
		model: model,
		state: &StreamState{
			ResponseID: "bedrock-" + uuid.NewString(),
			Model:      model,
		},
	}
}

func (s *BedrockStreamAccumulator) Provider() Provider { return ProviderBedrock }

func (s *BedrockStreamAccumulator) ProcessChunk(chunk []byte) ([][]byte, error) {
	s.state.observeFirstChunk()

	var ev converseEvent
	if err := json.Unmarshal(chunk, &ev); err != nil {
		log.Debug().Str("provider", "bedrock").Err(err).Msg("unparseable stream event, forwarding as-is")
		return [][]byte{sseFrame(chunk)}, nil
	}

	switch {
	case ev.Start != nil:
		if ev.Start.ToolUse != nil && ev.ContentBlockIndex != nil {
			s.state.recordRawToolEvent(chunk)
			s.state.mergeToolDelta(*ev.ContentBlockIndex, ev.Start.ToolUse.ToolUseID, ev.Start.ToolUse.Name, "")
		}
	case ev.Delta != nil:
		s.state.Text += ev.Delta.Text
		if ev.Delta.ToolUse != nil && ev.ContentBlockIndex != nil {
			s.state.recordRawToolEvent(chunk)
			s.state.mergeToolDelta(*ev.ContentBlockIndex, "", "", ev.Delta.ToolUse.Input)
		}
	case ev.StopReason != "":
		if s.state.StopReason == "" {
			s.state.StopReason = ev.StopReason
		}
	case ev.Usage != nil:
		// metadata: first occurrence is authoritative.
		if s.state.Usage == nil {
			s.state.Usage = &canonical.Usage{
				InputTokens:  ev.Usage.InputTokens,
				OutputTokens: ev.Usage.OutputTokens,
			}
		}
		if !s.final {
			s.final = true
		}
	}

	return [][]byte{sseFrame(chunk)}, nil
}

func (s *BedrockStreamAccumulator) IsFinal() bool { return s.final }

func (s *BedrockStreamAccumulator) State() *StreamState { return s.state }

// StopReason maps the Converse stop reason onto the canonical stop values.
// Unmapped reasons pass through as-is.
func (s *BedrockStreamAccumulator) StopReason() string {
	if mapped, ok := bedrockStopReasons[s.state.StopReason]; ok {
		return mapped
	}
	return s.state.StopReason
}

// ProviderResponse synthesizes a complete Converse response document.
func (s *BedrockStreamAccumulator) ProviderResponse() ([]byte, error) {
	var content []any
	if s.state.Text != "" {
		content = append(content, map[string]any{"text": s.state.Text})
	}
	for _, tc := range s.state.ToolCalls {
		var input json.RawMessage = []byte("{}")
		if json.Valid([]byte(tc.Arguments)) && tc.Arguments != "" {
			input = json.RawMessage(tc.Arguments)
		}
		content = append(content, map[string]any{
			"toolUse": map[string]any{
				"toolUseId": tc.ID,
				"name":      tc.Name,
				"input":     input,
			},
		})
	}

	stopReason := s.state.StopReason
	if stopReason == "" {
		stopReason = "end_turn"
	}

	resp := map[string]any{
		"output": map[string]any{
			"message": map[string]any{
				"role":    canonical.RoleAssistant,
				"content": content,
			},
		},
		"stopReason": stopReason,
	}
	if s.state.Usage != nil {
		resp["usage"] = map[string]any{
			"inputTokens":  s.state.Usage.InputTokens,
			"outputTokens": s.state.Usage.OutputTokens,
			"totalTokens":  s.state.Usage.Total(),
		}
	}
	return json.Marshal(resp)
}

func (s *BedrockStreamAccumulator) FormatTextDeltaSSE(text string) []byte {
	data, err := json.Marshal(map[string]any{
		"contentBlockIndex": 0,
		"delta":             map[string]any{"text": text},
	})
	if err != nil {
		return nil
	}
	return sseFrame(data)
}

// FormatCompleteTextSSE emits the trailing delta (when text is non-empty)
// followed by a messageStop event, as two frames in one buffer.
func (s *BedrockStreamAccumulator) FormatCompleteTextSSE(text string) []byte {
	var out []byte
	if text != "" {
		out = append(out, s.FormatTextDeltaSSE(text)...)
	}
	stop, err := json.Marshal(map[string]any{"stopReason": "end_turn"})
	if err != nil {
		return out
	}
	return append(out, sseFrame(stop)...)
}

// FormatEndSSE returns nil: ConverseStream has no end-of-stream marker, the
// metadata event is simply last.
func (s *BedrockStreamAccumulator) FormatEndSSE() []byte {
	return nil
}
