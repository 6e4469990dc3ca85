package adapters

import (
	"encoding/json"
	"time"

	"github.com/modelrelay/modelrelay/internal/canonical"
)

// StreamToolCall is one tool call under reconstruction. Arguments is
// append-only: fragments are concatenated in arrival order and never parsed
// until the stream ends. ID and Name, once set, are never cleared.
type StreamToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// StreamState is the accumulated view of one in-flight stream. Created at
// stream start, mutated only by the single goroutine feeding the
// accumulator, discarded when the stream ends. Never shared across requests.
type StreamState struct {
	ResponseID string
	Model      string

	// Text grows monotonically from text deltas.
	Text string
	// Reasoning collects reasoning deltas for models that emit them
	// (DeepSeek reasoner); kept separate so Text stays the visible answer.
	Reasoning string

	// ToolCalls are keyed by the provider-assigned chunk index, which may
	// arrive before the id or name are known. Once an index is observed
	// its slot only grows.
	ToolCalls []StreamToolCall

	// Usage stays nil until the provider emits it, for some providers
	// only on the terminal chunk.
	Usage *canonical.Usage

	// StopReason is the provider-native finish reason, latched on first
	// occurrence.
	StopReason string

	// FirstChunkAt is recorded when the first chunk arrives.
	FirstChunkAt time.Time

	// RawToolEvents records tool-call chunks verbatim so a caller needing
	// the original encoding can replay them bit-exact.
	RawToolEvents []json.RawMessage
}

// toolCall returns the slot for a provider-assigned index, allocating it on
// first sight. Slots are kept ordered by index.
func (s *StreamState) toolCall(index int) *StreamToolCall {
	for i := range s.ToolCalls {
		if s.ToolCalls[i].Index == index {
			return &s.ToolCalls[i]
		}
	}
	s.ToolCalls = append(s.ToolCalls, StreamToolCall{Index: index})
	// Keep arrival-independent ordering by index.
	for i := len(s.ToolCalls) - 1; i > 0 && s.ToolCalls[i].Index < s.ToolCalls[i-1].Index; i-- {
		s.ToolCalls[i], s.ToolCalls[i-1] = s.ToolCalls[i-1], s.ToolCalls[i]
	}
	return s.toolCall(index)
}

// mergeToolDelta folds one tool-call delta into the slot for index.
func (s *StreamState) mergeToolDelta(index int, id, name, argsFragment string) {
	tc := s.toolCall(index)
	if tc.ID == "" && id != "" {
		tc.ID = id
	}
	if tc.Name == "" && name != "" {
		tc.Name = name
	}
	tc.Arguments += argsFragment
}

// observeFirstChunk records the arrival time of the first chunk.
func (s *StreamState) observeFirstChunk() {
	if s.FirstChunkAt.IsZero() {
		s.FirstChunkAt = time.Now()
	}
}

// observeIdentity records response id and model. First-seen wins, which is
// idempotent for protocols that echo them on every chunk.
func (s *StreamState) observeIdentity(id, model string) {
	if s.ResponseID == "" && id != "" {
		s.ResponseID = id
	}
	if s.Model == "" && model != "" {
		s.Model = model
	}
}

// recordRawToolEvent stores a verbatim copy of a tool-call chunk.
func (s *StreamState) recordRawToolEvent(chunk []byte) {
	s.RawToolEvents = append(s.RawToolEvents, json.RawMessage(append([]byte(nil), chunk...)))
}
