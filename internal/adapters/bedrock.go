package adapters

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/modelrelay/modelrelay/internal/canonical"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/transform"
)

// Bedrock stop reasons, normalized for inspection.
var bedrockStopReasons = map[string]string{
	"end_turn":         canonical.StopEndTurn,
	"tool_use":         canonical.StopToolUse,
	"max_tokens":       canonical.StopMaxTokens,
	"content_filtered": canonical.StopFiltered,
	"stop_sequence":    canonical.StopEndTurn,
}

// =============================================================================
// REQUEST ADAPTER
// =============================================================================

// BedrockRequestAdapter wraps a Converse API request. The model lives in the
// modelId body field until the client lifts it into the URL path; streaming
// is an endpoint property, so it comes from RequestOptions rather than the
// body. Tool results arrive as toolResult blocks inside user messages.
type BedrockRequestAdapter struct {
	original   []byte
	opts       RequestOptions
	table      *models.Table
	compressor *transform.Compressor

	modelOverride string
	updates       map[string]string
	stats         *transform.CompressionStats

	cached []byte
}

var _ RequestAdapter = (*BedrockRequestAdapter)(nil)

// NewBedrockRequestAdapter wraps an inbound Converse body.
func NewBedrockRequestAdapter(body []byte, opts RequestOptions, table *models.Table, compressor *transform.Compressor) *BedrockRequestAdapter {
	return &BedrockRequestAdapter{
		original:   append([]byte(nil), body...),
		opts:       opts,
		table:      table,
		compressor: compressor,
		updates:    make(map[string]string),
	}
}

func (a *BedrockRequestAdapter) Provider() Provider { return ProviderBedrock }

func (a *BedrockRequestAdapter) Model() string {
	if a.modelOverride != "" {
		return a.modelOverride
	}
	return gjson.GetBytes(a.original, "modelId").String()
}

func (a *BedrockRequestAdapter) SetModel(model string) {
	a.modelOverride = model
	a.cached = nil
}

func (a *BedrockRequestAdapter) IsStreaming() bool {
	return a.opts.Streaming
}

// Messages projects system[] and messages[] into the canonical model.
// toolResult blocks are split out as RoleTool entries so downstream
// inspection sees the same shape it does for Chat Completions.
func (a *BedrockRequestAdapter) Messages() []canonical.Message {
	var out []canonical.Message

	if system := systemText(gjson.GetBytes(a.original, "system")); system != "" {
		out = append(out, canonical.Message{Role: canonical.RoleSystem, Content: system})
	}

	raw := gjson.GetBytes(a.original, "messages").Array()
	for i, msg := range raw {
		role := msg.Get("role").String()
		m := canonical.Message{Role: role}
		var results []canonical.ToolCall

		for _, block := range msg.Get("content").Array() {
			switch {
			case block.Get("text").Exists():
				m.Content += block.Get("text").String()
			case block.Get("toolUse").Exists():
				tu := block.Get("toolUse")
				args := tu.Get("input").Raw
				if args == "" {
					args = "{}"
				}
				m.ToolCalls = append(m.ToolCalls, canonical.ToolCall{
					ID:        tu.Get("toolUseId").String(),
					Name:      tu.Get("name").String(),
					Arguments: args,
				})
			case block.Get("toolResult").Exists():
				tr := block.Get("toolResult")
				id := tr.Get("toolUseId").String()
				content := toolResultText(tr)
				if updated, ok := a.updates[id]; ok {
					content = updated
				}
				results = append(results, canonical.ToolCall{
					ID:      id,
					Name:    resolveBedrockToolName(raw, i, id),
					Content: content,
					IsError: tr.Get("status").String() == "error",
				})
			}
		}

		out = append(out, m)
		if len(results) > 0 {
			out = append(out, canonical.Message{Role: canonical.RoleTool, ToolCalls: results})
		}
	}
	return out
}

// resolveBedrockToolName scans backward for the assistant toolUse block with
// the given id.
func resolveBedrockToolName(msgs []gjson.Result, index int, id string) string {
	for i := index - 1; i >= 0; i-- {
		if msgs[i].Get("role").String() != canonical.RoleAssistant {
			continue
		}
		for _, block := range msgs[i].Get("content").Array() {
			tu := block.Get("toolUse")
			if tu.Exists() && tu.Get("toolUseId").String() == id {
				if name := tu.Get("name").String(); name != "" {
					return name
				}
			}
		}
	}
	return canonical.UnknownToolName
}

// toolResultText flattens a toolResult's content blocks into plain text.
// json blocks are re-serialized compactly so the compressor can parse them.
func toolResultText(tr gjson.Result) string {
	var text string
	for _, block := range tr.Get("content").Array() {
		switch {
		case block.Get("text").Exists():
			text += block.Get("text").String()
		case block.Get("json").Exists():
			text += block.Get("json").Raw
		}
	}
	return text
}

func (a *BedrockRequestAdapter) ToolResults() []transform.ToolResult {
	var out []transform.ToolResult
	for _, m := range a.Messages() {
		if m.Role != canonical.RoleTool {
			continue
		}
		for _, tc := range m.ToolCalls {
			out = append(out, transform.ToolResult{ID: tc.ID, ToolName: tc.Name, Content: tc.Content})
		}
	}
	return out
}

func (a *BedrockRequestAdapter) Tools() []ToolDefinition {
	raw := gjson.GetBytes(a.original, "toolConfig.tools").Array()
	out := make([]ToolDefinition, 0, len(raw))
	for _, t := range raw {
		out = append(out, ToolDefinition{
			Name:        t.Get("toolSpec.name").String(),
			Description: t.Get("toolSpec.description").String(),
		})
	}
	return out
}

func (a *BedrockRequestAdapter) HasTools() bool {
	return len(gjson.GetBytes(a.original, "toolConfig.tools").Array()) > 0
}

func (a *BedrockRequestAdapter) UpdateToolResult(toolCallID, content string) {
	a.updates[toolCallID] = content
	a.cached = nil
}

func (a *BedrockRequestAdapter) ApplyToolResultUpdates(updates map[string]string) {
	for id, content := range updates {
		a.updates[id] = content
	}
	if len(updates) > 0 {
		a.cached = nil
	}
}

func (a *BedrockRequestAdapter) ApplyToonCompression(model string) (*transform.CompressionStats, error) {
	if a.stats != nil {
		return a.stats, nil
	}
	if a.compressor == nil {
		return nil, fmt.Errorf("no compressor configured for bedrock")
	}
	replacements, stats := a.compressor.Compress(model, a.ToolResults())
	a.ApplyToolResultUpdates(replacements)
	a.stats = stats
	return stats, nil
}

func (a *BedrockRequestAdapter) CompressionStats() *transform.CompressionStats {
	return a.stats
}

// ProviderRequest materializes the outbound Converse body by replaying the
// model override and tool-result updates onto a copy of the original, then
// running the image policy pass. modelId stays in the body; the client moves
// it into the URL path at execution time.
func (a *BedrockRequestAdapter) ProviderRequest() ([]byte, error) {
	if a.opts.AutoCompress && a.stats == nil && a.compressor != nil {
		if _, err := a.ApplyToonCompression(a.Model()); err != nil {
			return nil, err
		}
	}
	if a.cached != nil {
		return a.cached, nil
	}

	body := append([]byte(nil), a.original...)
	var err error

	if a.modelOverride != "" {
		body, err = sjson.SetBytes(body, "modelId", a.modelOverride)
		if err != nil {
			return nil, fmt.Errorf("failed to set modelId: %w", err)
		}
	}

	if len(a.updates) > 0 {
		body, err = a.applyUpdates(body)
		if err != nil {
			return nil, err
		}
	}

	body, err = a.applyImagePolicy(body)
	if err != nil {
		return nil, err
	}

	a.cached = body
	return body, nil
}

// applyUpdates replaces the content of updated toolResult blocks with a
// single text block carrying the recorded replacement.
func (a *BedrockRequestAdapter) applyUpdates(body []byte) ([]byte, error) {
	var err error
	for i, msg := range gjson.GetBytes(body, "messages").Array() {
		for j, block := range msg.Get("content").Array() {
			tr := block.Get("toolResult")
			if !tr.Exists() {
				continue
			}
			content, ok := a.updates[tr.Get("toolUseId").String()]
			if !ok {
				continue
			}
			path := "messages." + strconv.Itoa(i) + ".content." + strconv.Itoa(j) + ".toolResult.content"
			body, err = sjson.SetBytes(body, path, []any{map[string]any{"text": content}})
			if err != nil {
				return nil, fmt.Errorf("failed to patch tool result: %w", err)
			}
		}
	}
	return body, nil
}

// applyImagePolicy rewrites image blocks inside toolResult content and user
// message content for the effective model. Like the Chat Completions pass,
// it is a fixed point under re-application.
func (a *BedrockRequestAdapter) applyImagePolicy(body []byte) ([]byte, error) {
	policy := transform.ImagePolicyFor(a.table, a.Model())
	var err error
	for i, msg := range gjson.GetBytes(body, "messages").Array() {
		for j, block := range msg.Get("content").Array() {
			base := "messages." + strconv.Itoa(i) + ".content." + strconv.Itoa(j)
			tr := block.Get("toolResult")
			if tr.Exists() {
				rewritten, changed := rewriteBedrockBlocks(tr.Get("content").Array(), policy)
				if changed {
					body, err = sjson.SetBytes(body, base+".toolResult.content", rewritten)
					if err != nil {
						return nil, fmt.Errorf("failed to rewrite tool result content: %w", err)
					}
				}
				continue
			}
			if block.Get("image").Exists() {
				rewritten, changed := rewriteBedrockBlocks([]gjson.Result{block}, policy)
				if !changed {
					continue
				}
				// A bare image block maps to exactly one replacement.
				body, err = sjson.SetBytes(body, base, rewritten[0])
				if err != nil {
					return nil, fmt.Errorf("failed to rewrite image block: %w", err)
				}
			}
		}
	}
	return body, nil
}

// rewriteBedrockBlocks applies the image policy to one content block list.
func rewriteBedrockBlocks(blocks []gjson.Result, policy transform.ImagePolicy) ([]any, bool) {
	out := make([]any, 0, len(blocks))
	changed := false
	removed := 0

	for _, block := range blocks {
		img := block.Get("image")
		if !img.Exists() {
			out = append(out, block.Value())
			continue
		}
		size := transform.DecodedImageSize(img.Get("source.bytes").String())
		switch {
		case !policy.Supported:
			removed++
			changed = true
		case size > policy.MaxBytes:
			out = append(out, map[string]any{"text": transform.OversizeImagePlaceholder(size, policy.MaxBytes)})
			changed = true
		default:
			out = append(out, block.Value())
		}
	}

	if removed > 0 {
		out = append(out, map[string]any{"text": transform.RemovedImagesPlaceholder(removed)})
		log.Debug().Int("removed", removed).Msg("dropped unsupported image blocks")
	}
	return out, changed
}

// systemText flattens the Converse system[] array.
func systemText(system gjson.Result) string {
	var text string
	for _, block := range system.Array() {
		text += block.Get("text").String()
	}
	return text
}

// =============================================================================
// RESPONSE ADAPTER
// =============================================================================

// BedrockResponseAdapter reads a non-streaming Converse response.
type BedrockResponseAdapter struct {
	body []byte
}

var _ ResponseAdapter = (*BedrockResponseAdapter)(nil)

// NewBedrockResponseAdapter wraps a raw Converse response body.
func NewBedrockResponseAdapter(body []byte) *BedrockResponseAdapter {
	return &BedrockResponseAdapter{body: body}
}

func (a *BedrockResponseAdapter) Provider() Provider { return ProviderBedrock }

func (a *BedrockResponseAdapter) Text() string {
	var text string
	for _, block := range gjson.GetBytes(a.body, "output.message.content").Array() {
		text += block.Get("text").String()
	}
	return text
}

func (a *BedrockResponseAdapter) ToolCalls() []canonical.ToolCall {
	var out []canonical.ToolCall
	for _, block := range gjson.GetBytes(a.body, "output.message.content").Array() {
		tu := block.Get("toolUse")
		if !tu.Exists() {
			continue
		}
		args := tu.Get("input").Raw
		if args == "" || !json.Valid([]byte(args)) {
			args = "{}"
		}
		out = append(out, canonical.ToolCall{
			ID:        tu.Get("toolUseId").String(),
			Name:      tu.Get("name").String(),
			Arguments: args,
		})
	}
	return out
}

func (a *BedrockResponseAdapter) HasToolCalls() bool {
	return len(a.ToolCalls()) > 0
}

func (a *BedrockResponseAdapter) Usage() canonical.Usage {
	return canonical.Usage{
		InputTokens:  int(gjson.GetBytes(a.body, "usage.inputTokens").Int()),
		OutputTokens: int(gjson.GetBytes(a.body, "usage.outputTokens").Int()),
	}
}

// RefusalResponse rewrites a filtered response in place: the output message
// becomes a single text block carrying contentMessage and the stop reason
// resets to end_turn. Converse has no refusal field, so refusalMessage is
// unused here.
func (a *BedrockResponseAdapter) RefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	body := append([]byte(nil), a.body...)
	body, err := sjson.SetBytes(body, "output.message.content", []any{map[string]any{"text": contentMessage}})
	if err != nil {
		return nil, fmt.Errorf("failed to set content: %w", err)
	}
	body, err = sjson.SetBytes(body, "stopReason", "end_turn")
	if err != nil {
		return nil, fmt.Errorf("failed to set stop reason: %w", err)
	}
	return body, nil
}
