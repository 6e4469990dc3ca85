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

// OpenAIBaseURL is the default API root for OpenAI.
const OpenAIBaseURL = "https://api.openai.com/v1"

// =============================================================================
// REQUEST ADAPTER
// =============================================================================

// OpenAIRequestAdapter wraps a Chat Completions request. The original body
// is kept untouched; every mutation is recorded and replayed onto a fresh
// copy at materialization, so repeated ProviderRequest calls yield identical
// bytes. DeepSeek embeds this adapter since its wire format is the same.
type OpenAIRequestAdapter struct {
	provider   Provider
	original   []byte
	opts       RequestOptions
	table      *models.Table
	compressor *transform.Compressor

	modelOverride string
	updates       map[string]string // tool_call_id -> replacement content
	stats         *transform.CompressionStats

	cached []byte
}

var _ RequestAdapter = (*OpenAIRequestAdapter)(nil)

// NewOpenAIRequestAdapter wraps an inbound Chat Completions body.
func NewOpenAIRequestAdapter(body []byte, opts RequestOptions, table *models.Table, compressor *transform.Compressor) *OpenAIRequestAdapter {
	return newCompatRequestAdapter(ProviderOpenAI, body, opts, table, compressor)
}

func newCompatRequestAdapter(provider Provider, body []byte, opts RequestOptions, table *models.Table, compressor *transform.Compressor) *OpenAIRequestAdapter {
	return &OpenAIRequestAdapter{
		provider:   provider,
		original:   append([]byte(nil), body...),
		opts:       opts,
		table:      table,
		compressor: compressor,
		updates:    make(map[string]string),
	}
}

func (a *OpenAIRequestAdapter) Provider() Provider { return a.provider }

func (a *OpenAIRequestAdapter) Model() string {
	if a.modelOverride != "" {
		return a.modelOverride
	}
	return gjson.GetBytes(a.original, "model").String()
}

func (a *OpenAIRequestAdapter) SetModel(model string) {
	a.modelOverride = model
	a.cached = nil
}

func (a *OpenAIRequestAdapter) IsStreaming() bool {
	return gjson.GetBytes(a.original, "stream").Bool()
}

// Messages projects messages[] into the canonical model. Tool messages are
// resolved to their tool name via the nearest preceding assistant tool call
// with a matching id.
func (a *OpenAIRequestAdapter) Messages() []canonical.Message {
	raw := gjson.GetBytes(a.original, "messages").Array()
	out := make([]canonical.Message, 0, len(raw))
	for i, msg := range raw {
		role := msg.Get("role").String()
		m := canonical.Message{Role: role, Content: contentText(msg.Get("content"))}

		switch role {
		case canonical.RoleAssistant:
			for _, tc := range msg.Get("tool_calls").Array() {
				m.ToolCalls = append(m.ToolCalls, canonical.ToolCall{
					ID:        tc.Get("id").String(),
					Name:      tc.Get("function.name").String(),
					Arguments: tc.Get("function.arguments").String(),
				})
			}
		case canonical.RoleTool:
			id := msg.Get("tool_call_id").String()
			content := contentText(msg.Get("content"))
			if updated, ok := a.updates[id]; ok {
				content = updated
			}
			m.ToolCalls = []canonical.ToolCall{{
				ID:      id,
				Name:    a.resolveToolName(raw, i, id),
				Content: content,
			}}
		}
		out = append(out, m)
	}
	return out
}

// resolveToolName scans backward from the tool message at index for the
// nearest assistant tool call with the given id.
func (a *OpenAIRequestAdapter) resolveToolName(msgs []gjson.Result, index int, id string) string {
	for i := index - 1; i >= 0; i-- {
		if msgs[i].Get("role").String() != canonical.RoleAssistant {
			continue
		}
		for _, tc := range msgs[i].Get("tool_calls").Array() {
			if tc.Get("id").String() == id {
				if name := tc.Get("function.name").String(); name != "" {
					return name
				}
			}
		}
	}
	return canonical.UnknownToolName
}

func (a *OpenAIRequestAdapter) ToolResults() []transform.ToolResult {
	var out []transform.ToolResult
	for _, m := range a.Messages() {
		if m.Role != canonical.RoleTool {
			continue
		}
		for _, tc := range m.ToolCalls {
			out = append(out, transform.ToolResult{
				ID:       tc.ID,
				ToolName: tc.Name,
				Content:  tc.Content,
			})
		}
	}
	return out
}

func (a *OpenAIRequestAdapter) Tools() []ToolDefinition {
	raw := gjson.GetBytes(a.original, "tools").Array()
	out := make([]ToolDefinition, 0, len(raw))
	for _, t := range raw {
		out = append(out, ToolDefinition{
			Name:        t.Get("function.name").String(),
			Description: t.Get("function.description").String(),
		})
	}
	return out
}

func (a *OpenAIRequestAdapter) HasTools() bool {
	return len(gjson.GetBytes(a.original, "tools").Array()) > 0
}

func (a *OpenAIRequestAdapter) UpdateToolResult(toolCallID, content string) {
	a.updates[toolCallID] = content
	a.cached = nil
}

func (a *OpenAIRequestAdapter) ApplyToolResultUpdates(updates map[string]string) {
	for id, content := range updates {
		a.updates[id] = content
	}
	if len(updates) > 0 {
		a.cached = nil
	}
}

func (a *OpenAIRequestAdapter) ApplyToonCompression(model string) (*transform.CompressionStats, error) {
	if a.stats != nil {
		return a.stats, nil
	}
	if a.compressor == nil {
		return nil, fmt.Errorf("no compressor configured for %s", a.provider)
	}
	replacements, stats := a.compressor.Compress(model, a.ToolResults())
	a.ApplyToolResultUpdates(replacements)
	a.stats = stats
	return stats, nil
}

func (a *OpenAIRequestAdapter) CompressionStats() *transform.CompressionStats {
	return a.stats
}

// ProviderRequest materializes the outbound body: model override and
// tool-result updates are replayed onto a copy of the original, then the
// image policy pass runs. The result is cached until the next mutation.
func (a *OpenAIRequestAdapter) ProviderRequest() ([]byte, error) {
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
		body, err = sjson.SetBytes(body, "model", a.modelOverride)
		if err != nil {
			return nil, fmt.Errorf("failed to set model: %w", err)
		}
	}

	if len(a.updates) > 0 {
		body, err = a.applyUpdates(body)
		if err != nil {
			return nil, err
		}
	}

	// Streaming accumulation needs the usage chunk, which providers only
	// send when asked.
	if a.IsStreaming() && !gjson.GetBytes(body, "stream_options.include_usage").Exists() {
		body, err = sjson.SetBytes(body, "stream_options.include_usage", true)
		if err != nil {
			return nil, fmt.Errorf("failed to set stream options: %w", err)
		}
	}

	body, err = a.applyImagePolicy(body)
	if err != nil {
		return nil, err
	}

	a.cached = body
	return body, nil
}

// applyUpdates patches recorded tool-result replacements into messages[].
func (a *OpenAIRequestAdapter) applyUpdates(body []byte) ([]byte, error) {
	var err error
	for i, msg := range gjson.GetBytes(body, "messages").Array() {
		if msg.Get("role").String() != canonical.RoleTool {
			continue
		}
		content, ok := a.updates[msg.Get("tool_call_id").String()]
		if !ok {
			continue
		}
		path := "messages." + strconv.Itoa(i) + ".content"
		body, err = sjson.SetBytes(body, path, content)
		if err != nil {
			return nil, fmt.Errorf("failed to patch tool result: %w", err)
		}
	}
	return body, nil
}

// applyImagePolicy rewrites image parts in message content arrays for the
// effective model. Unsupported images collapse to one placeholder per
// message; oversize images are replaced individually. Anthropic-style image
// blocks are transcoded to image_url parts when they survive. The pass is a
// fixed point: running it on its own output changes nothing.
func (a *OpenAIRequestAdapter) applyImagePolicy(body []byte) ([]byte, error) {
	policy := transform.ImagePolicyFor(a.table, a.Model())
	var err error
	for i, msg := range gjson.GetBytes(body, "messages").Array() {
		content := msg.Get("content")
		if !content.IsArray() {
			continue
		}
		rewritten, changed := rewriteContentParts(content.Array(), policy)
		if !changed {
			continue
		}
		path := "messages." + strconv.Itoa(i) + ".content"
		body, err = sjson.SetBytes(body, path, rewritten)
		if err != nil {
			return nil, fmt.Errorf("failed to rewrite message content: %w", err)
		}
	}
	return body, nil
}

// rewriteContentParts applies the image policy to one content array.
func rewriteContentParts(parts []gjson.Result, policy transform.ImagePolicy) ([]any, bool) {
	out := make([]any, 0, len(parts))
	changed := false
	removed := 0

	for _, part := range parts {
		var size int
		var keep any

		switch part.Get("type").String() {
		case "image_url":
			url := part.Get("image_url.url").String()
			size = transform.DecodedImageSize(url)
			keep = part.Value()
		case "image":
			// Anthropic-style block; transcode to an image_url data URI.
			data := part.Get("source.data").String()
			size = transform.DecodedImageSize(data)
			keep = map[string]any{
				"type": "image_url",
				"image_url": map[string]any{
					"url": transform.DataURI(part.Get("source.media_type").String(), data),
				},
			}
			changed = true
		default:
			out = append(out, part.Value())
			continue
		}

		switch {
		case !policy.Supported:
			removed++
			changed = true
		case size > policy.MaxBytes:
			out = append(out, textPart(transform.OversizeImagePlaceholder(size, policy.MaxBytes)))
			changed = true
		default:
			out = append(out, keep)
		}
	}

	if removed > 0 {
		out = append(out, textPart(transform.RemovedImagesPlaceholder(removed)))
		log.Debug().Int("removed", removed).Msg("dropped unsupported image blocks")
	}
	return out, changed
}

func textPart(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

// contentText flattens a content value that may be a string or an array of
// typed parts into plain text.
func contentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var text string
	for _, part := range content.Array() {
		if part.Get("type").String() == "text" {
			text += part.Get("text").String()
		}
	}
	return text
}

// =============================================================================
// RESPONSE ADAPTER
// =============================================================================

// OpenAIResponseAdapter reads a non-streaming Chat Completions response.
type OpenAIResponseAdapter struct {
	provider Provider
	body     []byte
}

var _ ResponseAdapter = (*OpenAIResponseAdapter)(nil)

// NewOpenAIResponseAdapter wraps a raw Chat Completions response body.
func NewOpenAIResponseAdapter(body []byte) *OpenAIResponseAdapter {
	return &OpenAIResponseAdapter{provider: ProviderOpenAI, body: body}
}

func (a *OpenAIResponseAdapter) Provider() Provider { return a.provider }

func (a *OpenAIResponseAdapter) Text() string {
	return gjson.GetBytes(a.body, "choices.0.message.content").String()
}

func (a *OpenAIResponseAdapter) ToolCalls() []canonical.ToolCall {
	raw := gjson.GetBytes(a.body, "choices.0.message.tool_calls").Array()
	out := make([]canonical.ToolCall, 0, len(raw))
	for _, tc := range raw {
		args := tc.Get("function.arguments").String()
		if !json.Valid([]byte(args)) {
			log.Debug().
				Str("tool_call_id", tc.Get("id").String()).
				Msg("tool call arguments are not valid JSON, degrading to empty object")
			args = "{}"
		}
		out = append(out, canonical.ToolCall{
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: args,
		})
	}
	return out
}

func (a *OpenAIResponseAdapter) HasToolCalls() bool {
	return len(gjson.GetBytes(a.body, "choices.0.message.tool_calls").Array()) > 0
}

func (a *OpenAIResponseAdapter) Usage() canonical.Usage {
	return canonical.Usage{
		InputTokens:  int(gjson.GetBytes(a.body, "usage.prompt_tokens").Int()),
		OutputTokens: int(gjson.GetBytes(a.body, "usage.completion_tokens").Int()),
	}
}

// RefusalResponse rewrites the first choice in place: the refusal marker is
// cleared, the content becomes contentMessage, and the finish reason resets
// to a plain stop. refusalMessage is the provider's original refusal text,
// passed for symmetry with other providers; the OpenAI shape never carries
// it forward.
func (a *OpenAIResponseAdapter) RefusalResponse(refusalMessage, contentMessage string) ([]byte, error) {
	body := append([]byte(nil), a.body...)

	body, err := sjson.DeleteBytes(body, "choices.0.message.refusal")
	if err != nil {
		return nil, fmt.Errorf("failed to clear refusal: %w", err)
	}

	body, err = sjson.SetBytes(body, "choices.0.message.content", contentMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to set content: %w", err)
	}
	body, err = sjson.SetBytes(body, "choices.0.finish_reason", "stop")
	if err != nil {
		return nil, fmt.Errorf("failed to set finish reason: %w", err)
	}
	return body, nil
}
