package transform

import (
	"github.com/rs/zerolog/log"

	"github.com/modelrelay/modelrelay/internal/models"
)

// ToolResult is one extracted tool-result payload handed to the compressor.
// ID is the provider's tool-call correlation id; adapters use it to patch
// the replacement back into the native body.
type ToolResult struct {
	ID       string
	ToolName string
	Content  string
}

// CompressionStats is the side-channel output of one compression pass.
// Computed once per outbound request and never persisted by this layer;
// the caller logs or bills from it.
type CompressionStats struct {
	TokensBefore   int     `json:"tokens_before"`
	TokensAfter    int     `json:"tokens_after"`
	CostSavings    float64 `json:"cost_savings"`
	WasEffective   bool    `json:"was_effective"`
	HadToolResults bool    `json:"had_tool_results"`
}

// Compressor applies token-aware TOON compression to tool-result payloads.
// Stateless across requests; safe to share.
type Compressor struct {
	table   *models.Table
	counter TokenCounter
}

// NewCompressor creates a compressor over the given lookup table and token
// counter.
func NewCompressor(table *models.Table, counter TokenCounter) *Compressor {
	return &Compressor{table: table, counter: counter}
}

// Compress re-serializes each structured tool result into TOON and keeps the
// alternate only when it tokenizes strictly smaller under the target model's
// encoding. Returns the id→replacement map for the results that shrank and
// the cumulative stats.
//
// Payloads that don't parse as a JSON object or array are left untouched and
// excluded from the token tally. Given identical inputs, model, and tables,
// the output is reproducible.
func (c *Compressor) Compress(model string, results []ToolResult) (map[string]string, *CompressionStats) {
	stats := &CompressionStats{HadToolResults: len(results) > 0}
	if len(results) == 0 {
		return nil, stats
	}

	encoding := c.table.Tokenizer(model)
	replacements := make(map[string]string)

	for _, r := range results {
		if !looksLikeJSON(r.Content) {
			continue
		}

		alt, ok := EncodeTOON(r.Content)
		if !ok {
			continue
		}

		before := c.counter.Count(encoding, r.Content)
		after := c.counter.Count(encoding, alt)

		stats.TokensBefore += before
		if after < before {
			replacements[r.ID] = alt
			stats.TokensAfter += after
		} else {
			stats.TokensAfter += before
		}
	}

	stats.WasEffective = stats.TokensAfter < stats.TokensBefore

	if saved := stats.TokensBefore - stats.TokensAfter; saved > 0 {
		if price, ok := c.table.Price(model); ok {
			stats.CostSavings = float64(saved) * price.InputPerMTok / 1e6
		}
	}

	if stats.WasEffective {
		log.Debug().
			Str("model", model).
			Int("tokens_before", stats.TokensBefore).
			Int("tokens_after", stats.TokensAfter).
			Float64("cost_savings", stats.CostSavings).
			Msg("toon compression applied")
	}

	return replacements, stats
}
