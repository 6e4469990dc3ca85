// Package models holds the static per-model lookup tables consulted during
// request transformation: the capability table (image support, image byte
// budget, tokenizer family) and the token price table.
//
// DESIGN: Both tables are loaded once at startup and treated as immutable
// for the process lifetime. Compiled-in defaults cover the common models;
// a YAML file can extend or override them. Lookups fall back from an exact
// model id to the longest matching prefix, so dated snapshots
// ("gpt-4o-2024-08-06") resolve through their family entry ("gpt-4o").
package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Capability describes what a target model accepts in tool-result content.
type Capability struct {
	// Images reports whether the model accepts inline image content.
	Images bool `yaml:"images"`
	// MaxImageBytes is the per-image byte budget. Larger images are
	// replaced with a placeholder even when Images is true. Zero means
	// the table default applies.
	MaxImageBytes int `yaml:"max_image_bytes"`
	// Tokenizer names the tiktoken encoding matching the model family.
	Tokenizer string `yaml:"tokenizer"`
}

// Price is the per-million-token price for a model. Used only to estimate
// compression cost savings; billing itself is upstream.
type Price struct {
	InputPerMTok  float64 `yaml:"input_per_mtok"`
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// Table bundles the capability and price lookups.
type Table struct {
	capabilities map[string]Capability
	prices       map[string]Price
}

const (
	// DefaultMaxImageBytes caps inline images at 4MB when a capability
	// entry doesn't set its own budget.
	DefaultMaxImageBytes = 4 * 1024 * 1024

	// DefaultTokenizer is the encoding used when no entry matches.
	DefaultTokenizer = "cl100k_base"
)

// builtinCapabilities seeds the table. Vision support and tokenizer family
// per model line; extend via YAML rather than editing this map.
var builtinCapabilities = map[string]Capability{
	"gpt-4o":            {Images: true, Tokenizer: "o200k_base"},
	"gpt-4o-mini":       {Images: true, Tokenizer: "o200k_base"},
	"gpt-4.1":           {Images: true, Tokenizer: "o200k_base"},
	"gpt-4-turbo":       {Images: true, Tokenizer: "cl100k_base"},
	"gpt-3.5-turbo":     {Images: false, Tokenizer: "cl100k_base"},
	"o1":                {Images: true, Tokenizer: "o200k_base"},
	"o3":                {Images: true, Tokenizer: "o200k_base"},
	"deepseek-chat":     {Images: false, Tokenizer: "cl100k_base"},
	"deepseek-reasoner": {Images: false, Tokenizer: "cl100k_base"},

	// Bedrock model ids
	"anthropic.claude-3-5-sonnet": {Images: true, Tokenizer: "cl100k_base"},
	"anthropic.claude-3-5-haiku":  {Images: false, Tokenizer: "cl100k_base"},
	"anthropic.claude-3-7-sonnet": {Images: true, Tokenizer: "cl100k_base"},
	"amazon.nova-pro":             {Images: true, Tokenizer: "cl100k_base"},
	"amazon.nova-micro":           {Images: false, Tokenizer: "cl100k_base"},
	"meta.llama3-1-70b-instruct":  {Images: false, Tokenizer: "cl100k_base"},
}

// builtinPrices holds USD per million tokens.
var builtinPrices = map[string]Price{
	"gpt-4o":                      {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":                 {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4.1":                     {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"deepseek-chat":               {InputPerMTok: 0.27, OutputPerMTok: 1.10},
	"deepseek-reasoner":           {InputPerMTok: 0.55, OutputPerMTok: 2.19},
	"anthropic.claude-3-5-sonnet": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"anthropic.claude-3-5-haiku":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"amazon.nova-pro":             {InputPerMTok: 0.80, OutputPerMTok: 3.20},
}

// tableFile is the YAML shape for extending the builtin tables.
type tableFile struct {
	Capabilities map[string]Capability `yaml:"capabilities"`
	Prices       map[string]Price      `yaml:"prices"`
}

// Default returns a table with only the compiled-in entries.
func Default() *Table {
	t := &Table{
		capabilities: make(map[string]Capability, len(builtinCapabilities)),
		prices:       make(map[string]Price, len(builtinPrices)),
	}
	for k, v := range builtinCapabilities {
		t.capabilities[k] = v
	}
	for k, v := range builtinPrices {
		t.prices[k] = v
	}
	return t
}

// Load returns the builtin table extended/overridden by the YAML file at
// path. An empty path returns Default().
func Load(path string) (*Table, error) {
	t := Default()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model table '%s': %w", path, err)
	}

	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model table '%s': %w", path, err)
	}

	for k, v := range f.Capabilities {
		t.capabilities[k] = v
	}
	for k, v := range f.Prices {
		t.prices[k] = v
	}
	return t, nil
}

// Capability resolves the capability entry for a model id. The boolean
// reports whether any entry (exact or prefix) matched; callers treat a miss
// as "no images, default tokenizer".
func (t *Table) Capability(model string) (Capability, bool) {
	model = normalizeModel(model)
	if c, ok := t.capabilities[model]; ok {
		return withDefaults(c), true
	}
	if c, ok := longestPrefix(t.capabilities, model); ok {
		return withDefaults(c), true
	}
	return Capability{MaxImageBytes: DefaultMaxImageBytes, Tokenizer: DefaultTokenizer}, false
}

// Price resolves the price entry for a model id. The boolean reports whether
// an entry exists; without one, cost savings are reported as zero.
func (t *Table) Price(model string) (Price, bool) {
	model = normalizeModel(model)
	if p, ok := t.prices[model]; ok {
		return p, true
	}
	return longestPrefix(t.prices, model)
}

// Tokenizer returns the tiktoken encoding name for a model.
func (t *Table) Tokenizer(model string) string {
	c, _ := t.Capability(model)
	return c.Tokenizer
}

// normalizeModel strips a provider prefix ("openai/gpt-4o" -> "gpt-4o") and
// a Bedrock version suffix ("...-20241022-v2:0" keeps the family via prefix
// matching, but ":0" alone is dropped here).
func normalizeModel(model string) string {
	if idx := strings.Index(model, "/"); idx != -1 {
		model = model[idx+1:]
	}
	if idx := strings.Index(model, ":"); idx != -1 {
		model = model[:idx]
	}
	return model
}

func withDefaults(c Capability) Capability {
	if c.MaxImageBytes == 0 {
		c.MaxImageBytes = DefaultMaxImageBytes
	}
	if c.Tokenizer == "" {
		c.Tokenizer = DefaultTokenizer
	}
	return c
}

// longestPrefix finds the entry whose key is the longest prefix of model.
// Keys act as family names: "gpt-4o" matches "gpt-4o-2024-08-06" but a
// literal "gpt-4o-mini" entry wins over the shorter family.
func longestPrefix[V any](m map[string]V, model string) (V, bool) {
	var best V
	bestLen := -1
	for k, v := range m {
		if strings.HasPrefix(model, k) && len(k) > bestLen {
			best = v
			bestLen = len(k)
		}
	}
	return best, bestLen >= 0
}
