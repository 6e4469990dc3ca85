// Package transform implements the tool-result transform pipeline: token
// counting, TOON re-serialization of structured tool output, and the image
// policy consulted by request adapters.
//
// DESIGN: The pipeline is CPU-bound and synchronous. It never mutates the
// request itself. Adapters extract tool-result content, hand it here, and
// patch the returned replacements back into the native body. This mirrors
// the Extract/Apply split the rest of the adapter layer uses.
package transform

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// TokenCounter counts tokens for a named encoding. The production
// implementation is tiktoken-backed; tests inject deterministic counters.
type TokenCounter interface {
	// Count returns the token count of text under the given encoding.
	Count(encoding, text string) int
}

// TiktokenCounter counts tokens with tiktoken encodings, caching one encoder
// per encoding name. Safe for concurrent use.
type TiktokenCounter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewTiktokenCounter creates an empty counter; encoders load lazily on first
// use per encoding.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// Count tokenizes text with the named encoding. If the encoding cannot be
// loaded, it falls back to a bytes/4 approximation rather than failing the
// request. Compression then still never increases the reported count
// because both sides use the same approximation.
func (c *TiktokenCounter) Count(encoding, text string) int {
	enc := c.encoder(encoding)
	if enc == nil {
		return approxTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (c *TiktokenCounter) encoder(name string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[name]; ok {
		return enc
	}

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		log.Warn().Err(err).Str("encoding", name).Msg("tokenizer unavailable, using byte approximation")
		c.encoders[name] = nil
		return nil
	}
	c.encoders[name] = enc
	return enc
}

// approxTokens estimates ~4 bytes per token, the usual rule of thumb for
// English-heavy content.
func approxTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
