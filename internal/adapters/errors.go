package adapters

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// maxErrorBodyLen limits error body in error messages to avoid log bloat.
const maxErrorBodyLen = 500

// ErrorMessageFunc pulls the human-readable message out of a provider error
// body. Each provider registers its own in the registry Definition; the
// client applies it when a call fails.
type ErrorMessageFunc func(body []byte) string

// OpenAIErrorMessage reads the "error.message" field used by OpenAI-compatible
// APIs (OpenAI, DeepSeek, and most clones).
func OpenAIErrorMessage(body []byte) string {
	return gjson.GetBytes(body, "error.message").String()
}

// BedrockErrorMessage reads Bedrock's flat exception document, which carries
// "message" plus an "__type" discriminator echoed into the body.
func BedrockErrorMessage(body []byte) string {
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		return ""
	}
	if typ := gjson.GetBytes(body, "__type").String(); typ != "" {
		return typ + ": " + msg
	}
	return msg
}

// UpstreamError is a non-2xx response from a provider API. The body is kept
// verbatim (truncated) so callers can relay the provider's own error payload;
// Message holds the normalized text extracted by the provider's
// ErrorMessageFunc.
type UpstreamError struct {
	Provider Provider
	Status   int
	Body     []byte
	Message  string
}

func (e *UpstreamError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = truncate(string(e.Body), maxErrorBodyLen)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
