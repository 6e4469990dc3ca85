package adapters

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelrelay/modelrelay/internal/models"
)

// mustJSON marshals v, panicking on failure. Test-input construction only.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// sseFramePayload strips SSE wire framing from a single frame.
func sseFramePayload(t *testing.T, frame []byte) string {
	t.Helper()
	s := string(frame)
	require.True(t, strings.HasPrefix(s, "data: "))
	require.True(t, strings.HasSuffix(s, "\n\n"))
	return strings.TrimSuffix(strings.TrimPrefix(s, "data: "), "\n\n")
}

// writeTinyModelTable builds a table with a vision model capped at a 16 byte
// inline image budget, small enough to trip the oversize path with tiny
// payloads.
func writeTinyModelTable(t *testing.T, dir string) *models.Table {
	t.Helper()
	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
capabilities:
  tiny-vision:
    images: true
    max_image_bytes: 16
    tokenizer: cl100k_base
`), 0600))
	table, err := models.Load(path)
	require.NoError(t, err)
	return table
}
