package transform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/modelrelay/modelrelay/internal/models"
)

func TestImagePolicyFor(t *testing.T) {
	table := models.Default()

	vision := ImagePolicyFor(table, "gpt-4o")
	assert.True(t, vision.Supported)
	assert.Equal(t, models.DefaultMaxImageBytes, vision.MaxBytes)

	textOnly := ImagePolicyFor(table, "deepseek-chat")
	assert.False(t, textOnly.Supported)

	unknown := ImagePolicyFor(table, "no-such-model")
	assert.False(t, unknown.Supported)
}

func TestImagePolicy_Allows(t *testing.T) {
	p := ImagePolicy{Supported: true, MaxBytes: 100}

	assert.True(t, p.Allows(100))
	assert.False(t, p.Allows(101))
	assert.False(t, ImagePolicy{Supported: false, MaxBytes: 100}.Allows(10))
}

func TestRemovedImagesPlaceholder(t *testing.T) {
	assert.Equal(t,
		"[1 image removed: target model does not support image input]",
		RemovedImagesPlaceholder(1))
	assert.Equal(t,
		"[3 images removed: target model does not support image input]",
		RemovedImagesPlaceholder(3))
}

func TestOversizeImagePlaceholder(t *testing.T) {
	got := OversizeImagePlaceholder(5*1024*1024, 4*1024*1024)

	assert.Contains(t, got, "5.0MB")
	assert.Contains(t, got, "4.0MB")
	assert.Contains(t, got, "image omitted due to size")
}

func TestDecodedImageSize(t *testing.T) {
	payload := strings.Repeat("A", 40)

	assert.Equal(t, 30, DecodedImageSize(payload))
	assert.Equal(t, 30, DecodedImageSize("data:image/png;base64,"+payload))
}

func TestDataURI(t *testing.T) {
	assert.Equal(t, "data:image/jpeg;base64,abcd", DataURI("image/jpeg", "abcd"))
	assert.Equal(t, "data:image/png;base64,abcd", DataURI("", "abcd"))

	// Existing URIs pass through.
	assert.Equal(t, "data:image/png;base64,xyz", DataURI("image/png", "data:image/png;base64,xyz"))
	assert.Equal(t, "https://example.com/a.png", DataURI("image/png", "https://example.com/a.png"))
}
