package transform

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/modelrelay/modelrelay/internal/models"
)

// ImagePolicy is the per-request decision for inline images in tool results,
// resolved from the capability table for the target model.
type ImagePolicy struct {
	Supported bool
	MaxBytes  int
}

// ImagePolicyFor resolves the image policy for a model.
func ImagePolicyFor(table *models.Table, model string) ImagePolicy {
	entry, _ := table.Capability(model)
	return ImagePolicy{Supported: entry.Images, MaxBytes: entry.MaxImageBytes}
}

// Allows reports whether an image of the given decoded byte size may be
// embedded inline.
func (p ImagePolicy) Allows(size int) bool {
	return p.Supported && size <= p.MaxBytes
}

// RemovedImagesPlaceholder is the text substituted for all image blocks of a
// tool result when the target model does not accept image input.
func RemovedImagesPlaceholder(count int) string {
	noun := "images"
	if count == 1 {
		noun = "image"
	}
	return fmt.Sprintf("[%d %s removed: target model does not support image input]", count, noun)
}

// OversizeImagePlaceholder is the text substituted for a single image block
// that exceeds the inline byte budget.
func OversizeImagePlaceholder(size, budget int) string {
	return fmt.Sprintf("[image omitted due to size: %s exceeds the %s inline limit]",
		formatBytes(size), formatBytes(budget))
}

// DecodedImageSize returns the decoded byte size of base64 image data,
// accepting either a bare payload or a data: URI.
func DecodedImageSize(data string) int {
	if strings.HasPrefix(data, "data:") {
		if idx := strings.Index(data, ","); idx != -1 {
			data = data[idx+1:]
		}
	}
	return base64.StdEncoding.DecodedLen(len(data))
}

// DataURI builds a data: URI for base64 image data, leaving existing URIs
// (data: or https:) alone.
func DataURI(mediaType, data string) string {
	if strings.HasPrefix(data, "data:") || strings.HasPrefix(data, "http") {
		return data
	}
	if mediaType == "" {
		mediaType = "image/png"
	}
	return "data:" + mediaType + ";base64," + data
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%dB", n)
	}
}
