// Package media provides image handling for imaginebot.
// It detects MIME types from magic bytes, measures dimensions, and
// scales uploads down to the generation pixel budget.
package media

import (
	"github.com/gabriel-vasile/mimetype"
)

// MaxPixels is the upload budget of the image API. Images whose
// width*height exceeds this are scaled down before dispatch.
const MaxPixels = 1024 * 1024

// Supported image MIME types for generation inputs
var SupportedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Artifact is a finished image as produced by the generation backend
// or the delivery pipeline.
type Artifact struct {
	Data []byte // Raw image bytes
	MIME string // MIME type (e.g., "image/png")
}

// Size returns the size in bytes
func (a *Artifact) Size() int {
	return len(a.Data)
}

// Ext returns a file extension for the artifact's MIME type.
func (a *Artifact) Ext() string {
	switch a.MIME {
	case "image/jpeg":
		return "jpeg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

// DetectMIME returns the MIME type from magic bytes (not file extension)
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsSupported returns true if the MIME type is accepted as a generation input
func IsSupported(mimeType string) bool {
	return SupportedMIMETypes[mimeType]
}
