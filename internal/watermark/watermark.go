// Package watermark composites the bot's logo onto outgoing artifacts.
package watermark

import (
	"bytes"
	"image"
	"sync"

	"github.com/disintegration/imaging"

	. "github.com/roelfdiedericks/imaginebot/internal/logging"
	"github.com/roelfdiedericks/imaginebot/internal/media"
)

// Logo geometry: square, sized against the artifact's shorter side,
// stamped near the bottom-left corner at partial opacity.
const (
	logoScale   = 0.14
	logoOpacity = 0.25
	logoMargin  = 10
)

// Toggle is the runtime watermark switch, shared between the delivery
// pipeline and the admin command that flips it.
type Toggle struct {
	mu      sync.RWMutex
	enabled bool
}

// NewToggle creates a toggle with the given initial state.
func NewToggle(enabled bool) *Toggle {
	return &Toggle{enabled: enabled}
}

// Enabled reports the current state.
func (c *Toggle) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled flips the state.
func (c *Toggle) SetEnabled(v bool) {
	c.mu.Lock()
	c.enabled = v
	c.mu.Unlock()
}

// Pipeline prepares artifacts for delivery.
type Pipeline struct {
	cfg      *Toggle
	logoPath string
}

// NewPipeline creates a delivery pipeline using the logo at logoPath.
func NewPipeline(cfg *Toggle, logoPath string) *Pipeline {
	return &Pipeline{cfg: cfg, logoPath: logoPath}
}

// Apply stamps the logo onto the artifact when watermarking is on.
// Every failure here is non-fatal: the caller always gets an artifact
// to deliver, falling back to the unwatermarked original.
func (p *Pipeline) Apply(a *media.Artifact) *media.Artifact {
	if !p.cfg.Enabled() {
		return a
	}

	logo, err := imaging.Open(p.logoPath)
	if err != nil {
		L_debug("watermark logo not available, delivering unmarked", "path", p.logoPath, "error", err)
		return a
	}

	img, format, err := image.Decode(bytes.NewReader(a.Data))
	if err != nil {
		L_warn("failed to decode artifact for watermarking", "error", err)
		return a
	}

	bounds := img.Bounds()
	short := bounds.Dx()
	if bounds.Dy() < short {
		short = bounds.Dy()
	}
	size := int(logoScale * float64(short))
	if size < 1 {
		return a
	}
	logo = imaging.Resize(logo, size, size, imaging.Lanczos)

	x, y := logoMargin, bounds.Dy()-size-logoMargin
	if y < 0 {
		x, y = 0, bounds.Dy()-size
	}
	out := imaging.Overlay(img, logo, image.Pt(x, y), logoOpacity)

	data, mimeType, err := media.Encode(out, format)
	if err != nil {
		L_warn("failed to encode watermarked artifact", "error", err)
		return a
	}
	return &media.Artifact{Data: data, MIME: mimeType}
}
