package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/disintegration/imaging"

	// Register additional image formats
	_ "golang.org/x/image/webp"
)

// jpegQuality is used whenever an image is re-encoded as JPEG.
const jpegQuality = 90

// Dimensions decodes just enough of the image to report width and height.
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// FitPixelBudget scales an image down so width*height stays within
// MaxPixels, preserving aspect ratio with Lanczos resampling. Images
// already within budget are returned unchanged.
func FitPixelBudget(data []byte) ([]byte, error) {
	mimeType := DetectMIME(data)
	if !IsSupported(mimeType) {
		return nil, fmt.Errorf("unsupported image type: %s", mimeType)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width*height <= MaxPixels {
		return data, nil
	}

	scale := math.Sqrt(float64(MaxPixels) / float64(width*height))
	newWidth := int(float64(width) * scale)
	newHeight := int(float64(height) * scale)
	resized := imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)

	encoded, _, err := Encode(resized, format)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

// Encode serializes an image in the given decode format. WebP input is
// written back as JPEG since the webp package is decode-only.
func Encode(img image.Image, format string) ([]byte, string, error) {
	var buf bytes.Buffer

	switch format {
	case "png":
		err := png.Encode(&buf, img)
		return buf.Bytes(), "image/png", err

	case "jpeg", "webp":
		err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
		return buf.Bytes(), "image/jpeg", err

	default:
		err := png.Encode(&buf, img)
		return buf.Bytes(), "image/png", err
	}
}
