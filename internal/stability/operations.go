package stability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roelfdiedericks/imaginebot/internal/media"
	"github.com/roelfdiedericks/imaginebot/internal/session"
)

// sizeAspect maps the dimension presets of the classic generate
// workflow onto API aspect ratios.
var sizeAspect = map[string]string{
	"landscape":  "3:2",
	"widescreen": "16:9",
	"panorama":   "21:9",
	"square-l":   "5:4",
	"square":     "1:1",
	"square-p":   "4:5",
	"portrait":   "2:3",
	"highscreen": "9:16",
	"panorama-p": "9:21",
}

// imageStrength controls how strongly a reference image steers
// image-to-image generation.
const imageStrength = "0.7"

func (c *Client) generateSD3(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error) {
	fields := map[string]string{
		"prompt":          req.Fields["prompt"],
		"negative_prompt": defaultNegativePrompt,
		"output_format":   "png",
	}
	if style := req.Fields["style"]; style != "" && style != "none" {
		fields["style_preset"] = style
	}

	images := map[string][]byte{}
	if img, ok := req.Images["image"]; ok {
		fields["mode"] = "image-to-image"
		fields["strength"] = imageStrength
		images["image"] = img
	} else {
		fields["mode"] = "text-to-image"
		if ar, ok := sizeAspect[req.Fields["size"]]; ok {
			fields["aspect_ratio"] = ar
		}
	}

	return c.imageCall(ctx, "/v2beta/stable-image/generate/sd3", fields, images)
}

func (c *Client) generateUltra(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error) {
	fields := map[string]string{
		"prompt":          req.Fields["prompt"],
		"negative_prompt": defaultNegativePrompt,
		"output_format":   "png",
	}
	if ar := req.Fields["aspect_ratio"]; ar != "" {
		fields["aspect_ratio"] = ar
	}

	images := map[string][]byte{}
	if img, ok := req.Images["image"]; ok {
		fields["strength"] = imageStrength
		images["image"] = img
	}

	return c.imageCall(ctx, "/v2beta/stable-image/generate/ultra", fields, images)
}

func (c *Client) upscale(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error) {
	method := req.Fields["method"]
	fields := map[string]string{
		"output_format": req.Fields["format"],
	}
	if prompt := req.Fields["prompt"]; prompt != "" {
		fields["prompt"] = prompt
	}
	images := map[string][]byte{"image": req.Images["image"]}

	switch method {
	case "fast":
		return c.imageCall(ctx, "/v2beta/stable-image/upscale/fast", fields, images)

	case "conservative":
		fields["negative_prompt"] = defaultNegativePrompt
		return c.imageCall(ctx, "/v2beta/stable-image/upscale/conservative", fields, images)

	case "creative":
		fields["negative_prompt"] = defaultNegativePrompt
		if style := req.Fields["style"]; style != "" && style != "none" {
			fields["style_preset"] = style
		}
		resp, err := c.postMultipart(ctx, "/v2beta/stable-image/upscale/creative", "application/json", fields, images)
		if err != nil {
			return nil, err
		}
		id, err := asyncID(resp.Body)
		if err != nil {
			return nil, err
		}
		return c.pollResult(ctx, id)

	default:
		return nil, fmt.Errorf("unknown upscale method %q", method)
	}
}

func (c *Client) reimagine(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error) {
	endpoint := "/v2beta/stable-image/control/structure"
	if req.Fields["method"] == "sketch" {
		endpoint = "/v2beta/stable-image/control/sketch"
	}

	fields := map[string]string{
		"prompt":           req.Fields["prompt"],
		"negative_prompt":  defaultNegativePrompt,
		"control_strength": "0.7",
		"output_format":    "png",
	}
	if style := req.Fields["style"]; style != "" && style != "none" {
		fields["style_preset"] = style
	}

	return c.imageCall(ctx, endpoint, fields, map[string][]byte{"image": req.Images["image"]})
}

func (c *Client) outpaint(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error) {
	// The budget resize happens here rather than at upload so the
	// expansion amounts match the pixels the API actually receives.
	img, err := media.FitPixelBudget(req.Images["image"])
	if err != nil {
		return nil, err
	}
	w, h, err := media.Dimensions(img)
	if err != nil {
		return nil, err
	}

	left, right, up, down, err := outpaintExpansion(w, h, req.Fields["aspect_ratio"], req.Fields["position"])
	if err != nil {
		return nil, err
	}
	if left+right+up+down == 0 {
		return nil, &APIError{Op: "outpaint", Status: 400,
			Body: "image already matches the requested aspect ratio"}
	}
	left, right, up, down = budgetExpansion(w, h, left, right, up, down)

	fields := map[string]string{
		"creativity":    "0.35",
		"output_format": "png",
	}
	for dir, px := range map[string]int{"left": left, "right": right, "up": up, "down": down} {
		if px > 0 {
			fields[dir] = strconv.Itoa(px)
		}
	}
	if prompt := req.Fields["prompt"]; prompt != "" {
		fields["prompt"] = prompt
	}

	return c.imageCall(ctx, "/v2beta/stable-image/edit/outpaint", fields, map[string][]byte{"image": img})
}

func (c *Client) erase(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error) {
	fields := map[string]string{"output_format": "png"}
	images := map[string][]byte{
		"image": req.Images["image"],
		"mask":  req.Images["mask"],
	}
	return c.imageCall(ctx, "/v2beta/stable-image/edit/erase", fields, images)
}

func (c *Client) inpaint(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error) {
	fields := map[string]string{
		"prompt":          req.Fields["prompt"],
		"negative_prompt": defaultNegativePrompt,
		"output_format":   "png",
	}
	images := map[string][]byte{
		"image": req.Images["image"],
		"mask":  req.Images["mask"],
	}
	return c.imageCall(ctx, "/v2beta/stable-image/edit/inpaint", fields, images)
}

// searchReplace first calls the endpoint with separate search and
// replace prompts. Some model revisions respond better to a combined
// instruction, so a client-level rejection triggers one rephrased
// attempt before giving up.
func (c *Client) searchReplace(ctx context.Context, req *session.GenerationRequest) (*media.Artifact, error) {
	search := req.Fields["search_prompt"]
	replace := req.Fields["replace_prompt"]
	images := map[string][]byte{"image": req.Images["image"]}

	fields := map[string]string{
		"search_prompt": search,
		"prompt":        replace,
		"output_format": "png",
	}
	art, err := c.imageCall(ctx, "/v2beta/stable-image/edit/search-and-replace", fields, images)
	if err == nil {
		return art, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429 {
		fields["prompt"] = fmt.Sprintf("Replace %s with %s", search, replace)
		return c.imageCall(ctx, "/v2beta/stable-image/edit/search-and-replace", fields, images)
	}
	return nil, err
}

// maxExpansionPerSide is the API limit for each outpaint direction.
const maxExpansionPerSide = 1024

// outpaintExpansion computes per-side pixel growth that takes a w*h
// image to the target aspect ratio. The position preset decides which
// sides grow: the named corner or edge is where the original stays.
func outpaintExpansion(w, h int, aspect, position string) (left, right, up, down int, err error) {
	aw, ah, err := parseAspect(aspect)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	target := float64(aw) / float64(ah)
	current := float64(w) / float64(h)

	switch {
	case target > current:
		extra := int(float64(h)*target) - w
		left, right = splitExtra(extra, horizontalAnchor(position))
	case target < current:
		extra := int(float64(w)/target) - h
		up, down = splitExtra(extra, verticalAnchor(position))
	}

	return clamp(left), clamp(right), clamp(up), clamp(down), nil
}

func parseAspect(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid aspect ratio %q", s)
	}
	a, err1 := strconv.Atoi(parts[0])
	b, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || a <= 0 || b <= 0 {
		return 0, 0, fmt.Errorf("invalid aspect ratio %q", s)
	}
	return a, b, nil
}

// anchor values: -1 = original sits at the low edge (left/top), so all
// growth goes to the opposite side; 0 = centered; +1 = high edge.
func horizontalAnchor(position string) int {
	switch {
	case strings.HasSuffix(position, "-left"):
		return -1
	case strings.HasSuffix(position, "-right"):
		return 1
	default: // center column or auto
		return 0
	}
}

func verticalAnchor(position string) int {
	switch {
	case strings.HasPrefix(position, "top-"):
		return -1
	case strings.HasPrefix(position, "bottom-"):
		return 1
	default: // middle row or auto
		return 0
	}
}

func splitExtra(extra, anchor int) (low, high int) {
	if extra <= 0 {
		return 0, 0
	}
	switch anchor {
	case -1:
		return 0, extra
	case 1:
		return extra, 0
	default:
		return extra / 2, extra - extra/2
	}
}

func clamp(px int) int {
	if px > maxExpansionPerSide {
		return maxExpansionPerSide
	}
	return px
}

// budgetExpansion shrinks the four growth amounts when the expanded
// canvas would exceed MaxPixels, keeping their relative proportions.
func budgetExpansion(w, h, left, right, up, down int) (int, int, int, int) {
	final := (w + left + right) * (h + up + down)
	if final <= media.MaxPixels {
		return left, right, up, down
	}
	scale := math.Sqrt(float64(media.MaxPixels) / float64(final))
	return int(float64(left) * scale), int(float64(right) * scale),
		int(float64(up) * scale), int(float64(down) * scale)
}
