package session

import "strings"

// Step is one slot in a workflow's collection table.
type Step struct {
	Field    string
	Kind     InputKind
	Prompt   string
	Keyboard [][]string // choice labels, nil for text/image steps

	Optional  bool   // step may be skipped with /skip
	SkipValue string // stored on skip; empty means the field is omitted

	// When gates the step on previously collected fields. A nil When
	// means the step always runs.
	When func(fields map[string]string) bool
}

const skipAutoLabel = "Skip (Use Auto)"

// Keyboard preset tables. Labels are what the user sees; the stored
// value is the canonical form (lower case, hyphenated).
var (
	controlTypeRows = [][]string{
		{"Regular", "Control-Based"},
	}

	sizeRows = [][]string{
		{"Landscape", "Widescreen", "Panorama"},
		{"Square-L", "Square", "Square-P"},
		{"Portrait", "Highscreen", "Panorama-P"},
	}

	styleRows = [][]string{
		{"3D Model", "Analog Film", "Anime"},
		{"Cinematic", "Comic Book", "Digital Art"},
		{"Enhance", "Fantasy Art", "Isometric"},
		{"Line Art", "Low Poly", "Neon Punk"},
		{"Origami", "Photographic", "Pixel Art"},
		{"Tile Texture", "None"},
	}

	aspectRows = [][]string{
		{"16:9", "1:1", "4:5"},
		{"9:16", "3:2", "2:3"},
		{"21:9", "5:4", "9:21"},
	}

	upscaleMethodRows = [][]string{
		{"Conservative", "Creative", "Fast"},
	}

	reimagineMethodRows = [][]string{
		{"Image", "Sketch"},
	}

	outputFormatRows = [][]string{
		{"webp", "jpeg", "png"},
	}

	positionRows = [][]string{
		{"Top Left", "Top Center", "Top Right"},
		{"Middle Left", "Middle Center", "Middle Right"},
		{"Bottom Left", "Bottom Center", "Bottom Right"},
		{skipAutoLabel},
	}

	watermarkRows = [][]string{
		{"Enable", "Disable"},
	}
)

var workflowSteps = map[Workflow][]Step{
	WorkflowGenerate: {
		{Field: "prompt", Kind: KindText,
			Prompt: "Please describe the image you want to create."},
		{Field: "control_type", Kind: KindChoice, Keyboard: controlTypeRows,
			Prompt: "Select the generation method:"},
		{Field: "image", Kind: KindImage,
			Prompt: "Send the reference image that should guide the generation.",
			When:   func(f map[string]string) bool { return f["control_type"] == "control-based" }},
		{Field: "size", Kind: KindChoice, Keyboard: sizeRows,
			Prompt: "Select image dimensions:"},
		{Field: "style", Kind: KindChoice, Keyboard: styleRows,
			Prompt: "Select artistic style:"},
	},

	WorkflowGenerateV2: {
		{Field: "prompt", Kind: KindText,
			Prompt: "Please describe the image you want to create."},
		{Field: "aspect_ratio", Kind: KindChoice, Keyboard: aspectRows,
			Prompt: "Select the aspect ratio:"},
		{Field: "image", Kind: KindImage, Optional: true,
			Prompt: "Optionally send a starting image, or /skip to generate from the prompt alone."},
	},

	WorkflowUpscale: {
		{Field: "method", Kind: KindChoice, Keyboard: upscaleMethodRows,
			Prompt: "Select the upscaling method:"},
		{Field: "prompt", Kind: KindText,
			Prompt: "Describe the image. This guides the upscaler.",
			When:   func(f map[string]string) bool { return f["method"] != "fast" }},
		{Field: "style", Kind: KindChoice, Keyboard: styleRows,
			Prompt: "Select artistic style:",
			When:   func(f map[string]string) bool { return f["method"] == "creative" }},
		{Field: "image", Kind: KindImage,
			Prompt: "Send the image you want to upscale."},
		{Field: "format", Kind: KindChoice, Keyboard: outputFormatRows,
			Prompt: "Select the output format:"},
	},

	WorkflowReimagine: {
		{Field: "method", Kind: KindChoice, Keyboard: reimagineMethodRows,
			Prompt: "Use the image's structure, or treat it as a sketch?"},
		{Field: "image", Kind: KindImage,
			Prompt: "Send the image to reimagine."},
		{Field: "style", Kind: KindChoice, Keyboard: styleRows,
			Prompt: "Select artistic style:"},
		{Field: "prompt", Kind: KindText,
			Prompt: "Describe what the reimagined image should look like."},
	},

	WorkflowOutpaint: {
		{Field: "image", Kind: KindImage,
			Prompt: "Send the image you want to extend."},
		{Field: "aspect_ratio", Kind: KindChoice, Keyboard: aspectRows,
			Prompt: "Select the target aspect ratio:"},
		{Field: "position", Kind: KindChoice, Keyboard: positionRows,
			Optional: true, SkipValue: "auto",
			Prompt: "Where should the original image sit in the extended frame?"},
		{Field: "prompt", Kind: KindText, Optional: true,
			Prompt: "Optionally describe what should fill the new space, or /skip."},
	},

	WorkflowErase: {
		{Field: "image", Kind: KindImage,
			Prompt: "Send the image to edit."},
		{Field: "mask", Kind: KindImage,
			Prompt: "Send a mask image. White areas will be erased."},
	},

	WorkflowInpaint: {
		{Field: "image", Kind: KindImage,
			Prompt: "Send the image to edit."},
		{Field: "mask", Kind: KindImage,
			Prompt: "Send a mask image. White areas will be repainted."},
		{Field: "prompt", Kind: KindText,
			Prompt: "Describe what should appear in the masked area."},
	},

	WorkflowSearchReplace: {
		{Field: "image", Kind: KindImage,
			Prompt: "Send the image to edit."},
		{Field: "search_prompt", Kind: KindText,
			Prompt: "Describe the object to find and replace."},
		{Field: "replace_prompt", Kind: KindText,
			Prompt: "Describe what it should be replaced with."},
	},

	WorkflowWatermark: {
		{Field: "state", Kind: KindChoice, Keyboard: watermarkRows,
			Prompt: "Select the watermark state:"},
	},
}

// Steps returns the step table for a workflow, nil if unknown.
func Steps(w Workflow) []Step {
	return workflowSteps[w]
}

var completionNotes = map[Workflow]string{
	WorkflowGenerate:      "Generating your image. This may take a moment...",
	WorkflowGenerateV2:    "Generating your image. This may take a moment...",
	WorkflowUpscale:       "Upscaling your image. This may take a moment...",
	WorkflowReimagine:     "Reimagining your image. This may take a moment...",
	WorkflowOutpaint:      "Extending your image. This may take a moment...",
	WorkflowErase:         "Erasing the selected areas. This may take a moment...",
	WorkflowInpaint:       "Inpainting your image. This may take a moment...",
	WorkflowSearchReplace: "Replacing the object in your image. This may take a moment...",
}

// CanonLabel maps a keyboard label to its stored value.
func CanonLabel(label string) string {
	if label == skipAutoLabel {
		return "auto"
	}
	return strings.ReplaceAll(strings.ToLower(label), " ", "-")
}

// canonical resolves user input against the step's keyboard. Both the
// display label and the canonical value are accepted, case
// insensitively.
func (s *Step) canonical(choice string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(choice))
	for _, row := range s.Keyboard {
		for _, label := range row {
			canon := CanonLabel(label)
			if want == strings.ToLower(label) || want == canon {
				return canon, true
			}
		}
	}
	return "", false
}
