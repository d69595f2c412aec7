package session

import "testing"

func TestCanonLabel(t *testing.T) {
	cases := map[string]string{
		"Regular":         "regular",
		"Control-Based":   "control-based",
		"3D Model":        "3d-model",
		"Top Left":        "top-left",
		"Skip (Use Auto)": "auto",
		"16:9":            "16:9",
		"None":            "none",
	}
	for label, want := range cases {
		if got := CanonLabel(label); got != want {
			t.Errorf("CanonLabel(%q) = %q, want %q", label, got, want)
		}
	}
}

func TestStepCanonicalMatching(t *testing.T) {
	st := Step{Keyboard: positionRows}

	for _, input := range []string{"Top Left", "top left", "top-left", "TOP-LEFT"} {
		got, ok := st.canonical(input)
		if !ok || got != "top-left" {
			t.Errorf("canonical(%q) = %q, %v", input, got, ok)
		}
	}

	if got, ok := st.canonical("Skip (Use Auto)"); !ok || got != "auto" {
		t.Errorf("skip label = %q, %v", got, ok)
	}
	if _, ok := st.canonical("diagonal"); ok {
		t.Error("unlisted value should not match")
	}
}

func TestEveryWorkflowHasSteps(t *testing.T) {
	for _, w := range []Workflow{
		WorkflowGenerate, WorkflowGenerateV2, WorkflowUpscale,
		WorkflowReimagine, WorkflowOutpaint, WorkflowErase,
		WorkflowInpaint, WorkflowSearchReplace, WorkflowWatermark,
	} {
		steps := Steps(w)
		if len(steps) == 0 {
			t.Errorf("workflow %s has no steps", w)
			continue
		}
		for i, st := range steps {
			if st.Field == "" {
				t.Errorf("%s step %d has no field name", w, i)
			}
			if st.Kind == KindChoice && len(st.Keyboard) == 0 {
				t.Errorf("%s step %s is a choice without a keyboard", w, st.Field)
			}
		}
		// The first step can never be gated: a fresh record has no
		// fields for When to inspect.
		if steps[0].When != nil {
			t.Errorf("%s first step must be unconditional", w)
		}
	}
}
