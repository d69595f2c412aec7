package stability

import "testing"

func TestOutpaintExpansionWidening(t *testing.T) {
	// Square to 16:9 grows horizontally by 796px
	left, right, up, down, err := outpaintExpansion(1024, 1024, "16:9", "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up != 0 || down != 0 {
		t.Errorf("widening must not grow vertically, got up=%d down=%d", up, down)
	}
	if left+right != 796 {
		t.Errorf("left+right = %d, want 796", left+right)
	}
	if left != 398 || right != 398 {
		t.Errorf("auto should split evenly, got %d/%d", left, right)
	}
}

func TestOutpaintExpansionAnchoring(t *testing.T) {
	// Original anchored top-left: all growth goes right
	left, right, _, _, err := outpaintExpansion(1024, 1024, "16:9", "top-left")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if left != 0 || right != 796 {
		t.Errorf("left anchor should push growth right, got %d/%d", left, right)
	}

	// Anchored bottom-right: all growth goes left
	left, right, _, _, _ = outpaintExpansion(1024, 1024, "16:9", "bottom-right")
	if left != 796 || right != 0 {
		t.Errorf("right anchor should push growth left, got %d/%d", left, right)
	}
}

func TestOutpaintExpansionHeightening(t *testing.T) {
	// Square to 9:16 grows vertically; top anchor pushes growth down
	_, _, up, down, err := outpaintExpansion(1024, 1024, "9:16", "top-center")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if up != 0 || down != 796 {
		t.Errorf("top anchor should push growth down, got up=%d down=%d", up, down)
	}
}

func TestOutpaintExpansionClamped(t *testing.T) {
	left, right, _, _, err := outpaintExpansion(2048, 2048, "21:9", "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if left > maxExpansionPerSide || right > maxExpansionPerSide {
		t.Errorf("expansion exceeds per-side limit: %d/%d", left, right)
	}
	if left != maxExpansionPerSide || right != maxExpansionPerSide {
		t.Errorf("large growth should clamp to the limit, got %d/%d", left, right)
	}
}

func TestOutpaintExpansionNoop(t *testing.T) {
	left, right, up, down, err := outpaintExpansion(1600, 900, "16:9", "auto")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if left+right+up+down != 0 {
		t.Errorf("matching aspect should not grow, got %d %d %d %d", left, right, up, down)
	}
}

func TestBudgetExpansionReducesOversizedGrowth(t *testing.T) {
	// 1024x1024 grown to 1820x1024 would exceed the pixel budget, so
	// both sides shrink by the same factor
	left, right, up, down := budgetExpansion(1024, 1024, 398, 398, 0, 0)
	if up != 0 || down != 0 {
		t.Errorf("vertical growth appeared: %d %d", up, down)
	}
	if left != 298 || right != 298 {
		t.Errorf("reduced growth = %d/%d, want 298/298", left, right)
	}
}

func TestBudgetExpansionKeepsInBudgetGrowth(t *testing.T) {
	left, right, up, down := budgetExpansion(512, 512, 100, 100, 0, 0)
	if left != 100 || right != 100 || up != 0 || down != 0 {
		t.Errorf("in-budget growth must pass through, got %d %d %d %d", left, right, up, down)
	}
}

func TestParseAspect(t *testing.T) {
	if a, b, err := parseAspect("21:9"); err != nil || a != 21 || b != 9 {
		t.Errorf("parseAspect(21:9) = %d,%d,%v", a, b, err)
	}
	for _, bad := range []string{"", "16", "16:", ":9", "a:b", "0:9", "-1:2"} {
		if _, _, err := parseAspect(bad); err == nil {
			t.Errorf("parseAspect(%q) should fail", bad)
		}
	}
}
