package processor

import (
	"testing"
)

func TestBuildTransform(t *testing.T) {
	transform, err := BuildTransform(testBounds, 10, 10, 6)
	if err != nil {
		t.Fatalf("BuildTransform failed: %v", err)
	}

	expected := AffineTransform{-47.931, 0.0004, 0, -15.779, 0, -0.0004}
	if transform != expected {
		t.Errorf("expecting %v, actual: %v", expected, transform)
	}

	x, y := transform.Apply(10, 10)
	if x != -47.931+10*0.0004 || y != -15.779-10*0.0004 {
		t.Errorf("unexpected lower right corner: %v, %v", x, y)
	}

	transform, err = BuildTransform(Bounds{{0, 0}, {1, 1}}, 3, 7, 2)
	if err != nil {
		t.Fatalf("BuildTransform failed: %v", err)
	}
	if transform[1] != 0.33 || transform[5] != -0.14 {
		t.Errorf("pixel sizes are not rounded: %v", transform)
	}
}

func TestBuildTransformEmptyWindow(t *testing.T) {
	if _, err := BuildTransform(testBounds, 0, 10, 6); err != ErrEmptyWindow {
		t.Errorf("expecting empty window error for zero width, actual: %v", err)
	}
	if _, err := BuildTransform(testBounds, 10, 0, 6); err != ErrEmptyWindow {
		t.Errorf("expecting empty window error for zero height, actual: %v", err)
	}
}
