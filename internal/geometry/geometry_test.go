package geometry

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"uiparity/internal/uitree"
)

func sampleTree() *uitree.Node {
	return &uitree.Node{
		Kind:    uitree.KindContainer,
		RawKind: "android.widget.FrameLayout",
		Bounds:  uitree.Rect{X: 0, Y: 0, Width: 1920, Height: 1080},
		Children: []*uitree.Node{
			{
				Path:      []int{0},
				Kind:      uitree.KindText,
				RawKind:   "android.widget.TextView",
				Text:      "Play",
				Bounds:    uitree.Rect{X: 192, Y: 216, Width: 96, Height: 32},
				Focused:   true,
				Focusable: true,
			},
		},
	}
}

func TestNormalizeFractions(t *testing.T) {
	res := Resolution{Width: 1920, Height: 1080}
	norm := Normalize(sampleTree(), res)

	if norm.Bounds.Width != 1.0 || norm.Bounds.Height != 1.0 {
		t.Errorf("root should span the full frame, got %+v", norm.Bounds)
	}
	child := norm.Children[0]
	want := FracRect{X: 0.1, Y: 0.2, Width: 0.05, Height: 32.0 / 1080.0}
	if math.Abs(child.Bounds.X-want.X) > 1e-9 ||
		math.Abs(child.Bounds.Y-want.Y) > 1e-9 ||
		math.Abs(child.Bounds.Width-want.Width) > 1e-9 ||
		math.Abs(child.Bounds.Height-want.Height) > 1e-9 {
		t.Errorf("child bounds = %+v, want %+v", child.Bounds, want)
	}
	if !child.Focused {
		t.Error("focus flag lost in normalization")
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	tree := sampleTree()
	before := tree.Children[0].Bounds
	_ = Normalize(tree, Resolution{Width: 1920, Height: 1080})
	if tree.Children[0].Bounds != before {
		t.Error("Normalize mutated the input tree")
	}
}

func TestRoundTrip(t *testing.T) {
	res := Resolution{Width: 1920, Height: 1080}
	tree := sampleTree()
	back := Denormalize(Normalize(tree, res), res)

	var origBounds, backBounds []uitree.Rect
	tree.Walk(func(n *uitree.Node) { origBounds = append(origBounds, n.Bounds) })
	back.Walk(func(n *uitree.Node) { backBounds = append(backBounds, n.Bounds) })
	if diff := cmp.Diff(origBounds, backBounds); diff != "" {
		t.Errorf("round trip bounds mismatch (-orig +back):\n%s", diff)
	}
}

func TestRoundTripAcrossDensities(t *testing.T) {
	// Denormalizing into a different frame scales proportionally.
	tree := sampleTree()
	norm := Normalize(tree, Resolution{Width: 1920, Height: 1080})
	scaled := Denormalize(norm, Resolution{Width: 1280, Height: 720})

	child := scaled.Children[0]
	want := uitree.Rect{X: 128, Y: 144, Width: 64, Height: 21}
	if child.Bounds != want {
		t.Errorf("scaled bounds = %+v, want %+v", child.Bounds, want)
	}
}

func TestOffscreenBoundsNotClamped(t *testing.T) {
	tree := &uitree.Node{
		Kind:   uitree.KindContainer,
		Bounds: uitree.Rect{X: -320, Y: 0, Width: 2240, Height: 1080},
	}
	norm := Normalize(tree, Resolution{Width: 1920, Height: 1080})
	if norm.Bounds.X >= 0 {
		t.Errorf("negative fraction clamped: %v", norm.Bounds.X)
	}
	if norm.Bounds.Width <= 1.0 {
		t.Errorf("over-width fraction clamped: %v", norm.Bounds.Width)
	}
	// Round trip still holds.
	back := Denormalize(norm, Resolution{Width: 1920, Height: 1080})
	if back.Bounds != tree.Bounds {
		t.Errorf("offscreen round trip = %+v, want %+v", back.Bounds, tree.Bounds)
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	res := Resolution{Width: 1920, Height: 1080}
	a := Normalize(sampleTree(), res)
	b := Normalize(sampleTree(), res)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("identical input produced different output (-a +b):\n%s", diff)
	}
}
