// Package geometry converts absolute pixel bounds into fractional
// coordinates anchored to a target's reference resolution, enabling
// cross-density comparison. Normalization is a pure function: no clamping,
// no rounding policy beyond float64 arithmetic. Out-of-bounds fractions
// (scrolled or partially offscreen elements) are legitimate data and are
// preserved as-is.
package geometry

import (
	"math"

	"uiparity/internal/uitree"
)

// Resolution is a reference frame in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FracRect is a bounding box expressed as fractions of the reference frame.
type FracRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NormNode mirrors uitree.Node with fractional bounds.
type NormNode struct {
	Path      []int      `json:"path"`
	Kind      uitree.Kind `json:"kind"`
	RawKind   string     `json:"raw_kind"`
	Text      string     `json:"text,omitempty"`
	Bounds    FracRect   `json:"bounds"`
	Focused   bool       `json:"focused,omitempty"`
	Focusable bool       `json:"focusable,omitempty"`
	ScreenTag string     `json:"screen_tag,omitempty"`
	Children  []*NormNode `json:"children,omitempty"`
}

// PathString renders the path the same way uitree does.
func (n *NormNode) PathString() string {
	tmp := uitree.Node{Path: n.Path}
	return tmp.PathString()
}

// Walk visits the node and all descendants pre-order.
func (n *NormNode) Walk(visit func(*NormNode)) {
	visit(n)
	for _, c := range n.Children {
		c.Walk(visit)
	}
}

// FocusedNode returns the focused node, or nil.
func (n *NormNode) FocusedNode() *NormNode {
	var found *NormNode
	n.Walk(func(node *NormNode) {
		if node.Focused && found == nil {
			found = node
		}
	})
	return found
}

// Normalize converts a pixel tree into fractional coordinates. The input
// tree is not mutated.
func Normalize(root *uitree.Node, res Resolution) *NormNode {
	w := float64(res.Width)
	h := float64(res.Height)
	return normalize(root, w, h)
}

func normalize(n *uitree.Node, w, h float64) *NormNode {
	out := &NormNode{
		Path:      append([]int(nil), n.Path...),
		Kind:      n.Kind,
		RawKind:   n.RawKind,
		Text:      n.Text,
		Focused:   n.Focused,
		Focusable: n.Focusable,
		ScreenTag: n.ScreenTag,
		Bounds: FracRect{
			X:      float64(n.Bounds.X) / w,
			Y:      float64(n.Bounds.Y) / h,
			Width:  float64(n.Bounds.Width) / w,
			Height: float64(n.Bounds.Height) / h,
		},
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, normalize(c, w, h))
	}
	return out
}

// Denormalize is the inverse of Normalize, back to pixel bounds. Used for
// round-trip verification and report rendering in device coordinates.
func Denormalize(root *NormNode, res Resolution) *uitree.Node {
	w := float64(res.Width)
	h := float64(res.Height)
	return denormalize(root, w, h)
}

func denormalize(n *NormNode, w, h float64) *uitree.Node {
	out := &uitree.Node{
		Path:      append([]int(nil), n.Path...),
		Kind:      n.Kind,
		RawKind:   n.RawKind,
		Text:      n.Text,
		Focused:   n.Focused,
		Focusable: n.Focusable,
		ScreenTag: n.ScreenTag,
		Bounds: uitree.Rect{
			X:      int(math.Round(n.Bounds.X * w)),
			Y:      int(math.Round(n.Bounds.Y * h)),
			Width:  int(math.Round(n.Bounds.Width * w)),
			Height: int(math.Round(n.Bounds.Height * h)),
		},
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, denormalize(c, w, h))
	}
	return out
}
