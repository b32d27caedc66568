// Package uitree parses raw UI hierarchy dumps into a normalized tree of
// typed nodes. Two dump formats are supported: uiautomator XML from the
// native Android target and the JSON walker dump from the ported web
// target. Extraction is all-or-nothing: a dump missing required geometry
// or hierarchy yields ErrMalformedDump, never a partial tree.
package uitree

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedDump marks a dump that cannot be extracted.
var ErrMalformedDump = errors.New("malformed UI dump")

// Kind is the canonical element kind shared across platforms.
type Kind string

const (
	KindContainer Kind = "container"
	KindText      Kind = "text"
	KindImage     Kind = "image"
	KindFocusable Kind = "focusable-other"
)

// Rect is a bounding box in pixels.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Node is one rendered element. Path is the ordered list of sibling
// indices from the root; it is stable only within a single dump and is
// never used to match nodes across targets.
type Node struct {
	Path      []int   `json:"path"`
	Kind      Kind    `json:"kind"`
	RawKind   string  `json:"raw_kind"` // platform class/tag before canonicalization
	Text      string  `json:"text,omitempty"`
	Bounds    Rect    `json:"bounds"`
	Focused   bool    `json:"focused,omitempty"`
	Focusable bool    `json:"focusable,omitempty"`
	ScreenTag string  `json:"screen_tag,omitempty"` // root only, declared test hook
	Children  []*Node `json:"children,omitempty"`
}

// PathString renders a path as "0.2.1" for report output. The root is "root".
func (n *Node) PathString() string {
	if len(n.Path) == 0 {
		return "root"
	}
	parts := make([]string, len(n.Path))
	for i, idx := range n.Path {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ".")
}

// Walk visits the node and all descendants pre-order.
func (n *Node) Walk(visit func(*Node)) {
	visit(n)
	for _, c := range n.Children {
		c.Walk(visit)
	}
}

// Count returns the number of nodes in the subtree.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(*Node) { total++ })
	return total
}

// FocusedNode returns the focused node, or nil. Single-focus D-pad
// navigation guarantees at most one; extraction enforces that.
func (n *Node) FocusedNode() *Node {
	var found *Node
	n.Walk(func(node *Node) {
		if node.Focused && found == nil {
			found = node
		}
	})
	return found
}

// assignPaths numbers every node by its post-drop sibling index.
func assignPaths(n *Node, path []int) {
	n.Path = append([]int(nil), path...)
	for i, c := range n.Children {
		assignPaths(c, append(path, i))
	}
}

// validateFocus enforces the single-focus invariant. Zero focused nodes is
// legal (mid-transition capture, surfaced upstream as unsettled); two or
// more means the dump is inconsistent.
func validateFocus(root *Node) error {
	focused := 0
	root.Walk(func(n *Node) {
		if n.Focused {
			focused++
		}
	})
	if focused > 1 {
		return fmt.Errorf("%w: %d focused nodes, expected at most one", ErrMalformedDump, focused)
	}
	return nil
}

// dropZeroArea prunes nodes with zero width or height. They cannot be
// visually verified, and by the containment invariant a zero-area parent
// cannot hold visible children, so the subtree goes with it.
func dropZeroArea(n *Node) *Node {
	if n.Bounds.Width <= 0 || n.Bounds.Height <= 0 {
		return nil
	}
	kept := n.Children[:0]
	for _, c := range n.Children {
		if pruned := dropZeroArea(c); pruned != nil {
			kept = append(kept, pruned)
		}
	}
	n.Children = kept
	return n
}

// finalize applies the shared post-parse pipeline.
func finalize(root *Node) (*Node, error) {
	root = dropZeroArea(root)
	if root == nil {
		return nil, fmt.Errorf("%w: root element has zero area", ErrMalformedDump)
	}
	if err := validateFocus(root); err != nil {
		return nil, err
	}
	assignPaths(root, nil)
	return root, nil
}
