package uitree

import (
	"encoding/json"
	"fmt"
	"strings"

	"uiparity/internal/logging"
)

// jsonNode mirrors one element from the CDP walker dump.
type jsonNode struct {
	Tag       string     `json:"tag"`
	Role      string     `json:"role"`
	ScreenTag string     `json:"screenTag"`
	Text      string     `json:"text"`
	X         *int       `json:"x"`
	Y         *int       `json:"y"`
	Width     *int       `json:"width"`
	Height    *int       `json:"height"`
	Focused   bool       `json:"focused"`
	Focusable bool       `json:"focusable"`
	Children  []jsonNode `json:"children"`
}

// jsonDump is the envelope the rod adapter produces.
type jsonDump struct {
	Root *jsonNode `json:"root"`
}

// ExtractJSON parses the ported target's walker dump into a typed tree.
// Accepts either the {root: ...} envelope or a bare node.
func ExtractJSON(raw []byte) (*Node, error) {
	timer := logging.StartTimer(logging.CategoryExtract, "ExtractJSON")
	defer timer.Stop()

	var dump jsonDump
	if err := json.Unmarshal(raw, &dump); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDump, err)
	}
	root := dump.Root
	if root == nil {
		var bare jsonNode
		if err := json.Unmarshal(raw, &bare); err != nil || bare.Tag == "" {
			return nil, fmt.Errorf("%w: dump has no root node", ErrMalformedDump)
		}
		root = &bare
	}

	converted, err := convertJSON(root)
	if err != nil {
		return nil, err
	}
	if root.ScreenTag != "" {
		converted.ScreenTag = root.ScreenTag
	}
	return finalize(converted)
}

func convertJSON(j *jsonNode) (*Node, error) {
	if j.Tag == "" {
		return nil, fmt.Errorf("%w: node missing tag", ErrMalformedDump)
	}
	if j.X == nil || j.Y == nil || j.Width == nil || j.Height == nil {
		return nil, fmt.Errorf("%w: node %s missing geometry", ErrMalformedDump, j.Tag)
	}

	n := &Node{
		Kind:      jsonKind(j),
		RawKind:   j.Tag,
		Text:      j.Text,
		Bounds:    Rect{X: *j.X, Y: *j.Y, Width: *j.Width, Height: *j.Height},
		Focused:   j.Focused,
		Focusable: j.Focusable,
	}
	for i := range j.Children {
		child, err := convertJSON(&j.Children[i])
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

// jsonKind canonicalizes a DOM element. ARIA role wins over tag name since
// React Native web renders most components as DIVs with explicit roles.
func jsonKind(j *jsonNode) Kind {
	switch strings.ToLower(j.Role) {
	case "text", "heading", "paragraph":
		return KindText
	case "img", "image":
		return KindImage
	case "button", "link", "menuitem":
		return KindFocusable
	}
	switch strings.ToUpper(j.Tag) {
	case "SPAN", "P", "H1", "H2", "H3", "H4", "H5", "H6", "LABEL":
		return KindText
	case "IMG", "SVG", "PICTURE", "VIDEO":
		return KindImage
	case "BUTTON", "A", "INPUT":
		return KindFocusable
	}
	if j.Focusable {
		return KindFocusable
	}
	return KindContainer
}
