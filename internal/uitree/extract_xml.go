package uitree

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"uiparity/internal/logging"
)

// xmlNode mirrors one uiautomator hierarchy element.
type xmlNode struct {
	Class       string    `xml:"class,attr"`
	Text        string    `xml:"text,attr"`
	Bounds      string    `xml:"bounds,attr"`
	Focused     string    `xml:"focused,attr"`
	Focusable   string    `xml:"focusable,attr"`
	Clickable   string    `xml:"clickable,attr"`
	ResourceID  string    `xml:"resource-id,attr"`
	ContentDesc string    `xml:"content-desc,attr"`
	Children    []xmlNode `xml:"node"`
}

type xmlHierarchy struct {
	XMLName xml.Name  `xml:"hierarchy"`
	Nodes   []xmlNode `xml:"node"`
}

// ExtractXML parses a uiautomator dump into a typed tree.
func ExtractXML(raw []byte) (*Node, error) {
	timer := logging.StartTimer(logging.CategoryExtract, "ExtractXML")
	defer timer.Stop()

	var h xmlHierarchy
	if err := xml.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDump, err)
	}
	if len(h.Nodes) == 0 {
		return nil, fmt.Errorf("%w: hierarchy has no root node", ErrMalformedDump)
	}

	root, err := convertXML(&h.Nodes[0])
	if err != nil {
		return nil, err
	}
	// The root view's content description doubles as the declared
	// screen-tag hook when the app under test exposes one.
	if h.Nodes[0].ContentDesc != "" {
		root.ScreenTag = h.Nodes[0].ContentDesc
	}
	return finalize(root)
}

func convertXML(x *xmlNode) (*Node, error) {
	if x.Class == "" {
		return nil, fmt.Errorf("%w: node missing class attribute", ErrMalformedDump)
	}
	bounds, err := parseBounds(x.Bounds)
	if err != nil {
		return nil, err
	}

	n := &Node{
		Kind:      xmlKind(x),
		RawKind:   x.Class,
		Text:      x.Text,
		Bounds:    bounds,
		Focused:   x.Focused == "true",
		Focusable: x.Focusable == "true" || x.Clickable == "true",
	}
	for i := range x.Children {
		child, err := convertXML(&x.Children[i])
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

// xmlKind canonicalizes an Android widget class. Suffix matching copes
// with both framework and androidx class names.
func xmlKind(x *xmlNode) Kind {
	switch {
	case strings.HasSuffix(x.Class, "TextView"), strings.HasSuffix(x.Class, "EditText"):
		return KindText
	case strings.HasSuffix(x.Class, "ImageView"), strings.HasSuffix(x.Class, "ImageButton"):
		return KindImage
	case x.Focusable == "true" || x.Clickable == "true":
		return KindFocusable
	default:
		return KindContainer
	}
}

// parseBounds parses uiautomator's "[x1,y1][x2,y2]" format.
func parseBounds(s string) (Rect, error) {
	if s == "" {
		return Rect{}, fmt.Errorf("%w: node missing bounds attribute", ErrMalformedDump)
	}
	trimmed := strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	parts := strings.Split(trimmed, "][")
	if len(parts) != 2 {
		return Rect{}, fmt.Errorf("%w: bad bounds %q", ErrMalformedDump, s)
	}
	p1, err1 := parsePoint(parts[0])
	p2, err2 := parsePoint(parts[1])
	if err1 != nil || err2 != nil {
		return Rect{}, fmt.Errorf("%w: bad bounds %q", ErrMalformedDump, s)
	}
	return Rect{X: p1[0], Y: p1[1], Width: p2[0] - p1[0], Height: p2[1] - p1[1]}, nil
}

func parsePoint(s string) ([2]int, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return [2]int{}, fmt.Errorf("bad point %q", s)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return [2]int{}, err
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return [2]int{}, err
	}
	return [2]int{x, y}, nil
}
