package compare

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uiparity/internal/config"
	"uiparity/internal/geometry"
	"uiparity/internal/uitree"
)

func testComparator() *Comparator {
	return New(config.DefaultConfig().Compare)
}

// node builds a NormNode leaf for matcher tests.
func node(path []int, kind uitree.Kind, text string, x, y, w, h float64, focused bool) *geometry.NormNode {
	return &geometry.NormNode{
		Path:    path,
		Kind:    kind,
		RawKind: string(kind),
		Text:    text,
		Bounds:  geometry.FracRect{X: x, Y: y, Width: w, Height: h},
		Focused: focused,
	}
}

func root(children ...*geometry.NormNode) *geometry.NormNode {
	return &geometry.NormNode{
		Kind:     uitree.KindContainer,
		RawKind:  "container",
		Bounds:   geometry.FracRect{X: 0, Y: 0, Width: 1, Height: 1},
		Children: children,
	}
}

func TestMatchedWithinOkTolerance(t *testing.T) {
	// Spec example: near-identical "Play" text nodes match at severity ok.
	native := root(node([]int{0}, uitree.KindText, "Play", 0.10, 0.20, 0.05, 0.03, false))
	ported := root(node([]int{0}, uitree.KindText, "Play", 0.101, 0.199, 0.051, 0.031, false))

	deltas := testComparator().Compare(native, ported)
	require.Len(t, deltas, 2) // root pair + Play pair

	var play *ElementDelta
	for i := range deltas {
		if deltas[i].Text == "Play" {
			play = &deltas[i]
		}
	}
	require.NotNil(t, play, "Play pair not matched")
	assert.Equal(t, ClassMatched, play.Class)
	assert.Equal(t, SeverityOk, play.Severity)
	assert.True(t, play.FocusAgrees)
	assert.InDelta(t, 0.001, play.DX, 1e-9)
}

func TestMissingElementReportedOnce(t *testing.T) {
	// Spec example: a native focusable "Search" with no ported counterpart
	// yields exactly one Missing fail and no Extra misfire.
	native := root(
		node([]int{0}, uitree.KindText, "Play", 0.1, 0.2, 0.05, 0.03, false),
		node([]int{1}, uitree.KindFocusable, "Search", 0.1, 0.3, 0.05, 0.03, false),
	)
	ported := root(node([]int{0}, uitree.KindText, "Play", 0.1, 0.2, 0.05, 0.03, false))

	deltas := testComparator().Compare(native, ported)

	var missing, extra []ElementDelta
	for _, d := range deltas {
		switch d.Class {
		case ClassMissing:
			missing = append(missing, d)
		case ClassExtra:
			extra = append(extra, d)
		}
	}
	require.Len(t, missing, 1)
	assert.Equal(t, "Search", missing[0].Text)
	assert.Equal(t, SeverityFail, missing[0].Severity)
	assert.Empty(t, extra)
}

func TestCompleteness(t *testing.T) {
	// Every node of either tree appears in exactly one delta.
	native := root(
		node([]int{0}, uitree.KindText, "A", 0.1, 0.1, 0.1, 0.1, false),
		node([]int{1}, uitree.KindImage, "", 0.3, 0.1, 0.1, 0.1, false),
		node([]int{2}, uitree.KindFocusable, "B", 0.5, 0.1, 0.1, 0.1, true),
	)
	ported := root(
		node([]int{0}, uitree.KindText, "A", 0.1, 0.1, 0.1, 0.1, false),
		node([]int{1}, uitree.KindFocusable, "C", 0.5, 0.5, 0.1, 0.1, true),
	)

	deltas := testComparator().Compare(native, ported)

	nativeCount, portedCount := 0, 0
	for _, d := range deltas {
		switch d.Class {
		case ClassMatched:
			nativeCount++
			portedCount++
		case ClassMissing:
			nativeCount++
		case ClassExtra:
			portedCount++
		}
	}
	assert.Equal(t, 4, nativeCount, "native nodes accounted for")
	assert.Equal(t, 3, portedCount, "ported nodes accounted for")
}

func TestIdempotence(t *testing.T) {
	native := root(
		node([]int{0}, uitree.KindText, "Play", 0.1, 0.2, 0.05, 0.03, true),
		node([]int{1}, uitree.KindImage, "", 0.3, 0.1, 0.2, 0.2, false),
	)
	ported := root(
		node([]int{0}, uitree.KindText, "Play", 0.12, 0.2, 0.05, 0.03, false),
		node([]int{1}, uitree.KindImage, "", 0.31, 0.1, 0.2, 0.2, false),
	)

	c := testComparator()
	first := c.Compare(native, ported)
	second := c.Compare(native, ported)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("comparator not idempotent (-first +second):\n%s", diff)
	}
}

// pairKey normalizes a matched delta to a role-agnostic pair identity.
func pairKey(nativePath, portedPath string) [2]string {
	return [2]string{nativePath, portedPath}
}

func TestMatcherSymmetry(t *testing.T) {
	native := root(
		node([]int{0}, uitree.KindText, "One", 0.1, 0.1, 0.1, 0.05, false),
		node([]int{1}, uitree.KindText, "Two", 0.1, 0.3, 0.1, 0.05, true),
		node([]int{2}, uitree.KindImage, "", 0.5, 0.1, 0.2, 0.2, false),
	)
	ported := root(
		node([]int{0}, uitree.KindText, "Two", 0.1, 0.31, 0.1, 0.05, true),
		node([]int{1}, uitree.KindText, "One", 0.11, 0.1, 0.1, 0.05, false),
		node([]int{2}, uitree.KindImage, "", 0.52, 0.1, 0.2, 0.2, false),
	)

	c := testComparator()
	forward := c.Compare(native, ported)
	reverse := c.Compare(ported, native)

	var fwdPairs, revPairs [][2]string
	for _, d := range forward {
		if d.Class == ClassMatched {
			fwdPairs = append(fwdPairs, pairKey(d.NativePath, d.PortedPath))
		}
	}
	for _, d := range reverse {
		if d.Class == ClassMatched {
			// Swap roles back for comparison.
			revPairs = append(revPairs, pairKey(d.PortedPath, d.NativePath))
		}
	}
	sort.Slice(fwdPairs, func(i, j int) bool { return fwdPairs[i][0] < fwdPairs[j][0] })
	sort.Slice(revPairs, func(i, j int) bool { return revPairs[i][0] < revPairs[j][0] })
	assert.Equal(t, fwdPairs, revPairs, "matched pairs must not depend on argument order")
}

func TestSeverityMonotonicity(t *testing.T) {
	c := testComparator()
	prev := SeverityOk
	for _, dx := range []float64{0.0, 0.005, 0.01, 0.02, 0.03, 0.05, 0.2} {
		native := root(node([]int{0}, uitree.KindText, "X", 0.1, 0.1, 0.1, 0.05, false))
		ported := root(node([]int{0}, uitree.KindText, "X", 0.1+dx, 0.1, 0.1, 0.05, false))
		deltas := c.Compare(native, ported)

		var sev Severity
		for _, d := range deltas {
			if d.Text == "X" {
				sev = d.Severity
			}
		}
		if sev < prev {
			t.Errorf("severity decreased from %v to %v at dx=%v", prev, sev, dx)
		}
		prev = sev
	}
	assert.Equal(t, SeverityFail, prev, "largest delta should be fail")
}

func TestFocusDisagreementAtLeastWarn(t *testing.T) {
	// Pixel-perfect geometry, mismatched focus: at least warn.
	native := root(node([]int{0}, uitree.KindText, "Play", 0.1, 0.2, 0.05, 0.03, true))
	ported := root(node([]int{0}, uitree.KindText, "Play", 0.1, 0.2, 0.05, 0.03, false))

	deltas := testComparator().Compare(native, ported)
	for _, d := range deltas {
		if d.Text == "Play" {
			assert.False(t, d.FocusAgrees)
			assert.GreaterOrEqual(t, d.Severity, SeverityWarn)
			return
		}
	}
	t.Fatal("Play pair not found")
}

func TestKindEquivalenceMap(t *testing.T) {
	cfg := config.DefaultConfig().Compare
	cfg.KindEquivalence["android.widget.Button"] = "focusable-other"
	cfg.KindEquivalence["BUTTON"] = "focusable-other"
	c := New(cfg)

	n := node([]int{0}, uitree.KindFocusable, "Go", 0.1, 0.1, 0.1, 0.05, false)
	n.RawKind = "android.widget.Button"
	p := node([]int{0}, uitree.KindFocusable, "Go", 0.1, 0.1, 0.1, 0.05, false)
	p.RawKind = "BUTTON"

	deltas := c.Compare(root(n), root(p))
	matched := 0
	for _, d := range deltas {
		if d.Class == ClassMatched && d.Text == "Go" {
			matched++
		}
	}
	assert.Equal(t, 1, matched, "equivalent raw kinds must match")
}

func TestAmbiguousTieAnnotated(t *testing.T) {
	// Two ported candidates at identical distance from one native node:
	// the earlier sibling wins and the match carries the annotation.
	// 0.375 and 0.625 are exactly representable, so both distances from
	// 0.5 are the same float64.
	native := root(node([]int{0}, uitree.KindImage, "", 0.5, 0.5, 0.1, 0.1, false))
	ported := root(
		node([]int{0}, uitree.KindImage, "", 0.375, 0.5, 0.1, 0.1, false),
		node([]int{1}, uitree.KindImage, "", 0.625, 0.5, 0.1, 0.1, false),
	)

	deltas := testComparator().Compare(native, ported)
	for _, d := range deltas {
		if d.Class == ClassMatched && d.Kind == uitree.KindImage {
			assert.Equal(t, "0", d.PortedPath, "earlier sibling index must win the tie")
			assert.True(t, d.Ambiguous, "tie-broken match must be annotated")
			assert.GreaterOrEqual(t, d.Severity, SeverityWarn)
			return
		}
	}
	t.Fatal("image pair not found")
}

func TestTextMismatchBlocksTextMatch(t *testing.T) {
	native := root(node([]int{0}, uitree.KindText, "Play", 0.1, 0.2, 0.05, 0.03, false))
	ported := root(node([]int{0}, uitree.KindText, "Pause", 0.1, 0.2, 0.05, 0.03, false))

	deltas := testComparator().Compare(native, ported)
	var classes []MatchClass
	for _, d := range deltas {
		if d.Kind == uitree.KindText {
			classes = append(classes, d.Class)
		}
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	assert.Equal(t, []MatchClass{ClassExtra, ClassMissing}, classes)
}

func TestMaxSeverity(t *testing.T) {
	assert.Equal(t, SeverityOk, MaxSeverity(nil))
	deltas := []ElementDelta{
		{Severity: SeverityOk},
		{Severity: SeverityWarn},
		{Severity: SeverityOk},
	}
	assert.Equal(t, SeverityWarn, MaxSeverity(deltas))
	deltas = append(deltas, ElementDelta{Severity: SeverityFail})
	assert.Equal(t, SeverityFail, MaxSeverity(deltas))
}
