// Package compare aligns two normalized UI trees from different targets
// and quantifies their divergence. Matching is greedy one-to-one
// assignment ordered by ascending weighted distance: UI tree siblings are
// typically already in a compatible visual order, so full bipartite
// assignment is not needed for tolerance-based verification.
package compare

import (
	"math"
	"sort"

	"uiparity/internal/config"
	"uiparity/internal/geometry"
	"uiparity/internal/logging"
	"uiparity/internal/uitree"
)

// MatchClass says which side(s) of the comparison a delta covers.
type MatchClass string

const (
	ClassMatched MatchClass = "matched"
	ClassMissing MatchClass = "missing" // present in native, absent in ported
	ClassExtra   MatchClass = "extra"   // present in ported, absent in native
)

// ElementDelta is the comparison result for one element. Every node of
// both input trees appears in exactly one delta.
type ElementDelta struct {
	Class MatchClass `json:"class"`

	// Identifying information so the element can be located without
	// re-running the capture.
	NativePath string      `json:"native_path,omitempty"`
	PortedPath string      `json:"ported_path,omitempty"`
	Kind       uitree.Kind `json:"kind"`
	Text       string      `json:"text,omitempty"`

	// Match quality and geometry deltas (matched pairs only), as
	// fractions of screen dimension, ported minus native.
	Confidence  float64 `json:"confidence,omitempty"`
	DX          float64 `json:"dx,omitempty"`
	DY          float64 `json:"dy,omitempty"`
	DWidth      float64 `json:"dwidth,omitempty"`
	DHeight     float64 `json:"dheight,omitempty"`
	FocusAgrees bool    `json:"focus_agrees"`

	Severity Severity `json:"severity"`
	// Ambiguous marks a match committed through an exact distance tie,
	// resolved by preferring the earlier sibling path. Recorded as a
	// warning annotation, never silently dropped.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// Comparator holds matcher configuration.
type Comparator struct {
	cfg config.CompareConfig
}

// New creates a comparator from configuration.
func New(cfg config.CompareConfig) *Comparator {
	return &Comparator{cfg: cfg}
}

// canonicalKind applies the configured equivalence map over both the raw
// platform kind and the extractor's canonical kind, raw first.
func (c *Comparator) canonicalKind(n *geometry.NormNode) uitree.Kind {
	if mapped, ok := c.cfg.KindEquivalence[n.RawKind]; ok {
		return uitree.Kind(mapped)
	}
	if mapped, ok := c.cfg.KindEquivalence[string(n.Kind)]; ok {
		return uitree.Kind(mapped)
	}
	return n.Kind
}

// candidate is one potential cross-target pairing.
type candidate struct {
	left, right *geometry.NormNode // left = first argument's node
	distance    float64
}

// Compare aligns two trees and returns one delta per node. The input
// trees are never mutated. Argument order is native, ported; the matched
// pair set is symmetric in the arguments.
func (c *Comparator) Compare(native, ported *geometry.NormNode) []ElementDelta {
	timer := logging.StartTimer(logging.CategoryCompare, "Compare")
	defer timer.Stop()

	var left, right []*geometry.NormNode
	native.Walk(func(n *geometry.NormNode) { left = append(left, n) })
	ported.Walk(func(n *geometry.NormNode) { right = append(right, n) })

	candidates := c.buildCandidates(left, right)

	// Greedy one-to-one assignment: lowest distance commits first. Exact
	// ties are ordered by path so the result is deterministic, and the
	// winning pair is annotated as ambiguous.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		if cmp := comparePaths(candidates[i].left.Path, candidates[j].left.Path); cmp != 0 {
			return cmp < 0
		}
		return comparePaths(candidates[i].right.Path, candidates[j].right.Path) < 0
	})

	claimedLeft := make(map[*geometry.NormNode]bool, len(left))
	claimedRight := make(map[*geometry.NormNode]bool, len(right))
	var deltas []ElementDelta

	for i, cand := range candidates {
		if claimedLeft[cand.left] || claimedRight[cand.right] {
			continue
		}
		ambiguous := c.tiedWithNext(candidates, i, claimedLeft, claimedRight)
		claimedLeft[cand.left] = true
		claimedRight[cand.right] = true
		deltas = append(deltas, c.matchedDelta(cand, ambiguous))
	}

	// Unmatched nodes: Missing on the native side, Extra on the ported.
	for _, n := range left {
		if !claimedLeft[n] {
			deltas = append(deltas, ElementDelta{
				Class:      ClassMissing,
				NativePath: n.PathString(),
				Kind:       c.canonicalKind(n),
				Text:       snippet(n.Text),
				Severity:   SeverityFail,
			})
		}
	}
	for _, n := range right {
		if !claimedRight[n] {
			deltas = append(deltas, ElementDelta{
				Class:      ClassExtra,
				PortedPath: n.PathString(),
				Kind:       c.canonicalKind(n),
				Text:       snippet(n.Text),
				Severity:   SeverityFail,
			})
		}
	}

	logging.CompareDebug("compared %d native vs %d ported nodes: %d deltas",
		len(left), len(right), len(deltas))
	return deltas
}

// buildCandidates gates pairs on kind compatibility and, for text-bearing
// nodes, normalized text equality.
func (c *Comparator) buildCandidates(left, right []*geometry.NormNode) []candidate {
	var out []candidate
	for _, l := range left {
		lk := c.canonicalKind(l)
		lt := normalizeText(l.Text)
		for _, r := range right {
			if c.canonicalKind(r) != lk {
				continue
			}
			rt := normalizeText(r.Text)
			if lk == uitree.KindText && lt != rt {
				continue
			}
			out = append(out, candidate{left: l, right: r, distance: c.distance(l, r, lt, rt)})
		}
	}
	return out
}

// distance is the weighted matcher metric from the configuration.
func (c *Comparator) distance(l, r *geometry.NormNode, lt, rt string) float64 {
	d := c.cfg.WeightX*math.Abs(r.Bounds.X-l.Bounds.X) +
		c.cfg.WeightY*math.Abs(r.Bounds.Y-l.Bounds.Y) +
		c.cfg.WeightWidth*math.Abs(r.Bounds.Width-l.Bounds.Width) +
		c.cfg.WeightHeight*math.Abs(r.Bounds.Height-l.Bounds.Height) +
		c.cfg.WeightText*(1.0-textSimilarity(lt, rt))
	return d
}

// tiedWithNext reports whether another live candidate shares a node with
// candidates[i] at exactly the same distance.
func (c *Comparator) tiedWithNext(cands []candidate, i int, claimedLeft, claimedRight map[*geometry.NormNode]bool) bool {
	cur := cands[i]
	for j := i + 1; j < len(cands); j++ {
		if cands[j].distance != cur.distance {
			return false
		}
		if claimedLeft[cands[j].left] || claimedRight[cands[j].right] {
			continue
		}
		if cands[j].left == cur.left || cands[j].right == cur.right {
			return true
		}
	}
	return false
}

func (c *Comparator) matchedDelta(cand candidate, ambiguous bool) ElementDelta {
	l, r := cand.left, cand.right
	d := ElementDelta{
		Class:       ClassMatched,
		NativePath:  l.PathString(),
		PortedPath:  r.PathString(),
		Kind:        c.canonicalKind(l),
		Text:        snippet(l.Text),
		Confidence:  1.0 / (1.0 + cand.distance),
		DX:          r.Bounds.X - l.Bounds.X,
		DY:          r.Bounds.Y - l.Bounds.Y,
		DWidth:      r.Bounds.Width - l.Bounds.Width,
		DHeight:     r.Bounds.Height - l.Bounds.Height,
		FocusAgrees: l.Focused == r.Focused,
		Ambiguous:   ambiguous,
	}
	d.Severity = c.severityFor(d)
	return d
}

// severityFor buckets a matched delta. Focus disagreement is at least
// warn regardless of geometry: focus mismatches break usability even when
// layout is pixel-perfect.
func (c *Comparator) severityFor(d ElementDelta) Severity {
	maxDelta := math.Max(math.Max(math.Abs(d.DX), math.Abs(d.DY)),
		math.Max(math.Abs(d.DWidth), math.Abs(d.DHeight)))

	sev := SeverityFail
	switch {
	case maxDelta <= c.cfg.ToleranceOk:
		sev = SeverityOk
	case maxDelta <= c.cfg.ToleranceWarn:
		sev = SeverityWarn
	}
	if !d.FocusAgrees {
		sev = maxSeverity(sev, SeverityWarn)
	}
	if d.Ambiguous {
		sev = maxSeverity(sev, SeverityWarn)
	}
	return sev
}

// comparePaths orders sibling-index paths lexicographically.
func comparePaths(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// snippet truncates text for report output.
func snippet(s string) string {
	const max = 64
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// MaxSeverity returns the highest severity across a delta set, ok when
// the set is empty.
func MaxSeverity(deltas []ElementDelta) Severity {
	out := SeverityOk
	for _, d := range deltas {
		out = maxSeverity(out, d.Severity)
	}
	return out
}
