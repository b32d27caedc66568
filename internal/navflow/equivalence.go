package navflow

import (
	"fmt"

	"uiparity/internal/compare"
	"uiparity/internal/logging"
)

// Divergence pinpoints the first step where two traces stopped agreeing.
type Divergence struct {
	StepIndex int    `json:"step_index"`
	Reason    string `json:"reason"`

	NativeScreen string `json:"native_screen,omitempty"`
	PortedScreen string `json:"ported_screen,omitempty"`
	NativeFocus  string `json:"native_focus,omitempty"`
	PortedFocus  string `json:"ported_focus,omitempty"`
}

// Verdict is the outcome of a trace equivalence check.
type Verdict struct {
	Equivalent bool        `json:"equivalent"`
	Divergence *Divergence `json:"divergence,omitempty"`

	// SkippedSteps counts indices excluded from the check because at
	// least one side failed to capture there.
	SkippedSteps int `json:"skipped_steps"`
}

// Equivalent checks two traces of the same script step by step. At every
// index both targets must land on the same screen (after alias mapping)
// and their focused elements must match each other under the comparator.
// Steps skipped on either side are excluded from the check but counted.
func Equivalent(native, ported *Trace, c *compare.Comparator, screenAliases map[string]string) Verdict {
	if len(native.Steps) != len(ported.Steps) {
		return Verdict{Divergence: &Divergence{
			StepIndex: minInt(len(native.Steps), len(ported.Steps)),
			Reason: fmt.Sprintf("trace lengths differ: native %d, ported %d",
				len(native.Steps), len(ported.Steps)),
		}}
	}

	v := Verdict{Equivalent: true}
	for i := range native.Steps {
		ns, ps := &native.Steps[i], &ported.Steps[i]
		if ns.Skipped() || ps.Skipped() {
			v.SkippedSteps++
			continue
		}

		if aliasScreen(ns.ScreenID, screenAliases) != aliasScreen(ps.ScreenID, screenAliases) {
			logging.Navflow("trace divergence at step %d: screens %q vs %q", i, ns.ScreenID, ps.ScreenID)
			return Verdict{SkippedSteps: v.SkippedSteps, Divergence: &Divergence{
				StepIndex:    i,
				Reason:       "targets landed on different screens",
				NativeScreen: ns.ScreenID,
				PortedScreen: ps.ScreenID,
				NativeFocus:  ns.FocusedPath,
				PortedFocus:  ps.FocusedPath,
			}}
		}

		if !focusPairMatched(ns, ps, c) {
			logging.Navflow("trace divergence at step %d: focus %q vs %q", i, ns.FocusedPath, ps.FocusedPath)
			return Verdict{SkippedSteps: v.SkippedSteps, Divergence: &Divergence{
				StepIndex:    i,
				Reason:       "focused elements do not correspond",
				NativeScreen: ns.ScreenID,
				PortedScreen: ps.ScreenID,
				NativeFocus:  ns.FocusedPath,
				PortedFocus:  ps.FocusedPath,
			}}
		}
	}
	return v
}

// aliasScreen maps a screen ID through the configured alias table so
// targets with different internal screen names can still be declared
// equivalent.
func aliasScreen(id string, aliases map[string]string) string {
	if mapped, ok := aliases[id]; ok {
		return mapped
	}
	return id
}

// focusPairMatched reports whether the two steps' focused elements match
// each other under the comparator. Both sides unfocused counts as
// agreement; exactly one side unfocused does not.
func focusPairMatched(ns, ps *Step, c *compare.Comparator) bool {
	if ns.FocusedPath == "" && ps.FocusedPath == "" {
		return true
	}
	if ns.FocusedPath == "" || ps.FocusedPath == "" {
		return false
	}
	for _, d := range c.Compare(ns.Tree, ps.Tree) {
		if d.Class == compare.ClassMatched &&
			d.NativePath == ns.FocusedPath && d.PortedPath == ps.FocusedPath {
			return true
		}
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
