package navflow

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"uiparity/internal/device"
	"uiparity/internal/geometry"
	"uiparity/internal/logging"
	"uiparity/internal/uitree"
)

// Step is one recorded (event, resulting state) tuple.
type Step struct {
	Index int               `json:"index"`
	Event device.InputEvent `json:"event"`

	// Resulting state after the event settled (or timed out).
	ScreenID    string `json:"screen_id,omitempty"`
	FocusedPath string `json:"focused_path,omitempty"`

	// Unsettled flags a capture taken after the settle timeout expired,
	// or one with no focused element. Not an error.
	Unsettled bool `json:"unsettled,omitempty"`

	// Err records a step-scoped failure (e.g. malformed dump). The step
	// is skipped in comparisons but the run continues.
	Err string `json:"error,omitempty"`

	// Tree and Screenshot feed the comparator and artifact writer; they
	// are not part of the persisted trace.
	Tree       *geometry.NormNode `json:"-"`
	Screenshot []byte             `json:"-"`
}

// Skipped reports whether the step failed and carries no comparable state.
func (s *Step) Skipped() bool { return s.Err != "" }

// Trace is the ordered record of one script replay against one target.
type Trace struct {
	Target device.Target `json:"target"`
	Steps  []Step        `json:"steps"`
}

// Options bound the settle wait between dispatch and capture.
type Options struct {
	SettleTimeout time.Duration
	SettlePoll    time.Duration
}

// Record replays the script on the adapter, capturing state after every
// event. Device-unreachable aborts and returns the partial trace with the
// error; any other step failure is recorded on the step and replay
// continues, since later steps may still yield useful signal.
func Record(ctx context.Context, a device.Adapter, script *Script, opts Options) (*Trace, error) {
	trace := &Trace{Target: a.Target()}
	logging.Navflow("recording %q against %s (%d steps)", script.Name, a.Target().ID, len(script.Steps))

	for i, ev := range script.Steps {
		// Cancellation between steps, never mid-capture.
		select {
		case <-ctx.Done():
			return trace, ctx.Err()
		default:
		}

		step, err := RecordStep(ctx, a, i, ev, opts)
		trace.Steps = append(trace.Steps, step)
		if err != nil {
			return trace, err
		}
	}
	return trace, nil
}

// RecordStep dispatches one event and captures the settled state. A
// non-nil error means the run cannot continue (device gone, context
// cancelled); step-scoped failures land in Step.Err with a nil error.
func RecordStep(ctx context.Context, a device.Adapter, index int, ev device.InputEvent, opts Options) (Step, error) {
	step := Step{Index: index, Event: ev}

	if err := a.Dispatch(ctx, ev); err != nil {
		if errors.Is(err, device.ErrDeviceUnreachable) {
			return step, fmt.Errorf("step %d dispatch: %w", index, err)
		}
		step.Err = fmt.Sprintf("dispatch: %v", err)
		return step, nil
	}

	settle, err := device.WaitSettled(ctx, a, opts.SettleTimeout, opts.SettlePoll)
	if err != nil {
		if errors.Is(err, device.ErrDeviceUnreachable) || ctx.Err() != nil {
			return step, fmt.Errorf("step %d capture: %w", index, err)
		}
		step.Err = fmt.Sprintf("capture: %v", err)
		return step, nil
	}
	step.Unsettled = !settle.Settled
	step.Screenshot = settle.Snapshot.Screenshot

	tree, err := ExtractTree(settle.Snapshot)
	if err != nil {
		step.Err = fmt.Sprintf("extract: %v", err)
		return step, nil
	}

	norm := geometry.Normalize(tree, geometry.Resolution{
		Width:  a.Target().Width,
		Height: a.Target().Height,
	})
	step.Tree = norm
	step.ScreenID = ScreenID(norm)
	if focused := norm.FocusedNode(); focused != nil {
		step.FocusedPath = focused.PathString()
	} else {
		// Zero focused elements mid-capture means a transition was
		// still in flight.
		step.Unsettled = true
	}

	logging.NavflowDebug("step %d %s on %s: screen=%s focus=%s unsettled=%v",
		index, ev, a.Target().ID, step.ScreenID, step.FocusedPath, step.Unsettled)
	return step, nil
}

// ExtractTree parses a snapshot's raw dump with the extractor matching
// its format.
func ExtractTree(snap *device.Snapshot) (*uitree.Node, error) {
	switch snap.Format {
	case device.DumpXML:
		return uitree.ExtractXML(snap.RawDump)
	case device.DumpJSON:
		return uitree.ExtractJSON(snap.RawDump)
	default:
		return nil, fmt.Errorf("%w: unknown dump format %q", uitree.ErrMalformedDump, snap.Format)
	}
}

// ScreenID derives a coarse screen identifier: the declared screen tag
// when the app exposes one, otherwise an FNV-1a hash of the sorted set of
// top-level container kinds. Exact screen identity is the app's concern;
// this only needs to distinguish navigation destinations.
func ScreenID(root *geometry.NormNode) string {
	if root.ScreenTag != "" {
		return root.ScreenTag
	}
	kinds := make([]string, 0, len(root.Children))
	for _, c := range root.Children {
		kinds = append(kinds, string(c.Kind))
	}
	sort.Strings(kinds)

	h := fnv.New64a()
	h.Write([]byte(strings.Join(kinds, "|")))
	return fmt.Sprintf("screen-%x", h.Sum64())
}
