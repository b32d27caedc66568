// Package report assembles, persists, and renders the outcome of one
// parity run: per-step element deltas, the trace verdict, and the overall
// severity used to gate CI.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"uiparity/internal/compare"
	"uiparity/internal/device"
	"uiparity/internal/logging"
	"uiparity/internal/navflow"
)

// StepResult is the comparison outcome for one script step.
type StepResult struct {
	Index int               `json:"index"`
	Event device.InputEvent `json:"event"`

	NativeScreen string `json:"native_screen,omitempty"`
	PortedScreen string `json:"ported_screen,omitempty"`

	// Skipped steps carry no deltas; SkipReason says which side failed.
	Skipped    bool   `json:"skipped,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`

	// Unsettled is carried from either capture so a flaky step is visible
	// even when its deltas pass.
	Unsettled bool `json:"unsettled,omitempty"`

	Deltas      []compare.ElementDelta `json:"deltas,omitempty"`
	OkCount     int                    `json:"ok_count"`
	WarnCount   int                    `json:"warn_count"`
	FailCount   int                    `json:"fail_count"`
	MaxSeverity compare.Severity       `json:"max_severity"`
}

// ParityReport is the full machine-readable result of one run.
type ParityReport struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Script    string    `json:"script"`

	NativeTarget device.Target `json:"native_target"`
	PortedTarget device.Target `json:"ported_target"`

	Steps        []StepResult    `json:"steps"`
	TraceVerdict navflow.Verdict `json:"trace_verdict"`

	// Incomplete marks a run aborted before the script finished (device
	// unreachable, cancellation). An incomplete run never gates green.
	Incomplete       bool   `json:"incomplete,omitempty"`
	IncompleteReason string `json:"incomplete_reason,omitempty"`

	SkippedSteps int              `json:"skipped_steps"`
	MaxSeverity  compare.Severity `json:"max_severity"`
}

// New starts an empty report for a run.
func New(script string, native, ported device.Target) *ParityReport {
	return &ParityReport{
		RunID:        uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		Script:       script,
		NativeTarget: native,
		PortedTarget: ported,
	}
}

// AddStep folds one step result into the report totals.
func (r *ParityReport) AddStep(s StepResult) {
	for _, d := range s.Deltas {
		switch d.Severity {
		case compare.SeverityWarn:
			s.WarnCount++
		case compare.SeverityFail:
			s.FailCount++
		default:
			s.OkCount++
		}
	}
	s.MaxSeverity = compare.MaxSeverity(s.Deltas)
	if s.Skipped {
		r.SkippedSteps++
	}
	if s.MaxSeverity > r.MaxSeverity {
		r.MaxSeverity = s.MaxSeverity
	}
	r.Steps = append(r.Steps, s)
}

// Finish folds in the trace verdict. A divergent navigation flow is a
// fail regardless of per-element severities.
func (r *ParityReport) Finish(v navflow.Verdict) {
	r.TraceVerdict = v
	if !v.Equivalent {
		r.MaxSeverity = compare.SeverityFail
	}
}

// MarkIncomplete records why the run stopped early.
func (r *ParityReport) MarkIncomplete(reason string) {
	r.Incomplete = true
	r.IncompleteReason = reason
}

// Gate reports whether the run passes with the given severity ceiling.
// Incomplete runs never pass.
func (r *ParityReport) Gate(maxAllowed compare.Severity) bool {
	if r.Incomplete {
		return false
	}
	return r.MaxSeverity <= maxAllowed
}

// Save writes the report as indented JSON.
func (r *ParityReport) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	logging.Get(logging.CategoryReport).Info("report %s saved to %s", r.RunID, path)
	return nil
}

// Load reads a report saved by Save.
func Load(path string) (*ParityReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r ParityReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &r, nil
}
