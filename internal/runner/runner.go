// Package runner drives both targets through the same script in lockstep
// and assembles the parity report. Each step is a barrier: the event is
// dispatched to both adapters concurrently, and neither target advances
// until both captures finish.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"uiparity/internal/compare"
	"uiparity/internal/config"
	"uiparity/internal/device"
	"uiparity/internal/logging"
	"uiparity/internal/navflow"
	"uiparity/internal/report"
)

// Runner pairs a native and a ported adapter with a comparator.
type Runner struct {
	native, ported device.Adapter
	comparator     *compare.Comparator
	cfg            *config.Config

	// ArtifactsDir, when set, receives per-step screenshots.
	ArtifactsDir string
}

// New builds a runner over already-constructed adapters.
func New(native, ported device.Adapter, cfg *config.Config) *Runner {
	return &Runner{
		native:     native,
		ported:     ported,
		comparator: compare.New(cfg.Compare),
		cfg:        cfg,
	}
}

// Run executes the script against both targets and returns the report.
// The report is always non-nil; a non-nil error means the run aborted and
// the report is marked incomplete.
func (r *Runner) Run(ctx context.Context, script *navflow.Script) (*report.ParityReport, error) {
	timer := logging.StartTimer(logging.CategoryRun, "Run")
	defer timer.Stop()

	rep := report.New(script.Name, r.native.Target(), r.ported.Target())
	nativeTrace := &navflow.Trace{Target: r.native.Target()}
	portedTrace := &navflow.Trace{Target: r.ported.Target()}

	if err := r.launch(ctx); err != nil {
		rep.MarkIncomplete(fmt.Sprintf("launch: %v", err))
		return rep, err
	}

	opts := navflow.Options{
		SettleTimeout: r.cfg.Device.SettleTimeout(),
		SettlePoll:    r.cfg.Device.SettlePoll(),
	}

	var runErr error
	for i, ev := range script.Steps {
		// Cancellation takes effect between steps so a half-dispatched
		// barrier never leaves the targets out of sync.
		select {
		case <-ctx.Done():
			rep.MarkIncomplete(fmt.Sprintf("cancelled before step %d", i))
			runErr = ctx.Err()
		default:
		}
		if runErr != nil {
			break
		}

		ns, ps, err := r.step(ctx, i, ev, opts)
		nativeTrace.Steps = append(nativeTrace.Steps, ns)
		portedTrace.Steps = append(portedTrace.Steps, ps)
		rep.AddStep(r.stepResult(i, ev, &ns, &ps))

		if err != nil {
			rep.MarkIncomplete(fmt.Sprintf("aborted at step %d: %v", i, err))
			runErr = err
			break
		}
	}

	rep.Finish(navflow.Equivalent(nativeTrace, portedTrace, r.comparator, r.cfg.Compare.ScreenAliases))
	logging.Get(logging.CategoryRun).Info("run %s finished: severity=%s incomplete=%v",
		rep.RunID, rep.MaxSeverity, rep.Incomplete)
	return rep, runErr
}

// launch brings both apps to the foreground concurrently.
func (r *Runner) launch(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.native.Launch(gctx); err != nil {
			return fmt.Errorf("native %s: %w", r.native.Target().ID, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := r.ported.Launch(gctx); err != nil {
			return fmt.Errorf("ported %s: %w", r.ported.Target().ID, err)
		}
		return nil
	})
	return g.Wait()
}

// step runs one barrier: the same event on both targets, in parallel.
func (r *Runner) step(ctx context.Context, i int, ev device.InputEvent, opts navflow.Options) (navflow.Step, navflow.Step, error) {
	var ns, ps navflow.Step
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ns, err = navflow.RecordStep(gctx, r.native, i, ev, opts)
		return err
	})
	g.Go(func() error {
		var err error
		ps, err = navflow.RecordStep(gctx, r.ported, i, ev, opts)
		return err
	})
	err := g.Wait()

	r.saveArtifact(r.native.Target(), i, ns.Screenshot)
	r.saveArtifact(r.ported.Target(), i, ps.Screenshot)
	return ns, ps, err
}

// stepResult compares the two sides of one completed barrier.
func (r *Runner) stepResult(i int, ev device.InputEvent, ns, ps *navflow.Step) report.StepResult {
	res := report.StepResult{
		Index:        i,
		Event:        ev,
		NativeScreen: ns.ScreenID,
		PortedScreen: ps.ScreenID,
		Unsettled:    ns.Unsettled || ps.Unsettled,
	}
	if ns.Skipped() || ps.Skipped() {
		res.Skipped = true
		res.SkipReason = skipReason(ns, ps)
		return res
	}
	if ns.Tree != nil && ps.Tree != nil {
		res.Deltas = r.comparator.Compare(ns.Tree, ps.Tree)
	}
	return res
}

func skipReason(ns, ps *navflow.Step) string {
	switch {
	case ns.Skipped() && ps.Skipped():
		return fmt.Sprintf("native: %s; ported: %s", ns.Err, ps.Err)
	case ns.Skipped():
		return "native: " + ns.Err
	default:
		return "ported: " + ps.Err
	}
}

// saveArtifact writes a step screenshot when an artifacts dir is set.
// Artifact I/O failures are logged, never fatal.
func (r *Runner) saveArtifact(t device.Target, step int, png []byte) {
	if r.ArtifactsDir == "" || len(png) == 0 {
		return
	}
	if err := os.MkdirAll(r.ArtifactsDir, 0o755); err != nil {
		logging.Get(logging.CategoryRun).Warn("artifacts dir: %v", err)
		return
	}
	path := filepath.Join(r.ArtifactsDir, fmt.Sprintf("%s-step%03d.png", t.Platform, step))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		logging.Get(logging.CategoryRun).Warn("write artifact %s: %v", path, err)
	}
}
