package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"uiparity/internal/compare"
	"uiparity/internal/config"
	"uiparity/internal/device"
	"uiparity/internal/logging"
	"uiparity/internal/navflow"
	"uiparity/internal/report"
	"uiparity/internal/runner"
	"uiparity/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// run flags
	targetNative string
	targetPorted string
	dbPath       string
	outPath      string
	artifactsDir string
	gateFlag     string

	// history flags
	historyLimit int

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "uiparity",
	Short: "uiparity - visual parity verification for Android TV app ports",
	Long: `uiparity drives a native Android TV app and its React Native port
through the same scripted navigation, captures both UI trees after every
input, and reports structured layout and focus differences.

The native target is reached over adb (uiautomator dumps); the ported
target over the Chrome DevTools Protocol.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if workspace == "" {
			workspace, _ = os.Getwd()
		}
		return logging.Initialize(workspace, logging.Options{
			DebugMode:  cfg.Logging.DebugMode || verbose,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

var runCmd = &cobra.Command{
	Use:   "run [script.yaml]",
	Short: "Replay a navigation script against both targets and compare",
	Long: `Runs the script on the native and ported targets in lockstep. After
every input event both UI trees are captured, normalized and diffed.
Exits 0 only when the overall severity passes the configured gate and
the navigation traces are equivalent.`,
	Args: cobra.ExactArgs(1),
	RunE: runParity,
}

var renderCmd = &cobra.Command{
	Use:   "render [report.json|run-id]",
	Short: "Render a stored parity report",
	Args:  cobra.ExactArgs(1),
	RunE:  renderReport,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List persisted parity runs",
	RunE:  showHistory,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")

	runCmd.Flags().StringVar(&targetNative, "target-native", "", "adb serial of the native device")
	runCmd.Flags().StringVar(&targetPorted, "target-ported", "", "URL of the ported web build")
	runCmd.Flags().StringVar(&dbPath, "db", "", "Run-history database path (overrides config)")
	runCmd.Flags().StringVar(&outPath, "out", "", "Write the report JSON to this path")
	runCmd.Flags().StringVar(&artifactsDir, "artifacts", "", "Save per-step screenshots to this directory")
	runCmd.Flags().StringVar(&gateFlag, "gate", "", "Severity gate: ok, warn or fail (overrides config)")
	_ = runCmd.MarkFlagRequired("target-ported")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to list")
	historyCmd.Flags().StringVar(&dbPath, "db", "", "Run-history database path (overrides config)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// signalContext cancels on SIGINT/SIGTERM so a run aborts between steps
// instead of leaving the targets out of sync.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runParity(cmd *cobra.Command, args []string) error {
	script, err := navflow.LoadScript(args[0])
	if err != nil {
		return err
	}

	gate := cfg.Report.Gate
	if gateFlag != "" {
		gate = gateFlag
	}
	maxAllowed, err := compare.ParseSeverity(gate)
	if err != nil {
		return err
	}
	if artifactsDir == "" {
		artifactsDir = cfg.Report.ArtifactsDir
	}

	native := device.NewADBAdapter(device.ADBConfig{
		ADBPath:   cfg.Device.ADBPath,
		Serial:    targetNative,
		Package:   cfg.Device.NativePackage,
		IOTimeout: cfg.Device.IOTimeout(),
	}, device.Target{
		ID:       nativeID(targetNative),
		Platform: device.PlatformNative,
		Width:    cfg.Device.NativeWidth,
		Height:   cfg.Device.NativeHeight,
	})
	defer native.Close()

	ported := device.NewRodAdapter(device.RodConfig{
		DebuggerURL: cfg.Device.DebuggerURL,
		URL:         targetPorted,
		Headless:    cfg.Device.Headless,
		IOTimeout:   cfg.Device.IOTimeout(),
	}, device.Target{
		ID:       targetPorted,
		Platform: device.PlatformPorted,
		Width:    cfg.Device.PortedWidth,
		Height:   cfg.Device.PortedHeight,
	})
	defer ported.Close()

	ctx, cancel := signalContext()
	defer cancel()

	logger.Info("starting parity run",
		zap.String("script", script.Name),
		zap.String("native", native.Target().ID),
		zap.String("ported", ported.Target().ID),
		zap.String("gate", gate))

	r := runner.New(native, ported, cfg)
	r.ArtifactsDir = artifactsDir
	rep, runErr := r.Run(ctx, script)
	if runErr != nil {
		logger.Error("run aborted", zap.Error(runErr))
	}

	if outPath != "" {
		if err := rep.Save(outPath); err != nil {
			return err
		}
	}
	if err := persistRun(rep); err != nil {
		logger.Warn("could not persist run history", zap.Error(err))
	}

	fmt.Print(rep.Render())
	for _, s := range rep.Steps {
		if out := report.RenderDeltas(s); out != "" {
			fmt.Printf("step %d:\n%s", s.Index, out)
		}
	}

	if !rep.Gate(maxAllowed) {
		return fmt.Errorf("parity gate failed: severity=%s gate=%s incomplete=%v",
			rep.MaxSeverity, gate, rep.Incomplete)
	}
	logger.Info("parity gate passed", zap.String("severity", rep.MaxSeverity.String()))
	return nil
}

func nativeID(serial string) string {
	if serial == "" {
		return "default-adb-device"
	}
	return serial
}

func persistRun(rep *report.ParityReport) error {
	s, err := store.Open(historyDB())
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Save(rep)
}

func historyDB() string {
	if dbPath != "" {
		return dbPath
	}
	return cfg.Store.DatabasePath
}

func renderReport(cmd *cobra.Command, args []string) error {
	// A path that exists is a JSON report; anything else is tried as a
	// run ID in the history database.
	rep, err := report.Load(args[0])
	if err != nil {
		if _, statErr := os.Stat(args[0]); statErr == nil {
			return err
		}
		s, openErr := store.Open(historyDB())
		if openErr != nil {
			return err
		}
		defer s.Close()
		rep, err = s.Load(args[0])
		if err != nil {
			return err
		}
	}

	fmt.Print(rep.Render())
	for _, s := range rep.Steps {
		if out := report.RenderDeltas(s); out != "" {
			fmt.Printf("step %d:\n%s", s.Index, out)
		}
	}
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	s, err := store.Open(historyDB())
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.List(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, r := range runs {
		status := r.MaxSeverity.String()
		if r.Incomplete {
			status += " (incomplete)"
		}
		fmt.Printf("%s  %s  %-10s  %s -> %s  %s\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), status,
			r.NativeTarget, r.PortedTarget, r.Script)
	}
	return nil
}
