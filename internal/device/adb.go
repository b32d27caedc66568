package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"uiparity/internal/logging"
)

// Android key codes for the D-pad events the recorder dispatches.
var androidKeyCodes = map[string]string{
	"up":     "19",
	"down":   "20",
	"left":   "21",
	"right":  "22",
	"select": "23", // DPAD_CENTER
	"back":   "4",
	"home":   "3",
	"menu":   "82",
}

// ADBConfig configures the native-target adapter.
type ADBConfig struct {
	// ADBPath is the adb binary; "adb" resolves via PATH.
	ADBPath string
	// Serial selects the device when several are attached.
	Serial string
	// Package is the app under test; Launch resolves its leanback launcher
	// intent and Capture verifies it is the foreground activity.
	Package string
	// IOTimeout bounds each adb invocation.
	IOTimeout time.Duration
}

// ADBAdapter drives an Android TV device through the adb binary:
// uiautomator for hierarchy dumps, input for events, screencap for images.
type ADBAdapter struct {
	cfg    ADBConfig
	target Target
	guard  busyGuard
}

// NewADBAdapter creates an adapter for one Android target.
func NewADBAdapter(cfg ADBConfig, target Target) *ADBAdapter {
	if cfg.ADBPath == "" {
		cfg.ADBPath = "adb"
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 10 * time.Second
	}
	return &ADBAdapter{cfg: cfg, target: target}
}

// Target returns the descriptor this adapter drives.
func (a *ADBAdapter) Target() Target { return a.target }

// shell runs one `adb [-s serial] shell ...` invocation.
func (a *ADBAdapter) shell(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.IOTimeout)
	defer cancel()

	full := make([]string, 0, len(args)+3)
	if a.cfg.Serial != "" {
		full = append(full, "-s", a.cfg.Serial)
	}
	full = append(full, "shell")
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, a.cfg.ADBPath, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.DeviceDebug("adb %s", strings.Join(full, " "))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "device") && (strings.Contains(msg, "not found") || strings.Contains(msg, "offline")) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceUnreachable, msg)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: adb timed out: %v", ErrDeviceUnreachable, ctx.Err())
		}
		return nil, fmt.Errorf("adb shell %s: %w (%s)", args[0], err, msg)
	}
	return stdout.Bytes(), nil
}

// Launch starts the app's leanback launcher activity and waits for it to
// reach the foreground.
func (a *ADBAdapter) Launch(ctx context.Context) error {
	if err := a.guard.acquire(); err != nil {
		return err
	}
	defer a.guard.release()

	if a.cfg.Package == "" {
		return fmt.Errorf("adb adapter: no package configured")
	}
	out, err := a.shell(ctx, "monkey", "-p", a.cfg.Package,
		"-c", "android.intent.category.LEANBACK_LAUNCHER", "1")
	if err != nil {
		return fmt.Errorf("launch %s: %w", a.cfg.Package, err)
	}
	if bytes.Contains(out, []byte("No activities found")) {
		// Fall back to the standard launcher category for non-TV builds.
		if _, err := a.shell(ctx, "monkey", "-p", a.cfg.Package,
			"-c", "android.intent.category.LAUNCHER", "1"); err != nil {
			return fmt.Errorf("launch %s: %w", a.cfg.Package, err)
		}
	}

	// Poll until the package owns the resumed activity.
	deadline := time.Now().Add(a.cfg.IOTimeout)
	for time.Now().Before(deadline) {
		fg, err := a.foregroundPackage(ctx)
		if err == nil && fg == a.cfg.Package {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %s did not reach foreground", ErrAppNotForeground, a.cfg.Package)
}

// foregroundPackage parses the resumed activity out of dumpsys.
func (a *ADBAdapter) foregroundPackage(ctx context.Context) (string, error) {
	out, err := a.shell(ctx, "dumpsys", "activity", "activities")
	if err != nil {
		return "", err
	}
	// Lines look like: "  mResumedActivity: ActivityRecord{... com.pkg/.MainActivity t12}"
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "mResumedActivity") && !strings.HasPrefix(line, "topResumedActivity") {
			continue
		}
		for _, tok := range strings.Fields(line) {
			if idx := strings.IndexByte(tok, '/'); idx > 0 {
				return tok[:idx], nil
			}
		}
	}
	return "", fmt.Errorf("no resumed activity in dumpsys output")
}

// Capture dumps the UI hierarchy via uiautomator and takes a screenshot.
// It rejects with ErrAppNotForeground instead of returning a dump of
// whatever app happens to be on screen.
func (a *ADBAdapter) Capture(ctx context.Context) (*Snapshot, error) {
	if a.cfg.Package != "" {
		fg, err := a.foregroundPackage(ctx)
		if err != nil {
			return nil, err
		}
		if fg != a.cfg.Package {
			return nil, fmt.Errorf("%w: foreground is %s", ErrAppNotForeground, fg)
		}
	}

	// Dumping to /dev/tty streams the XML over stdout without a device
	// file round trip.
	out, err := a.shell(ctx, "uiautomator", "dump", "/dev/tty")
	if err != nil {
		return nil, fmt.Errorf("uiautomator dump: %w", err)
	}
	xml := trimDumpBanner(out)

	screenshot, err := a.screencap(ctx)
	if err != nil {
		// Screenshots are report attachments only; a failed screencap
		// does not invalidate the dump.
		logging.Device("screencap failed: %v", err)
		screenshot = nil
	}

	return &Snapshot{
		Target:     a.target,
		Format:     DumpXML,
		RawDump:    xml,
		Screenshot: screenshot,
		CapturedAt: time.Now(),
	}, nil
}

// trimDumpBanner strips uiautomator's trailing "UI hierchary dumped to"
// status line, leaving pure XML.
func trimDumpBanner(out []byte) []byte {
	if idx := bytes.LastIndex(out, []byte("</hierarchy>")); idx >= 0 {
		return out[:idx+len("</hierarchy>")]
	}
	return bytes.TrimSpace(out)
}

// screencap captures a PNG. adb shell mangles binary output with CRLF on
// some toolchains; exec-out avoids the shell entirely.
func (a *ADBAdapter) screencap(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.IOTimeout)
	defer cancel()

	args := []string{}
	if a.cfg.Serial != "" {
		args = append(args, "-s", a.cfg.Serial)
	}
	args = append(args, "exec-out", "screencap", "-p")
	cmd := exec.CommandContext(ctx, a.cfg.ADBPath, args...)
	return cmd.Output()
}

// Dispatch sends one input event. At-most-once: no retry on failure.
func (a *ADBAdapter) Dispatch(ctx context.Context, ev InputEvent) error {
	if err := a.guard.acquire(); err != nil {
		return err
	}
	defer a.guard.release()

	switch ev.Type {
	case EventTap:
		_, err := a.shell(ctx, "input", "tap", strconv.Itoa(ev.X), strconv.Itoa(ev.Y))
		return err
	case EventKey:
		code, ok := androidKeyCodes[strings.ToLower(ev.Code)]
		if !ok {
			// Allow raw numeric key codes for anything not in the table.
			if _, err := strconv.Atoi(ev.Code); err != nil {
				return fmt.Errorf("unknown key code %q", ev.Code)
			}
			code = ev.Code
		}
		_, err := a.shell(ctx, "input", "keyevent", code)
		return err
	case EventBack:
		_, err := a.shell(ctx, "input", "keyevent", androidKeyCodes["back"])
		return err
	case EventSelect:
		_, err := a.shell(ctx, "input", "keyevent", androidKeyCodes["select"])
		return err
	case EventWait:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(ev.DurationMs) * time.Millisecond):
			return nil
		}
	default:
		return fmt.Errorf("unsupported event type %q", ev.Type)
	}
}

// Close is a no-op; adb connections are per-invocation.
func (a *ADBAdapter) Close() error { return nil }
