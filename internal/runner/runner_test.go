package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"uiparity/internal/compare"
	"uiparity/internal/config"
	"uiparity/internal/device"
	"uiparity/internal/navflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// nativeDump renders a uiautomator hierarchy for a browse-style screen at
// 1920x1080 with two buttons, one focused.
func nativeDump(screen string, focusedIdx int) []byte {
	buttons := ""
	for i := 0; i < 2; i++ {
		x1 := 192 + i*384
		buttons += fmt.Sprintf(
			`<node class="android.widget.Button" text="Item %d" bounds="[%d,432][%d,540]" focusable="true" focused="%v"/>`,
			i, x1, x1+288, i == focusedIdx)
	}
	return []byte(fmt.Sprintf(
		`<hierarchy rotation="0"><node class="android.widget.FrameLayout" content-desc=%q bounds="[0,0][1920,1080]">%s</node></hierarchy>`,
		screen, buttons))
}

// portedDump renders the walker JSON for the same screen at 1280x720 with
// identical fractional geometry.
func portedDump(screen string, focusedIdx int) []byte {
	buttons := ""
	for i := 0; i < 2; i++ {
		if i > 0 {
			buttons += ","
		}
		x := 128 + i*256
		buttons += fmt.Sprintf(
			`{"tag":"BUTTON","text":"Item %d","x":%d,"y":288,"width":192,"height":72,"focusable":true,"focused":%v,"children":[]}`,
			i, x, i == focusedIdx)
	}
	return []byte(fmt.Sprintf(
		`{"root":{"tag":"DIV","screenTag":%q,"x":0,"y":0,"width":1280,"height":720,"children":[%s]}}`,
		screen, buttons))
}

// fakeAdapter serves one stable dump per dispatched event.
type fakeAdapter struct {
	target      device.Target
	format      device.DumpFormat
	dumps       [][]byte
	screenshot  []byte
	pos         int
	dispatched  int
	dispatchErr map[int]error
	launchErr   error
}

func (f *fakeAdapter) Target() device.Target            { return f.target }
func (f *fakeAdapter) Launch(ctx context.Context) error { return f.launchErr }
func (f *fakeAdapter) Close() error                     { return nil }

func (f *fakeAdapter) Dispatch(ctx context.Context, ev device.InputEvent) error {
	if err, ok := f.dispatchErr[f.dispatched]; ok {
		f.dispatched++
		return err
	}
	f.dispatched++
	if f.pos < len(f.dumps)-1 {
		f.pos++
	}
	return nil
}

func (f *fakeAdapter) Capture(ctx context.Context) (*device.Snapshot, error) {
	return &device.Snapshot{
		Target:     f.target,
		Format:     f.format,
		RawDump:    f.dumps[f.pos],
		Screenshot: f.screenshot,
		CapturedAt: time.Now(),
	}, nil
}

func fastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Device.SettleTimeoutMs = 200
	cfg.Device.SettlePollMs = 1
	return cfg
}

func adapters(nativeScreens, portedScreens [][]byte) (*fakeAdapter, *fakeAdapter) {
	native := &fakeAdapter{
		target: device.Target{ID: "emulator-5554", Platform: device.PlatformNative, Width: 1920, Height: 1080},
		format: device.DumpXML,
		dumps:  nativeScreens,
	}
	ported := &fakeAdapter{
		target: device.Target{ID: "http://localhost:8081", Platform: device.PlatformPorted, Width: 1280, Height: 720},
		format: device.DumpJSON,
		dumps:  portedScreens,
	}
	return native, ported
}

func walkScript(n int) *navflow.Script {
	s := &navflow.Script{Name: "walk"}
	for i := 0; i < n; i++ {
		s.Steps = append(s.Steps, device.InputEvent{Type: device.EventKey, Code: "right"})
	}
	return s
}

func TestRunMatchingTargets(t *testing.T) {
	native, ported := adapters(
		[][]byte{nativeDump("browse", 0), nativeDump("browse", 1), nativeDump("details", 0)},
		[][]byte{portedDump("browse", 0), portedDump("browse", 1), portedDump("details", 0)},
	)

	r := New(native, ported, fastConfig())
	rep, err := r.Run(context.Background(), walkScript(2))
	require.NoError(t, err)
	require.Len(t, rep.Steps, 2)

	assert.False(t, rep.Incomplete)
	assert.Equal(t, compare.SeverityOk, rep.MaxSeverity)
	assert.True(t, rep.TraceVerdict.Equivalent)
	assert.True(t, rep.Gate(compare.SeverityOk))
	assert.Equal(t, "browse", rep.Steps[0].NativeScreen)
	assert.Equal(t, "browse", rep.Steps[0].PortedScreen)
	assert.Equal(t, 0, rep.Steps[0].FailCount)
}

func TestRunFocusDivergence(t *testing.T) {
	// The ported app moves focus to the wrong item on the second step.
	native, ported := adapters(
		[][]byte{nativeDump("browse", 0), nativeDump("browse", 1)},
		[][]byte{portedDump("browse", 0), portedDump("browse", 0)},
	)

	r := New(native, ported, fastConfig())
	rep, err := r.Run(context.Background(), walkScript(1))
	require.NoError(t, err)

	assert.Equal(t, compare.SeverityFail, rep.MaxSeverity)
	require.NotNil(t, rep.TraceVerdict.Divergence)
	assert.Equal(t, 0, rep.TraceVerdict.Divergence.StepIndex)
	assert.False(t, rep.Gate(compare.SeverityWarn))
}

func TestRunAbortsOnUnreachableDevice(t *testing.T) {
	native, ported := adapters(
		[][]byte{nativeDump("browse", 0), nativeDump("browse", 1)},
		[][]byte{portedDump("browse", 0), portedDump("browse", 1)},
	)
	native.dispatchErr = map[int]error{1: device.ErrDeviceUnreachable}

	r := New(native, ported, fastConfig())
	rep, err := r.Run(context.Background(), walkScript(3))
	require.ErrorIs(t, err, device.ErrDeviceUnreachable)

	assert.True(t, rep.Incomplete)
	assert.Len(t, rep.Steps, 2, "aborting step still recorded")
	assert.False(t, rep.Gate(compare.SeverityFail), "incomplete run never gates green")
}

func TestRunLaunchFailure(t *testing.T) {
	native, ported := adapters(
		[][]byte{nativeDump("browse", 0)},
		[][]byte{portedDump("browse", 0)},
	)
	ported.launchErr = device.ErrDeviceUnreachable

	r := New(native, ported, fastConfig())
	rep, err := r.Run(context.Background(), walkScript(1))
	require.ErrorIs(t, err, device.ErrDeviceUnreachable)
	assert.True(t, rep.Incomplete)
	assert.Empty(t, rep.Steps)
}

func TestRunCancelledBeforeFirstStep(t *testing.T) {
	native, ported := adapters(
		[][]byte{nativeDump("browse", 0)},
		[][]byte{portedDump("browse", 0)},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(native, ported, fastConfig())
	rep, err := r.Run(ctx, walkScript(2))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, rep.Incomplete)
	assert.Empty(t, rep.Steps)
}

func TestRunSkipsMalformedStep(t *testing.T) {
	native, ported := adapters(
		[][]byte{nativeDump("browse", 0), []byte(`<hierarchy><node class="" bounds="[0,0][1,1]"/></hierarchy>`), nativeDump("browse", 1)},
		[][]byte{portedDump("browse", 0), portedDump("browse", 0), portedDump("browse", 1)},
	)

	r := New(native, ported, fastConfig())
	rep, err := r.Run(context.Background(), walkScript(2))
	require.NoError(t, err)
	require.Len(t, rep.Steps, 2)

	assert.True(t, rep.Steps[0].Skipped)
	assert.Contains(t, rep.Steps[0].SkipReason, "native")
	assert.False(t, rep.Steps[1].Skipped)
	assert.Equal(t, 1, rep.SkippedSteps)
	assert.False(t, rep.Incomplete)
}

func TestRunWritesArtifacts(t *testing.T) {
	native, ported := adapters(
		[][]byte{nativeDump("browse", 0), nativeDump("browse", 1)},
		[][]byte{portedDump("browse", 0), portedDump("browse", 1)},
	)
	native.screenshot = []byte("png-native")
	ported.screenshot = []byte("png-ported")

	dir := filepath.Join(t.TempDir(), "artifacts")
	r := New(native, ported, fastConfig())
	r.ArtifactsDir = dir
	_, err := r.Run(context.Background(), walkScript(1))
	require.NoError(t, err)

	for _, name := range []string{"native-step000.png", "ported-step000.png"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}
