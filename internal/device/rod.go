package device

import (
	"context"
	"fmt"
	"time"

	"uiparity/internal/logging"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// dumpScript walks the rendered DOM and emits the JSON hierarchy the
// extractor consumes. Focus comes from document.activeElement; focusable
// from tabindex or the data-focusable hook React Native web emits for
// TV-focusable components. Elements report untransformed viewport-relative
// bounds from getBoundingClientRect.
const dumpScript = `
() => {
	const active = document.activeElement;
	const walk = (el) => {
		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		const hidden = style.display === 'none' || style.visibility === 'hidden';
		const focusable = el.tabIndex >= 0 ||
			el.hasAttribute('data-focusable') ||
			['BUTTON', 'A', 'INPUT'].includes(el.tagName);
		let ownText = '';
		for (const child of el.childNodes) {
			if (child.nodeType === Node.TEXT_NODE) ownText += child.textContent;
		}
		const node = {
			tag: el.tagName,
			role: el.getAttribute('role') || '',
			screenTag: el.getAttribute('data-screen-tag') || '',
			text: ownText.trim(),
			x: Math.round(rect.x),
			y: Math.round(rect.y),
			width: hidden ? 0 : Math.round(rect.width),
			height: hidden ? 0 : Math.round(rect.height),
			focused: el === active,
			focusable: focusable,
			children: []
		};
		for (const child of el.children) {
			node.children.push(walk(child));
		}
		return node;
	};
	const root = document.getElementById('root') || document.body;
	if (!root) return null;
	return { visible: document.visibilityState === 'visible', root: walk(root) };
}
`

// RodConfig configures the ported-target adapter.
type RodConfig struct {
	// DebuggerURL attaches to a running Chromium; empty launches one.
	DebuggerURL string
	// URL is the ported app entry point.
	URL      string
	Headless bool
	// IOTimeout bounds each CDP operation.
	IOTimeout time.Duration
}

// RodAdapter drives the ported React Native web build through CDP.
type RodAdapter struct {
	cfg     RodConfig
	target  Target
	guard   busyGuard
	browser *rod.Browser
	page    *rod.Page
}

// NewRodAdapter creates an adapter for the ported target.
func NewRodAdapter(cfg RodConfig, target Target) *RodAdapter {
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 10 * time.Second
	}
	return &RodAdapter{cfg: cfg, target: target}
}

// Target returns the descriptor this adapter drives.
func (a *RodAdapter) Target() Target { return a.target }

// Launch connects to Chromium, opens the app page and emulates the
// target's reference resolution.
func (a *RodAdapter) Launch(ctx context.Context) error {
	if err := a.guard.acquire(); err != nil {
		return err
	}
	defer a.guard.release()

	controlURL := a.cfg.DebuggerURL
	if controlURL == "" {
		url, err := launcher.New().Headless(a.cfg.Headless).Launch()
		if err != nil {
			return fmt.Errorf("%w: launch chromium: %v", ErrDeviceUnreachable, err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("%w: connect to chromium: %v", ErrDeviceUnreachable, err)
	}
	a.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: a.cfg.URL})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             a.target.Width,
		Height:            a.target.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.Device("failed to set viewport: %v", err)
	}
	if err := page.Timeout(a.cfg.IOTimeout).WaitLoad(); err != nil {
		return fmt.Errorf("%w: page load: %v", ErrDeviceUnreachable, err)
	}
	a.page = page
	return nil
}

// Capture evaluates the dump walker and screenshots the page. A hidden or
// closed page rejects with ErrAppNotForeground.
func (a *RodAdapter) Capture(ctx context.Context) (*Snapshot, error) {
	if a.page == nil {
		return nil, fmt.Errorf("%w: adapter not launched", ErrDeviceUnreachable)
	}

	res, err := a.page.Context(ctx).Timeout(a.cfg.IOTimeout).Evaluate(&rod.EvalOptions{
		JS:           dumpScript,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: evaluate dump: %v", ErrDeviceUnreachable, err)
	}
	if res == nil || res.Value.Nil() {
		return nil, fmt.Errorf("%w: empty document", ErrAppNotForeground)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal dump: %w", err)
	}
	if !res.Value.Get("visible").Bool() {
		return nil, fmt.Errorf("%w: page not visible", ErrAppNotForeground)
	}

	screenshot, err := a.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		logging.Device("screenshot failed: %v", err)
		screenshot = nil
	}

	return &Snapshot{
		Target:     a.target,
		Format:     DumpJSON,
		RawDump:    raw,
		Screenshot: screenshot,
		CapturedAt: time.Now(),
	}, nil
}

// dpadKeys maps the shared key names onto browser keys. The ported app
// handles D-pad navigation through arrow-key events.
var dpadKeys = map[string]input.Key{
	"up":     input.ArrowUp,
	"down":   input.ArrowDown,
	"left":   input.ArrowLeft,
	"right":  input.ArrowRight,
	"select": input.Enter,
	"back":   input.Escape,
}

// Dispatch sends one input event. At-most-once: no retry on failure.
func (a *RodAdapter) Dispatch(ctx context.Context, ev InputEvent) error {
	if err := a.guard.acquire(); err != nil {
		return err
	}
	defer a.guard.release()

	if a.page == nil {
		return fmt.Errorf("%w: adapter not launched", ErrDeviceUnreachable)
	}
	page := a.page.Context(ctx).Timeout(a.cfg.IOTimeout)

	switch ev.Type {
	case EventTap:
		if err := page.Mouse.MoveTo(proto.Point{X: float64(ev.X), Y: float64(ev.Y)}); err != nil {
			return fmt.Errorf("move mouse: %w", err)
		}
		return page.Mouse.Click(proto.InputMouseButtonLeft, 1)
	case EventKey:
		key, ok := dpadKeys[ev.Code]
		if !ok {
			return fmt.Errorf("unknown key code %q", ev.Code)
		}
		return page.Keyboard.Press(key)
	case EventBack:
		return page.Keyboard.Press(dpadKeys["back"])
	case EventSelect:
		return page.Keyboard.Press(dpadKeys["select"])
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

// Close shuts the page and, when this adapter launched it, the browser.
func (a *RodAdapter) Close() error {
	var err error
	if a.page != nil {
		err = a.page.Close()
		a.page = nil
	}
	if a.browser != nil && a.cfg.DebuggerURL == "" {
		if cerr := a.browser.Close(); err == nil {
			err = cerr
		}
		a.browser = nil
	}
	return err
}
