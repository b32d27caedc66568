// Package device provides a uniform interface for driving one application
// under test on one device: launching it, dispatching input, and capturing
// UI state. Two adapters are provided: an adb adapter for the native
// Android TV target and a CDP adapter (go-rod) for the ported React Native
// web target.
package device

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Platform tags a target as the original app or its reimplementation.
type Platform string

const (
	PlatformNative Platform = "native"
	PlatformPorted Platform = "ported"
)

// Target describes one addressable application under test.
type Target struct {
	ID       string   `json:"id"`
	Platform Platform `json:"platform"`
	// Reference resolution in pixels; fractional bounds are anchored to it.
	Width  int `json:"width"`
	Height int `json:"height"`
}

// EventType enumerates supported input events.
type EventType string

const (
	EventTap    EventType = "tap"
	EventKey    EventType = "key"
	EventBack   EventType = "back"
	EventSelect EventType = "select"
	EventWait   EventType = "wait"
)

// InputEvent is one scripted input. X/Y are used by tap, Code by key,
// DurationMs by wait.
type InputEvent struct {
	Type       EventType `yaml:"type" json:"type"`
	X          int       `yaml:"x,omitempty" json:"x,omitempty"`
	Y          int       `yaml:"y,omitempty" json:"y,omitempty"`
	Code       string    `yaml:"code,omitempty" json:"code,omitempty"`
	DurationMs int       `yaml:"durationMs,omitempty" json:"durationMs,omitempty"`
}

func (e InputEvent) String() string {
	switch e.Type {
	case EventTap:
		return fmt.Sprintf("tap(%d,%d)", e.X, e.Y)
	case EventKey:
		return fmt.Sprintf("key(%s)", e.Code)
	case EventWait:
		return fmt.Sprintf("wait(%dms)", e.DurationMs)
	default:
		return string(e.Type)
	}
}

// DumpFormat tells the extractor how to parse a raw dump.
type DumpFormat string

const (
	DumpXML  DumpFormat = "xml"  // uiautomator hierarchy dump
	DumpJSON DumpFormat = "json" // CDP walker dump
)

// Snapshot is one captured UI state: the raw hierarchy dump plus an
// optional screenshot for report attachment.
type Snapshot struct {
	Target     Target
	Format     DumpFormat
	RawDump    []byte
	Screenshot []byte // PNG, may be nil
	CapturedAt time.Time
}

// DumpHash returns an FNV-1a hash of the raw dump, used for settle
// detection: two consecutive identical dumps mean the UI has stabilized.
func (s *Snapshot) DumpHash() uint64 {
	h := fnv.New64a()
	h.Write(s.RawDump)
	return h.Sum64()
}

// Adapter drives one target. Capture is repeatable without side effects;
// Dispatch is at-most-once per call and never retried internally.
type Adapter interface {
	// Target returns the descriptor this adapter drives.
	Target() Target
	// Launch brings the app under test to the foreground.
	Launch(ctx context.Context) error
	// Capture dumps the current UI hierarchy (and screenshot). It fails
	// with ErrAppNotForeground rather than returning stale data when the
	// target app is not the active foreground app.
	Capture(ctx context.Context) (*Snapshot, error)
	// Dispatch sends one input event to the target.
	Dispatch(ctx context.Context, ev InputEvent) error
	// Close releases the device connection.
	Close() error
}

// Error taxonomy. Step orchestration decides per-error whether to abort a
// run (ErrDeviceUnreachable) or skip a step (ErrMalformedDump lives in
// internal/uitree).
var (
	ErrDeviceUnreachable = errors.New("device unreachable")
	ErrAppNotForeground  = errors.New("target app not in foreground")
	ErrAdapterBusy       = errors.New("adapter busy: an operation is already outstanding on this target")
)

// busyGuard enforces exclusive ownership of a target: concurrent
// Launch/Dispatch calls against the same physical device would interleave
// input events.
type busyGuard struct {
	mu   sync.Mutex
	busy bool
}

// acquire claims the guard, failing with ErrAdapterBusy if already held.
func (g *busyGuard) acquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return ErrAdapterBusy
	}
	g.busy = true
	return nil
}

func (g *busyGuard) release() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}

// SettleResult is the outcome of waiting for the UI to stabilize.
type SettleResult struct {
	Snapshot *Snapshot
	// Settled is false when the timeout expired before two consecutive
	// captures agreed. Not an error: the caller proceeds with the latest
	// snapshot and flags the step.
	Settled bool
}

// WaitSettled polls Capture until two consecutive dumps hash identically
// or the timeout expires. The last snapshot is always returned so a slow
// transition still yields data.
func WaitSettled(ctx context.Context, a Adapter, timeout, poll time.Duration) (*SettleResult, error) {
	deadline := time.Now().Add(timeout)

	last, err := a.Capture(ctx)
	if err != nil {
		return nil, err
	}
	lastHash := last.DumpHash()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return &SettleResult{Snapshot: last, Settled: false}, ctx.Err()
		case <-time.After(poll):
		}

		snap, err := a.Capture(ctx)
		if err != nil {
			// Mid-transition captures can transiently fail foreground
			// checks; keep polling until the deadline.
			if errors.Is(err, ErrAppNotForeground) {
				continue
			}
			return nil, err
		}
		h := snap.DumpHash()
		if h == lastHash {
			return &SettleResult{Snapshot: snap, Settled: true}, nil
		}
		last, lastHash = snap, h
	}
	return &SettleResult{Snapshot: last, Settled: false}, nil
}
