// Package navflow replays scripted input sequences against a target and
// records the resulting focus and screen transitions as a trace. Two
// traces from the same script, one per target, are checked for
// equivalence to verify the ported app's navigation graph.
package navflow

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"uiparity/internal/device"
)

// Script is an ordered sequence of input events, loaded from YAML.
type Script struct {
	Name  string              `yaml:"name"`
	Steps []device.InputEvent `yaml:"steps"`
}

// LoadScript reads and validates a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects scripts the adapters cannot replay.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("script has no steps")
	}
	for i, ev := range s.Steps {
		switch ev.Type {
		case device.EventTap:
			if ev.X < 0 || ev.Y < 0 {
				return fmt.Errorf("step %d: tap coordinates must be non-negative", i)
			}
		case device.EventKey:
			if ev.Code == "" {
				return fmt.Errorf("step %d: key event requires a code", i)
			}
		case device.EventBack, device.EventSelect:
		case device.EventWait:
			if ev.DurationMs <= 0 {
				return fmt.Errorf("step %d: wait requires a positive durationMs", i)
			}
		default:
			return fmt.Errorf("step %d: unknown event type %q", i, ev.Type)
		}
	}
	return nil
}
