package compare

import (
	"encoding/json"
	"fmt"
)

// Severity classifies one delta against the configured tolerances.
// The values form a total order: ok < warn < fail.
type Severity int

const (
	SeverityOk Severity = iota
	SeverityWarn
	SeverityFail
)

func (s Severity) String() string {
	switch s {
	case SeverityOk:
		return "ok"
	case SeverityWarn:
		return "warn"
	case SeverityFail:
		return "fail"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity converts the configuration string form.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "ok":
		return SeverityOk, nil
	case "warn":
		return SeverityWarn, nil
	case "fail":
		return SeverityFail, nil
	default:
		return SeverityFail, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalJSON serializes the string form so reports stay readable.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON parses the string form.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// maxSeverity returns the higher of two severities.
func maxSeverity(a, b Severity) Severity {
	if a > b {
		return a
	}
	return b
}
