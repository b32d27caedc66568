package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"uiparity/internal/compare"
)

// Semantic colors for terminal rendering.
var (
	colorOk   = lipgloss.Color("#8BC34A")
	colorWarn = lipgloss.Color("#FFC107")
	colorFail = lipgloss.Color("#e53935")
	colorMute = lipgloss.Color("#808080")
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMute)
	okStyle     = lipgloss.NewStyle().Foreground(colorOk).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(colorFail).Bold(true)
)

func severityStyle(s compare.Severity) lipgloss.Style {
	switch s {
	case compare.SeverityFail:
		return failStyle
	case compare.SeverityWarn:
		return warnStyle
	default:
		return okStyle
	}
}

// Render produces the human-readable run summary for the terminal.
func (r *ParityReport) Render() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("Parity run %s", r.RunID)))
	sb.WriteString("\n")
	sb.WriteString(mutedStyle.Render(fmt.Sprintf("%s  script=%s  native=%s  ported=%s",
		r.CreatedAt.Format("2006-01-02 15:04:05"), r.Script, r.NativeTarget.ID, r.PortedTarget.ID)))
	sb.WriteString("\n\n")

	sb.WriteString(renderStepTable(r.Steps))
	sb.WriteString("\n")

	if r.TraceVerdict.Equivalent {
		sb.WriteString(okStyle.Render("navigation: traces equivalent"))
	} else if d := r.TraceVerdict.Divergence; d != nil {
		sb.WriteString(failStyle.Render(fmt.Sprintf("navigation: diverged at step %d", d.StepIndex)))
		sb.WriteString("\n")
		sb.WriteString(mutedStyle.Render(fmt.Sprintf("  %s (native screen=%q focus=%q, ported screen=%q focus=%q)",
			d.Reason, d.NativeScreen, d.NativeFocus, d.PortedScreen, d.PortedFocus)))
	}
	sb.WriteString("\n")

	if r.SkippedSteps > 0 {
		sb.WriteString(warnStyle.Render(fmt.Sprintf("%d step(s) skipped", r.SkippedSteps)))
		sb.WriteString("\n")
	}
	if r.Incomplete {
		sb.WriteString(failStyle.Render(fmt.Sprintf("run incomplete: %s", r.IncompleteReason)))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(severityStyle(r.MaxSeverity).Render(fmt.Sprintf("overall: %s", r.MaxSeverity)))
	sb.WriteString("\n")
	return sb.String()
}

func renderStepTable(steps []StepResult) string {
	headers := []string{"#", "event", "screen", "ok", "warn", "fail", "result"}
	rows := make([][]string, 0, len(steps))
	for _, s := range steps {
		result := s.MaxSeverity.String()
		if s.Skipped {
			result = "skipped"
		} else if s.Unsettled {
			result += " (unsettled)"
		}
		screen := s.NativeScreen
		if s.PortedScreen != "" && s.PortedScreen != s.NativeScreen {
			screen = s.NativeScreen + "/" + s.PortedScreen
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.Index),
			s.Event.String(),
			screen,
			fmt.Sprintf("%d", s.OkCount),
			fmt.Sprintf("%d", s.WarnCount),
			fmt.Sprintf("%d", s.FailCount),
			result,
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for i := range widths {
		widths[i] += 2
	}

	var sb strings.Builder
	for i, h := range headers {
		sb.WriteString(headerStyle.Width(widths[i]).Render(h))
	}
	sb.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			style := cellStyle
			if i == len(row)-1 {
				switch {
				case strings.HasPrefix(cell, "fail"):
					style = cellStyle.Foreground(colorFail)
				case strings.HasPrefix(cell, "warn"), cell == "skipped":
					style = cellStyle.Foreground(colorWarn)
				case strings.HasPrefix(cell, "ok"):
					style = cellStyle.Foreground(colorOk)
				}
			}
			sb.WriteString(style.Width(widths[i]).Render(cell))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderDeltas lists the non-ok deltas of one step for drill-down output.
func RenderDeltas(s StepResult) string {
	var sb strings.Builder
	for _, d := range s.Deltas {
		if d.Severity == compare.SeverityOk {
			continue
		}
		loc := d.NativePath
		if loc == "" {
			loc = d.PortedPath
		}
		line := fmt.Sprintf("  [%s] %s %s %q", d.Severity, d.Class, loc, d.Text)
		if d.Class == compare.ClassMatched {
			line += fmt.Sprintf(" dx=%+.4f dy=%+.4f dw=%+.4f dh=%+.4f", d.DX, d.DY, d.DWidth, d.DHeight)
			if !d.FocusAgrees {
				line += " focus-mismatch"
			}
			if d.Ambiguous {
				line += " ambiguous"
			}
		}
		sb.WriteString(severityStyle(d.Severity).Render(line))
		sb.WriteString("\n")
	}
	return sb.String()
}
