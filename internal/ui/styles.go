package ui

import (
	"fmt"

	"github.com/clouddocs/warehouse/internal/model"
)

// ANSI256 color codes.
const (
	colorGreen  = 71  // succeeded
	colorRed    = 167 // failed
	colorYellow = 179 // running / warnings
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
)

var noColor bool

func render(color int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", color, s)
}

// RenderStatus colors a batch status: green succeeded, red failed, yellow
// running.
func RenderStatus(status model.BatchStatus) string {
	switch status {
	case model.BatchSucceeded:
		return render(colorGreen, string(status))
	case model.BatchFailed:
		return render(colorRed, string(status))
	default:
		return render(colorYellow, string(status))
	}
}

// RenderRisk colors a churn risk category by severity.
func RenderRisk(risk model.RiskCategory) string {
	switch risk {
	case model.RiskHigh:
		return render(colorRed, string(risk))
	case model.RiskMedium:
		return render(colorYellow, string(risk))
	case model.RiskLow:
		return render(colorAccent, string(risk))
	default:
		return render(colorMuted, string(risk))
	}
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string {
	return render(colorAccent, s)
}

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string {
	return render(colorMuted, s)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
