package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 114 // green
	colorWarn   = 179 // amber
)

var noColor bool

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderState colors a config push state: clean is green, dirty amber,
// and waiting (pushed, unconfirmed) blue. Other values are left plain.
func RenderState(state string) string {
	switch state {
	case "clean":
		return paint(colorOK, state)
	case "dirty":
		return paint(colorWarn, state)
	case "waiting":
		return paint(colorAccent, state)
	}
	return state
}

// DisableColor turns styling off for the rest of the process.
func DisableColor() { noColor = true }
