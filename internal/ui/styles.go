package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorMuted  = 245 // medium gray
	colorOK     = 71  // green
	colorWarn   = 178 // amber
	colorFail   = 167 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderState colors an adapter state: active is green, initializing is
// amber and anything else is red.
func RenderState(state string) string {
	switch state {
	case "active":
		return render(colorOK, state)
	case "initializing", "uninitialized":
		return render(colorWarn, state)
	}
	return render(colorFail, state)
}

// RenderStatusCode colors a target HTTP response code by class. Zero means
// no target was called and renders as a muted dash.
func RenderStatusCode(code int) string {
	switch {
	case code == 0:
		return RenderMuted("-")
	case code < 300:
		return render(colorOK, fmt.Sprint(code))
	case code < 500:
		return render(colorWarn, fmt.Sprint(code))
	}
	return render(colorFail, fmt.Sprint(code))
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
