package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ColorEnabled reports whether text written to f should carry ANSI colors.
//
// CONFSYNC_COLOR=always or never decides outright. Otherwise NO_COLOR (any
// value) turns color off, CLICOLOR_FORCE=1 turns it on without a terminal,
// and CLICOLOR=0 turns it off. With none of these set, color follows
// whether f is a terminal.
func ColorEnabled(f *os.File) bool {
	switch env("CONFSYNC_COLOR") {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if env("CLICOLOR_FORCE") == "1" {
		return true
	}
	if env("CLICOLOR") == "0" {
		return false
	}
	return f != nil && term.IsTerminal(int(f.Fd()))
}

func env(key string) string {
	return strings.ToLower(strings.TrimSpace(os.Getenv(key)))
}
