package ui

import (
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ColorEnabled reports whether output written to w should carry ANSI
// colors.
//
// RELAY_COLOR=always or never overrides everything else. Otherwise
// NO_COLOR disables color, CLICOLOR_FORCE=1 forces it and CLICOLOR=0
// disables it. With none of these set, color is on only when w is a
// terminal.
func ColorEnabled(w io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("RELAY_COLOR"))) {
	case "always":
		return true
	case "never":
		return false
	}
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	f, ok := w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}
