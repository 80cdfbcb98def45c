package main

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/confsync/internal/ui"
)

var (
	// The value type after a flag name, e.g. "--profile string".
	reFlagType = regexp.MustCompile(`(--?\S+\s)(string|int|duration|stringSlice)\b`)
	reDefault  = regexp.MustCompile(`\(default [^)]*\)`)
)

// colorizedHelpFunc colors cobra's usage text when it goes to a color
// terminal and prints it unchanged otherwise.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if f, ok := out.(*os.File); !ok || !ui.ColorEnabled(f) {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}

// colorizeHelpOutput styles section headers, command names in command
// groups, and flag types and defaults in flag sections. The Usage section
// is left plain.
func colorizeHelpOutput(s string) string {
	lines := strings.SplitAfter(s, "\n")
	section := ""
	for i, line := range lines {
		body := strings.TrimRight(line, "\n")
		nl := line[len(body):]
		switch {
		case isHeader(body):
			section = strings.TrimSuffix(strings.TrimSpace(body), ":")
			if section != "Usage" {
				lines[i] = ui.RenderAccent(strings.TrimSpace(body)) + nl
			}
		case section == "Usage" || body == "":
		case strings.HasSuffix(section, "Flags"):
			body = reFlagType.ReplaceAllString(body, "${1}"+ui.RenderMuted("${2}"))
			lines[i] = reDefault.ReplaceAllStringFunc(body, ui.RenderMuted) + nl
		default:
			lines[i] = colorCommand(body) + nl
		}
	}
	return strings.Join(lines, "")
}

// isHeader reports whether line is an unindented section header such as
// "Configs:" or "Global Flags:".
func isHeader(line string) bool {
	line = strings.TrimRight(line, " \t")
	return line != "" && line[0] >= 'A' && line[0] <= 'Z' && strings.HasSuffix(line, ":")
}

// colorCommand styles the name in a "  name   description" row.
func colorCommand(line string) string {
	rest, ok := strings.CutPrefix(line, "  ")
	if !ok || strings.HasPrefix(rest, " ") || strings.HasPrefix(rest, "-") {
		return line
	}
	name, desc, ok := strings.Cut(rest, "  ")
	if !ok {
		return line
	}
	return "  " + ui.RenderCommand(name) + "  " + desc
}
