package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/flowd/internal/ui"
)

// helpRule restyles every match of re in cobra's plain help text.
type helpRule struct {
	re      *regexp.Regexp
	restyle func(groups []string) string
}

var helpRules = []helpRule{
	// Group headers such as "Graphs:" or "Flags:".
	{regexp.MustCompile(`(?m)^([A-Z][^\n]*:)[ \t]*$`), func(g []string) string {
		return ui.RenderAccent(strings.TrimSpace(g[1]))
	}},
	// Command names in the command listing.
	{regexp.MustCompile(`(?m)^(  )(\S+)(  )`), func(g []string) string {
		return g[1] + ui.RenderAccent(g[2]) + g[3]
	}},
	// Flag value types, e.g. "--url string".
	{regexp.MustCompile(`(--?\S+\s+)(string|int|int64|duration|strings|stringToString)\b`), func(g []string) string {
		return g[1] + ui.RenderMuted(g[2])
	}},
	{regexp.MustCompile(`\(default [^)]*\)`), func(g []string) string {
		return ui.RenderMuted(g[0])
	}},
}

// colorizedHelpFunc renders cobra's usage text and colors it when stdout
// supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	for _, rule := range helpRules {
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			return rule.restyle(rule.re.FindStringSubmatch(match))
		})
	}
	return s
}
