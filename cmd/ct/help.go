package main

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/conntree/internal/ui"
)

// helpRule styles every match of re with paint. When group is non-zero only
// that submatch is painted and the rest of the match is kept as is.
type helpRule struct {
	re    *regexp.Regexp
	group int
	paint func(string) string
}

var helpRules = []helpRule{
	// Section headers such as "Connections:" or "Flags:".
	{regexp.MustCompile(`(?m)^[A-Z][^\n]*:[ \t]*$`), 0, ui.RenderAccent},
	// Command names in the command lists.
	{regexp.MustCompile(`(?m)^  (\S+)  `), 1, ui.RenderCommand},
	// Flag value types, e.g. "--file string".
	{regexp.MustCompile(`--?\S+\s+(string|int|duration|strings)\b`), 1, ui.RenderMuted},
	{regexp.MustCompile(`\(default "[^"]*"\)`), 0, ui.RenderMuted},
	// Environment variables mentioned in long descriptions.
	{regexp.MustCompile(`\bCONNTREE_[A-Z_]+\b`), 0, ui.RenderCommand},
}

// colorizedHelpFunc prints the long description followed by the usage,
// styled when stdout is a color terminal.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		var buf bytes.Buffer
		writeHelp(cmd, &buf)
		if ui.ShouldUseColor() {
			fmt.Fprint(out, colorizeHelpOutput(buf.String()))
			return
		}
		_, _ = buf.WriteTo(out)
	}
}

func writeHelp(cmd *cobra.Command, w io.Writer) {
	if desc := strings.TrimSpace(cmd.Long); desc != "" {
		fmt.Fprintf(w, "%s\n\n", desc)
	} else if cmd.Short != "" {
		fmt.Fprintf(w, "%s\n\n", cmd.Short)
	}
	orig := cmd.OutOrStdout()
	cmd.SetOut(w)
	_ = cmd.Usage()
	cmd.SetOut(orig)
}

// colorizeHelpOutput applies helpRules to plain help text.
func colorizeHelpOutput(s string) string {
	for _, r := range helpRules {
		s = r.re.ReplaceAllStringFunc(s, func(match string) string {
			if r.group == 0 {
				return r.paint(strings.TrimSpace(match))
			}
			parts := r.re.FindStringSubmatchIndex(match)
			if parts == nil || parts[2*r.group] < 0 {
				return match
			}
			start, end := parts[2*r.group], parts[2*r.group+1]
			return match[:start] + r.paint(match[start:end]) + match[end:]
		})
	}
	return s
}
