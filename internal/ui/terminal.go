package ui

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor returns true when ANSI colors should be used on stdout.
// It respects NO_COLOR, CLICOLOR_FORCE, CLICOLOR, and TTY detection.
func ShouldUseColor() bool {
	// https://no-color.org: any non-empty value disables color.
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// PasswordPrompt returns a prompt that reads a password from the
// controlling terminal without echo. An empty entry or a read failure
// cancels. Without a terminal on stdin the prompt always cancels.
func PasswordPrompt(label string) func(ctx context.Context) (string, bool) {
	return func(ctx context.Context) (string, bool) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) || ctx.Err() != nil {
			return "", false
		}
		fmt.Fprintf(os.Stderr, "%s: ", label)
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil || len(pw) == 0 {
			return "", false
		}
		return string(pw), true
	}
}
