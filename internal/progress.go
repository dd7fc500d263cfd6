package internal

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)
)

// ShowProgress runs fn with a status line on TTYs, plain logging otherwise.
func ShowProgress(ctx context.Context, message string, fn func() error) error {
	if !isTerminal(os.Stderr) {
		LogInfo("%s", message)
		return fn()
	}

	fmt.Fprintln(os.Stderr, progressStyle.Render("⏳ "+message))
	if err := fn(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("✗ "+message))
		return err
	}
	fmt.Fprintln(os.Stderr, successStyle.Render("✓ "+message))
	return nil
}

// PrintWarning renders a user-facing warning line.
func PrintWarning(message string) {
	if isTerminal(os.Stderr) {
		fmt.Fprintln(os.Stderr, warningStyle.Render("⚠ "+message))
		return
	}
	LogWarn("%s", message)
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}
