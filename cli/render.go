package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// Terminal rendering: symbols and adaptive styles for diagnostics, with a
// plain-text fallback when stdout isn't a terminal (pipes, CI).

var (
	successSymbol = "✓"
	errorSymbol   = "✗"
	infoSymbol    = "→"
	warnSymbol    = "!"

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00D787", Dark: "#00D787"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF5F87", Dark: "#FF5F87"})
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D7AF00", Dark: "#FFD75F"})
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#5FAFFF", Dark: "#5FAFFF"})
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00D7D7", Dark: "#00D7D7"})
)

// stdoutIsTerminal reports whether stdout is attached to a terminal; styled
// output degrades to plain text otherwise.
func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// stdinIsTerminal reports whether stdin is interactive; prompts are skipped
// otherwise.
func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// render applies the style only when stdout is a terminal.
func render(style lipgloss.Style, s string) string {
	if !stdoutIsTerminal() {
		return s
	}
	return style.Render(s)
}

func printSuccess(w io.Writer, message string) {
	_, _ = fmt.Fprintf(w, "%s %s\n", render(successStyle, successSymbol), message)
}

func printError(w io.Writer, message string) {
	_, _ = fmt.Fprintf(w, "%s %s\n", render(errorStyle, errorSymbol), render(errorStyle, message))
}

func printWarning(w io.Writer, message string) {
	_, _ = fmt.Fprintf(w, "%s %s\n", render(warnStyle, warnSymbol), render(warnStyle, message))
}

func printInfof(w io.Writer, format string, args ...interface{}) {
	formatted := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintf(w, "%s %s\n", render(infoStyle, infoSymbol), formatted)
}

// humanBytes renders a byte count the way a person reads it ("12 kB").
func humanBytes(n int) string {
	return humanize.Bytes(uint64(n))
}
