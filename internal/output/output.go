// Package output provides consistent CLI output formatting.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorDim    = "\033[2m"
)

// Writer provides formatted output for the CLI. Color is enabled only
// when writing to an interactive terminal.
type Writer struct {
	out      io.Writer
	useColor bool
}

// New creates a Writer, auto-detecting terminal capability.
func New(out io.Writer) *Writer {
	useColor := false
	if f, ok := out.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Writer{out: out, useColor: useColor}
}

// Plain creates a Writer with color disabled.
func Plain(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Success prints a success message.
func (w *Writer) Success(format string, args ...any) {
	w.line(colorGreen, "✓", fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(format string, args ...any) {
	w.line(colorYellow, "!", fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(format string, args ...any) {
	w.line(colorRed, "✗", fmt.Sprintf(format, args...))
}

// Info prints an unadorned line.
func (w *Writer) Info(format string, args ...any) {
	_, _ = fmt.Fprintf(w.out, format+"\n", args...)
}

// Detail prints an indented, dimmed line.
func (w *Writer) Detail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if w.useColor {
		_, _ = fmt.Fprintf(w.out, "  %s%s%s\n", colorDim, msg, colorReset)
		return
	}
	_, _ = fmt.Fprintf(w.out, "  %s\n", msg)
}

// Table prints aligned key/value rows.
func (w *Writer) Table(rows [][2]string) {
	width := 0
	for _, row := range rows {
		if len(row[0]) > width {
			width = len(row[0])
		}
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(w.out, "  %-*s  %s\n", width, row[0], row[1])
	}
}

// Rule prints a separator line.
func (w *Writer) Rule() {
	_, _ = fmt.Fprintln(w.out, strings.Repeat("-", 40))
}

func (w *Writer) line(color, icon, msg string) {
	if w.useColor {
		_, _ = fmt.Fprintf(w.out, "%s%s%s %s\n", color, icon, colorReset, msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
}
