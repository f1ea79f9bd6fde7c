// Package render formats pipeline results for the terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

// Writer wraps an io.Writer with formatting utilities.
type Writer struct {
	out io.Writer
}

// NewWriter creates a Writer that writes to the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{out: w}
}

// Stdout returns a Writer that writes to os.Stdout.
func Stdout() *Writer {
	return NewWriter(os.Stdout)
}

// Stderr returns a Writer that writes to os.Stderr.
func Stderr() *Writer {
	return NewWriter(os.Stderr)
}

// DisableColor turns off ANSI colors process-wide.
func DisableColor() {
	color.NoColor = true
}

// Println writes formatted text with newline.
func (w *Writer) Println(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Line writes a blank line.
func (w *Writer) Line() {
	fmt.Fprintln(w.out)
}

// Raw writes s unchanged.
func (w *Writer) Raw(s string) {
	io.WriteString(w.out, s)
}

// Header writes a bold title.
func (w *Writer) Header(title string, args ...any) {
	if len(args) > 0 {
		title = fmt.Sprintf(title, args...)
	}
	fmt.Fprintln(w.out, bold(strings.ToUpper(title)))
}

// Section writes a section header.
func (w *Writer) Section(title string) {
	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, cyan(title+":"))
}

// Item writes an indented item line.
func (w *Writer) Item(format string, args ...any) {
	fmt.Fprintf(w.out, "  "+format+"\n", args...)
}

// Success writes a green check line.
func (w *Writer) Success(format string, args ...any) {
	fmt.Fprintf(w.out, "%s %s\n", green("✓"), fmt.Sprintf(format, args...))
}

// Warn writes a yellow warning line.
func (w *Writer) Warn(format string, args ...any) {
	fmt.Fprintf(w.out, "%s %s\n", yellow("!"), fmt.Sprintf(format, args...))
}

// Error writes a red failure line.
func (w *Writer) Error(format string, args ...any) {
	fmt.Fprintf(w.out, "%s %s\n", red("✗"), fmt.Sprintf(format, args...))
}

// Empty writes an empty state message.
func (w *Writer) Empty(msg string) {
	fmt.Fprintln(w.out, faint(msg))
}
