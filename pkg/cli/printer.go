// Package cli provides the small set of output helpers cmd/agentsdb shares
// across subcommands: a bold-accent Printer, grounded on
// vvoland-cagent's pkg/cli/printer.go core (the chat/tool-call-specific
// parts of that file don't apply to a CLI with no interactive agent loop).
package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var bold = color.New(color.Bold).SprintfFunc()

// Printer writes human-facing CLI output to an io.Writer, accenting
// headings with bold where the terminal supports it.
type Printer struct {
	out io.Writer
}

// NewPrinter wraps out in a Printer.
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) Println(a ...any) {
	fmt.Fprintln(p.out, a...)
}

func (p *Printer) Print(a ...any) {
	fmt.Fprint(p.out, a...)
}

func (p *Printer) Printf(format string, a ...any) {
	fmt.Fprintf(p.out, format, a...)
}

// Heading prints a bold-accented line, used for section headers in
// search/proposal listings.
func (p *Printer) Heading(format string, a ...any) {
	fmt.Fprintln(p.out, bold(format, a...))
}

// PrintError prints err prefixed with a fixed marker, matching the
// teacher's PrintError.
func (p *Printer) PrintError(err error) {
	fmt.Fprintf(p.out, "❌ %s\n", err)
}
