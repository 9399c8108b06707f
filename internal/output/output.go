// Package output prints user-facing command results.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
	headerColor  = color.New(color.FgWhite, color.Bold)
)

// Printer writes to a pair of streams. The zero value uses stdout and stderr.
type Printer struct {
	Out io.Writer
	Err io.Writer
}

// New returns a Printer on the given streams.
func New(out, errOut io.Writer) *Printer {
	return &Printer{Out: out, Err: errOut}
}

func (p *Printer) out() io.Writer {
	if p == nil || p.Out == nil {
		return os.Stdout
	}
	return p.Out
}

func (p *Printer) err() io.Writer {
	if p == nil || p.Err == nil {
		return os.Stderr
	}
	return p.Err
}

func (p *Printer) Success(format string, a ...interface{}) {
	successColor.Fprintf(p.out(), "✓ "+format+"\n", a...)
}

func (p *Printer) Error(format string, a ...interface{}) {
	errorColor.Fprintf(p.err(), "✗ "+format+"\n", a...)
}

func (p *Printer) Info(format string, a ...interface{}) {
	infoColor.Fprintf(p.out(), format+"\n", a...)
}

func (p *Printer) Warn(format string, a ...interface{}) {
	warnColor.Fprintf(p.out(), "⚠ "+format+"\n", a...)
}

func (p *Printer) JSON(v interface{}) error {
	enc := json.NewEncoder(p.out())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{
		headers: headers,
		rows:    [][]string{},
	}
}

func (t *Table) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

// Render writes the table to p's output stream.
func (t *Table) Render(p *Printer) {
	w := p.out()

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, header := range t.headers {
		headerColor.Fprintf(w, "%-*s  ", widths[i], header)
	}
	fmt.Fprintln(w)

	for i := range t.headers {
		fmt.Fprint(w, strings.Repeat("-", widths[i])+"  ")
	}
	fmt.Fprintln(w)

	for _, row := range t.rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			fmt.Fprintf(w, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(w)
	}
}
