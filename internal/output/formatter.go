// Package output renders command results as terminal text or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// Format selects how results are written
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// ParseFormat validates a --format value. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want table or json)", s)
}

// ColorEnabled reports whether w is an interactive terminal that should get
// colour. NO_COLOR disables colour everywhere.
func ColorEnabled(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Printer writes results in one format
type Printer struct {
	w       io.Writer
	format  Format
	noColor bool
}

// NewPrinter creates a printer. Colour follows ColorEnabled(w).
func NewPrinter(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format, noColor: !ColorEnabled(w)}
}

// Writer returns the underlying writer
func (p *Printer) Writer() io.Writer { return p.w }

// JSON reports whether the printer emits JSON
func (p *Printer) JSON() bool { return p.format == FormatJSON }

// WriteJSON writes v as indented JSON
func (p *Printer) WriteJSON(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *Printer) style(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.noColor {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	return c
}

func (p *Printer) bold() *color.Color   { return p.style(color.Bold, color.FgCyan) }
func (p *Printer) red() *color.Color    { return p.style(color.FgRed, color.Bold) }
func (p *Printer) yellow() *color.Color { return p.style(color.FgYellow) }
func (p *Printer) green() *color.Color  { return p.style(color.FgGreen) }
func (p *Printer) gray() *color.Color   { return p.style(color.FgHiBlack) }
