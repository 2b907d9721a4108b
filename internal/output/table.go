package output

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Table renders aligned columns with a header and separator
type Table struct {
	p       *Printer
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given headers
func (p *Printer) NewTable(headers ...string) *Table {
	return &Table{p: p, headers: headers}
}

// AddRow adds a row; missing cells render empty
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render writes the table
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}
	w := t.p.w

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = utf8.RuneCountInString(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				if n := utf8.RuneCountInString(cell); n > widths[i] {
					widths[i] = n
				}
			}
		}
	}

	bold := t.p.bold()
	for i, header := range t.headers {
		if i == len(t.headers)-1 {
			bold.Fprint(w, header)
		} else {
			bold.Fprint(w, padRight(header, widths[i]))
			fmt.Fprint(w, "  ")
		}
	}
	fmt.Fprintln(w)

	gray := t.p.gray()
	for i, width := range widths {
		gray.Fprint(w, strings.Repeat("─", width))
		if i < len(widths)-1 {
			gray.Fprint(w, "  ")
		}
	}
	fmt.Fprintln(w)

	for _, row := range t.rows {
		for i := range t.headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			if i == len(t.headers)-1 {
				fmt.Fprint(w, cell)
			} else {
				fmt.Fprint(w, padRight(cell, widths[i])+"  ")
			}
		}
		fmt.Fprintln(w)
	}
}

// KeyValues renders two aligned columns
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		if n := utf8.RuneCountInString(kv[0]); n > width {
			width = n
		}
	}
	cyan := p.style(color.FgCyan)
	for _, kv := range pairs {
		cyan.Fprint(p.w, padRight(kv[0]+":", width+1))
		fmt.Fprintf(p.w, " %s\n", kv[1])
	}
}

func padRight(s string, width int) string {
	n := utf8.RuneCountInString(s)
	if n >= width {
		return s
	}
	return s + strings.Repeat(" ", width-n)
}

// Header renders a boxed title
func (p *Printer) Header(title string) {
	width := utf8.RuneCountInString(title) + 4
	bold := p.bold()
	bold.Fprintln(p.w, "┌"+strings.Repeat("─", width)+"┐")
	bold.Fprintln(p.w, "│  "+title+"  │")
	bold.Fprintln(p.w, "└"+strings.Repeat("─", width)+"┘")
	fmt.Fprintln(p.w)
}
