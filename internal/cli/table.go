package cli

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// PlainTable renders kubectl-style output without box-drawing characters.
type PlainTable struct {
	w         table.Writer
	out       io.Writer
	noHeaders bool
	columns   int
}

// NewPlainTable creates a table writing to out. Headers are upper-cased.
func NewPlainTable(out io.Writer, noHeaders bool, headers ...string) *PlainTable {
	w := table.NewWriter()
	style := table.StyleDefault
	style.Name = "plain"
	style.Box = table.BoxStyle{PaddingRight: "   "}
	style.Options = table.Options{}
	style.Format.Header = text.FormatUpper
	w.SetStyle(style)

	if !noHeaders {
		row := make(table.Row, len(headers))
		for i, h := range headers {
			row[i] = h
		}
		w.AppendHeader(row)
	}
	return &PlainTable{w: w, out: out, noHeaders: noHeaders, columns: len(headers)}
}

// AppendRow adds a row. Missing cells render as "-".
func (t *PlainTable) AppendRow(cells ...string) {
	row := make(table.Row, t.columns)
	for i := range row {
		row[i] = "-"
		if i < len(cells) && cells[i] != "" {
			row[i] = cells[i]
		}
	}
	t.w.AppendRow(row)
}

// Render writes the table. An empty table with suppressed headers prints nothing.
func (t *PlainTable) Render() {
	if t.noHeaders && t.w.Length() == 0 {
		return
	}
	rendered := t.w.Render()
	if rendered == "" {
		return
	}
	for _, line := range strings.Split(rendered, "\n") {
		io.WriteString(t.out, strings.TrimRight(line, " ")+"\n")
	}
}
