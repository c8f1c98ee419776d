package ui

import (
	"io"
	"strings"
	"unicode/utf8"
)

type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

// Column configures a table column.
type Column struct {
	Header       string
	Align        Align // default AlignLeft
	MaxWidth     int   // 0 = unlimited, longer cells get end-truncated
	PaddingRight int   // default 2 spaces
}

type Table struct {
	columns []Column
	rows    [][]string

	ShowHeader    bool
	ShowSeparator bool
}

func NewTable(columns ...Column) *Table {
	for i := range columns {
		if columns[i].PaddingRight == 0 {
			columns[i].PaddingRight = 2
		}
	}

	return &Table{
		columns:       columns,
		ShowHeader:    true,
		ShowSeparator: true,
	}
}

func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.columns))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	t.rows = append(t.rows, row)
}

func (t *Table) Render(w io.Writer) error {
	if len(t.columns) == 0 {
		return nil
	}

	widths := t.computeWidths()

	if t.ShowHeader {
		headers := make([]string, len(t.columns))
		for i, c := range t.columns {
			headers[i] = c.Header
		}
		if err := t.writeRow(w, headers, widths); err != nil {
			return err
		}
		if t.ShowSeparator {
			if err := t.writeSeparator(w, widths); err != nil {
				return err
			}
		}
	}

	for _, row := range t.rows {
		if err := t.writeRow(w, row, widths); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) computeWidths() []int {
	widths := make([]int, len(t.columns))

	for i, col := range t.columns {
		widths[i] = capWidth(runeLen(col.Header), col.MaxWidth)
	}

	for _, row := range t.rows {
		for i, cell := range row {
			col := t.columns[i]
			w := capWidth(runeLen(truncate(cell, col.MaxWidth)), col.MaxWidth)
			if w > widths[i] {
				widths[i] = w
			}
		}
	}

	return widths
}

func capWidth(w, maxWidth int) int {
	if maxWidth > 0 && w > maxWidth {
		return maxWidth
	}
	return w
}

func (t *Table) writeRow(w io.Writer, cells []string, widths []int) error {
	for i, raw := range cells {
		col := t.columns[i]
		out := align(truncate(raw, col.MaxWidth), widths[i], col.Align)
		if col.PaddingRight > 0 {
			out += strings.Repeat(" ", col.PaddingRight)
		}
		if _, err := io.WriteString(w, out); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func (t *Table) writeSeparator(w io.Writer, widths []int) error {
	for i, col := range t.columns {
		dashes := strings.Repeat("-", widths[i])
		if col.PaddingRight > 0 {
			dashes += strings.Repeat(" ", col.PaddingRight)
		}
		if _, err := io.WriteString(w, dashes); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func truncate(s string, maxWidth int) string {
	if maxWidth <= 0 || runeLen(s) <= maxWidth {
		return s
	}
	if maxWidth <= 1 {
		return takeRunes(s, maxWidth)
	}
	return takeRunes(s, maxWidth-1) + "…"
}

func align(s string, width int, a Align) string {
	l := runeLen(s)
	if l >= width {
		return s
	}
	pad := strings.Repeat(" ", width-l)
	if a == AlignRight {
		return pad + s
	}
	return s + pad
}

// rune count, not terminal cell width
func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

func takeRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
