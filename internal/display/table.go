package display

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// maxCellWidth truncates long cells (file paths) with an ellipsis.
const maxCellWidth = 60

// Table is a left-aligned text table. Cells may carry a color applied after
// padding, so escape sequences never count toward the column width.
type Table struct {
	header []string
	rows   [][]string
	colors map[[2]int]*color.Color
}

// NewTable starts a table with the given column headers.
func NewTable(header ...string) *Table {
	return &Table{header: header, colors: make(map[[2]int]*color.Color)}
}

// Row appends a row; missing cells render empty.
func (t *Table) Row(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Color paints the cell at row, col (zero-based, header excluded).
func (t *Table) Color(row, col int, c *color.Color) {
	t.colors[[2]int{row, col}] = c
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Render writes the table to w, indented by two spaces.
func (t *Table) Render(w io.Writer) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, r := range t.rows {
		for i := range widths {
			if i < len(r) {
				if n := utf8.RuneCountInString(truncate(r[i])); n > widths[i] {
					widths[i] = n
				}
			}
		}
	}

	header := "  " + joinPadded(t.header, widths, nil)
	fmt.Fprintln(w, strings.TrimRight(header, " "))
	fmt.Fprintln(w, "  "+strings.Repeat("─", utf8.RuneCountInString(strings.TrimRight(header, " "))-2))

	for ri, r := range t.rows {
		cells := make([]string, len(widths))
		copy(cells, r)
		line := "  " + joinPadded(cells, widths, func(ci int) *color.Color { return t.colors[[2]int{ri, ci}] })
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func joinPadded(cells []string, widths []int, colorAt func(int) *color.Color) string {
	parts := make([]string, len(widths))
	for i, wd := range widths {
		cell := ""
		if i < len(cells) {
			cell = truncate(cells[i])
		}
		padded := cell + strings.Repeat(" ", wd-utf8.RuneCountInString(cell))
		if colorAt != nil {
			if c := colorAt(i); c != nil {
				padded = c.Sprint(padded)
			}
		}
		parts[i] = padded
	}
	return strings.Join(parts, "  ")
}

// truncate shortens s to maxCellWidth runes, keeping the tail (the file name
// end of a path).
func truncate(s string) string {
	n := utf8.RuneCountInString(s)
	if n <= maxCellWidth {
		return s
	}
	r := []rune(s)
	return "…" + string(r[n-maxCellWidth+1:])
}
