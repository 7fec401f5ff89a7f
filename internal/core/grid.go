package core

// Row is an ordered sequence of cell values. Rows in a Grid may differ in length.
type Row []string

// Grid is an ordered sequence of rows, indexed by (row, col).
// Cells are never type-coerced: numbers and booleans stay strings.
type Grid []Row

// Clone returns a deep copy of the grid.
func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}
	out := make(Grid, len(g))
	for i, row := range g {
		out[i] = cloneRow(row)
	}
	return out
}

func cloneRow(row Row) Row {
	if row == nil {
		return Row{}
	}
	out := make(Row, len(row))
	copy(out, row)
	return out
}

// Equal reports whether both grids have the same rows, row lengths and cell values.
// A nil grid equals an empty one.
func (g Grid) Equal(other Grid) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if len(g[i]) != len(other[i]) {
			return false
		}
		for j := range g[i] {
			if g[i][j] != other[i][j] {
				return false
			}
		}
	}
	return true
}

// Cell returns the value at (row, col) and whether that position exists.
func (g Grid) Cell(row, col int) (string, bool) {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return "", false
	}
	return g[row][col], true
}

// Width returns the length of the longest row.
func (g Grid) Width() int {
	w := 0
	for _, row := range g {
		if len(row) > w {
			w = len(row)
		}
	}
	return w
}

// SetCell returns a new grid with the cell at (row, col) set to value.
//
// Missing rows up to and including row are added as empty rows. If col is past
// the end of the target row, only that row is padded with empty cells. The input
// grid is not modified and the result shares no backing arrays with it.
//
// Indices must be non-negative; callers validate before calling.
func SetCell(g Grid, row, col int, value string) Grid {
	size := len(g)
	if row >= size {
		size = row + 1
	}

	out := make(Grid, size)
	for i := range out {
		if i < len(g) {
			out[i] = cloneRow(g[i])
		} else {
			out[i] = Row{}
		}
	}

	target := out[row]
	if col >= len(target) {
		grown := make(Row, col+1)
		copy(grown, target)
		target = grown
	}
	target[col] = value
	out[row] = target

	return out
}
