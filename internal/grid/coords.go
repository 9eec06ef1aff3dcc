package grid

import "github.com/gridviewd/server/internal/slice"

// Identity identifies which remote array a model addresses. Immutable after
// construction.
type Identity struct {
	Path string `json:"path"`
	URI  string `json:"uri"`
}

// Shape is the total physical extent of a dataset. Set exactly once when
// metadata arrives; it never changes afterwards.
type Shape struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Meta is what a source reports about a dataset.
type Meta struct {
	Shape Shape  `json:"shape"`
	Dtype string `json:"dtype"`
}

// Rect is a half-open physical rectangle [Row0,Row1) x [Col0,Col1).
type Rect struct {
	Row0 int `json:"row0"`
	Row1 int `json:"row1"`
	Col0 int `json:"col0"`
	Col1 int `json:"col1"`
}

// Rows returns the row span of the rectangle.
func (r Rect) Rows() int { return r.Row1 - r.Row0 }

// Cols returns the column span of the rectangle.
func (r Rect) Cols() int { return r.Col1 - r.Col0 }

// Empty reports whether the rectangle covers no cells.
func (r Rect) Empty() bool { return r.Row1 <= r.Row0 || r.Col1 <= r.Col0 }

// BlockCoord addresses one fixed-size block of physical space.
type BlockCoord struct {
	Row int
	Col int
}

// blockAt maps a physical cell to its containing block.
func blockAt(row, col, size int) BlockCoord {
	return BlockCoord{Row: row / size, Col: col / size}
}

// blockRect returns the physical rectangle a block covers, clipped to the
// dataset shape. Edge blocks come out partial.
func blockRect(bc BlockCoord, size int, shape Shape) Rect {
	r := Rect{
		Row0: bc.Row * size,
		Row1: (bc.Row + 1) * size,
		Col0: bc.Col * size,
		Col1: (bc.Col + 1) * size,
	}
	if r.Row1 > shape.Rows {
		r.Row1 = shape.Rows
	}
	if r.Col1 > shape.Cols {
		r.Col1 = shape.Cols
	}
	return r
}

// effectiveCount is the visible extent of one dimension: stop-start when the
// range is bounded, the full extent otherwise. Never negative.
func effectiveCount(r slice.Range, full int) int {
	if r.Bounded() {
		n := *r.Stop - *r.Start
		if n < 0 {
			return 0
		}
		return n
	}
	return full
}

// toPhysical translates a logical (view) index into the underlying dataset.
func toPhysical(r slice.Range, logical int) int {
	if r.Bounded() {
		return logical + *r.Start
	}
	return logical
}

// originOf is the physical index of logical 0 on a dimension.
func originOf(r slice.Range) int {
	if r.Bounded() {
		return *r.Start
	}
	return 0
}
