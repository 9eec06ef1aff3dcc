//go:build tiledb

package tiledb

import (
	"context"
	"fmt"
	"os"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/gridviewd/server/internal/grid"
)

// Source reads a dense 2-D TileDB array.
type Source struct {
	arrayURI string
	ctx      *tiledb.Context
}

// NewSource creates a TileDB source for the array at path.
func NewSource(path string) (*Source, error) {
	uri, err := ResolveArrayURI(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("tiledb array not found at %s: %w", uri, statErr)
	}

	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create TileDB context: %w", err)
	}

	return &Source{arrayURI: uri, ctx: ctx}, nil
}

func (s *Source) Supported() bool { return true }

func (s *Source) ArrayURI() string { return s.arrayURI }

// Metadata reports the array extent from its non-empty domain. The array is
// assumed to be written from origin (0,0).
func (s *Source) Metadata(ctx context.Context, id grid.Identity) (grid.Meta, error) {
	arr, err := tiledb.NewArray(s.ctx, s.arrayURI)
	if err != nil {
		return grid.Meta{}, fmt.Errorf("failed to open array (%s): %w", s.arrayURI, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return grid.Meta{}, fmt.Errorf("failed to open array for read: %w", err)
	}
	defer arr.Close()

	rows, err := dimExtent(arr, dimRows)
	if err != nil {
		return grid.Meta{}, err
	}
	cols, err := dimExtent(arr, dimCols)
	if err != nil {
		return grid.Meta{}, err
	}

	return grid.Meta{
		Shape: grid.Shape{Rows: rows, Cols: cols},
		Dtype: "float64",
	}, nil
}

// Block reads one rectangular region as row-major float64 values.
func (s *Source) Block(ctx context.Context, id grid.Identity, rect grid.Rect) ([][]float64, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("empty block rectangle %+v", rect)
	}

	arr, err := tiledb.NewArray(s.ctx, s.arrayURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open array (%s): %w", s.arrayURI, err)
	}
	defer arr.Free()
	if err := arr.Open(tiledb.TILEDB_READ); err != nil {
		return nil, fmt.Errorf("failed to open array for read: %w", err)
	}
	defer arr.Close()

	sub, err := arr.NewSubarray()
	if err != nil {
		return nil, fmt.Errorf("failed to create subarray: %w", err)
	}
	defer sub.Free()

	// TileDB ranges are inclusive on both ends.
	if err := sub.AddRangeByName(dimRows, tiledb.MakeRange[int64](int64(rect.Row0), int64(rect.Row1-1))); err != nil {
		return nil, fmt.Errorf("failed to add row range: %w", err)
	}
	if err := sub.AddRangeByName(dimCols, tiledb.MakeRange[int64](int64(rect.Col0), int64(rect.Col1-1))); err != nil {
		return nil, fmt.Errorf("failed to add col range: %w", err)
	}

	q, err := tiledb.NewQuery(s.ctx, arr)
	if err != nil {
		return nil, fmt.Errorf("failed to create query: %w", err)
	}
	defer q.Free()

	if err := q.SetSubarray(sub); err != nil {
		return nil, fmt.Errorf("failed to set subarray: %w", err)
	}
	if err := q.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return nil, fmt.Errorf("failed to set query layout: %w", err)
	}

	n := rect.Rows() * rect.Cols()
	out := make([]float64, n)
	if _, err := q.SetDataBuffer(attrValue, out); err != nil {
		return nil, fmt.Errorf("failed to set buffer %s: %w", attrValue, err)
	}

	if err := q.Submit(); err != nil {
		return nil, fmt.Errorf("query submit failed: %w", err)
	}
	status, err := q.Status()
	if err != nil {
		return nil, fmt.Errorf("query status failed: %w", err)
	}
	if status != tiledb.TILEDB_COMPLETED {
		return nil, fmt.Errorf("unexpected query status: %v", status)
	}

	values := make([][]float64, rect.Rows())
	for i := range values {
		values[i] = out[i*rect.Cols() : (i+1)*rect.Cols()]
	}
	return values, nil
}

func (s *Source) Close() {
	if s.ctx != nil {
		s.ctx.Free()
	}
}

// dimExtent returns the written extent of one dimension (max bound + 1).
func dimExtent(arr *tiledb.Array, name string) (int, error) {
	ned, isEmpty, err := arr.NonEmptyDomainFromName(name)
	if err != nil {
		return 0, fmt.Errorf("failed to get non-empty domain for %s: %w", name, err)
	}
	if isEmpty || ned == nil {
		return 0, nil
	}
	_, maxV, err := boundsMinMaxInt64(ned.Bounds)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s bounds: %w", name, err)
	}
	return int(maxV) + 1, nil
}

func boundsMinMaxInt64(bounds interface{}) (int64, int64, error) {
	switch v := bounds.(type) {
	case []int64:
		if len(v) >= 2 {
			return v[0], v[1], nil
		}
	case []int32:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	case []uint32:
		if len(v) >= 2 {
			return int64(v[0]), int64(v[1]), nil
		}
	}
	return 0, 0, fmt.Errorf("unsupported bounds type for non-empty domain")
}
