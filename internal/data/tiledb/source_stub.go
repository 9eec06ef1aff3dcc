//go:build !tiledb

package tiledb

import (
	"context"
	"fmt"
	"os"

	"github.com/gridviewd/server/internal/grid"
)

// Source is a stub when built without "-tags tiledb".
type Source struct {
	arrayURI string
}

// NewSource creates a TileDB source (stub). It still resolves and validates
// the array path, so config issues are caught early, but reads return
// ErrUnsupported.
func NewSource(path string) (*Source, error) {
	uri, err := ResolveArrayURI(path)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(uri); statErr != nil {
		return nil, fmt.Errorf("tiledb array not found at %s: %w", uri, statErr)
	}
	return &Source{arrayURI: uri}, nil
}

func (s *Source) Supported() bool { return false }

func (s *Source) ArrayURI() string { return s.arrayURI }

func (s *Source) Metadata(ctx context.Context, id grid.Identity) (grid.Meta, error) {
	return grid.Meta{}, ErrUnsupported
}

func (s *Source) Block(ctx context.Context, id grid.Identity, rect grid.Rect) ([][]float64, error) {
	return nil, ErrUnsupported
}

func (s *Source) Close() {}
