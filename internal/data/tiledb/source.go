// Package tiledb serves a dataset from a local TileDB dense array instead of
// the remote dataset service.
//
// This is intentionally small: the array must be a dense 2-D array with int64
// dimensions named "rows" and "cols" and a float64 attribute named "v". Build
// the server with -tags tiledb to enable it; the default build carries a stub
// so a misconfigured tiledb_path is still caught early.
package tiledb

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupported indicates this binary was built without TileDB support.
	ErrUnsupported = errors.New("tiledb support is not enabled in this build (build server with: go build -tags tiledb)")
)

const (
	dimRows   = "rows"
	dimCols   = "cols"
	attrValue = "v"
)

// ResolveArrayURI cleans and validates a configured tiledb_path.
func ResolveArrayURI(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", errors.New("empty tiledb_path")
	}
	p = os.ExpandEnv(p)
	return filepath.Clean(p), nil
}
