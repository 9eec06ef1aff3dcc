// Package slice parses textual multi-dimension range expressions.
package slice

import (
	"strconv"
	"strings"
)

// Range describes the active window on one dimension. A nil bound means
// unbounded on that side.
type Range struct {
	Start *int
	Stop  *int
}

// Bounded reports whether both bounds are present.
func (r Range) Bounded() bool {
	return r.Start != nil && r.Stop != nil
}

// Parse converts a slice expression like "10:20,5:15" into per-dimension
// ranges. Dimension expressions are comma-separated; each is colon-separated
// as start:stop or start:stop:step (the step is accepted but not applied).
// An empty expression yields an unbounded range. A bare index (one part)
// yields no range at all for that dimension: single-index selection is not
// supported, and later expressions shift up to fill the gap.
//
// The parser is lenient by design: part counts other than 0, 2 or 3 are
// dropped, bounds that fail to parse as integers become unbounded, and no
// range validation (start <= stop, in-bounds) happens here.
func Parse(text string) []Range {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var ranges []Range
	for _, expr := range strings.Split(text, ",") {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			ranges = append(ranges, Range{})
			continue
		}

		parts := strings.Split(expr, ":")
		switch len(parts) {
		case 2, 3:
			ranges = append(ranges, Range{
				Start: parseBound(parts[0]),
				Stop:  parseBound(parts[1]),
			})
		default:
			// Bare index: dropped.
		}
	}
	return ranges
}

func parseBound(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &v
}
