// pkg/grid/slice.go - Extracting sub-rectangles from row-major buffers
package grid

import "fmt"

// Slice extracts the cells of sub from data, a row-major buffer laid out over
// total. When sub covers all of total the buffer is returned as is.
func Slice[T any](data []T, sub, total Rect) ([]T, error) {
	if !total.ContainsRect(sub) {
		return nil, fmt.Errorf("rect %s lies outside buffer bounds %s", sub, total)
	}
	if len(data) < total.Area() {
		return nil, fmt.Errorf("buffer holds %d cells, bounds %s need %d", len(data), total, total.Area())
	}
	if sub.Area() == total.Area() {
		return data, nil
	}

	out := make([]T, 0, sub.Area())
	xOffset := sub.X - total.X
	yOffset := sub.Y - total.Y
	for row := 0; row < sub.Height; row++ {
		start := (yOffset+row)*total.Width + xOffset
		out = append(out, data[start:start+sub.Width]...)
	}
	return out, nil
}
