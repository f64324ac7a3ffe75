package pointcloud

import (
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// IndexMap relates positions in a compacted point list back to the organized grid it was drawn
// from. Original indices are strictly increasing in compact order, which makes both directions
// cheap.
type IndexMap struct {
	original []int
	gridSize int
}

// RemoveInvalid drops every non-finite cell from the cloud. It returns the remaining points in
// grid order together with the map from their compact position to their grid index.
func RemoveInvalid(cloud *Organized) ([]r3.Vector, *IndexMap) {
	valid := cloud.ValidCount()
	points := make([]r3.Vector, 0, valid)
	original := make([]int, 0, valid)
	for i := 0; i < cloud.Size(); i++ {
		if !cloud.IsValid(i) {
			continue
		}
		points = append(points, cloud.At(i))
		original = append(original, i)
	}
	return points, &IndexMap{original: original, gridSize: cloud.Size()}
}

// Len returns the number of compacted positions.
func (m *IndexMap) Len() int { return len(m.original) }

// GridSize returns width*height of the grid the map was built from.
func (m *IndexMap) GridSize() int { return m.gridSize }

// Original returns the grid index of compact position i.
func (m *IndexMap) Original(i int) int { return m.original[i] }

// Compact returns the compact position of a grid index, if that cell survived compaction.
func (m *IndexMap) Compact(original int) (int, bool) {
	pos := sort.SearchInts(m.original, original)
	if pos < len(m.original) && m.original[pos] == original {
		return pos, true
	}
	return 0, false
}

// Remap converts compact positions to grid indices. Ascending input gives ascending output.
func (m *IndexMap) Remap(compact []int) ([]int, error) {
	out := make([]int, len(compact))
	for i, c := range compact {
		if c < 0 || c >= len(m.original) {
			return nil, errors.Errorf("compact index %d out of range [0, %d)", c, len(m.original))
		}
		out[i] = m.original[c]
	}
	return out, nil
}
