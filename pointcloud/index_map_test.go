package pointcloud

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func checkerboardCloud(width, height int) *Organized {
	cloud := NewOrganized(width, height)
	for i := 0; i < cloud.Size(); i++ {
		row, col := IndexToRowCol(i, width)
		if (row+col)%3 != 0 {
			cloud.Set(i, r3.Vector{X: float64(col), Y: float64(row), Z: 1})
		}
	}
	return cloud
}

func TestRemoveInvalid(t *testing.T) {
	cloud := checkerboardCloud(7, 5)
	points, indexMap := RemoveInvalid(cloud)
	test.That(t, len(points), test.ShouldEqual, cloud.ValidCount())
	test.That(t, indexMap.Len(), test.ShouldEqual, len(points))
	test.That(t, indexMap.GridSize(), test.ShouldEqual, 35)

	for i, pt := range points {
		original := indexMap.Original(i)
		test.That(t, cloud.At(original), test.ShouldResemble, pt)
		compact, ok := indexMap.Compact(original)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, compact, test.ShouldEqual, i)
		if i > 0 {
			test.That(t, original, test.ShouldBeGreaterThan, indexMap.Original(i-1))
		}
	}

	_, ok := indexMap.Compact(0)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = indexMap.Compact(1000)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestRemapIdempotentAgainstInvalidRemoval(t *testing.T) {
	cloud := checkerboardCloud(9, 6)
	_, indexMap := RemoveInvalid(cloud)

	all := make([]int, indexMap.Len())
	for i := range all {
		all[i] = i
	}
	remapped, err := indexMap.Remap(all)
	test.That(t, err, test.ShouldBeNil)

	// Filtering the remapped set by validity changes nothing.
	filtered := make([]int, 0, len(remapped))
	for _, idx := range remapped {
		if cloud.IsValid(idx) {
			filtered = append(filtered, idx)
		}
	}
	test.That(t, filtered, test.ShouldResemble, remapped)

	_, err = indexMap.Remap([]int{indexMap.Len()})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = indexMap.Remap([]int{-1})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRemoveInvalidAllNaN(t *testing.T) {
	points, indexMap := RemoveInvalid(NewOrganized(3, 3))
	test.That(t, points, test.ShouldBeEmpty)
	test.That(t, indexMap.Len(), test.ShouldEqual, 0)
}
