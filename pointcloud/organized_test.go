package pointcloud

import (
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestIndexToRowCol(t *testing.T) {
	row, col := IndexToRowCol(0, 640)
	test.That(t, row, test.ShouldEqual, 0)
	test.That(t, col, test.ShouldEqual, 0)
	row, col = IndexToRowCol(1283, 640)
	test.That(t, row, test.ShouldEqual, 2)
	test.That(t, col, test.ShouldEqual, 3)
	test.That(t, RowColToIndex(row, col, 640), test.ShouldEqual, 1283)
}

func TestOrganized(t *testing.T) {
	cloud := NewOrganized(4, 3)
	test.That(t, cloud.Width(), test.ShouldEqual, 4)
	test.That(t, cloud.Height(), test.ShouldEqual, 3)
	test.That(t, cloud.Size(), test.ShouldEqual, 12)
	test.That(t, cloud.ValidCount(), test.ShouldEqual, 0)
	test.That(t, cloud.HasColor(), test.ShouldBeFalse)

	cloud.Set(5, r3.Vector{1, 2, 3})
	test.That(t, cloud.IsValid(5), test.ShouldBeTrue)
	test.That(t, cloud.AtRowCol(1, 1), test.ShouldResemble, r3.Vector{1, 2, 3})
	test.That(t, cloud.ValidCount(), test.ShouldEqual, 1)

	cloud.Set(6, r3.Vector{1, math.Inf(1), 3})
	test.That(t, cloud.IsValid(6), test.ShouldBeFalse)

	_, ok := cloud.Color(5)
	test.That(t, ok, test.ShouldBeFalse)
	cloud.SetColor(5, color.NRGBA{10, 20, 30, 255})
	c, ok := cloud.Color(5)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, color.NRGBA{10, 20, 30, 255})

	_, err := NewOrganizedFromPoints(2, 2, make([]r3.Vector, 3))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewOrganizedFromPoints(0, 2, nil)
	test.That(t, err, test.ShouldNotBeNil)
	other, err := NewOrganizedFromPoints(2, 2, make([]r3.Vector, 4))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, other.ValidCount(), test.ShouldEqual, 4)
}
