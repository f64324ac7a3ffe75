// Package pointcloud defines organized point clouds, their surface normals, plane models and
// the PCD file format used to move them around.
package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Organized is a point cloud laid out on the sensor's width x height pixel grid. The linear index
// of a cell is row*width + col. Cells without a measurement hold a non-finite point.
type Organized struct {
	width, height int
	points        []r3.Vector
	colors        []color.NRGBA
}

// InvalidPoint returns the placeholder stored in cells without a measurement.
func InvalidPoint() r3.Vector {
	return r3.Vector{X: math.NaN(), Y: math.NaN(), Z: math.NaN()}
}

// IsValidPoint reports whether every coordinate of p is finite.
func IsValidPoint(p r3.Vector) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}

// IndexToRowCol converts a linear grid index to its (row, col) position. No bounds checking.
func IndexToRowCol(index, width int) (row, col int) {
	return index / width, index % width
}

// RowColToIndex is the inverse of IndexToRowCol.
func RowColToIndex(row, col, width int) int {
	return row*width + col
}

// NewOrganized returns a width x height cloud with every cell invalid.
func NewOrganized(width, height int) *Organized {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	points := make([]r3.Vector, width*height)
	for i := range points {
		points[i] = InvalidPoint()
	}
	return &Organized{width: width, height: height, points: points}
}

// NewOrganizedFromPoints wraps a row-major slice of points. The slice is used, not copied.
func NewOrganizedFromPoints(width, height int, points []r3.Vector) (*Organized, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid organized cloud dimensions %dx%d", width, height)
	}
	if len(points) != width*height {
		return nil, errors.Errorf("got %d points for a %dx%d organized cloud", len(points), width, height)
	}
	return &Organized{width: width, height: height, points: points}, nil
}

// Width returns the number of columns.
func (o *Organized) Width() int { return o.width }

// Height returns the number of rows.
func (o *Organized) Height() int { return o.height }

// Size returns width*height, including invalid cells.
func (o *Organized) Size() int { return len(o.points) }

// At returns the point stored at the linear index i.
func (o *Organized) At(i int) r3.Vector { return o.points[i] }

// AtRowCol returns the point stored at (row, col).
func (o *Organized) AtRowCol(row, col int) r3.Vector {
	return o.points[RowColToIndex(row, col, o.width)]
}

// Set stores p at the linear index i.
func (o *Organized) Set(i int, p r3.Vector) { o.points[i] = p }

// IsValid reports whether the cell at index i holds a finite point.
func (o *Organized) IsValid(i int) bool { return IsValidPoint(o.points[i]) }

// ValidCount returns the number of cells holding a finite point.
func (o *Organized) ValidCount() int {
	count := 0
	for i := range o.points {
		if o.IsValid(i) {
			count++
		}
	}
	return count
}

// HasColor reports whether colors were attached to the cloud.
func (o *Organized) HasColor() bool { return o.colors != nil }

// Color returns the color at index i. The second return is false when the cloud is uncolored.
func (o *Organized) Color(i int) (color.NRGBA, bool) {
	if o.colors == nil {
		return color.NRGBA{}, false
	}
	return o.colors[i], true
}

// SetColor stores c at index i, allocating the color plane on first use.
func (o *Organized) SetColor(i int, c color.NRGBA) {
	if o.colors == nil {
		o.colors = make([]color.NRGBA, len(o.points))
	}
	o.colors[i] = c
}

// Points returns the backing row-major slice.
func (o *Organized) Points() []r3.Vector { return o.points }
