package pointcloud

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestPlaneBasics(t *testing.T) {
	plane := NewPlane([4]float64{0, 0, 2, -4})
	test.That(t, plane.Equation(), test.ShouldResemble, [4]float64{0, 0, 2, -4})
	test.That(t, plane.Normal(), test.ShouldResemble, r3.Vector{0, 0, 2})
	test.That(t, plane.Offset(), test.ShouldEqual, -4.)
	test.That(t, plane.IsValid(), test.ShouldBeTrue)
	test.That(t, plane.Distance(r3.Vector{5, 5, 2}), test.ShouldAlmostEqual, 0.)
	test.That(t, plane.Distance(r3.Vector{0, 0, 3}), test.ShouldAlmostEqual, 1.)
	test.That(t, plane.Distance(r3.Vector{0, 0, 0}), test.ShouldAlmostEqual, -2.)

	unit := plane.Normalized()
	test.That(t, unit.Equation(), test.ShouldResemble, [4]float64{0, 0, 1, -2})
	test.That(t, unit.Negated().Equation(), test.ShouldResemble, [4]float64{0, 0, -1, 2})

	test.That(t, NewPlane([4]float64{}).IsValid(), test.ShouldBeFalse)
	test.That(t, NewPlane([4]float64{math.NaN(), 0, 1, 0}).IsValid(), test.ShouldBeFalse)
}

func TestPlaneSignConventions(t *testing.T) {
	negative := NewPlane([4]float64{0, 0, 1, -2})
	test.That(t, negative.WithNonPositiveOffset(), test.ShouldResemble, negative)
	positive := NewPlane([4]float64{0, 0, -1, 2})
	test.That(t, positive.WithNonPositiveOffset().Equation(), test.ShouldResemble, [4]float64{0, 0, 1, -2})
	zero := NewPlane([4]float64{0, 1, 0, 0})
	test.That(t, zero.WithNonPositiveOffset().Offset(), test.ShouldBeLessThanOrEqualTo, 0.)

	test.That(t, positive.OrientedLike(negative).Equation(), test.ShouldResemble, negative.Equation())
	test.That(t, negative.OrientedLike(negative), test.ShouldResemble, negative)
}

func TestFitPlane(t *testing.T) {
	var points []r3.Vector
	for x := 0; x < 10; x++ {
		for y := 0; y < 10; y++ {
			// z = 0.5x + 1
			points = append(points, r3.Vector{float64(x), float64(y), 0.5*float64(x) + 1})
		}
	}
	plane, curvature, err := FitPlane(points)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, curvature, test.ShouldAlmostEqual, 0., 1e-9)
	test.That(t, plane.Normal().Norm(), test.ShouldAlmostEqual, 1.)
	for _, pt := range points {
		test.That(t, plane.Distance(pt), test.ShouldAlmostEqual, 0., 1e-9)
	}
	expected := r3.Vector{0.5, 0, -1}.Normalize()
	test.That(t, math.Abs(plane.Normal().Dot(expected)), test.ShouldAlmostEqual, 1., 1e-9)

	_, _, err = FitPlane(points[:2])
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFitPlaneDegenerate(t *testing.T) {
	// a single grid column at constant depth
	var column []r3.Vector
	for row := 0; row < 20; row++ {
		column = append(column, r3.Vector{0.13, float64(row) * 0.01, 1.0302})
	}
	_, _, err := FitPlane(column)
	test.That(t, errors.Is(err, ErrDegeneratePoints), test.ShouldBeTrue)

	// a slanted line
	var line []r3.Vector
	for i := 0; i < 10; i++ {
		line = append(line, r3.Vector{1, 2, 3}.Mul(float64(i)).Add(r3.Vector{0.5, 0, 1}))
	}
	_, _, err = FitPlane(line)
	test.That(t, errors.Is(err, ErrDegeneratePoints), test.ShouldBeTrue)

	same := []r3.Vector{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}
	_, _, err = FitPlane(same)
	test.That(t, errors.Is(err, ErrDegeneratePoints), test.ShouldBeTrue)

	// two parallel columns still span a plane
	for row := 0; row < 20; row++ {
		column = append(column, r3.Vector{0.14, float64(row) * 0.01, 1.0364})
	}
	plane, _, err := FitPlane(column)
	test.That(t, err, test.ShouldBeNil)
	for _, pt := range column {
		test.That(t, plane.Distance(pt), test.ShouldAlmostEqual, 0., 1e-9)
	}
}

func TestMomentsCurvature(t *testing.T) {
	var m Moments
	// Corners of a unit cube have no preferred plane.
	for _, x := range []float64{0, 1} {
		for _, y := range []float64{0, 1} {
			for _, z := range []float64{0, 1} {
				m.Add(r3.Vector{x, y, z})
			}
		}
	}
	test.That(t, m.Count(), test.ShouldEqual, 8)
	test.That(t, m.Centroid(), test.ShouldResemble, r3.Vector{0.5, 0.5, 0.5})
	_, curvature, err := m.Fit()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, curvature, test.ShouldAlmostEqual, 1./3, 1e-9)
}
