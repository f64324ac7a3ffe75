package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestCameraPoseMatrixRoundTrip(t *testing.T) {
	for _, rot := range []r3.Vector{
		{},
		{X: 0.1, Y: -0.2, Z: 0.05},
		{X: 0, Y: 0, Z: math.Pi / 2},
		{X: 2.5, Y: 0.3, Z: -0.4},
		{X: 0, Y: 3.1, Z: 0},
	} {
		pose := CameraPose{Rotation: rot, Translation: r3.Vector{X: 1, Y: 2, Z: 3}}
		back := NewCameraPoseFromMatrix(pose.RotationMatrix(), pose.Translation)
		test.That(t, back.Rotation.X, test.ShouldAlmostEqual, rot.X, 1e-9)
		test.That(t, back.Rotation.Y, test.ShouldAlmostEqual, rot.Y, 1e-9)
		test.That(t, back.Rotation.Z, test.ShouldAlmostEqual, rot.Z, 1e-9)
		test.That(t, back.Translation, test.ShouldResemble, pose.Translation)
	}
}

func TestCameraPoseApply(t *testing.T) {
	pose := CameraPose{Rotation: r3.Vector{Z: math.Pi / 2}, Translation: r3.Vector{X: 0, Y: 0, Z: 1}}
	got := pose.Apply(r3.Vector{X: 1})
	test.That(t, got.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, got.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, got.Z, test.ShouldAlmostEqual, 1, 1e-12)

	rotated := pose.Rotate(r3.Vector{Y: 1})
	test.That(t, rotated.X, test.ShouldAlmostEqual, -1, 1e-12)
	test.That(t, rotated.Y, test.ShouldAlmostEqual, 0, 1e-12)

	r := pose.RotationMatrix()
	var rrt mat.Dense
	rrt.Mul(r, r.T())
	test.That(t, mat.EqualApprox(&rrt, mat.NewDiagDense(3, []float64{1, 1, 1}), 1e-12), test.ShouldBeTrue)
	test.That(t, mat.Det(r), test.ShouldAlmostEqual, 1, 1e-12)

	q := pose.Quaternion()
	test.That(t, q.Real, test.ShouldAlmostEqual, math.Cos(math.Pi/4), 1e-12)
	test.That(t, q.Kmag, test.ShouldAlmostEqual, math.Sin(math.Pi/4), 1e-12)
}
