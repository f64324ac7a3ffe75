package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// CameraPose maps target frame points into the camera frame: p_cam = R*p + t. Rotation is an
// axis-angle vector whose length is the angle in radians.
type CameraPose struct {
	Rotation    r3.Vector `json:"rotation"`
	Translation r3.Vector `json:"translation"`
}

// rotationMatrix is a row-major 3x3 rotation.
type rotationMatrix [3][3]float64

func (r rotationMatrix) apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: r[0][0]*v.X + r[0][1]*v.Y + r[0][2]*v.Z,
		Y: r[1][0]*v.X + r[1][1]*v.Y + r[1][2]*v.Z,
		Z: r[2][0]*v.X + r[2][1]*v.Y + r[2][2]*v.Z,
	}
}

// Quaternion returns the unit quaternion of the pose's rotation.
func (p CameraPose) Quaternion() quat.Number {
	half := p.Rotation.Mul(0.5)
	return quat.Exp(quat.Number{Imag: half.X, Jmag: half.Y, Kmag: half.Z})
}

func (p CameraPose) rotation() rotationMatrix {
	q := p.Quaternion()
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return rotationMatrix{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// RotationMatrix returns R as a 3x3 matrix.
func (p CameraPose) RotationMatrix() *mat.Dense {
	r := p.rotation()
	return mat.NewDense(3, 3, []float64{
		r[0][0], r[0][1], r[0][2],
		r[1][0], r[1][1], r[1][2],
		r[2][0], r[2][1], r[2][2],
	})
}

// Rotate applies only the rotation to v.
func (p CameraPose) Rotate(v r3.Vector) r3.Vector {
	return p.rotation().apply(v)
}

// Apply maps a target frame point into the camera frame.
func (p CameraPose) Apply(pt r3.Vector) r3.Vector {
	return p.rotation().apply(pt).Add(p.Translation)
}

// vector converts the rotation to axis-angle through its quaternion (Shepperd's method).
func (r rotationMatrix) vector() r3.Vector {
	var q quat.Number
	trace := r[0][0] + r[1][1] + r[2][2]
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: 0.25 * s, Imag: (r[2][1] - r[1][2]) / s, Jmag: (r[0][2] - r[2][0]) / s, Kmag: (r[1][0] - r[0][1]) / s}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := math.Sqrt(1+r[0][0]-r[1][1]-r[2][2]) * 2
		q = quat.Number{Real: (r[2][1] - r[1][2]) / s, Imag: 0.25 * s, Jmag: (r[0][1] + r[1][0]) / s, Kmag: (r[0][2] + r[2][0]) / s}
	case r[1][1] > r[2][2]:
		s := math.Sqrt(1+r[1][1]-r[0][0]-r[2][2]) * 2
		q = quat.Number{Real: (r[0][2] - r[2][0]) / s, Imag: (r[0][1] + r[1][0]) / s, Jmag: 0.25 * s, Kmag: (r[1][2] + r[2][1]) / s}
	default:
		s := math.Sqrt(1+r[2][2]-r[0][0]-r[1][1]) * 2
		q = quat.Number{Real: (r[1][0] - r[0][1]) / s, Imag: (r[0][2] + r[2][0]) / s, Jmag: (r[1][2] + r[2][1]) / s, Kmag: 0.25 * s}
	}
	q = quat.Scale(1/quat.Abs(q), q)
	// Keep the angle in [0, pi].
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	half := quat.Log(q)
	return r3.Vector{X: 2 * half.Imag, Y: 2 * half.Jmag, Z: 2 * half.Kmag}
}

// NewCameraPoseFromMatrix builds a pose from a 3x3 rotation matrix and a translation. The matrix
// is assumed orthonormal.
func NewCameraPoseFromMatrix(rot mat.Matrix, translation r3.Vector) CameraPose {
	var r rotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = rot.At(i, j)
		}
	}
	return CameraPose{Rotation: r.vector(), Translation: translation}
}
