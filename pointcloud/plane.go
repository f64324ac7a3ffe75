package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Plane is the model a*x + b*y + c*z + d = 0.
type Plane struct {
	equation [4]float64
}

// NewPlane wraps the four coefficients as given.
func NewPlane(equation [4]float64) Plane {
	return Plane{equation}
}

// NewPlaneFromPointNormal builds the plane through point with the given normal.
func NewPlaneFromPointNormal(point, normal r3.Vector) Plane {
	n := normal.Normalize()
	return Plane{[4]float64{n.X, n.Y, n.Z, -n.Dot(point)}}
}

// Equation returns the coefficients (a, b, c, d).
func (p Plane) Equation() [4]float64 {
	return p.equation
}

// Normal returns (a, b, c) as stored.
func (p Plane) Normal() r3.Vector {
	return r3.Vector{X: p.equation[0], Y: p.equation[1], Z: p.equation[2]}
}

// Offset returns d.
func (p Plane) Offset() float64 {
	return p.equation[3]
}

// IsValid reports whether all coefficients are finite and the normal is non-zero.
func (p Plane) IsValid() bool {
	for _, c := range p.equation {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return p.Normal().Norm() > 0
}

// Distance returns the signed distance from pt to the plane, positive on the normal's side.
func (p Plane) Distance(pt r3.Vector) float64 {
	n := p.Normal()
	return (n.Dot(pt) + p.equation[3]) / n.Norm()
}

// Normalized scales the coefficients so the normal has unit length.
func (p Plane) Normalized() Plane {
	norm := p.Normal().Norm()
	if norm == 0 {
		return p
	}
	return Plane{[4]float64{p.equation[0] / norm, p.equation[1] / norm, p.equation[2] / norm, p.equation[3] / norm}}
}

// Negated flips the sign of all four coefficients. The point set it describes is unchanged.
func (p Plane) Negated() Plane {
	return Plane{[4]float64{-p.equation[0], -p.equation[1], -p.equation[2], -p.equation[3]}}
}

// WithNonPositiveOffset keeps the model when d < 0 and negates it otherwise, so d <= 0 always
// holds afterwards.
func (p Plane) WithNonPositiveOffset() Plane {
	if p.equation[3] < 0 {
		return p
	}
	return p.Negated()
}

// OrientedLike negates the model when its normal points away from ref's normal.
func (p Plane) OrientedLike(ref Plane) Plane {
	if p.Normal().Dot(ref.Normal()) < 0 {
		return p.Negated()
	}
	return p
}

// ErrDegeneratePoints is returned when the points span no more than a line.
var ErrDegeneratePoints = errors.New("points are collinear and do not determine a plane")

// collinearTolerance bounds the ratio of the middle to the largest covariance eigenvalue below
// which a point set counts as a line.
const collinearTolerance = 1e-6

// Moments accumulates first and second order sums of a point set.
type Moments struct {
	count int
	sum   r3.Vector
	outer [3][3]float64
}

// Add accumulates pt.
func (m *Moments) Add(pt r3.Vector) {
	m.count++
	m.sum = m.sum.Add(pt)
	v := [3]float64{pt.X, pt.Y, pt.Z}
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			m.outer[i][j] += v[i] * v[j]
		}
	}
}

// Count returns how many points were added.
func (m *Moments) Count() int { return m.count }

// Centroid returns the mean of the added points.
func (m *Moments) Centroid() r3.Vector {
	if m.count == 0 {
		return r3.Vector{}
	}
	return m.sum.Mul(1 / float64(m.count))
}

// Fit returns the least squares plane of the accumulated points and its surface variation
// (curvature) λ0/(λ0+λ1+λ2), with λ0 the smallest eigenvalue of the covariance. Point sets that
// lie on a line fail with ErrDegeneratePoints.
func (m *Moments) Fit() (Plane, float64, error) {
	if m.count < 3 {
		return Plane{}, 0, errors.Errorf("need at least 3 points to fit a plane, have %d", m.count)
	}
	centroid := m.Centroid()
	c := [3]float64{centroid.X, centroid.Y, centroid.Z}
	n := float64(m.count)
	cov := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			cov.SetSym(i, j, m.outer[i][j]/n-c[i]*c[j])
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return Plane{}, 0, errors.New("eigen decomposition of point covariance failed")
	}
	values := eig.Values(nil)
	// Collinear or coincident points leave the normal anywhere in a null space.
	if values[2] <= 0 || values[1] <= collinearTolerance*values[2] {
		return Plane{}, 0, ErrDegeneratePoints
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Values are ascending, so column 0 spans the direction of least variance.
	normal := r3.Vector{X: vectors.At(0, 0), Y: vectors.At(1, 0), Z: vectors.At(2, 0)}
	if normal.Norm() == 0 {
		return Plane{}, 0, ErrDegeneratePoints
	}
	curvature := 0.0
	sum := math.Max(values[0], 0) + values[1] + values[2]
	if sum > 0 {
		curvature = math.Max(values[0], 0) / sum
	}
	return NewPlaneFromPointNormal(centroid, normal), curvature, nil
}

// FitPlane fits a least squares plane to points. It also returns the surface variation.
func FitPlane(points []r3.Vector) (Plane, float64, error) {
	var m Moments
	for _, pt := range points {
		m.Add(pt)
	}
	return m.Fit()
}
