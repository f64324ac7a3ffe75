package transform

import (
	"math"

	"github.com/pkg/errors"
)

// BrownConrady is the radial/tangential lens model
//
//	x_d = x_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x_u*y_u + p2*(r² + 2*x_u²)
//	y_d = y_u * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p2*x_u*y_u + p1*(r² + 2*y_u²)
//
// over normalized image coordinates.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady takes up to five parameters in the order rk1, rk2, rk3, tp1, tp2. Missing
// values are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	padded := make([]float64, 5)
	copy(padded, inp)
	return &BrownConrady{padded[0], padded[1], padded[2], padded[3], padded[4]}, nil
}

// NewBrownConradyFromOpenCV takes coefficients in OpenCV's (k1, k2, p1, p2[, k3]) order, as
// published in a ROS CameraInfo D vector.
func NewBrownConradyFromOpenCV(d []float64) (*BrownConrady, error) {
	if len(d) != 4 && len(d) != 5 {
		return nil, errors.Errorf("expected 4 or 5 plumb_bob coefficients, got %d", len(d))
	}
	bc := &BrownConrady{RadialK1: d[0], RadialK2: d[1], TangentialP1: d[2], TangentialP2: d[3]}
	if len(d) == 5 {
		bc.RadialK3 = d[4]
	}
	return bc, nil
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	for _, p := range bc.Parameters() {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return InvalidDistortionError("BrownConrady parameters must be finite")
		}
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2}
}

// Transform distorts an undistorted normalized point.
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	xd, yd, _ := bc.distort(x, y)
	return xd, yd
}

// distort evaluates the model and its Jacobian [[dxd/dxu, dxd/dyu], [dyd/dxu, dyd/dyu]].
func (bc *BrownConrady) distort(xu, yu float64) (float64, float64, [2][2]float64) {
	r2 := xu*xu + yu*yu
	r4 := r2 * r2
	r6 := r4 * r2
	k1, k2, k3, p1, p2 := bc.RadialK1, bc.RadialK2, bc.RadialK3, bc.TangentialP1, bc.TangentialP2

	radial := 1.0 + k1*r2 + k2*r4 + k3*r6
	xd := xu*radial + 2.0*p1*xu*yu + p2*(r2+2.0*xu*xu)
	yd := yu*radial + 2.0*p2*xu*yu + p1*(r2+2.0*yu*yu)

	dRadial := 2.0 * (k1 + 2.0*k2*r2 + 3.0*k3*r4)
	var jac [2][2]float64
	jac[0][0] = radial + xu*xu*dRadial + 2.0*p1*yu + 6.0*p2*xu
	jac[0][1] = xu*yu*dRadial + 2.0*p1*xu + 2.0*p2*yu
	jac[1][0] = xu*yu*dRadial + 2.0*p2*yu + 2.0*p1*xu
	jac[1][1] = radial + yu*yu*dRadial + 2.0*p2*xu + 6.0*p1*yu
	return xd, yd, jac
}

// Undistort inverts Transform with Newton-Raphson iterations started at the distorted point.
func (bc *BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	if bc == nil {
		return xd, yd
	}
	const maxIterations = 20
	const tolerance = 1e-12

	xu, yu := xd, yd
	for i := 0; i < maxIterations; i++ {
		xEst, yEst, jac := bc.distort(xu, yu)
		errX, errY := xEst-xd, yEst-yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}
		det := jac[0][0]*jac[1][1] - jac[0][1]*jac[1][0]
		if det == 0 {
			break
		}
		xu -= (jac[1][1]*errX - jac[0][1]*errY) / det
		yu -= (-jac[1][0]*errX + jac[0][0]*errY) / det
	}
	return xu, yu
}
