package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 4.2: centroid at
// the origin and mean distance sqrt(2). It returns the moved points and the 3x3 transform.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	nPoints := float64(len(pts))
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / nPoints)
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / nPoints
	}
	if d == 0 {
		return nil, nil, errors.New("points are coincident")
	}
	scale := math.Sqrt2 / d
	transformed := make([]r2.Point, len(pts))
	for i, pt := range pts {
		transformed[i] = pt.Sub(mu).Mul(scale)
	}
	return transformed, mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}), nil
}

// normalizePoints3D is the 3D analogue with mean distance sqrt(3).
func normalizePoints3D(pts []r3.Vector) ([]r3.Vector, *mat.Dense, error) {
	nPoints := float64(len(pts))
	mu := r3.Vector{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / nPoints)
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / nPoints
	}
	if d == 0 {
		return nil, nil, errors.New("points are coincident")
	}
	scale := math.Sqrt(3) / d
	transformed := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		transformed[i] = pt.Sub(mu).Mul(scale)
	}
	return transformed, mat.NewDense(4, 4, []float64{
		scale, 0, 0, -scale * mu.X,
		0, scale, 0, -scale * mu.Y,
		0, 0, scale, -scale * mu.Z,
		0, 0, 0, 1,
	}), nil
}

// nullVector returns the right singular vector of a with the smallest singular value. Rows are
// zero padded up to the column count so minimal systems factorize the same way.
func nullVector(a *mat.Dense) ([]float64, error) {
	rows, cols := a.Dims()
	if rows < cols {
		padded := mat.NewDense(cols, cols, nil)
		padded.Slice(0, rows, 0, cols).(*mat.Dense).Copy(a)
		a = padded
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nil, errors.New("svd factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	return mat.Col(nil, cols-1, &v), nil
}

// invertNormalization inverts the similarity built by normalizePoints.
func invertNormalization(t *mat.Dense) *mat.Dense {
	var inv mat.Dense
	if err := inv.Inverse(t); err != nil {
		return nil
	}
	return &inv
}

// EstimateHomography computes H with dst ~ H*src from at least four point pairs by the
// normalized direct linear transform.
func EstimateHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, errors.New("sets of points src and dst must have the same number of elements")
	}
	if len(src) < 4 {
		return nil, errors.New("sets of points must have at least 4 elements")
	}
	srcN, tSrc, err := normalizePoints(src)
	if err != nil {
		return nil, err
	}
	dstN, tDst, err := normalizePoints(dst)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcN {
		s, d := srcN[i], dstN[i]
		a.SetRow(2*i, []float64{-s.X, -s.Y, -1, 0, 0, 0, d.X * s.X, d.X * s.Y, d.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, -s.X, -s.Y, -1, d.Y * s.X, d.Y * s.Y, d.Y})
	}
	h, err := nullVector(a)
	if err != nil {
		return nil, err
	}

	// H = T_dst^-1 * Hn * T_src
	tDstInv := invertNormalization(tDst)
	if tDstInv == nil {
		return nil, errors.New("degenerate normalization")
	}
	var out mat.Dense
	out.Mul(tDstInv, mat.NewDense(3, 3, h))
	out.Mul(&out, tSrc)
	return &out, nil
}

// EstimateProjection computes the 3x4 matrix P with img ~ P*[world; 1] from at least six
// correspondences by the normalized direct linear transform.
func EstimateProjection(world []r3.Vector, img []r2.Point) (*mat.Dense, error) {
	if len(world) != len(img) {
		return nil, errors.New("sets of points world and img must have the same number of elements")
	}
	if len(world) < 6 {
		return nil, errors.New("sets of points must have at least 6 elements")
	}
	worldN, tWorld, err := normalizePoints3D(world)
	if err != nil {
		return nil, err
	}
	imgN, tImg, err := normalizePoints(img)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(2*len(world), 12, nil)
	for i := range worldN {
		w, p := worldN[i], imgN[i]
		a.SetRow(2*i, []float64{w.X, w.Y, w.Z, 1, 0, 0, 0, 0, -p.X * w.X, -p.X * w.Y, -p.X * w.Z, -p.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, 0, w.X, w.Y, w.Z, 1, -p.Y * w.X, -p.Y * w.Y, -p.Y * w.Z, -p.Y})
	}
	pVec, err := nullVector(a)
	if err != nil {
		return nil, err
	}

	// P = T_img^-1 * Pn * T_world
	tImgInv := invertNormalization(tImg)
	if tImgInv == nil {
		return nil, errors.New("degenerate normalization")
	}
	var out mat.Dense
	out.Mul(tImgInv, mat.NewDense(3, 4, pVec))
	out.Mul(&out, tWorld)
	return &out, nil
}

// nearestRotation projects m onto SO(3) through its SVD.
func nearestRotation(m *mat.Dense) (rotationMatrix, []float64, error) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return rotationMatrix{}, nil, errors.New("svd factorization failed")
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	var out rotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return out, svd.Values(nil), nil
}

// PoseFromHomography recovers the pose of a z=0 target from the homography mapping target (x, y)
// to normalized image coordinates. The target is placed in front of the camera.
func PoseFromHomography(h *mat.Dense) (CameraPose, error) {
	col := func(j int) r3.Vector {
		return r3.Vector{X: h.At(0, j), Y: h.At(1, j), Z: h.At(2, j)}
	}
	h1, h2, h3 := col(0), col(1), col(2)
	n1, n2 := h1.Norm(), h2.Norm()
	if n1 < 1e-12 || n2 < 1e-12 {
		return CameraPose{}, errors.New("degenerate homography")
	}
	lambda := 2 / (n1 + n2)
	if h3.Z*lambda < 0 {
		lambda = -lambda
	}
	r1, r2, t := h1.Mul(lambda), h2.Mul(lambda), h3.Mul(lambda)
	r3v := r1.Cross(r2)
	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	rot, _, err := nearestRotation(approx)
	if err != nil {
		return CameraPose{}, err
	}
	return CameraPose{Rotation: rot.vector(), Translation: t}, nil
}

// PoseFromProjection splits a projection matrix over normalized coordinates into a rotation and
// translation.
func PoseFromProjection(p *mat.Dense) (CameraPose, error) {
	m := mat.DenseCopyOf(p.Slice(0, 3, 0, 3))
	t := r3.Vector{X: p.At(0, 3), Y: p.At(1, 3), Z: p.At(2, 3)}
	if mat.Det(m) < 0 {
		m.Scale(-1, m)
		t = t.Mul(-1)
	}
	rot, values, err := nearestRotation(m)
	if err != nil {
		return CameraPose{}, err
	}
	scale := (values[0] + values[1] + values[2]) / 3
	if scale < 1e-12 {
		return CameraPose{}, errors.New("degenerate projection matrix")
	}
	return CameraPose{Rotation: rot.vector(), Translation: t.Mul(1 / scale)}, nil
}
