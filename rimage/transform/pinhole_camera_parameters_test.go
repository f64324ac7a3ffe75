package transform

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func testIntrinsics() *PinholeCameraIntrinsics {
	return &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 525, Fy: 520, Ppx: 319.5, Ppy: 239.5}
}

func TestIntrinsicsCheckValid(t *testing.T) {
	test.That(t, testIntrinsics().CheckValid(), test.ShouldBeNil)

	var nilIntrinsics *PinholeCameraIntrinsics
	err := nilIntrinsics.CheckValid()
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	for _, mutate := range []func(*PinholeCameraIntrinsics){
		func(p *PinholeCameraIntrinsics) { p.Width = 0 },
		func(p *PinholeCameraIntrinsics) { p.Fx = 0 },
		func(p *PinholeCameraIntrinsics) { p.Fy = -1 },
		func(p *PinholeCameraIntrinsics) { p.Ppx = -1 },
		func(p *PinholeCameraIntrinsics) { p.Ppy = -1 },
	} {
		params := testIntrinsics()
		mutate(params)
		test.That(t, errors.Is(params.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)
	}
}

func TestPixelPointRoundTrip(t *testing.T) {
	params := testIntrinsics()
	x, y, z := params.PixelToPoint(100, 50, 2)
	test.That(t, z, test.ShouldEqual, 2.)
	u, v := params.PointToPixel(x, y, z)
	test.That(t, u, test.ShouldAlmostEqual, 100.)
	test.That(t, v, test.ShouldAlmostEqual, 50.)

	u, v = params.PointToPixel(1, 1, 0)
	test.That(t, u, test.ShouldEqual, -1.)
	test.That(t, v, test.ShouldEqual, -1.)

	k := params.GetCameraMatrix()
	test.That(t, k.At(0, 0), test.ShouldEqual, 525.)
	test.That(t, k.At(1, 2), test.ShouldEqual, 239.5)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1.)
}

func TestCameraModelProjectNormalize(t *testing.T) {
	distortion, err := NewBrownConrady([]float64{-0.12, 0.05, 0, 0.001, -0.0005})
	test.That(t, err, test.ShouldBeNil)
	model := &PinholeCameraModel{PinholeCameraIntrinsics: testIntrinsics(), Distortion: distortion}
	test.That(t, model.CheckValid(), test.ShouldBeNil)

	pt := r3.Vector{X: 0.2, Y: -0.1, Z: 1.5}
	px, ok := model.Project(pt)
	test.That(t, ok, test.ShouldBeTrue)
	n := model.Normalize(px)
	test.That(t, n.X, test.ShouldAlmostEqual, pt.X/pt.Z, 1e-9)
	test.That(t, n.Y, test.ShouldAlmostEqual, pt.Y/pt.Z, 1e-9)

	_, ok = model.Project(r3.Vector{X: 0, Y: 0, Z: -1})
	test.That(t, ok, test.ShouldBeFalse)

	ideal := &PinholeCameraModel{PinholeCameraIntrinsics: testIntrinsics()}
	test.That(t, ideal.Normalize(r2.Point{X: 319.5, Y: 239.5}), test.ShouldResemble, r2.Point{})
}

func TestReadPinholeCameraModel(t *testing.T) {
	model, err := ReadPinholeCameraModel(strings.NewReader(`{
		"intrinsic_parameters": {"width_px": 640, "height_px": 480, "fx": 525, "fy": 520, "ppx": 319.5, "ppy": 239.5},
		"distortion_parameters": {"rk1": -0.1, "tp2": 0.01}
	}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *model.PinholeCameraIntrinsics, test.ShouldResemble, *testIntrinsics())
	test.That(t, model.Distortion.Parameters(), test.ShouldResemble, []float64{-0.1, 0, 0, 0, 0.01})

	model, err = ReadPinholeCameraModel(strings.NewReader(
		`{"intrinsic_parameters": {"width_px": 4, "height_px": 3, "fx": 1, "fy": 1, "ppx": 2, "ppy": 1}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Distortion, test.ShouldBeNil)

	_, err = ReadPinholeCameraModel(strings.NewReader(`{"intrinsic_parameters": {"width_px": 4}}`))
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)
	_, err = ReadPinholeCameraModel(strings.NewReader(`{`))
	test.That(t, err, test.ShouldNotBeNil)

	fn := filepath.Join(t.TempDir(), "camera.json")
	test.That(t, os.WriteFile(fn, []byte(
		`{"intrinsic_parameters": {"width_px": 4, "height_px": 3, "fx": 1, "fy": 1, "ppx": 2, "ppy": 1}}`), 0o600), test.ShouldBeNil)
	model, err = NewPinholeCameraModelFromJSONFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.Width, test.ShouldEqual, 4)
	_, err = NewPinholeCameraModelFromJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
}
