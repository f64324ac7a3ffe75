package transform

import (
	"image"
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/rimage"
	"go.viam.com/tabletop/utils"
)

// ProjectionLookup caches the per-column and per-row back-projection factors
// (col-ppx)/fx and (row-ppy)/fy of one set of intrinsics, so that projecting a depth frame is a
// multiply per coordinate.
type ProjectionLookup struct {
	intrinsics PinholeCameraIntrinsics
	xs         []float64
	ys         []float64
}

// NewProjectionLookup builds the tables for params.
func NewProjectionLookup(params *PinholeCameraIntrinsics) (*ProjectionLookup, error) {
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	lookup := &ProjectionLookup{
		intrinsics: *params,
		xs:         make([]float64, params.Width),
		ys:         make([]float64, params.Height),
	}
	for col := range lookup.xs {
		lookup.xs[col] = (float64(col) - params.Ppx) / params.Fx
	}
	for row := range lookup.ys {
		lookup.ys[row] = (float64(row) - params.Ppy) / params.Fy
	}
	return lookup, nil
}

// Matches reports whether the tables were built from exactly these intrinsics.
func (l *ProjectionLookup) Matches(params *PinholeCameraIntrinsics) bool {
	return l != nil && params != nil && l.intrinsics == *params
}

// Intrinsics returns the intrinsics the tables were built from.
func (l *ProjectionLookup) Intrinsics() PinholeCameraIntrinsics {
	return l.intrinsics
}

// DepthToCloud projects a depth frame into an organized cloud on the same grid. depthScale
// converts depth units to cloud units (0.001 for millimeters to meters). Pixels without depth
// become invalid points. colorImg is optional and must match the depth size when given.
func (l *ProjectionLookup) DepthToCloud(dm *rimage.DepthMap, colorImg image.Image, depthScale float64) (*pointcloud.Organized, error) {
	if dm == nil {
		return nil, errors.New("no depth channel. Cannot project to Pointcloud")
	}
	if dm.Width() != l.intrinsics.Width || dm.Height() != l.intrinsics.Height {
		return nil, errors.Errorf("depth map and intrinsics dimensions don't match Depth(%d,%d) != Intrinsics(%d,%d)",
			dm.Width(), dm.Height(), l.intrinsics.Width, l.intrinsics.Height)
	}
	if depthScale <= 0 {
		return nil, errors.Errorf("depth scale must be positive, got %v", depthScale)
	}
	var colorBounds image.Rectangle
	if colorImg != nil {
		colorBounds = colorImg.Bounds()
		if colorBounds.Dx() != dm.Width() || colorBounds.Dy() != dm.Height() {
			return nil, errors.Errorf("depth map and color dimensions don't match Depth(%d,%d) != Color(%d,%d)",
				dm.Width(), dm.Height(), colorBounds.Dx(), colorBounds.Dy())
		}
	}

	cloud := pointcloud.NewOrganized(dm.Width(), dm.Height())
	if colorImg != nil {
		// Allocate the color plane before the workers write into it.
		cloud.SetColor(0, color.NRGBA{})
	}
	utils.ParallelForEachPixel(image.Pt(dm.Width(), dm.Height()), func(x, y int) {
		i := pointcloud.RowColToIndex(y, x, dm.Width())
		if colorImg != nil {
			c := color.NRGBAModel.Convert(colorImg.At(colorBounds.Min.X+x, colorBounds.Min.Y+y)).(color.NRGBA)
			cloud.SetColor(i, c)
		}
		d := dm.GetDepth(x, y)
		if d == 0 {
			return
		}
		z := float64(d) * depthScale
		cloud.Set(i, r3.Vector{X: l.xs[x] * z, Y: l.ys[y] * z, Z: z})
	})
	return cloud, nil
}
