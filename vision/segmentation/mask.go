package segmentation

import (
	"context"
	"image"
	"image/color"

	"github.com/pkg/errors"

	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/utils"
)

// ErrNoInliers is returned when a mask is requested for an empty index set.
var ErrNoInliers = errors.New("no inliers to build a mask from")

var (
	maskOn  = color.Gray{255}
	maskOff = color.Gray{0}
)

// MaskAndROI computes the tight bounding rectangle of the inlier cells of a width x height grid
// and a mask of the same size in which inlier pixels are 255 and everything else 0. Pixel
// (row, col) of the grid maps to mask pixel (col-roi.Min.X, row-roi.Min.Y).
func MaskAndROI(inliers []int, width, height int) (*image.Gray, image.Rectangle, error) {
	if len(inliers) == 0 {
		return nil, image.Rectangle{}, ErrNoInliers
	}
	if width <= 0 || height <= 0 {
		return nil, image.Rectangle{}, errors.Errorf("invalid grid dimensions %dx%d", width, height)
	}
	size := width * height
	minRow, minCol := height, width
	maxRow, maxCol := -1, -1
	for _, idx := range inliers {
		if idx < 0 || idx >= size {
			return nil, image.Rectangle{}, errors.Errorf("inlier index %d outside of %dx%d grid", idx, width, height)
		}
		row, col := pointcloud.IndexToRowCol(idx, width)
		minRow, maxRow = min(minRow, row), max(maxRow, row)
		minCol, maxCol = min(minCol, col), max(maxCol, col)
	}
	roi := image.Rect(minCol, minRow, maxCol+1, maxRow+1)
	mask := image.NewGray(image.Rect(0, 0, roi.Dx(), roi.Dy()))

	// Every inlier is a distinct cell, so no two workers touch the same pixel.
	err := utils.GroupWorkParallel(
		context.Background(),
		len(inliers),
		nil,
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				row, col := pointcloud.IndexToRowCol(inliers[workNum], width)
				mask.SetGray(col-minCol, row-minRow, maskOn)
			}, nil
		},
	)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	return mask, roi, nil
}

// MaskToIndices returns the grid indices of the set pixels of a mask placed at roi, in raster
// order. It inverts MaskAndROI.
func MaskToIndices(mask *image.Gray, roi image.Rectangle, width int) []int {
	if mask == nil {
		return nil
	}
	var out []int
	b := mask.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y) == maskOff {
				continue
			}
			out = append(out, pointcloud.RowColToIndex(roi.Min.Y+y-b.Min.Y, roi.Min.X+x-b.Min.X, width))
		}
	}
	return out
}
