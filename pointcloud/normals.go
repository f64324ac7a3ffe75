package pointcloud

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/tabletop/utils"
)

// Normal is a unit surface normal together with the surface variation of the neighbourhood it
// was estimated from.
type Normal struct {
	Vector    r3.Vector
	Curvature float64
}

// InvalidNormal returns the placeholder stored where no normal could be estimated.
func InvalidNormal() Normal {
	return Normal{Vector: InvalidPoint(), Curvature: math.NaN()}
}

// NormalCloud is a grid of normals aligned with an Organized cloud.
type NormalCloud struct {
	width, height int
	normals       []Normal
}

// NewNormalCloud returns a width x height grid of invalid normals.
func NewNormalCloud(width, height int) *NormalCloud {
	normals := make([]Normal, width*height)
	for i := range normals {
		normals[i] = InvalidNormal()
	}
	return &NormalCloud{width: width, height: height, normals: normals}
}

// Width returns the number of columns.
func (nc *NormalCloud) Width() int { return nc.width }

// Height returns the number of rows.
func (nc *NormalCloud) Height() int { return nc.height }

// Size returns width*height.
func (nc *NormalCloud) Size() int { return len(nc.normals) }

// At returns the normal at index i.
func (nc *NormalCloud) At(i int) Normal { return nc.normals[i] }

// Set stores n at index i.
func (nc *NormalCloud) Set(i int, n Normal) { nc.normals[i] = n }

// IsValid reports whether the normal at i is finite.
func (nc *NormalCloud) IsValid(i int) bool {
	n := nc.normals[i]
	return IsValidPoint(n.Vector) && !math.IsNaN(n.Curvature)
}

// MatchesCloud reports whether the normal grid has the same layout as cloud.
func (nc *NormalCloud) MatchesCloud(cloud *Organized) bool {
	return nc.width == cloud.Width() && nc.height == cloud.Height()
}

// NormalConfig controls organized normal estimation.
type NormalConfig struct {
	// Radius is the half size, in pixels, of the square window around each cell.
	Radius int
	// MaxDepthChange drops neighbours whose z differs from the center by more than this. Zero
	// keeps every valid neighbour.
	MaxDepthChange float64
}

// CheckValid checks the estimation parameters.
func (cfg NormalConfig) CheckValid() error {
	if cfg.Radius < 1 {
		return errors.Errorf("normal radius must be at least 1, got %d", cfg.Radius)
	}
	if cfg.MaxDepthChange < 0 {
		return errors.Errorf("max depth change cannot be less than 0, got %v", cfg.MaxDepthChange)
	}
	return nil
}

// EstimateNormals computes a normal for every valid cell from the covariance of its valid window
// neighbours. Normals face the sensor origin. Cells with fewer than three usable neighbours keep
// an invalid normal. Rows are processed in parallel.
func EstimateNormals(ctx context.Context, cloud *Organized, cfg NormalConfig) (*NormalCloud, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	width, height := cloud.Width(), cloud.Height()
	out := NewNormalCloud(width, height)

	err := utils.GroupWorkParallel(ctx, height, nil, func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
		return func(memberNum, row int) {
			for col := 0; col < width; col++ {
				i := RowColToIndex(row, col, width)
				if !cloud.IsValid(i) {
					continue
				}
				if n, ok := estimateNormalAt(cloud, row, col, cfg); ok {
					out.Set(i, n)
				}
			}
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func estimateNormalAt(cloud *Organized, row, col int, cfg NormalConfig) (Normal, bool) {
	center := cloud.AtRowCol(row, col)
	var m Moments
	for r := row - cfg.Radius; r <= row+cfg.Radius; r++ {
		if r < 0 || r >= cloud.Height() {
			continue
		}
		for c := col - cfg.Radius; c <= col+cfg.Radius; c++ {
			if c < 0 || c >= cloud.Width() {
				continue
			}
			pt := cloud.AtRowCol(r, c)
			if !IsValidPoint(pt) {
				continue
			}
			if cfg.MaxDepthChange > 0 && math.Abs(pt.Z-center.Z) > cfg.MaxDepthChange {
				continue
			}
			m.Add(pt)
		}
	}
	plane, curvature, err := m.Fit()
	if err != nil {
		return Normal{}, false
	}
	n := plane.Normal()
	// Face the viewpoint at the origin.
	if n.Dot(center) > 0 {
		n = n.Mul(-1)
	}
	return Normal{Vector: n, Curvature: curvature}, true
}
