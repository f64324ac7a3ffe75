package segmentation

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/tabletop/pointcloud"
)

const (
	unlabelled = -1
	discarded  = -2
)

// MultiPlaneConfig holds the region growing parameters of SegmentPlanarRegions.
type MultiPlaneConfig struct {
	// MinInliers is the support a grown region needs to be kept.
	MinInliers int
	// AngularThreshold is the largest angle, in radians, between a cell's normal and the mean
	// normal of the region it joins.
	AngularThreshold float64
	// DistanceThreshold bounds the change of the per-cell plane offset between neighbours while
	// growing, and the distance to the region plane while refining.
	DistanceThreshold float64
	// MaxCurvature is the largest surface variation of a cell, and of a fitted region, that still
	// counts as planar.
	MaxCurvature float64
}

// CheckValid checks the region growing parameters.
func (cfg MultiPlaneConfig) CheckValid() error {
	if cfg.MinInliers < 3 {
		return errors.Errorf("min_plane_inliers must be at least 3, got %d", cfg.MinInliers)
	}
	if cfg.AngularThreshold <= 0 || cfg.AngularThreshold > math.Pi {
		return errors.Errorf("angular threshold must be in (0, pi] radians, got %v", cfg.AngularThreshold)
	}
	if cfg.DistanceThreshold <= 0 {
		return errors.Errorf("distance_threshold must be positive, got %v", cfg.DistanceThreshold)
	}
	if cfg.MaxCurvature < 0 {
		return errors.Errorf("max_curvature cannot be negative, got %v", cfg.MaxCurvature)
	}
	return nil
}

// PlanarRegion is one connected planar patch of an organized cloud.
type PlanarRegion struct {
	// Plane has a unit normal and d <= 0.
	Plane     pointcloud.Plane
	Centroid  r3.Vector
	Curvature float64
	// Inliers are the grid indices of the region in raster order.
	Inliers []int
	// Boundary are the inliers with a 4-neighbour outside the region or off the grid.
	Boundary []int
}

type regionGrower struct {
	cloud   *pointcloud.Organized
	normals *pointcloud.NormalCloud
	cfg     MultiPlaneConfig
	labels  []int
	queue   []int
}

func (g *regionGrower) eligible(i int) bool {
	return g.cloud.IsValid(i) && g.normals.IsValid(i) && g.normals.At(i).Curvature <= g.cfg.MaxCurvature
}

// neighbours calls f with each in-grid 4-neighbour of i.
func (g *regionGrower) neighbours(i int, f func(int)) {
	width, height := g.cloud.Width(), g.cloud.Height()
	row, col := pointcloud.IndexToRowCol(i, width)
	if col > 0 {
		f(i - 1)
	}
	if col < width-1 {
		f(i + 1)
	}
	if row > 0 {
		f(i - width)
	}
	if row < height-1 {
		f(i + width)
	}
}

// offset is the d of the plane through the cell perpendicular to its normal.
func (g *regionGrower) offset(i int) float64 {
	return -g.normals.At(i).Vector.Normalize().Dot(g.cloud.At(i))
}

// grow labels the connected component seeded at seed and returns its members.
func (g *regionGrower) grow(seed, label int) []int {
	cosThreshold := math.Cos(g.cfg.AngularThreshold)
	members := []int{seed}
	g.labels[seed] = label
	normalSum := g.normals.At(seed).Vector.Normalize()
	g.queue = append(g.queue[:0], seed)
	for len(g.queue) > 0 {
		current := g.queue[0]
		g.queue = g.queue[1:]
		currentOffset := g.offset(current)
		g.neighbours(current, func(next int) {
			if g.labels[next] != unlabelled || !g.eligible(next) {
				return
			}
			n := g.normals.At(next).Vector.Normalize()
			if n.Dot(normalSum.Normalize()) <= cosThreshold {
				return
			}
			if math.Abs(g.offset(next)-currentOffset) >= g.cfg.DistanceThreshold {
				return
			}
			g.labels[next] = label
			normalSum = normalSum.Add(n)
			members = append(members, next)
			g.queue = append(g.queue, next)
		})
	}
	return members
}

// refine extends a kept region over unclaimed valid neighbours close to its plane.
func (g *regionGrower) refine(members []int, plane pointcloud.Plane, label int) {
	g.queue = append(g.queue[:0], members...)
	for len(g.queue) > 0 {
		current := g.queue[0]
		g.queue = g.queue[1:]
		g.neighbours(current, func(next int) {
			if g.labels[next] >= 0 || !g.cloud.IsValid(next) {
				return
			}
			if math.Abs(plane.Distance(g.cloud.At(next))) >= g.cfg.DistanceThreshold {
				return
			}
			g.labels[next] = label
			g.queue = append(g.queue, next)
		})
	}
}

// SegmentPlanarRegions splits an organized cloud into connected planar regions by region
// growing over the grid. normals must have the cloud's dimensions. Regions are returned in the
// raster order of their seeds; an empty result means no plane was found.
func SegmentPlanarRegions(
	ctx context.Context,
	cloud *pointcloud.Organized,
	normals *pointcloud.NormalCloud,
	cfg MultiPlaneConfig,
) ([]*PlanarRegion, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	if cloud == nil || normals == nil {
		return nil, errors.New("region growing needs both a point cloud and its normals")
	}
	if !normals.MatchesCloud(cloud) {
		return nil, errors.Errorf("normals are %dx%d but the cloud is %dx%d",
			normals.Width(), normals.Height(), cloud.Width(), cloud.Height())
	}

	g := &regionGrower{cloud: cloud, normals: normals, cfg: cfg, labels: make([]int, cloud.Size())}
	for i := range g.labels {
		g.labels[i] = unlabelled
	}

	var planes []pointcloud.Plane
	var curvatures []float64
	var seeds [][]int
	for i := 0; i < cloud.Size(); i++ {
		if i%cloud.Width() == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if g.labels[i] != unlabelled || !g.eligible(i) {
			continue
		}
		label := len(planes)
		members := g.grow(i, label)
		keep := len(members) >= cfg.MinInliers
		var plane pointcloud.Plane
		var curvature float64
		if keep {
			var moments pointcloud.Moments
			for _, m := range members {
				moments.Add(cloud.At(m))
			}
			var err error
			plane, curvature, err = moments.Fit()
			keep = err == nil && curvature <= cfg.MaxCurvature
		}
		if !keep {
			for _, m := range members {
				g.labels[m] = discarded
			}
			continue
		}
		planes = append(planes, plane)
		curvatures = append(curvatures, curvature)
		seeds = append(seeds, members)
	}
	if len(planes) == 0 {
		return nil, nil
	}

	for label, members := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g.refine(members, planes[label], label)
	}

	regions := make([]*PlanarRegion, len(planes))
	centroids := make([]r3.Vector, len(planes))
	for label, plane := range planes {
		regions[label] = &PlanarRegion{
			Plane:     plane.Normalized().WithNonPositiveOffset(),
			Curvature: curvatures[label],
		}
	}
	for i, label := range g.labels {
		if label < 0 {
			continue
		}
		region := regions[label]
		region.Inliers = append(region.Inliers, i)
		centroids[label] = centroids[label].Add(cloud.At(i))
		boundary := false
		row, col := pointcloud.IndexToRowCol(i, cloud.Width())
		if row == 0 || col == 0 || row == cloud.Height()-1 || col == cloud.Width()-1 {
			boundary = true
		} else {
			g.neighbours(i, func(next int) {
				if g.labels[next] != label {
					boundary = true
				}
			})
		}
		if boundary {
			region.Boundary = append(region.Boundary, i)
		}
	}
	for label, region := range regions {
		region.Centroid = centroids[label].Mul(1 / float64(len(region.Inliers)))
	}
	return regions, nil
}

// LargestRegion returns the position of the region with the most inliers, the first one on
// ties, or -1 when there are none.
func LargestRegion(regions []*PlanarRegion) int {
	best := -1
	for i, region := range regions {
		if region == nil {
			continue
		}
		if best == -1 || len(region.Inliers) > len(regions[best].Inliers) {
			best = i
		}
	}
	return best
}
