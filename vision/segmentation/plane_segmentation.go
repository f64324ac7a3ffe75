// Package segmentation finds planar structure in organized point clouds and turns index sets
// into image masks.
package segmentation

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/utils"
)

// PlaneFitConfig holds the RANSAC parameters of SegmentPlane.
type PlaneFitConfig struct {
	// DistanceThreshold is the largest perpendicular distance at which a point still supports a
	// plane hypothesis.
	DistanceThreshold float64
	// MaxIterations caps the number of sampled hypotheses.
	MaxIterations int
	// Probability is the confidence at which the search stops early. 0 disables early stopping.
	Probability float64
	Seed        int64
	// NormalizeSign applies the d <= 0 convention to the result. Otherwise the sign is whatever
	// the least squares refit produced.
	NormalizeSign bool
}

// CheckValid checks the fit parameters.
func (cfg PlaneFitConfig) CheckValid() error {
	if cfg.DistanceThreshold <= 0 {
		return errors.Errorf("distance_threshold must be positive, got %v", cfg.DistanceThreshold)
	}
	if cfg.MaxIterations < 1 {
		return errors.Errorf("max_iterations must be at least 1, got %d", cfg.MaxIterations)
	}
	if cfg.Probability < 0 || cfg.Probability >= 1 {
		return errors.Errorf("probability must be in [0, 1), got %v", cfg.Probability)
	}
	return nil
}

// PlaneSegment is a fitted plane and the grid indices of the cells supporting it.
type PlaneSegment struct {
	Plane   pointcloud.Plane
	Inliers []int
}

// planeThroughPoints returns the plane through three points, or false when they are collinear.
func planeThroughPoints(p1, p2, p3 r3.Vector) (pointcloud.Plane, bool) {
	// get 2 vectors that are going to define the plane
	v1 := p2.Sub(p1)
	v2 := p3.Sub(p1)
	cross := v1.Cross(v2)
	if cross.Norm() < 1e-12 {
		return pointcloud.Plane{}, false
	}
	return pointcloud.NewPlaneFromPointNormal(p1, cross), true
}

func countInliers(plane pointcloud.Plane, pts []r3.Vector, threshold float64) int {
	n := 0
	for _, pt := range pts {
		if math.Abs(plane.Distance(pt)) <= threshold {
			n++
		}
	}
	return n
}

func collectInliers(plane pointcloud.Plane, pts []r3.Vector, threshold float64) []int {
	inliers := make([]int, 0, len(pts))
	for i, pt := range pts {
		if math.Abs(plane.Distance(pt)) <= threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// requiredIterations is the number of trials after which an all-inlier sample has been drawn
// with the given probability, for an inlier ratio w.
func requiredIterations(probability, w float64) float64 {
	if w >= 1 {
		return 0
	}
	denom := math.Log(1 - w*w*w)
	if denom == 0 {
		return math.Inf(1)
	}
	return math.Log(1-probability) / denom
}

// SegmentPlane finds the dominant plane of an organized cloud. Invalid cells are removed first;
// RANSAC over three point samples picks the hypothesis with the most points within
// cfg.DistanceThreshold and the winning set is refit by least squares. The inliers are the points
// within cfg.DistanceThreshold of the refit plane, returned as ascending indices into the original
// grid. A nil segment with a nil error means no plane was
// found.
func SegmentPlane(ctx context.Context, cloud *pointcloud.Organized, cfg PlaneFitConfig) (*PlaneSegment, error) {
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	if cloud == nil {
		return nil, errors.New("no point cloud to segment")
	}
	pts, indexMap := pointcloud.RemoveInvalid(cloud)
	nPoints := len(pts)
	if nPoints < 3 {
		// if point cloud does not have even 3 points, there is no plane
		return nil, nil
	}

	r := rand.New(rand.NewSource(cfg.Seed))
	var bestPlane pointcloud.Plane
	bestInliers := 0
	limit := float64(cfg.MaxIterations)
	sample := make([]int, 3)
	for i := 0; i < cfg.MaxIterations && float64(i) < limit; i++ {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		utils.SampleDistinctInts(sample, nPoints, r)
		plane, ok := planeThroughPoints(pts[sample[0]], pts[sample[1]], pts[sample[2]])
		if !ok {
			continue
		}
		// if the current plane contains more points than the previously stored one, save this one as the biggest plane
		if current := countInliers(plane, pts, cfg.DistanceThreshold); current > bestInliers {
			bestPlane = plane
			bestInliers = current
			if cfg.Probability > 0 {
				limit = math.Min(limit, requiredIterations(cfg.Probability, float64(current)/float64(nPoints)))
			}
		}
	}
	if bestInliers == 0 {
		return nil, nil
	}

	compact := collectInliers(bestPlane, pts, cfg.DistanceThreshold)
	model := bestPlane
	if len(compact) >= 3 {
		var moments pointcloud.Moments
		for _, idx := range compact {
			moments.Add(pts[idx])
		}
		if refit, _, err := moments.Fit(); err == nil {
			model = refit.OrientedLike(bestPlane)
			// the refit moves the plane, so membership is decided again against it
			compact = collectInliers(model, pts, cfg.DistanceThreshold)
		}
	}
	if len(compact) == 0 {
		return nil, nil
	}
	if cfg.NormalizeSign {
		model = model.WithNonPositiveOffset()
	}

	sort.Ints(compact)
	inliers, err := indexMap.Remap(compact)
	if err != nil {
		return nil, err
	}
	return &PlaneSegment{Plane: model, Inliers: inliers}, nil
}
