package planes

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/rimage/transform"
	"go.viam.com/tabletop/vision/segmentation"
)

// ErrMissingInput marks a frame that lacks data the configured mode needs. The Estimator turns
// it into a result without planes.
var ErrMissingInput = errors.New("frame is missing input required by the estimation mode")

func newMissingInputError(what string) error {
	return errors.Wrap(ErrMissingInput, what)
}

// Hypothesis is a raw plane from a strategy, before masks are derived.
type Hypothesis struct {
	Model pointcloud.Plane
	// Inliers are ascending grid indices, nil for the fiducial plane.
	Inliers []int
	Pose    *transform.CameraPose
	PnP     *transform.PnPResult
}

// A Strategy turns a prepared frame into plane hypotheses. An empty result means no plane.
type Strategy interface {
	Mode() Mode
	Estimate(ctx context.Context, frame *Frame) ([]Hypothesis, error)
}

type singlePlaneStrategy struct {
	cfg segmentation.PlaneFitConfig
}

func (s *singlePlaneStrategy) Mode() Mode {
	return ModeSinglePlane
}

func (s *singlePlaneStrategy) Estimate(ctx context.Context, frame *Frame) ([]Hypothesis, error) {
	if frame.Cloud == nil {
		return nil, newMissingInputError("point cloud")
	}
	seg, err := segmentation.SegmentPlane(ctx, frame.Cloud, s.cfg)
	if err != nil || seg == nil {
		return nil, err
	}
	return []Hypothesis{{Model: seg.Plane, Inliers: seg.Inliers}}, nil
}

type multiRegionStrategy struct {
	cfg segmentation.MultiPlaneConfig
}

func (s *multiRegionStrategy) Mode() Mode {
	return ModeMultiRegion
}

func (s *multiRegionStrategy) Estimate(ctx context.Context, frame *Frame) ([]Hypothesis, error) {
	if frame.Cloud == nil {
		return nil, newMissingInputError("point cloud")
	}
	if frame.Normals == nil {
		return nil, newMissingInputError("normals")
	}
	regions, err := segmentation.SegmentPlanarRegions(ctx, frame.Cloud, frame.Normals, s.cfg)
	if err != nil {
		return nil, err
	}
	return lo.Map(regions, func(r *segmentation.PlanarRegion, _ int) Hypothesis {
		return Hypothesis{Model: r.Plane, Inliers: r.Inliers}
	}), nil
}

// newStrategy builds the strategy of a validated config.
func newStrategy(mode Mode, cfg *Config) Strategy {
	switch mode {
	case ModeFiducial:
		return newFiducialStrategy(cfg)
	case ModeSinglePlane:
		return &singlePlaneStrategy{cfg: cfg.planeFitConfig()}
	default:
		return &multiRegionStrategy{cfg: cfg.multiPlaneConfig()}
	}
}
