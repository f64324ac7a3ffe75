package planes

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/rimage/transform"
)

type stage int

const (
	stageIdle stage = iota
	stageSelectStrategy
	stageRunStrategy
	stageDeriveDescriptors
	stageDone
)

func (s stage) String() string {
	switch s {
	case stageIdle:
		return "idle"
	case stageSelectStrategy:
		return "select_strategy"
	case stageRunStrategy:
		return "run_strategy"
	case stageDeriveDescriptors:
		return "derive_descriptors"
	case stageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Result is the outcome of one frame.
type Result struct {
	Mode   Mode          `json:"mode"`
	Planes []*Descriptor `json:"planes"`
	// Found is false whenever Planes is empty.
	Found bool `json:"found"`
	// Primary is the position in Planes of the plane with the most inliers, or -1.
	Primary int `json:"primary"`
	// Pose is the board pose in FIDUCIAL mode.
	Pose *transform.CameraPose `json:"pose,omitempty"`
	// ReprojectionError is the mean pixel error of the board corners under Pose.
	ReprojectionError float64 `json:"reprojection_error,omitempty"`
}

// AllInliers returns the union of the inlier sets of all planes in ascending order.
func (r *Result) AllInliers() []int {
	all := lo.Uniq(lo.FlatMap(r.Planes, func(d *Descriptor, _ int) []int { return d.Inliers }))
	sort.Ints(all)
	return all
}

// primaryIndex is a max reduction over support sizes; the first plane wins ties.
func primaryIndex(planes []*Descriptor) int {
	best := -1
	for i, d := range planes {
		if best == -1 || len(d.Inliers) > len(planes[best].Inliers) {
			best = i
		}
	}
	return best
}

// Estimator runs the strategy chosen at construction on each frame it is given. It keeps no
// state between frames other than the depth projection tables and, when reuse_pose_guess is
// set, the last board pose.
type Estimator struct {
	cfg      Config
	mode     Mode
	strategy Strategy
	logger   logging.Logger

	mu     sync.Mutex
	lookup *transform.ProjectionLookup
}

// NewEstimator validates cfg and fixes the estimation strategy.
func NewEstimator(cfg Config, logger logging.Logger) (*Estimator, error) {
	if err := cfg.Validate("planes"); err != nil {
		return nil, err
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	logger.Infow("plane estimator configured", "mode", mode)
	return &Estimator{cfg: cfg, mode: mode, strategy: newStrategy(mode, &cfg), logger: logger}, nil
}

// Mode returns the configured mode.
func (e *Estimator) Mode() Mode {
	return e.mode
}

func (e *Estimator) transition(ctx context.Context, s stage) {
	e.logger.CDebugw(ctx, "plane estimation stage", "mode", e.mode, "stage", s.String())
}

// projectionLookup returns the cached tables for params, rebuilding them when the intrinsics
// changed.
func (e *Estimator) projectionLookup(params *transform.PinholeCameraIntrinsics) (*transform.ProjectionLookup, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lookup.Matches(params) {
		return e.lookup, nil
	}
	lookup, err := transform.NewProjectionLookup(params)
	if err != nil {
		return nil, err
	}
	e.logger.Debugw("rebuilt depth projection tables", "width", params.Width, "height", params.Height)
	e.lookup = lookup
	return lookup, nil
}

// prepare fills in the cloud and normals the strategy can derive from what the frame carries.
func (e *Estimator) prepare(ctx context.Context, frame *Frame) (*Frame, error) {
	prepared := *frame
	if e.mode == ModeFiducial {
		return &prepared, nil
	}
	if prepared.Cloud == nil && prepared.Depth != nil && prepared.Camera != nil {
		lookup, err := e.projectionLookup(prepared.Camera.PinholeCameraIntrinsics)
		if err != nil {
			return nil, err
		}
		cloud, err := lookup.DepthToCloud(prepared.Depth, prepared.Color, e.cfg.DepthScale)
		if err != nil {
			return nil, err
		}
		prepared.Cloud = cloud
	}
	if e.mode == ModeMultiRegion && prepared.Normals == nil && prepared.Cloud != nil && e.cfg.EstimateNormals {
		normals, err := pointcloud.EstimateNormals(ctx, prepared.Cloud, e.cfg.normalConfig())
		if err != nil {
			return nil, err
		}
		prepared.Normals = normals
	}
	return &prepared, nil
}

// Estimate finds the planes of one frame. Frames without a plane, or without the inputs the mode
// needs, give a Result with Found false and no error. Errors are failures of the estimation
// itself; callers treat them as a frame without planes.
func (e *Estimator) Estimate(ctx context.Context, frame *Frame) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "planes::Estimator::Estimate")
	defer span.End()

	e.transition(ctx, stageIdle)
	if frame == nil {
		frame = &Frame{}
	}
	empty := &Result{Mode: e.mode, Primary: -1}

	e.transition(ctx, stageSelectStrategy)
	prepared, err := e.prepare(ctx, frame)
	if err != nil {
		return nil, errors.Wrap(err, "cannot prepare frame")
	}

	e.transition(ctx, stageRunStrategy)
	hypotheses, err := e.strategy.Estimate(ctx, prepared)
	if errors.Is(err, ErrMissingInput) {
		e.logger.CDebugw(ctx, "no plane: frame is missing input", "mode", e.mode, "reason", err.Error())
		e.transition(ctx, stageDone)
		return empty, nil
	}
	if errors.Is(err, transform.ErrPoseNotFound) {
		e.logger.CDebugw(ctx, "no plane: marker pose not found", "mode", e.mode, "reason", err.Error())
		e.transition(ctx, stageDone)
		return empty, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s plane estimation failed", e.mode)
	}
	if len(hypotheses) == 0 {
		e.logger.CDebugw(ctx, "no plane found", "mode", e.mode)
		e.transition(ctx, stageDone)
		return empty, nil
	}

	e.transition(ctx, stageDeriveDescriptors)
	var width, height int
	if prepared.Cloud != nil {
		width, height = prepared.Cloud.Width(), prepared.Cloud.Height()
	}
	descriptors := make([]*Descriptor, len(hypotheses))
	var group errgroup.Group
	for i, h := range hypotheses {
		i, h := i, h
		group.Go(func() error {
			d, err := NewDescriptor(h.Model, h.Inliers, width, height)
			if err != nil {
				return err
			}
			descriptors[i] = d
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, errors.Wrap(err, "cannot derive plane masks")
	}

	result := &Result{
		Mode:    e.mode,
		Planes:  descriptors,
		Found:   true,
		Primary: primaryIndex(descriptors),
		Pose:    hypotheses[0].Pose,
	}
	if pnp := hypotheses[0].PnP; pnp != nil {
		result.ReprojectionError = pnp.MeanError
		e.logger.CDebugw(ctx, "board pose solved", "inliers", len(pnp.Inliers), "mean_error", pnp.MeanError, "max_error", pnp.MaxError)
	}
	e.transition(ctx, stageDone)
	e.logger.CDebugw(ctx, "planes estimated", "mode", e.mode, "count", len(descriptors), "primary", result.Primary)
	return result, nil
}
