package transform

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/tabletop/utils"
)

// ErrPoseNotFound is returned when no hypothesis explains enough correspondences.
var ErrPoseNotFound = errors.New("no pose is consistent with the correspondences")

// planarTolerance is how far from z=0 a target point may be for the target to count as planar.
const planarTolerance = 1e-9

// Correspondence pairs a detected pixel with the target frame point it images.
type Correspondence struct {
	Image r2.Point  `json:"image"`
	World r3.Vector `json:"world"`
}

// PnPConfig controls SolvePnPRansac.
type PnPConfig struct {
	// Iterations is the number of minimal-sample hypotheses drawn.
	Iterations int
	// ReprojectionError is the inlier threshold in pixels.
	ReprojectionError float64
	Seed              int64
}

// DefaultPnPConfig returns 100 iterations at a one pixel threshold.
func DefaultPnPConfig() PnPConfig {
	return PnPConfig{Iterations: 100, ReprojectionError: 1.0, Seed: 1}
}

// CheckValid checks the solver parameters.
func (cfg PnPConfig) CheckValid() error {
	if cfg.Iterations < 1 {
		return errors.Errorf("pnp iterations must be at least 1, got %d", cfg.Iterations)
	}
	if cfg.ReprojectionError <= 0 {
		return errors.Errorf("reprojection error must be positive, got %v", cfg.ReprojectionError)
	}
	return nil
}

// PnPResult is the refined pose with the correspondences that agree with it.
type PnPResult struct {
	Pose    CameraPose
	Inliers []int
	// MeanError and MaxError are reprojection errors over the inliers, in pixels.
	MeanError float64
	MaxError  float64
}

type poseScore struct {
	pose     CameraPose
	inliers  []int
	errorSum float64
}

func (s *poseScore) betterThan(other *poseScore) bool {
	if other == nil {
		return true
	}
	if len(s.inliers) != len(other.inliers) {
		return len(s.inliers) > len(other.inliers)
	}
	return s.errorSum < other.errorSum
}

// reprojectionError returns the pixel distance between the detection and the projected target
// point, or +Inf when the point lands behind the camera.
func reprojectionError(pose CameraPose, c Correspondence, model *PinholeCameraModel) float64 {
	px, ok := model.Project(pose.Apply(c.World))
	if !ok {
		return math.Inf(1)
	}
	return px.Sub(c.Image).Norm()
}

func scorePose(pose CameraPose, corrs []Correspondence, model *PinholeCameraModel, threshold float64) *poseScore {
	score := &poseScore{pose: pose}
	for i, c := range corrs {
		e := reprojectionError(pose, c, model)
		if e < threshold {
			score.inliers = append(score.inliers, i)
			score.errorSum += e
		}
	}
	return score
}

func isPlanarTarget(corrs []Correspondence) bool {
	for _, c := range corrs {
		if math.Abs(c.World.Z) > planarTolerance {
			return false
		}
	}
	return true
}

// poseFromSubset builds an initial pose from the given correspondences using undistorted
// normalized image points.
func poseFromSubset(subset []int, corrs []Correspondence, normalized []r2.Point, planar bool) (CameraPose, error) {
	img := make([]r2.Point, len(subset))
	for i, idx := range subset {
		img[i] = normalized[idx]
	}
	if planar {
		src := make([]r2.Point, len(subset))
		for i, idx := range subset {
			src[i] = r2.Point{X: corrs[idx].World.X, Y: corrs[idx].World.Y}
		}
		h, err := EstimateHomography(src, img)
		if err != nil {
			return CameraPose{}, err
		}
		return PoseFromHomography(h)
	}
	world := make([]r3.Vector, len(subset))
	for i, idx := range subset {
		world[i] = corrs[idx].World
	}
	p, err := EstimateProjection(world, img)
	if err != nil {
		return CameraPose{}, err
	}
	return PoseFromProjection(p)
}

func poseToParams(p CameraPose) []float64 {
	return []float64{p.Rotation.X, p.Rotation.Y, p.Rotation.Z, p.Translation.X, p.Translation.Y, p.Translation.Z}
}

func paramsToPose(x []float64) CameraPose {
	return CameraPose{
		Rotation:    r3.Vector{X: x[0], Y: x[1], Z: x[2]},
		Translation: r3.Vector{X: x[3], Y: x[4], Z: x[5]},
	}
}

// refinePose minimizes the summed squared reprojection error of the given correspondences.
func refinePose(initial CameraPose, corrs []Correspondence, model *PinholeCameraModel) CameraPose {
	const behindPenalty = 1e12
	objective := func(x []float64) float64 {
		pose := paramsToPose(x)
		sum := 0.0
		for _, c := range corrs {
			px, ok := model.Project(pose.Apply(c.World))
			if !ok {
				sum += behindPenalty
				continue
			}
			d := px.Sub(c.Image)
			sum += d.X*d.X + d.Y*d.Y
		}
		return sum
	}
	problem := optimize.Problem{
		Func: objective,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, objective, x, &fd.Settings{Formula: fd.Central})
		},
	}
	start := poseToParams(initial)
	startF := objective(start)
	settings := &optimize.Settings{MajorIterations: 200}
	// A line search failure after progress still leaves a usable location, so only the objective
	// value decides.
	result, _ := optimize.Minimize(problem, start, settings, &optimize.LBFGS{})
	if result == nil || result.F >= startF {
		return initial
	}
	return paramsToPose(result.X)
}

// SolvePnPRansac estimates the pose of a target from 2D-3D correspondences. Minimal samples of
// four (planar target, all z == 0) or six points seed hypotheses. The hypothesis with the most
// correspondences under cfg.ReprojectionError pixels is refined on its inliers. A non-nil guess is
// scored alongside the sampled hypotheses.
func SolvePnPRansac(
	ctx context.Context,
	corrs []Correspondence,
	model *PinholeCameraModel,
	cfg PnPConfig,
	guess *CameraPose,
) (*PnPResult, error) {
	if err := model.CheckValid(); err != nil {
		return nil, err
	}
	if err := cfg.CheckValid(); err != nil {
		return nil, err
	}
	planar := isPlanarTarget(corrs)
	sampleSize := 6
	if planar {
		sampleSize = 4
	}
	if len(corrs) < sampleSize {
		return nil, errors.Errorf("need at least %d correspondences, got %d", sampleSize, len(corrs))
	}

	normalized := make([]r2.Point, len(corrs))
	for i, c := range corrs {
		normalized[i] = model.Normalize(c.Image)
	}

	var best *poseScore
	consider := func(pose CameraPose) {
		if score := scorePose(pose, corrs, model, cfg.ReprojectionError); score.betterThan(best) {
			best = score
		}
	}
	if guess != nil {
		consider(*guess)
	}
	all := make([]int, len(corrs))
	for i := range all {
		all[i] = i
	}
	if pose, err := poseFromSubset(all, corrs, normalized, planar); err == nil {
		consider(pose)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	sample := make([]int, sampleSize)
	for iter := 0; iter < cfg.Iterations; iter++ {
		if best != nil && len(best.inliers) == len(corrs) {
			break
		}
		if iter%16 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		utils.SampleDistinctInts(sample, len(corrs), rng)
		pose, err := poseFromSubset(sample, corrs, normalized, planar)
		if err != nil {
			continue
		}
		consider(pose)
	}
	if best == nil || len(best.inliers) < sampleSize {
		return nil, ErrPoseNotFound
	}

	inlierCorrs := make([]Correspondence, len(best.inliers))
	for i, idx := range best.inliers {
		inlierCorrs[i] = corrs[idx]
	}
	refined := scorePose(refinePose(best.pose, inlierCorrs, model), corrs, model, cfg.ReprojectionError)
	if !best.betterThan(refined) {
		best = refined
	}

	errs := make(stats.Float64Data, len(best.inliers))
	for i, idx := range best.inliers {
		errs[i] = reprojectionError(best.pose, corrs[idx], model)
	}
	mean, err := stats.Mean(errs)
	if err != nil {
		return nil, errors.Wrap(err, "cannot summarize reprojection error")
	}
	maxErr, err := stats.Max(errs)
	if err != nil {
		return nil, errors.Wrap(err, "cannot summarize reprojection error")
	}
	return &PnPResult{Pose: best.pose, Inliers: best.inliers, MeanError: mean, MaxError: maxErr}, nil
}
