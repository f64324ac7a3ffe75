package planes

import (
	"context"
	"sync"

	"github.com/golang/geo/r3"

	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/rimage/transform"
)

// PlaneFromPose returns the camera frame plane of a board whose points lie on z = 0 in its own
// frame. The board normal is R*(0, 0, 1) and its offset along that normal is n·t; the model is
// oriented so that d <= 0.
func PlaneFromPose(pose transform.CameraPose) pointcloud.Plane {
	n := pose.Rotate(r3.Vector{Z: 1}).Normalize()
	dist := n.Dot(pose.Translation)
	return pointcloud.NewPlane([4]float64{n.X, n.Y, n.Z, -dist}).WithNonPositiveOffset()
}

type fiducialStrategy struct {
	cfg       transform.PnPConfig
	reuseLast bool

	mu       sync.Mutex
	lastPose *transform.CameraPose
}

func newFiducialStrategy(cfg *Config) *fiducialStrategy {
	return &fiducialStrategy{cfg: cfg.pnpConfig(), reuseLast: cfg.ReusePoseGuess}
}

func (s *fiducialStrategy) Mode() Mode {
	return ModeFiducial
}

func (s *fiducialStrategy) Estimate(ctx context.Context, frame *Frame) ([]Hypothesis, error) {
	if frame.Marker == nil || len(frame.Marker.Correspondences) == 0 {
		return nil, newMissingInputError("marker")
	}
	if frame.Camera == nil {
		return nil, newMissingInputError("camera model")
	}

	var guess *transform.CameraPose
	if s.reuseLast {
		s.mu.Lock()
		guess = s.lastPose
		s.mu.Unlock()
	}
	res, err := transform.SolvePnPRansac(ctx, frame.Marker.Correspondences, frame.Camera, s.cfg, guess)
	if err != nil {
		return nil, err
	}
	if s.reuseLast {
		pose := res.Pose
		s.mu.Lock()
		s.lastPose = &pose
		s.mu.Unlock()
	}
	return []Hypothesis{{Model: PlaneFromPose(res.Pose), Pose: &res.Pose, PnP: res}}, nil
}
