// Package planes estimates support planes (tables, boards, floors) from one frame of registered
// color and depth data. An Estimator runs one of three strategies, fixed when it is built: a
// fiducial board pose, a single robust RANSAC plane, or organized multi-region growing.
package planes

import (
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gopkg.in/yaml.v3"

	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/rimage/transform"
	rutils "go.viam.com/tabletop/utils"
	"go.viam.com/tabletop/vision/segmentation"
)

// Mode selects the estimation strategy.
type Mode string

// The set of supported modes.
const (
	ModeFiducial    = Mode("FIDUCIAL")
	ModeSinglePlane = Mode("SINGLE_PLANE")
	ModeMultiRegion = Mode("MULTI_REGION")
)

var modeAliases = map[string]Mode{
	string(ModeFiducial):    ModeFiducial,
	string(ModeSinglePlane): ModeSinglePlane,
	string(ModeMultiRegion): ModeMultiRegion,
	"BOARD":                 ModeFiducial,
	"PCL":                   ModeSinglePlane,
	"MPS":                   ModeMultiRegion,
}

// ParseMode resolves a mode name, case insensitively. BOARD, PCL and MPS are accepted as
// aliases of FIDUCIAL, SINGLE_PLANE and MULTI_REGION.
func ParseMode(s string) (Mode, error) {
	if m, ok := modeAliases[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	return "", errors.Errorf("unknown plane estimation mode %q", s)
}

// Config is the configuration of an Estimator.
type Config struct {
	Mode Mode `json:"mode" yaml:"mode" jsonschema:"enum=FIDUCIAL,enum=SINGLE_PLANE,enum=MULTI_REGION,enum=BOARD,enum=PCL,enum=MPS"`

	MinPlaneInliers     int     `json:"min_plane_inliers" yaml:"min_plane_inliers"`
	MaxIterations       int     `json:"max_iterations" yaml:"max_iterations"`
	DistanceThreshold   float64 `json:"distance_threshold" yaml:"distance_threshold"`
	MaxCurvature        float64 `json:"max_curvature" yaml:"max_curvature"`
	AngularThresholdDeg float64 `json:"angular_threshold_deg" yaml:"angular_threshold_deg"`

	// Probability is the RANSAC confidence at which the single plane search stops early.
	Probability              float64 `json:"probability" yaml:"probability"`
	Seed                     int64   `json:"seed" yaml:"seed"`
	NormalizeSinglePlaneSign bool    `json:"normalize_single_plane_sign" yaml:"normalize_single_plane_sign"`

	// EstimateNormals lets MULTI_REGION compute normals for frames that arrive without them.
	EstimateNormals      bool    `json:"estimate_normals" yaml:"estimate_normals"`
	NormalRadius         int     `json:"normal_radius" yaml:"normal_radius"`
	NormalMaxDepthChange float64 `json:"normal_max_depth_change" yaml:"normal_max_depth_change"`

	PnPIterations     int     `json:"pnp_iterations" yaml:"pnp_iterations"`
	ReprojectionError float64 `json:"reprojection_error" yaml:"reprojection_error"`
	ReusePoseGuess    bool    `json:"reuse_pose_guess" yaml:"reuse_pose_guess"`

	// DepthScale converts raw depth units to meters when a frame carries a depth map.
	DepthScale float64 `json:"depth_scale" yaml:"depth_scale"`
}

// DefaultConfig returns the tabletop defaults.
func DefaultConfig() Config {
	pnp := transform.DefaultPnPConfig()
	return Config{
		Mode:                 ModeFiducial,
		MinPlaneInliers:      10000,
		MaxIterations:        50,
		DistanceThreshold:    0.02,
		MaxCurvature:         0.01,
		AngularThresholdDeg:  3.0,
		Probability:          0.99,
		Seed:                 1,
		EstimateNormals:      true,
		NormalRadius:         2,
		NormalMaxDepthChange: 0.02,
		PnPIterations:        pnp.Iterations,
		ReprojectionError:    pnp.ReprojectionError,
		DepthScale:           0.001,
	}
}

// Validate returns every problem with the config, each prefixed with its path.
func (cfg *Config) Validate(path string) error {
	if cfg == nil {
		return utils.NewConfigValidationError(path, errors.New("no config found"))
	}
	var errs error
	invalid := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, errors.Errorf(format, args...)))
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		errs = multierr.Append(errs, utils.NewConfigValidationError(path, err))
	}
	if cfg.MinPlaneInliers < 3 {
		invalid("min_plane_inliers must be at least 3, got %d", cfg.MinPlaneInliers)
	}
	if cfg.MaxIterations < 1 {
		invalid("max_iterations must be at least 1, got %d", cfg.MaxIterations)
	}
	if !(cfg.DistanceThreshold > 0) {
		invalid("distance_threshold must be positive, got %v", cfg.DistanceThreshold)
	}
	if !(cfg.MaxCurvature >= 0) {
		invalid("max_curvature cannot be negative, got %v", cfg.MaxCurvature)
	}
	if !(cfg.AngularThresholdDeg > 0 && cfg.AngularThresholdDeg <= 180) {
		invalid("angular_threshold_deg must be in (0, 180], got %v", cfg.AngularThresholdDeg)
	}
	if !(cfg.Probability >= 0 && cfg.Probability < 1) {
		invalid("probability must be in [0, 1), got %v", cfg.Probability)
	}
	if cfg.EstimateNormals {
		if cfg.NormalRadius < 1 {
			invalid("normal_radius must be at least 1, got %d", cfg.NormalRadius)
		}
		if !(cfg.NormalMaxDepthChange >= 0) {
			invalid("normal_max_depth_change cannot be negative, got %v", cfg.NormalMaxDepthChange)
		}
	}
	if cfg.PnPIterations < 1 {
		invalid("pnp_iterations must be at least 1, got %d", cfg.PnPIterations)
	}
	if !(cfg.ReprojectionError > 0) {
		invalid("reprojection_error must be positive, got %v", cfg.ReprojectionError)
	}
	if !(cfg.DepthScale > 0) || math.IsInf(cfg.DepthScale, 0) {
		invalid("depth_scale must be positive, got %v", cfg.DepthScale)
	}
	return errs
}

func (cfg *Config) planeFitConfig() segmentation.PlaneFitConfig {
	return segmentation.PlaneFitConfig{
		DistanceThreshold: cfg.DistanceThreshold,
		MaxIterations:     cfg.MaxIterations,
		Probability:       cfg.Probability,
		Seed:              cfg.Seed,
		NormalizeSign:     cfg.NormalizeSinglePlaneSign,
	}
}

func (cfg *Config) multiPlaneConfig() segmentation.MultiPlaneConfig {
	return segmentation.MultiPlaneConfig{
		MinInliers:        cfg.MinPlaneInliers,
		AngularThreshold:  rutils.DegToRad(cfg.AngularThresholdDeg),
		DistanceThreshold: cfg.DistanceThreshold,
		MaxCurvature:      cfg.MaxCurvature,
	}
}

func (cfg *Config) normalConfig() pointcloud.NormalConfig {
	return pointcloud.NormalConfig{Radius: cfg.NormalRadius, MaxDepthChange: cfg.NormalMaxDepthChange}
}

func (cfg *Config) pnpConfig() transform.PnPConfig {
	return transform.PnPConfig{Iterations: cfg.PnPIterations, ReprojectionError: cfg.ReprojectionError, Seed: cfg.Seed}
}

// NewConfigFromAttributes decodes an attribute map, keyed by the json names, over the defaults.
// Unknown keys are rejected.
func NewConfigFromAttributes(attrs map[string]interface{}) (*Config, error) {
	conf := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &conf,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error creating decoder")
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, errors.Wrap(err, "error decoding plane estimation attributes")
	}
	return &conf, nil
}

// ReadConfig parses YAML (or JSON) configuration over the defaults. Unknown keys are rejected.
func ReadConfig(r io.Reader) (*Config, error) {
	conf := DefaultConfig()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&conf); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "error parsing plane estimation config")
	}
	return &conf, nil
}

// ReadConfigFile reads a configuration file with ReadConfig.
func ReadConfigFile(path string) (*Config, error) {
	//nolint:gosec
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "error opening config file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadConfig(f)
}

// Schema returns the JSON schema of Config.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Config{})
}
