// Package main is the planes command line tool. It runs the plane estimator on frames stored as
// files and writes the planes it finds as JSON, plus one PNG mask per plane.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/tabletop/logging"
	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/rimage"
	"go.viam.com/tabletop/rimage/transform"
	"go.viam.com/tabletop/vision/planes"
)

const (
	flagDebug   = "debug"
	flagLogFile = "log-file"
	flagConfig  = "config"
	flagMode    = "mode"
	flagCloud   = "cloud"
	flagDepth   = "depth"
	flagColor   = "color"
	flagCamera  = "camera"
	flagMarker  = "marker"
	flagOutput  = "output"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type appState struct {
	logger logging.Logger
	closer io.Closer
}

func newApp(stdout io.Writer) *cli.App {
	state := &appState{}
	return &cli.App{
		Name:      "planes",
		Usage:     "estimate support planes from registered color and depth data",
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotated at 100MB",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				state.logger = logging.NewDebugLogger("planes")
			} else {
				state.logger = logging.NewLogger("planes")
			}
			if path := c.String(flagLogFile); path != "" {
				appender, closer := logging.NewFileAppender(logging.FileAppenderConfig{Path: path, MaxSizeMB: 100, MaxBackups: 3})
				state.logger.AddAppender(appender)
				state.closer = closer
			}
			return nil
		},
		After: func(c *cli.Context) error {
			var err error
			if state.logger != nil {
				//nolint:errcheck
				_ = state.logger.Sync()
			}
			if state.closer != nil {
				err = state.closer.Close()
			}
			return err
		},
		Commands: []*cli.Command{
			{
				Name:      "estimate",
				Usage:     "estimate the planes of one frame",
				UsageText: "planes estimate --camera intrinsics.json (--cloud frame.pcd | --depth depth.png) [--marker marker.json]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagConfig, Aliases: []string{"c"}, Usage: "load estimator configuration from `FILE` (yaml or json)"},
					&cli.StringFlag{Name: flagMode, Usage: "override the configured mode (FIDUCIAL, SINGLE_PLANE, MULTI_REGION)"},
					&cli.StringFlag{Name: flagCloud, Usage: "organized point cloud `PCD`"},
					&cli.StringFlag{Name: flagDepth, Usage: "16-bit depth `PNG`"},
					&cli.StringFlag{Name: flagColor, Usage: "color `PNG` registered to the depth image"},
					&cli.StringFlag{Name: flagCamera, Usage: "camera calibration `JSON`"},
					&cli.StringFlag{Name: flagMarker, Usage: "fiducial marker correspondences `JSON`"},
					&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "write plane masks into `DIR`"},
				},
				Action: func(c *cli.Context) error {
					return estimateAction(c, state.logger)
				},
			},
			{
				Name:  "schema",
				Usage: "print the JSON schema of the estimator configuration",
				Action: func(c *cli.Context) error {
					enc := json.NewEncoder(c.App.Writer)
					enc.SetIndent("", "  ")
					return enc.Encode(planes.Schema())
				},
			},
		},
	}
}

func loadConfig(c *cli.Context) (*planes.Config, error) {
	cfg := planes.DefaultConfig()
	conf := &cfg
	if path := c.String(flagConfig); path != "" {
		var err error
		if conf, err = planes.ReadConfigFile(path); err != nil {
			return nil, err
		}
	}
	if mode := c.String(flagMode); mode != "" {
		conf.Mode = planes.Mode(mode)
	}
	return conf, nil
}

func loadFrame(c *cli.Context) (*planes.Frame, error) {
	frame := &planes.Frame{}
	var err error
	if path := c.String(flagCamera); path != "" {
		if frame.Camera, err = transform.NewPinholeCameraModelFromJSONFile(path); err != nil {
			return nil, err
		}
	}
	if path := c.String(flagCloud); path != "" {
		if frame.Cloud, err = pointcloud.NewFromPCDFile(path); err != nil {
			return nil, err
		}
	}
	if path := c.String(flagDepth); path != "" {
		if frame.Depth, err = rimage.ParseDepthMap(path); err != nil {
			return nil, err
		}
	}
	if path := c.String(flagColor); path != "" {
		if frame.Color, err = rimage.ReadImageFile(path); err != nil {
			return nil, err
		}
	}
	if path := c.String(flagMarker); path != "" {
		if frame.Marker, err = planes.ReadMarkerFile(path); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

func writeMasks(dir string, result *planes.Result) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	var errs error
	for i, p := range result.Planes {
		if p.Mask == nil {
			continue
		}
		errs = multierr.Append(errs, rimage.WriteImageToFile(filepath.Join(dir, fmt.Sprintf("plane_%d_mask.png", i)), p.Mask))
	}
	return errs
}

// estimateContext enables context debug logging when --debug is set, so the estimator's
// context-aware debug statements are written whatever a sublogger's level is.
func estimateContext(c *cli.Context) context.Context {
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if c.Bool(flagDebug) {
		ctx = logging.EnableDebugMode(ctx, "")
	}
	return ctx
}

func estimateAction(c *cli.Context, logger logging.Logger) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	estimator, err := planes.NewEstimator(*cfg, logger)
	if err != nil {
		return err
	}
	frame, err := loadFrame(c)
	if err != nil {
		return errors.Wrap(err, "cannot load frame")
	}
	result, err := estimator.Estimate(estimateContext(c), frame)
	if err != nil {
		return err
	}
	if !result.Found {
		logger.Info("no plane found")
	}
	if dir := c.String(flagOutput); dir != "" {
		if err := writeMasks(dir, result); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
