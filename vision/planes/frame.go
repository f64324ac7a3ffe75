package planes

import (
	"encoding/json"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/rimage"
	"go.viam.com/tabletop/rimage/transform"
)

// Frame is the sensor data of one estimation call. Which fields are needed depends on the mode:
// FIDUCIAL needs Marker and Camera; SINGLE_PLANE needs a cloud; MULTI_REGION needs a cloud and,
// unless normals are estimated, Normals. A cloud can be supplied directly or as Depth (plus
// optional Color) with Camera intrinsics.
type Frame struct {
	Cloud   *pointcloud.Organized
	Normals *pointcloud.NormalCloud
	Depth   *rimage.DepthMap
	Color   image.Image
	Camera  *transform.PinholeCameraModel
	Marker  *Marker
}

// Marker holds the detected corners of a fiducial board and their board frame coordinates.
// Board points lie on z = 0.
type Marker struct {
	Correspondences []transform.Correspondence
}

type markerFile struct {
	ImagePoints [][2]float64 `json:"image_points"`
	WorldPoints [][3]float64 `json:"world_points"`
}

// ReadMarker parses {"image_points": [[u, v], ...], "world_points": [[x, y, z], ...]}.
func ReadMarker(r io.Reader) (*Marker, error) {
	var file markerFile
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, errors.Wrap(err, "error parsing marker JSON")
	}
	if len(file.ImagePoints) != len(file.WorldPoints) {
		return nil, errors.Errorf("marker has %d image points but %d world points",
			len(file.ImagePoints), len(file.WorldPoints))
	}
	m := &Marker{Correspondences: make([]transform.Correspondence, len(file.ImagePoints))}
	for i := range file.ImagePoints {
		img, world := file.ImagePoints[i], file.WorldPoints[i]
		m.Correspondences[i] = transform.Correspondence{
			Image: r2.Point{X: img[0], Y: img[1]},
			World: r3.Vector{X: world[0], Y: world[1], Z: world[2]},
		}
	}
	return m, nil
}

// ReadMarkerFile reads a marker file with ReadMarker.
func ReadMarkerFile(path string) (*Marker, error) {
	//nolint:gosec
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "error opening marker file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return ReadMarker(f)
}
