package planes

import (
	"encoding/json"
	"image"

	"go.viam.com/tabletop/pointcloud"
	"go.viam.com/tabletop/vision/segmentation"
)

// Descriptor is one estimated plane, ready to be stored with the frame. Inliers are ascending
// grid indices; ROI is their tight bounding rectangle in pixel coordinates and Mask, sized like
// ROI, is 255 at inlier pixels. A fiducial plane has no pixel support, so Inliers and Mask are
// nil and ROI is empty.
type Descriptor struct {
	Model   pointcloud.Plane
	Inliers []int
	ROI     image.Rectangle
	Mask    *image.Gray
}

// NewDescriptor derives the mask and ROI of an inlier set on a width x height grid.
func NewDescriptor(model pointcloud.Plane, inliers []int, width, height int) (*Descriptor, error) {
	if len(inliers) == 0 {
		return &Descriptor{Model: model}, nil
	}
	mask, roi, err := segmentation.MaskAndROI(inliers, width, height)
	if err != nil {
		return nil, err
	}
	return &Descriptor{Model: model, Inliers: inliers, ROI: roi, Mask: mask}, nil
}

type roiJSON struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type descriptorJSON struct {
	Model       [4]float64 `json:"model"`
	InlierCount int        `json:"inlier_count"`
	ROI         *roiJSON   `json:"roi,omitempty"`
}

// MarshalJSON writes the model, the support size and the ROI. The mask is left to image writers.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	out := descriptorJSON{Model: d.Model.Equation(), InlierCount: len(d.Inliers)}
	if !d.ROI.Empty() {
		out.ROI = &roiJSON{X: d.ROI.Min.X, Y: d.ROI.Min.Y, Width: d.ROI.Dx(), Height: d.ROI.Dy()}
	}
	return json.Marshal(out)
}
