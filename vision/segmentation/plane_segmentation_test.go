package segmentation

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/tabletop/pointcloud"
)

func defaultFitConfig() PlaneFitConfig {
	return PlaneFitConfig{DistanceThreshold: 0.01, MaxIterations: 500, Probability: 0.99, Seed: 1}
}

// gridCloud builds a width x height cloud whose cell (row, col) is f(row, col).
func gridCloud(t *testing.T, width, height int, f func(row, col int) r3.Vector) *pointcloud.Organized {
	t.Helper()
	pts := make([]r3.Vector, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			pts[pointcloud.RowColToIndex(row, col, width)] = f(row, col)
		}
	}
	cloud, err := pointcloud.NewOrganizedFromPoints(width, height, pts)
	test.That(t, err, test.ShouldBeNil)
	return cloud
}

func checkInlierSet(t *testing.T, inliers []int, size int) {
	t.Helper()
	for i, idx := range inliers {
		test.That(t, idx, test.ShouldBeGreaterThanOrEqualTo, 0)
		test.That(t, idx, test.ShouldBeLessThan, size)
		if i > 0 {
			test.That(t, idx, test.ShouldBeGreaterThan, inliers[i-1])
		}
	}
}

func TestSegmentPlanePerfectPlane(t *testing.T) {
	cloud := gridCloud(t, 20, 15, func(row, col int) r3.Vector {
		return r3.Vector{X: float64(col) * 0.01, Y: float64(row) * 0.01, Z: 0}
	})
	seg, err := SegmentPlane(context.Background(), cloud, defaultFitConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seg, test.ShouldNotBeNil)
	test.That(t, seg.Inliers, test.ShouldHaveLength, cloud.Size())
	checkInlierSet(t, seg.Inliers, cloud.Size())

	n := seg.Plane.Normal()
	test.That(t, n.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, n.Y, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, math.Abs(n.Z), test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, seg.Plane.Offset(), test.ShouldAlmostEqual, 0, 1e-9)
}

func TestSegmentPlaneWithOutliersAndHoles(t *testing.T) {
	width, height := 30, 20
	cloud := gridCloud(t, width, height, func(row, col int) r3.Vector {
		x, y := float64(col)*0.01-0.15, float64(row)*0.01-0.1
		switch {
		case (row*width+col)%7 == 0:
			return pointcloud.InvalidPoint()
		case row < 4 && col < 5:
			// an object sitting on the table
			return r3.Vector{X: x, Y: y, Z: 0.8}
		default:
			// tilted table: z = 1 + 0.2*x
			return r3.Vector{X: x, Y: y, Z: 1 + 0.2*x}
		}
	})
	seg, err := SegmentPlane(context.Background(), cloud, defaultFitConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seg, test.ShouldNotBeNil)
	checkInlierSet(t, seg.Inliers, cloud.Size())

	expected := 0
	for i := 0; i < cloud.Size(); i++ {
		row, col := pointcloud.IndexToRowCol(i, width)
		if cloud.IsValid(i) && !(row < 4 && col < 5) {
			expected++
		}
	}
	test.That(t, seg.Inliers, test.ShouldHaveLength, expected)
	for _, idx := range seg.Inliers {
		test.That(t, cloud.IsValid(idx), test.ShouldBeTrue)
		row, col := pointcloud.IndexToRowCol(idx, width)
		test.That(t, row < 4 && col < 5, test.ShouldBeFalse)
		test.That(t, math.Abs(seg.Plane.Distance(cloud.At(idx))), test.ShouldBeLessThan, 1e-9)
	}

	cfg := defaultFitConfig()
	cfg.NormalizeSign = true
	normalized, err := SegmentPlane(context.Background(), cloud, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, normalized.Plane.Offset(), test.ShouldBeLessThanOrEqualTo, 0)
	test.That(t, normalized.Inliers, test.ShouldResemble, seg.Inliers)
}

func TestSegmentPlaneNoisyInliersMatchModel(t *testing.T) {
	noise := rand.New(rand.NewSource(7))
	cloud := gridCloud(t, 60, 40, func(row, col int) r3.Vector {
		x, y := float64(col)*0.01-0.3, float64(row)*0.01-0.2
		return r3.Vector{X: x, Y: y, Z: 1 + 0.3*x - 0.1*y + 0.006*noise.NormFloat64()}
	})
	cfg := defaultFitConfig()
	cfg.MaxIterations = 50
	for _, normalize := range []bool{false, true} {
		cfg.NormalizeSign = normalize
		seg, err := SegmentPlane(context.Background(), cloud, cfg)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, seg, test.ShouldNotBeNil)
		checkInlierSet(t, seg.Inliers, cloud.Size())
		// most of a 6mm noise band lies inside 1cm
		test.That(t, len(seg.Inliers), test.ShouldBeGreaterThan, cloud.Size()*3/4)

		members := map[int]bool{}
		for _, idx := range seg.Inliers {
			members[idx] = true
		}
		for i := 0; i < cloud.Size(); i++ {
			within := math.Abs(seg.Plane.Distance(cloud.At(i))) <= cfg.DistanceThreshold
			test.That(t, members[i], test.ShouldEqual, within)
		}
	}
}

func TestSegmentPlaneNoPlane(t *testing.T) {
	empty := pointcloud.NewOrganized(8, 6)
	seg, err := SegmentPlane(context.Background(), empty, defaultFitConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seg, test.ShouldBeNil)

	two := pointcloud.NewOrganized(8, 6)
	two.Set(0, r3.Vector{Z: 1})
	two.Set(5, r3.Vector{X: 1, Z: 1})
	seg, err = SegmentPlane(context.Background(), two, defaultFitConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seg, test.ShouldBeNil)

	// collinear points never make a hypothesis
	line := gridCloud(t, 5, 1, func(row, col int) r3.Vector { return r3.Vector{X: float64(col), Z: 1} })
	seg, err = SegmentPlane(context.Background(), line, defaultFitConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seg, test.ShouldBeNil)
}

func TestSegmentPlaneErrors(t *testing.T) {
	cloud := gridCloud(t, 4, 4, func(row, col int) r3.Vector { return r3.Vector{X: float64(col), Y: float64(row), Z: 1} })
	for _, cfg := range []PlaneFitConfig{
		{DistanceThreshold: 0, MaxIterations: 10},
		{DistanceThreshold: 0.1, MaxIterations: 0},
		{DistanceThreshold: 0.1, MaxIterations: 10, Probability: 1},
	} {
		_, err := SegmentPlane(context.Background(), cloud, cfg)
		test.That(t, err, test.ShouldNotBeNil)
	}
	_, err := SegmentPlane(context.Background(), nil, defaultFitConfig())
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = SegmentPlane(ctx, cloud, defaultFitConfig())
	test.That(t, err, test.ShouldEqual, context.Canceled)
}

func TestRequiredIterations(t *testing.T) {
	test.That(t, requiredIterations(0.99, 1), test.ShouldEqual, 0.)
	test.That(t, requiredIterations(0.99, 0.5), test.ShouldAlmostEqual, math.Log(0.01)/math.Log(0.875))
	test.That(t, math.IsInf(requiredIterations(0.99, 0), 1), test.ShouldBeTrue)
}
