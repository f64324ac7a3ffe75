package pointcloud

import (
	"bytes"
	"image/color"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func testCloud() *Organized {
	cloud := NewOrganized(3, 2)
	cloud.Set(0, r3.Vector{0.5, -0.25, 1})
	cloud.Set(2, r3.Vector{1, 2, 3})
	cloud.Set(4, r3.Vector{-1, 0, 0.125})
	return cloud
}

func assertCloudsEqual(t *testing.T, actual, expected *Organized) {
	t.Helper()
	test.That(t, actual.Width(), test.ShouldEqual, expected.Width())
	test.That(t, actual.Height(), test.ShouldEqual, expected.Height())
	test.That(t, actual.HasColor(), test.ShouldEqual, expected.HasColor())
	for i := 0; i < expected.Size(); i++ {
		test.That(t, actual.IsValid(i), test.ShouldEqual, expected.IsValid(i))
		if expected.IsValid(i) {
			test.That(t, actual.At(i), test.ShouldResemble, expected.At(i))
		}
		c1, _ := actual.Color(i)
		c2, _ := expected.Color(i)
		test.That(t, c1, test.ShouldResemble, c2)
	}
}

func TestPCDRoundTrip(t *testing.T) {
	colored := testCloud()
	for i := 0; i < colored.Size(); i++ {
		colored.SetColor(i, color.NRGBA{uint8(i * 10), 7, 200, 255})
	}

	for _, cloud := range []*Organized{testCloud(), colored} {
		for _, pcdType := range []PCDType{PCDAscii, PCDBinary} {
			var buf bytes.Buffer
			test.That(t, ToPCD(cloud, &buf, pcdType), test.ShouldBeNil)
			read, err := ReadPCD(&buf)
			test.That(t, err, test.ShouldBeNil)
			assertCloudsEqual(t, read, cloud)
		}
	}

	var buf bytes.Buffer
	test.That(t, ToPCD(testCloud(), &buf, PCDCompressed), test.ShouldNotBeNil)
}

func TestPCDFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "cloud.pcd")
	test.That(t, WritePCDFile(testCloud(), fn), test.ShouldBeNil)
	read, err := NewFromPCDFile(fn)
	test.That(t, err, test.ShouldBeNil)
	assertCloudsEqual(t, read, testCloud())

	_, err = NewFromPCDFile(filepath.Join(t.TempDir(), "missing.pcd"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReadPCLStyleAscii(t *testing.T) {
	// PCL writes rgb as the float whose bits hold 0x00RRGGBB.
	packed := math.Float32frombits(0x00FF8010)
	data := strings.Join([]string{
		"# .PCD v0.7 - Point Cloud Data file format",
		"VERSION 0.7",
		"FIELDS x y z rgb",
		"SIZE 4 4 4 4",
		"TYPE F F F F",
		"COUNT 1 1 1 1",
		"WIDTH 2",
		"HEIGHT 1",
		"VIEWPOINT 0 0 0 1 0 0 0",
		"POINTS 2",
		"DATA ascii",
		"1 2 3 " + formatPCDFloat(float64(packed)),
		"nan nan nan " + formatPCDFloat(float64(packed)),
	}, "\n")
	cloud, err := ReadPCD(strings.NewReader(data))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cloud.Width(), test.ShouldEqual, 2)
	test.That(t, cloud.IsValid(0), test.ShouldBeTrue)
	test.That(t, cloud.IsValid(1), test.ShouldBeFalse)
	c, ok := cloud.Color(0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, c, test.ShouldResemble, color.NRGBA{0xFF, 0x80, 0x10, 255})
}

func TestReadPCDErrors(t *testing.T) {
	header := func(lines ...string) string {
		base := []string{
			"VERSION .7", "FIELDS x y z", "SIZE 4 4 4", "TYPE F F F", "COUNT 1 1 1",
			"WIDTH 2", "HEIGHT 1", "VIEWPOINT 0 0 0 1 0 0 0", "POINTS 2", "DATA ascii",
		}
		for i, l := range lines {
			if l != "" {
				base[i] = l
			}
		}
		return strings.Join(base, "\n") + "\n"
	}

	for _, bad := range []string{
		header("VERSION .6"),
		header("", "FIELDS x y z normal_x"),
		header("", "", "SIZE 8 8 8"),
		header("", "", "", "TYPE I F F"),
		header("", "", "", "", "", "", "", "", "POINTS 3"),
		header("", "", "", "", "", "", "", "", "", "DATA zip"),
		header() + "1 2 3\n",
		header() + "1 2\n3 4 5\n",
	} {
		_, err := ReadPCD(strings.NewReader(bad))
		test.That(t, err, test.ShouldNotBeNil)
	}
}
