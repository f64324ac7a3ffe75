package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

type pcdValType string

const (
	pcdValFloat pcdValType = "F"
	pcdValInt   pcdValType = "I"
	pcdValUInt  pcdValType = "U"
)

type pcdHeader struct {
	fields []string
	size   []int
	types  []pcdValType
	width  int
	height int
	points int
	data   PCDType
}

func (h *pcdHeader) hasColor() bool {
	return len(h.fields) == 4
}

// pointSize is the number of bytes of one binary record.
func (h *pcdHeader) pointSize() int {
	total := 0
	for _, s := range h.size {
		total += s
	}
	return total
}

// NewFromPCDFile reads an organized cloud from a .pcd file.
func NewFromPCDFile(fn string) (_ *Organized, err error) {
	//nolint:gosec
	f, err := os.Open(filepath.Clean(fn))
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ReadPCD(f)
}

// WritePCDFile writes cloud to fn as binary pcd.
func WritePCDFile(cloud *Organized, fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(filepath.Clean(fn))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := ToPCD(cloud, w, PCDBinary); err != nil {
		return err
	}
	return w.Flush()
}

func colorToPCDInt(c color.NRGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

func pcdIntToColor(c uint32) color.NRGBA {
	r := uint8(0xFF & (c >> 16))
	g := uint8(0xFF & (c >> 8))
	b := uint8(0xFF & (c >> 0))
	return color.NRGBA{r, g, b, 255}
}

// ToPCD writes the organized cloud, invalid cells included, so the grid survives a round trip.
// Coordinates are written as float32 in the cloud's own units.
func ToPCD(cloud *Organized, out io.Writer, outputType PCDType) error {
	fields, sizes, types, counts := "x y z", "4 4 4", "F F F", "1 1 1"
	if cloud.HasColor() {
		fields, sizes, types, counts = "x y z rgb", "4 4 4 4", "F F F U", "1 1 1 1"
	}
	var dataType string
	switch outputType {
	case PCDAscii:
		dataType = "ascii"
	case PCDBinary:
		dataType = "binary"
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	default:
		return errors.Errorf("unknown pcd output type %d", outputType)
	}
	_, err := fmt.Fprintf(out,
		"VERSION .7\nFIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\nWIDTH %d\nHEIGHT %d\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA %s\n",
		fields, sizes, types, counts, cloud.Width(), cloud.Height(), cloud.Size(), dataType)
	if err != nil {
		return err
	}

	buf := make([]byte, 16)
	for i := 0; i < cloud.Size(); i++ {
		pt := cloud.At(i)
		c, hasColor := cloud.Color(i)
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(pt.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(pt.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(pt.Z)))
			n := 12
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], colorToPCDInt(c))
				n = 16
			}
			_, err = out.Write(buf[:n])
		case PCDAscii:
			if hasColor {
				_, err = fmt.Fprintf(out, "%s %s %s %d\n", formatPCDFloat(pt.X), formatPCDFloat(pt.Y), formatPCDFloat(pt.Z), colorToPCDInt(c))
			} else {
				_, err = fmt.Fprintf(out, "%s %s %s\n", formatPCDFloat(pt.X), formatPCDFloat(pt.Y), formatPCDFloat(pt.Z))
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func formatPCDFloat(f float64) string {
	if math.IsNaN(f) {
		return "nan"
	}
	return strconv.FormatFloat(f, 'f', -1, 32)
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	value = strings.TrimSpace(value)
	tokens := strings.Fields(value)
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z", "x y z rgb", "x y z rgba":
			header.fields = tokens
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]int, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.Atoi(token)
			if err != nil || header.size[i] != 4 {
				return errors.Errorf("unsupported SIZE field %s", token)
			}
		}
	case "TYPE":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in TYPE line")
		}
		header.types = make([]pcdValType, len(tokens))
		for i, token := range tokens {
			switch t := pcdValType(token); t {
			case pcdValFloat, pcdValInt, pcdValUInt:
				header.types[i] = t
			default:
				return errors.Errorf("unsupported TYPE field %s", token)
			}
		}
		for i := 0; i < 3; i++ {
			if header.types[i] != pcdValFloat {
				return errors.New("x y z must be floats")
			}
		}
	case "COUNT":
		if len(tokens) != len(header.fields) {
			return errors.New("unexpected number of fields in COUNT line")
		}
		for _, token := range tokens {
			if token != "1" {
				return errors.Errorf("unsupported COUNT field %s", token)
			}
		}
	case "WIDTH":
		header.width, err = strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		header.height, err = strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		header.points, err = strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}

	return nil
}

// ReadPCD parses a pcd stream into an organized cloud. Unorganized files (HEIGHT 1) come back as a
// single row.
func ReadPCD(inRaw io.Reader) (*Organized, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", headerLineCount)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	if header.width <= 0 || header.height <= 0 {
		return nil, errors.Errorf("invalid pcd dimensions %dx%d", header.width, header.height)
	}

	cloud := NewOrganized(header.width, header.height)
	var err error
	switch header.data {
	case PCDAscii:
		err = readPCDAscii(in, &header, cloud)
	case PCDBinary:
		err = readPCDBinary(in, &header, cloud)
	case PCDCompressed:
		err = errors.New("compressed pcd not yet supported")
	}
	if err != nil {
		return nil, err
	}
	return cloud, nil
}

func readPCDAscii(in *bufio.Reader, header *pcdHeader, cloud *Organized) error {
	for i := 0; i < header.points; i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != len(header.fields) {
			return errors.Errorf("unexpected number of fields in point %d", i)
		}
		var xyz [3]float64
		for j := 0; j < 3; j++ {
			xyz[j], err = strconv.ParseFloat(tokens[j], 64)
			if err != nil {
				return errors.Wrapf(err, "invalid point %d field %s", i, tokens[j])
			}
		}
		cloud.Set(i, r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]})
		if header.hasColor() {
			packed, err := parsePackedColor(tokens[3], header.types[3])
			if err != nil {
				return errors.Wrapf(err, "invalid point %d color", i)
			}
			cloud.SetColor(i, pcdIntToColor(packed))
		}
	}
	return nil
}

// parsePackedColor reads 0x00RRGGBB either as an integer or as the bit pattern of a float, the
// way PCL stores rgb.
func parsePackedColor(token string, valType pcdValType) (uint32, error) {
	if valType == pcdValFloat {
		f, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return 0, err
		}
		return math.Float32bits(float32(f)), nil
	}
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func readPCDBinary(in *bufio.Reader, header *pcdHeader, cloud *Organized) error {
	buf := make([]byte, header.pointSize())
	for i := 0; i < header.points; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return errors.Wrapf(err, "reading point %d", i)
		}
		cloud.Set(i, r3.Vector{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4:]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[8:]))),
		})
		if header.hasColor() {
			cloud.SetColor(i, pcdIntToColor(binary.LittleEndian.Uint32(buf[12:])))
		}
	}
	return nil
}
