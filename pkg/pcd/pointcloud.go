// Package pcd reads and writes point cloud files in the PCD container format.
package pcd

import (
	"errors"
	"fmt"
	"math"
)

// maxChannels bounds the scalar values of one point record.
const maxChannels = 1 << 16

var (
	// ErrMalformed is returned when the header or payload of a file does not
	// follow the container rules.
	ErrMalformed = errors.New("malformed point cloud")
	// ErrInsufficientFields is returned when a point has fewer than three
	// scalar channels and cannot form a coordinate triple.
	ErrInsufficientFields = errors.New("point cloud has fewer than three fields")
)

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

type Format int

const (
	Ascii Format = iota
	Binary
	BinaryCompressed
)

func (f Format) String() string {
	switch f {
	case Ascii:
		return "ascii"
	case Binary:
		return "binary"
	case BinaryCompressed:
		return "binary_compressed"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

func parseFormat(s string) (Format, error) {
	switch s {
	case "ascii":
		return Ascii, nil
	case "binary":
		return Binary, nil
	case "binary_compressed":
		return BinaryCompressed, nil
	}
	return 0, malformed("unknown data format %q", s)
}

type Header struct {
	Version   float32
	Fields    []string
	Size      []int
	Type      []string
	Count     []int
	Width     int
	Height    int
	Viewpoint []float32
}

// Clone returns a deep copy of h.
func (h *Header) Clone() Header {
	return Header{
		Version:   h.Version,
		Fields:    append([]string{}, h.Fields...),
		Size:      append([]int{}, h.Size...),
		Type:      append([]string{}, h.Type...),
		Count:     append([]int{}, h.Count...),
		Width:     h.Width,
		Height:    h.Height,
		Viewpoint: append([]float32{}, h.Viewpoint...),
	}
}

// Stride is the byte length of one point record.
func (h *Header) Stride() int {
	var stride int
	for i := range h.Fields {
		stride += h.Count[i] * h.Size[i]
	}
	return stride
}

// Channels is the number of scalar values in one point record.
func (h *Header) Channels() int {
	var n int
	for _, c := range h.Count {
		n += c
	}
	return n
}

func (h *Header) validate() error {
	if len(h.Fields) == 0 {
		return malformed("no fields declared")
	}
	if len(h.Fields) != len(h.Size) {
		return malformed("SIZE has %d entries for %d fields", len(h.Size), len(h.Fields))
	}
	if len(h.Fields) != len(h.Type) {
		return malformed("TYPE has %d entries for %d fields", len(h.Type), len(h.Fields))
	}
	if len(h.Fields) != len(h.Count) {
		return malformed("COUNT has %d entries for %d fields", len(h.Count), len(h.Fields))
	}
	var channels int
	for i, name := range h.Fields {
		if h.Count[i] < 1 || h.Count[i] > maxChannels {
			return malformed("field %s has count %d", name, h.Count[i])
		}
		if channels += h.Count[i]; channels > maxChannels {
			return malformed("point record has more than %d values", maxChannels)
		}
		if !supportedType(h.Type[i], h.Size[i]) {
			return malformed("field %s has unsupported encoding %s%d", name, h.Type[i], h.Size[i])
		}
	}
	return nil
}

// checkPoints rejects point counts whose payload size does not fit in an int.
func (h *Header) checkPoints(points int) error {
	if points < 0 {
		return malformed("negative point count")
	}
	if stride := h.Stride(); points > math.MaxInt/stride {
		return malformed("POINTS %d is too large for %d byte records", points, stride)
	}
	return nil
}

func supportedType(t string, size int) bool {
	switch t {
	case "F":
		return size == 4 || size == 8
	case "I", "U":
		return size == 1 || size == 2 || size == 4 || size == 8
	}
	return false
}

// PointCloud holds decoded points. Data is always row-major little-endian,
// Points*Stride() bytes, whatever the on-disk format was.
type PointCloud struct {
	Header
	Points int
	Format Format

	Data []byte
}

// Float64At returns the channel-th scalar of the given point converted to
// float64. A field with COUNT n occupies n consecutive channels.
func (pc *PointCloud) Float64At(point, ch int) float64 {
	chs := pc.channels()
	return chs[ch].float64(pc.Data[point*pc.Stride()+chs[ch].offset:])
}
