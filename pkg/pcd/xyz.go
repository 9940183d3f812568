package pcd

import (
	"errors"
	"math"
	"strconv"
)

// Vec3 is the spatial position of one point.
type Vec3 [3]float64

// Coordinates is an ordered list of positions. It marshals to a JSON array
// of 3-element arrays; non-finite values are written as null.
type Coordinates []Vec3

// XYZ projects every point onto its first three scalar channels in declared
// order. Field names are not consulted.
func XYZ(pc *PointCloud) (Coordinates, error) {
	chs := pc.channels()
	if len(chs) < 3 {
		return nil, ErrInsufficientFields
	}
	stride := pc.Stride()
	if len(pc.Data) < pc.Points*stride {
		return nil, malformed("data has %d bytes, %d points need %d", len(pc.Data), pc.Points, pc.Points*stride)
	}

	out := make(Coordinates, pc.Points)
	for p := range out {
		rec := pc.Data[p*stride:]
		out[p] = Vec3{
			chs[0].float64(rec[chs[0].offset:]),
			chs[1].float64(rec[chs[1].offset:]),
			chs[2].float64(rec[chs[2].offset:]),
		}
	}
	return out, nil
}

// MinMax returns the axis-aligned bounds of the finite coordinates.
func MinMax(c Coordinates) (Vec3, Vec3, error) {
	min := Vec3{math.Inf(1), math.Inf(1), math.Inf(1)}
	max := Vec3{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	var n int
	for _, v := range c {
		if !v.IsFinite() {
			continue
		}
		n++
		for i := range v {
			if v[i] < min[i] {
				min[i] = v[i]
			}
			if v[i] > max[i] {
				max[i] = v[i]
			}
		}
	}
	if n == 0 {
		return Vec3{}, Vec3{}, errors.New("no point")
	}
	return min, max, nil
}

func (v Vec3) IsFinite() bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func (v Vec3) MarshalJSON() ([]byte, error) {
	return v.appendJSON(make([]byte, 0, 64)), nil
}

func (c Coordinates) MarshalJSON() ([]byte, error) {
	b := make([]byte, 0, 2+len(c)*32)
	b = append(b, '[')
	for i, v := range c {
		if i > 0 {
			b = append(b, ',')
		}
		b = v.appendJSON(b)
	}
	return append(b, ']'), nil
}

func (v Vec3) appendJSON(b []byte) []byte {
	b = append(b, '[')
	for i, f := range v {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendFloat(b, f)
	}
	return append(b, ']')
}

// appendFloat formats f the same way encoding/json does.
func appendFloat(b []byte, f float64) []byte {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(b, "null"...)
	}
	abs := math.Abs(f)
	fmt := byte('f')
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		fmt = 'e'
	}
	b = strconv.AppendFloat(b, f, fmt, -1, 64)
	if fmt == 'e' {
		// clean up e-09 to e-9
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	return b
}
