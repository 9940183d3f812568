package pcd

import (
	"encoding/binary"
	"errors"
	"math"
	"strconv"
)

type channel struct {
	offset int
	size   int
	typ    byte
}

func (h *Header) channels() []channel {
	chs := make([]channel, 0, h.Channels())
	var off int
	for i := range h.Fields {
		for c := 0; c < h.Count[i]; c++ {
			chs = append(chs, channel{offset: off, size: h.Size[i], typ: h.Type[i][0]})
			off += h.Size[i]
		}
	}
	return chs
}

func (c channel) float64(b []byte) float64 {
	switch c.typ {
	case 'F':
		if c.size == 4 {
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case 'I':
		return float64(c.int64(b))
	case 'U':
		return float64(c.uint64(b))
	}
	return math.NaN()
}

func (c channel) int64(b []byte) int64 {
	switch c.size {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	}
	return int64(binary.LittleEndian.Uint64(b))
}

func (c channel) uint64(b []byte) uint64 {
	switch c.size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}

// parse stores an ascii token into b using the channel encoding.
func (c channel) parse(b []byte, tok string) error {
	switch c.typ {
	case 'F':
		// Out of range values saturate to ±Inf like the binary encodings can.
		f, err := strconv.ParseFloat(tok, c.size*8)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return err
		}
		if c.size == 4 {
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(f)))
		} else {
			binary.LittleEndian.PutUint64(b, math.Float64bits(f))
		}
	case 'I':
		v, err := strconv.ParseInt(tok, 10, c.size*8)
		if err != nil {
			return err
		}
		putUint(b, c.size, uint64(v))
	case 'U':
		v, err := strconv.ParseUint(tok, 10, c.size*8)
		if err != nil {
			return err
		}
		putUint(b, c.size, v)
	}
	return nil
}

// format renders the value stored in b as an ascii token.
func (c channel) format(dst, b []byte) []byte {
	switch c.typ {
	case 'F':
		if c.size == 4 {
			return strconv.AppendFloat(dst, float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), 'g', -1, 32)
		}
		return strconv.AppendFloat(dst, math.Float64frombits(binary.LittleEndian.Uint64(b)), 'g', -1, 64)
	case 'I':
		return strconv.AppendInt(dst, c.int64(b), 10)
	case 'U':
		return strconv.AppendUint(dst, c.uint64(b), 10)
	}
	return dst
}

func putUint(b []byte, size int, v uint64) {
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	}
}
