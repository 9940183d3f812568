package pcd

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/zhuyie/golzf"
)

const maxASCIILine = 1 << 20

// maxLZFRatio is the largest expansion of an LZF block: a 3 byte back
// reference copies at most 264 bytes.
const maxLZFRatio = 88

// Decode reads a PCD file. The point payload is converted into the row-major
// binary layout whatever DATA encoding the file uses.
func Decode(r io.Reader) (*PointCloud, error) {
	rb := bufio.NewReader(r)
	pc := &PointCloud{}

	var hasCount, hasWidth, hasHeight, hasPoints bool

L_HEADER:
	for {
		line, err := rb.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return nil, malformed("header ended before DATA")
			}
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		args := strings.Fields(line)
		if len(args) < 2 {
			return nil, malformed("header field %s must have value", args[0])
		}
		switch args[0] {
		case "VERSION":
			f, err := strconv.ParseFloat(args[1], 32)
			if err != nil {
				return nil, malformed("VERSION: %v", err)
			}
			pc.Version = float32(f)
		case "FIELDS":
			pc.Fields = args[1:]
		case "SIZE":
			if pc.Size, err = atoiAll("SIZE", args[1:]); err != nil {
				return nil, err
			}
		case "TYPE":
			pc.Type = args[1:]
		case "COUNT":
			if pc.Count, err = atoiAll("COUNT", args[1:]); err != nil {
				return nil, err
			}
			hasCount = true
		case "WIDTH":
			if pc.Width, err = atoi("WIDTH", args[1]); err != nil {
				return nil, err
			}
			hasWidth = true
		case "HEIGHT":
			if pc.Height, err = atoi("HEIGHT", args[1]); err != nil {
				return nil, err
			}
			hasHeight = true
		case "VIEWPOINT":
			pc.Viewpoint = make([]float32, len(args)-1)
			for i, s := range args[1:] {
				f, err := strconv.ParseFloat(s, 32)
				if err != nil {
					return nil, malformed("VIEWPOINT: %v", err)
				}
				pc.Viewpoint[i] = float32(f)
			}
		case "POINTS":
			if pc.Points, err = atoi("POINTS", args[1]); err != nil {
				return nil, err
			}
			hasPoints = true
		case "DATA":
			if pc.Format, err = parseFormat(args[1]); err != nil {
				return nil, err
			}
			break L_HEADER
		default:
			return nil, malformed("unknown header field %s", args[0])
		}
	}

	if !hasCount {
		pc.Count = make([]int, len(pc.Fields))
		for i := range pc.Count {
			pc.Count[i] = 1
		}
	}
	if !hasHeight {
		pc.Height = 1
	}
	if pc.Points < 0 || pc.Width < 0 || pc.Height < 0 {
		return nil, malformed("negative point count")
	}
	switch {
	case !hasPoints && !hasWidth:
		return nil, malformed("neither POINTS nor WIDTH is declared")
	case !hasPoints:
		if pc.Height > 0 && pc.Width > math.MaxInt/pc.Height {
			return nil, malformed("WIDTH %d x HEIGHT %d overflows", pc.Width, pc.Height)
		}
		pc.Points = pc.Width * pc.Height
	case !hasWidth:
		pc.Width = pc.Points
	}
	if err := pc.validate(); err != nil {
		return nil, err
	}
	if err := pc.checkPoints(pc.Points); err != nil {
		return nil, err
	}

	var err error
	switch pc.Format {
	case Ascii:
		pc.Data, err = readASCII(rb, &pc.Header, pc.Points)
	case Binary:
		pc.Data, err = readBinary(rb, pc.Points*pc.Stride())
	case BinaryCompressed:
		pc.Data, err = readCompressed(rb, &pc.Header, pc.Points)
	}
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func atoi(name, s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, malformed("%s: %v", name, err)
	}
	return v, nil
}

func atoiAll(name string, ss []string) ([]int, error) {
	out := make([]int, len(ss))
	for i, s := range ss {
		v, err := atoi(name, s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// readBinary reads exactly n bytes. The buffer grows with what the reader
// actually delivers, so a header lying about its size cannot force a large
// allocation.
func readBinary(r io.Reader, n int) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, err
	}
	if len(b) < n {
		return nil, malformed("payload has %d bytes, header declares %d", len(b), n)
	}
	return b, nil
}

func readASCII(r io.Reader, h *Header, points int) ([]byte, error) {
	chs := h.channels()
	stride := h.Stride()
	var data []byte
	rec := make([]byte, stride)

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxASCIILine)
	var p int
	for p < points && s.Scan() {
		toks := strings.Fields(s.Text())
		if len(toks) == 0 {
			continue
		}
		if len(toks) < len(chs) {
			return nil, malformed("point %d has %d values, expected %d", p, len(toks), len(chs))
		}
		for i, c := range chs {
			if err := c.parse(rec[c.offset:], toks[i]); err != nil {
				return nil, malformed("point %d value %d: %v", p, i, err)
			}
		}
		data = append(data, rec...)
		p++
	}
	if err := s.Err(); err != nil {
		return nil, malformed("reading ascii payload: %v", err)
	}
	if p < points {
		return nil, malformed("payload has %d points, header declares %d", p, points)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func readCompressed(r io.Reader, h *Header, points int) ([]byte, error) {
	var nCompressed, nUncompressed uint32
	if err := binary.Read(r, binary.LittleEndian, &nCompressed); err != nil {
		return nil, malformed("compressed size: %v", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &nUncompressed); err != nil {
		return nil, malformed("uncompressed size: %v", err)
	}

	stride := h.Stride()
	if int(nUncompressed) != points*stride {
		return nil, malformed("uncompressed size %d, header declares %d", nUncompressed, points*stride)
	}
	if nUncompressed == 0 {
		return []byte{}, nil
	}

	b, err := readBinary(r, int(nCompressed))
	if err != nil {
		return nil, err
	}
	if uint64(nUncompressed) > uint64(len(b))*maxLZFRatio {
		return nil, malformed("uncompressed size %d cannot come from %d compressed bytes", nUncompressed, len(b))
	}
	dec := make([]byte, nUncompressed)
	n, err := lzf.Decompress(b, dec)
	if err != nil {
		return nil, malformed("decompress: %v", err)
	}
	if int(nUncompressed) != n {
		return nil, malformed("wrong uncompressed size %d", n)
	}

	// Compressed payloads are stored field by field.
	data := make([]byte, n)
	var head, off int
	for i := range h.Fields {
		size := h.Size[i] * h.Count[i]
		for p := 0; p < points; p++ {
			to := p*stride + off
			from := head + p*size
			copy(data[to:to+size], dec[from:from+size])
		}
		head += size * points
		off += size
	}
	return data, nil
}
