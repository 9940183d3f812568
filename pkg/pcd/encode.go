package pcd

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zhuyie/golzf"
)

var defaultViewpoint = []float32{0, 0, 0, 1, 0, 0, 0}

// Encode writes pc in the requested DATA encoding.
func Encode(w io.Writer, pc *PointCloud, format Format) error {
	if err := pc.validate(); err != nil {
		return err
	}
	stride := pc.Stride()
	if len(pc.Data) < pc.Points*stride {
		return fmt.Errorf("data has %d bytes, %d points need %d", len(pc.Data), pc.Points, pc.Points*stride)
	}
	data := pc.Data[:pc.Points*stride]

	bw := bufio.NewWriter(w)
	if err := writeHeader(bw, pc, format); err != nil {
		return err
	}

	var err error
	switch format {
	case Ascii:
		err = writeASCII(bw, &pc.Header, data)
	case Binary:
		_, err = bw.Write(data)
	case BinaryCompressed:
		err = writeCompressed(bw, &pc.Header, pc.Points, data)
	default:
		err = fmt.Errorf("unknown data format %v", format)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

func writeHeader(w *bufio.Writer, pc *PointCloud, format Format) error {
	version := pc.Version
	if version == 0 {
		version = 0.7
	}
	width, height := pc.Width, pc.Height
	if width*height != pc.Points {
		width, height = pc.Points, 1
	}
	viewpoint := pc.Viewpoint
	if len(viewpoint) != 7 {
		viewpoint = defaultViewpoint
	}

	fmt.Fprintf(w, "# .PCD v%s - Point Cloud Data file format\n", formatFloat32(version))
	fmt.Fprintf(w, "VERSION %s\n", formatFloat32(version))
	fmt.Fprintf(w, "FIELDS %s\n", strings.Join(pc.Fields, " "))
	fmt.Fprintf(w, "SIZE %s\n", joinInts(pc.Size))
	fmt.Fprintf(w, "TYPE %s\n", strings.Join(pc.Type, " "))
	fmt.Fprintf(w, "COUNT %s\n", joinInts(pc.Count))
	fmt.Fprintf(w, "WIDTH %d\n", width)
	fmt.Fprintf(w, "HEIGHT %d\n", height)
	vp := make([]string, len(viewpoint))
	for i, v := range viewpoint {
		vp[i] = formatFloat32(v)
	}
	fmt.Fprintf(w, "VIEWPOINT %s\n", strings.Join(vp, " "))
	fmt.Fprintf(w, "POINTS %d\n", pc.Points)
	_, err := fmt.Fprintf(w, "DATA %s\n", format)
	return err
}

func writeASCII(w *bufio.Writer, h *Header, data []byte) error {
	chs := h.channels()
	stride := h.Stride()
	var line []byte
	for p := 0; p*stride < len(data); p++ {
		rec := data[p*stride : (p+1)*stride]
		line = line[:0]
		for i, c := range chs {
			if i > 0 {
				line = append(line, ' ')
			}
			line = c.format(line, rec[c.offset:])
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func writeCompressed(w *bufio.Writer, h *Header, points int, data []byte) error {
	if len(data) == 0 {
		return binary.Write(w, binary.LittleEndian, [2]uint32{0, 0})
	}

	stride := h.Stride()
	col := make([]byte, len(data))
	var head, off int
	for i := range h.Fields {
		size := h.Size[i] * h.Count[i]
		for p := 0; p < points; p++ {
			from := p*stride + off
			to := head + p*size
			copy(col[to:to+size], data[from:from+size])
		}
		head += size * points
		off += size
	}

	out := make([]byte, len(col)+len(col)/16+64)
	n, err := lzf.Compress(col, out)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, [2]uint32{uint32(n), uint32(len(col))}); err != nil {
		return err
	}
	_, err = w.Write(out[:n])
	return err
}

func formatFloat32(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}

func joinInts(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = strconv.Itoa(n)
	}
	return strings.Join(s, " ")
}
