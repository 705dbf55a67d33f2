// Package tracks reads and writes streamline files: the traced fiber paths
// used to derive fixel-fixel connectivity. The format is a small text header
// (magic line, key-value properties, END marker) followed by little-endian
// float32 point triplets; a (NaN,NaN,NaN) triplet separates streamlines and
// an (Inf,Inf,Inf) triplet terminates the file.
package tracks

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"fixelstats/internal/models"
)

const (
	magic    = "fixeltracks"
	endToken = "END"
)

// Reader streams tracks from a file one at a time.
type Reader struct {
	f     *os.File
	r     *bufio.Reader
	count int
	done  bool
}

// Open opens a track file and parses its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open track file: %w", err)
	}
	r := &Reader{f: f, r: bufio.NewReader(f)}

	line, err := r.readHeaderLine()
	if err != nil {
		f.Close()
		return nil, err
	}
	if line != magic {
		f.Close()
		return nil, fmt.Errorf("%s: not a track file (bad magic %q)", path, line)
	}
	for {
		line, err := r.readHeaderLine()
		if err != nil {
			f.Close()
			return nil, err
		}
		if line == endToken {
			break
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			f.Close()
			return nil, fmt.Errorf("%s: malformed track header line %q", path, line)
		}
		if strings.TrimSpace(key) == "count" {
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("%s: invalid track count: %w", path, err)
			}
			r.count = n
		}
	}
	return r, nil
}

func (r *Reader) readHeaderLine() (string, error) {
	line, err := r.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("truncated track header: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Count returns the streamline count declared in the header.
func (r *Reader) Count() int { return r.count }

// Next returns the next streamline, or io.EOF after the terminator.
func (r *Reader) Next() (models.Streamline, error) {
	if r.done {
		return nil, io.EOF
	}
	var track models.Streamline
	for {
		var p [3]float32
		if err := binary.Read(r.r, binary.LittleEndian, &p); err != nil {
			return nil, fmt.Errorf("truncated track data: %w", err)
		}
		if math.IsInf(float64(p[0]), 0) {
			r.done = true
			if len(track) > 0 {
				return track, nil
			}
			return nil, io.EOF
		}
		if math.IsNaN(float64(p[0])) {
			if len(track) == 0 {
				continue
			}
			return track, nil
		}
		track = append(track, models.Point{float64(p[0]), float64(p[1]), float64(p[2])})
	}
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// Writer produces track files, mainly for fixtures and synthetic data.
type Writer struct {
	f *os.File
	w *bufio.Writer
}

// Create opens a track file for writing, declaring count streamlines.
func Create(path string, count int) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create track file: %w", err)
	}
	w := &Writer{f: f, w: bufio.NewWriter(f)}
	fmt.Fprintf(w.w, "%s\n", magic)
	fmt.Fprintf(w.w, "count: %d\n", count)
	fmt.Fprintf(w.w, "datatype: Float32LE\n")
	fmt.Fprintf(w.w, "%s\n", endToken)
	return w, nil
}

// Write appends one streamline followed by the path separator.
func (w *Writer) Write(track models.Streamline) error {
	for _, p := range track {
		if err := binary.Write(w.w, binary.LittleEndian, [3]float32{float32(p[0]), float32(p[1]), float32(p[2])}); err != nil {
			return err
		}
	}
	nan := float32(math.NaN())
	return binary.Write(w.w, binary.LittleEndian, [3]float32{nan, nan, nan})
}

// Close writes the terminator and flushes the file.
func (w *Writer) Close() error {
	inf := float32(math.Inf(1))
	if err := binary.Write(w.w, binary.LittleEndian, [3]float32{inf, inf, inf}); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.f.Close()
}
