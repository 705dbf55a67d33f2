// Package fixelio implements the sparse fixel image container used for all
// per-fixel inputs and outputs. An image stores, per voxel, a variable-length
// list of (direction, value) fixels. On disk the format is a YAML header
// (dimensions, voxel size and free-form provenance comments) terminated by a
// "---" line, followed by a little-endian binary body.
package fixelio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"fixelstats/internal/models"
)

// headerEnd separates the YAML header from the binary body.
const headerEnd = "---\n"

// Fixel is a single fiber-orientation element within a voxel.
type Fixel struct {
	Dir   models.Point
	Value float64
}

// Voxel holds the fixels found at one grid location.
type Voxel struct {
	I, J, K int
	Fixels  []Fixel
}

// Header carries the spatial layout of the image plus provenance comments
// recording the parameters of the run that produced it.
type Header struct {
	Dim       [3]int     `yaml:"dim"`
	VoxelSize [3]float64 `yaml:"voxelSize"`
	Comments  []string   `yaml:"comments,omitempty"`
}

// Image is a sparse fixel image: only voxels that contain fixels are stored.
type Image struct {
	Header Header
	Voxels []Voxel
}

// NumFixels returns the total fixel count across all voxels.
func (img *Image) NumFixels() int {
	n := 0
	for i := range img.Voxels {
		n += len(img.Voxels[i].Fixels)
	}
	return n
}

// CheckDimensions verifies that two images share the same grid layout.
// Subject images must match the mask's spatial dimensions, though their
// per-voxel fixel content may differ.
func CheckDimensions(a, b *Image) error {
	if a.Header.Dim != b.Header.Dim {
		return fmt.Errorf("image dimensions %v do not match %v", a.Header.Dim, b.Header.Dim)
	}
	if a.Header.VoxelSize != b.Header.VoxelSize {
		return fmt.Errorf("voxel sizes %v do not match %v", a.Header.VoxelSize, b.Header.VoxelSize)
	}
	return nil
}

// Write serializes the image to path.
func Write(path string, img *Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create fixel image: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	head, err := yaml.Marshal(&img.Header)
	if err != nil {
		return fmt.Errorf("failed to marshal fixel header: %w", err)
	}
	if _, err := w.Write(head); err != nil {
		return err
	}
	if _, err := w.WriteString(headerEnd); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, int32(len(img.Voxels))); err != nil {
		return err
	}
	for _, v := range img.Voxels {
		if err := binary.Write(w, binary.LittleEndian, [4]int32{int32(v.I), int32(v.J), int32(v.K), int32(len(v.Fixels))}); err != nil {
			return err
		}
		for _, fx := range v.Fixels {
			if err := binary.Write(w, binary.LittleEndian, [4]float64{fx.Dir[0], fx.Dir[1], fx.Dir[2], fx.Value}); err != nil {
				return err
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write fixel image: %w", err)
	}
	return nil
}

// Read loads a fixel image from path.
func Read(path string) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixel image: %w", err)
	}

	sep := []byte("\n" + headerEnd)
	idx := bytes.Index(raw, sep)
	if idx < 0 {
		return nil, fmt.Errorf("%s: missing fixel image header terminator", path)
	}

	img := &Image{}
	if err := yaml.Unmarshal(raw[:idx+1], &img.Header); err != nil {
		return nil, fmt.Errorf("%s: invalid fixel image header: %w", path, err)
	}

	body := bytes.NewReader(raw[idx+len(sep):])
	var numVoxels int32
	if err := binary.Read(body, binary.LittleEndian, &numVoxels); err != nil {
		return nil, fmt.Errorf("%s: truncated fixel image body: %w", path, err)
	}
	if numVoxels < 0 {
		return nil, fmt.Errorf("%s: negative voxel count %d", path, numVoxels)
	}
	img.Voxels = make([]Voxel, 0, numVoxels)
	for i := int32(0); i < numVoxels; i++ {
		var rec [4]int32
		if err := binary.Read(body, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("%s: truncated voxel record: %w", path, err)
		}
		v := Voxel{I: int(rec[0]), J: int(rec[1]), K: int(rec[2])}
		if rec[3] < 0 {
			return nil, fmt.Errorf("%s: negative fixel count in voxel record", path)
		}
		v.Fixels = make([]Fixel, rec[3])
		for f := range v.Fixels {
			var vals [4]float64
			if err := binary.Read(body, binary.LittleEndian, &vals); err != nil {
				return nil, fmt.Errorf("%s: truncated fixel record: %w", path, err)
			}
			v.Fixels[f] = Fixel{Dir: models.Point{vals[0], vals[1], vals[2]}, Value: vals[3]}
		}
		img.Voxels = append(img.Voxels, v)
	}
	if _, err := body.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%s: trailing data after fixel image body", path)
	}
	return img, nil
}

// WriteValues writes a per-fixel value vector as a fixel image, reusing the
// voxel structure and directions of the template mask. Values are consumed in
// index order: voxels in stored order, fixels in order within each voxel.
// Extra comments are appended to the template's provenance comments.
func WriteValues(path string, template *Image, values []float64, comments []string) error {
	if len(values) != template.NumFixels() {
		return fmt.Errorf("value count %d does not match template fixel count %d", len(values), template.NumFixels())
	}

	out := &Image{Header: template.Header}
	out.Header.Comments = append(append([]string{}, template.Header.Comments...), comments...)
	out.Voxels = make([]Voxel, len(template.Voxels))
	id := 0
	for i, v := range template.Voxels {
		nv := Voxel{I: v.I, J: v.J, K: v.K, Fixels: make([]Fixel, len(v.Fixels))}
		for f, fx := range v.Fixels {
			nv.Fixels[f] = Fixel{Dir: fx.Dir, Value: values[id]}
			id++
		}
		out.Voxels[i] = nv
	}
	return Write(path, out)
}
