// Package numio loads and saves plain numeric files: whitespace-separated
// text matrices for the design and contrast inputs, plain value lists for
// the permutation null distribution, and npy exports for downstream
// analysis in Python.
package numio

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/mat"
)

// LoadMatrix reads a whitespace-separated numeric text file into a dense
// matrix. Blank lines and lines starting with '#' are skipped; all rows must
// have the same number of columns.
func LoadMatrix(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open matrix file: %w", err)
	}
	defer f.Close()

	var values []float64
	cols := 0
	rows := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if cols == 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, fmt.Errorf("%s: row %d has %d columns, expected %d", path, rows+1, len(fields), cols)
		}
		for _, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid numeric value %q: %w", path, field, err)
			}
			values = append(values, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read matrix file: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("%s: empty matrix file", path)
	}
	return mat.NewDense(rows, cols, values), nil
}

// SaveVector writes values as a plain text list, one per line.
func SaveVector(path string, values []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, v := range values {
		fmt.Fprintf(w, "%g\n", v)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// WriteNpy exports a dense matrix as a NumPy .npy file.
func WriteNpy(path string, m *mat.Dense) error {
	rows, cols := m.Dims()
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create npy file: %w", err)
	}
	w.Shape = []int{rows, cols}
	w.Version = 2
	if err := w.WriteFloat64(m.RawMatrix().Data); err != nil {
		return fmt.Errorf("failed to write npy file: %w", err)
	}
	return nil
}

// WriteVectorNpy exports a value vector as a one-dimensional .npy file.
func WriteVectorNpy(path string, values []float64) error {
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create npy file: %w", err)
	}
	w.Shape = []int{len(values)}
	w.Version = 2
	if err := w.WriteFloat64(values); err != nil {
		return fmt.Errorf("failed to write npy file: %w", err)
	}
	return nil
}
