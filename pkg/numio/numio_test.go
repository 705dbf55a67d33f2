package numio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/mat"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMatrix(t *testing.T) {
	dir := t.TempDir()

	t.Run("design with comments", func(t *testing.T) {
		path := writeFile(t, dir, "design.txt", "# group membership\n1 0\n1 0\n\n0 1\n0 1\n")
		m, err := LoadMatrix(path)
		if err != nil {
			t.Fatalf("LoadMatrix failed: %v", err)
		}
		rows, cols := m.Dims()
		if rows != 4 || cols != 2 {
			t.Fatalf("matrix is %dx%d; want 4x2", rows, cols)
		}
		if m.At(0, 0) != 1 || m.At(3, 1) != 1 || m.At(3, 0) != 0 {
			t.Errorf("matrix content wrong: %v", mat.Formatted(m))
		}
	})

	t.Run("scientific notation", func(t *testing.T) {
		path := writeFile(t, dir, "sci.txt", "1.5e-3 -2.25\n")
		m, err := LoadMatrix(path)
		if err != nil {
			t.Fatalf("LoadMatrix failed: %v", err)
		}
		if m.At(0, 0) != 1.5e-3 || m.At(0, 1) != -2.25 {
			t.Errorf("parsed [%v %v]", m.At(0, 0), m.At(0, 1))
		}
	})

	t.Run("ragged rows", func(t *testing.T) {
		path := writeFile(t, dir, "ragged.txt", "1 2\n3\n")
		if _, err := LoadMatrix(path); err == nil {
			t.Error("LoadMatrix accepted ragged rows")
		}
	})

	t.Run("non-numeric", func(t *testing.T) {
		path := writeFile(t, dir, "nan.txt", "1 x\n")
		if _, err := LoadMatrix(path); err == nil {
			t.Error("LoadMatrix accepted a non-numeric field")
		}
	})

	t.Run("empty", func(t *testing.T) {
		path := writeFile(t, dir, "empty.txt", "# nothing here\n\n")
		if _, err := LoadMatrix(path); err == nil {
			t.Error("LoadMatrix accepted an empty file")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadMatrix(filepath.Join(dir, "nope.txt")); err == nil {
			t.Error("LoadMatrix accepted a missing file")
		}
	})
}

func TestSaveVector(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dist.txt")
	if err := SaveVector(path, []float64{1.5, -2, 0.001}); err != nil {
		t.Fatalf("SaveVector failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != "1.5\n-2\n0.001\n" {
		t.Errorf("file content = %q", raw)
	}
}

func TestWriteNpy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.npy")

	m := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	if err := WriteNpy(path, m); err != nil {
		t.Fatalf("WriteNpy failed: %v", err)
	}

	r, err := gonpy.NewFileReader(path)
	if err != nil {
		t.Fatalf("reading npy back: %v", err)
	}
	if len(r.Shape) != 2 || r.Shape[0] != 2 || r.Shape[1] != 3 {
		t.Fatalf("npy shape = %v; want [2 3]", r.Shape)
	}
	values, err := r.GetFloat64()
	if err != nil {
		t.Fatalf("decoding npy values: %v", err)
	}
	want := []float64{1, 2, 3, 4, 5, 6}
	for i, v := range want {
		if values[i] != v {
			t.Errorf("value %d = %v; want %v", i, values[i], v)
		}
	}
}

func TestWriteVectorNpy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vec.npy")
	if err := WriteVectorNpy(path, []float64{0.25, 0.5}); err != nil {
		t.Fatalf("WriteVectorNpy failed: %v", err)
	}
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		t.Fatalf("reading npy back: %v", err)
	}
	if len(r.Shape) != 1 || r.Shape[0] != 2 {
		t.Fatalf("npy shape = %v; want [2]", r.Shape)
	}
	values, err := r.GetFloat64()
	if err != nil {
		t.Fatalf("decoding npy values: %v", err)
	}
	if values[0] != 0.25 || values[1] != 0.5 {
		t.Errorf("values = %v", values)
	}
}
