package npycap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

func TestWriteRowsRoundTrip(t *testing.T) {
	rows := [][]float64{
		{0, 1, 2, 3},
		{4, 5, 6, 7},
		{8, 9, 10, 11},
	}
	path := filepath.Join(t.TempDir(), "capture.npy")
	if err := WriteRows(path, rows); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		t.Fatal(err)
	}
	r, c := m.Dims()
	if r != 3 || c != 4 {
		t.Fatalf("read back a %dx%d matrix, want 3x4", r, c)
	}
	for i := range rows {
		for j := range rows[i] {
			if got := m.At(i, j); got != rows[i][j] {
				t.Errorf("element (%d,%d) = %v, want %v", i, j, got, rows[i][j])
			}
		}
	}
}

func TestWriteRowsRejectsEmpty(t *testing.T) {
	if err := WriteRows(filepath.Join(t.TempDir(), "empty.npy"), nil); err == nil {
		t.Error("WriteRows accepted an empty row set")
	}
}

func TestMatrixRejectsRaggedRows(t *testing.T) {
	if _, err := Matrix([][]float64{{1, 2}, {3}}); err == nil {
		t.Error("Matrix accepted ragged rows")
	}
}
