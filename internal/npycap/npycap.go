// Package npycap saves collected sample rows as NumPy *.npy files, one row
// per timestep and one column per signal, for offline analysis.
package npycap

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// Matrix packs rows into a dense nrows-by-nsignals matrix. All rows must have
// the width of the first one.
func Matrix(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to capture")
	}
	width := len(rows[0])
	m := mat.NewDense(len(rows), width, nil)
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has width %d, want %d", i, len(row), width)
		}
		m.SetRow(i, row)
	}
	return m, nil
}

// WriteRows writes rows to path in npy format, replacing any existing file.
func WriteRows(path string, rows [][]float64) error {
	m, err := Matrix(rows)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, m); err != nil {
		f.Close()
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	return f.Close()
}
