// Package export renders tabular reports as CSV or PDF.
package export

import "fmt"

// Dataset is a titled table. Summary lines are printed above the table in PDF output
// and as leading comment rows in CSV output.
type Dataset struct {
	Title   string
	Summary []string
	Headers []string
	Rows    [][]string
}

func (d Dataset) validate() error {
	if len(d.Headers) == 0 {
		return fmt.Errorf("dataset requires at least one header")
	}
	for i, row := range d.Rows {
		if len(row) != len(d.Headers) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(d.Headers))
		}
	}
	return nil
}
