package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/csimplestring/go-csv/detector"
)

// ImportOptions controls how a delimited or spreadsheet file becomes a Dataset.
type ImportOptions struct {
	// MaxRows limits rows imported; 0 means unlimited.
	MaxRows int
	// Delimiter for CSV. If 0, detected from content, then from the file extension.
	Delimiter rune
	Number    NumberFormat
	// Types forces the kind of named columns instead of inferring it.
	Types map[string]Kind
}

// DefaultImportOptions returns reasonable defaults for dataset import.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{MaxRows: 100000}
}

// ImportCSV reads a CSV/TSV file into a new Dataset. The first record is the header.
func ImportCSV(path string, opt ImportOptions) (*Dataset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	delim := opt.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(path, b)
	}
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comma = delim

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return New(filepath.Base(path)), nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	var rows [][]string
	maxRows := opt.MaxRows
	if maxRows <= 0 {
		maxRows = math.MaxInt
	}
	for len(rows) < maxRows {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		rows = append(rows, append([]string(nil), rec...))
	}
	return build(filepath.Base(path), header, rows, opt)
}

func sniffDelimiter(path string, content []byte) rune {
	headerLine := content
	if i := bytes.IndexByte(content, '\n'); i >= 0 {
		headerLine = content[:i]
	}
	d := detector.New()
	for _, cand := range d.DetectDelimiter(bytes.NewReader(content), '"') {
		// the header must contain the delimiter, otherwise it is a false positive
		if rs := []rune(cand); len(rs) == 1 && bytes.ContainsRune(headerLine, rs[0]) {
			return rs[0]
		}
	}
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		return '\t'
	}
	return ','
}

// build turns a header and ragged rows into a Dataset, inferring each column's
// kind by the predominant parse of its non-empty cells.
func build(name string, header []string, rows [][]string, opt ImportOptions) (*Dataset, error) {
	ds := New(name)
	for i, h := range header {
		colName := strings.TrimSpace(h)
		if colName == "" {
			colName = fmt.Sprintf("var%d", i+1)
		}
		kind := inferKind(rows, i, opt.Number)
		if forced, ok := opt.Types[colName]; ok {
			kind = forced
		}
		desc := ColumnDescriptor{Name: colName, Type: kind, Label: colName, Width: 8}
		switch kind {
		case KindNumeric:
			desc.Measure = MeasureScale
			desc.Decimals = 2
		case KindDate:
			desc.Measure = MeasureOrdinal
		default:
			desc.Measure = MeasureNominal
		}
		if _, err := ds.DefineColumn(desc); err != nil {
			return nil, fmt.Errorf("header column %d: %w", i+1, err)
		}
	}
	ds.Rows = rows
	return ds, nil
}

func inferKind(rows [][]string, col int, nf NumberFormat) Kind {
	var numCnt, dtCnt, txtCnt int
	for _, r := range rows {
		if col >= len(r) {
			continue
		}
		v := strings.TrimSpace(r[col])
		if v == "" {
			continue
		}
		if _, ok := ParseNumber(v, nf); ok {
			numCnt++
			continue
		}
		if _, ok := ParseDate(v); ok {
			dtCnt++
			continue
		}
		txtCnt++
	}
	switch {
	case numCnt > 0 && numCnt >= dtCnt && numCnt >= txtCnt:
		return KindNumeric
	case dtCnt > 0 && dtCnt >= txtCnt:
		return KindDate
	default:
		return KindString
	}
}
