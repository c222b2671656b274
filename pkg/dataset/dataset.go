// Package dataset drives a prompt batch over a tabular dataset, one row per
// call, and announces each processed row as a dataset_row_processed event.
package dataset

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"go.uber.org/zap"
)

// Row is one dataset record keyed by column name
type Row map[string]any

// String returns the column value as text. Missing and null values are "".
func (r Row) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Dataset is an in-memory table
type Dataset struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows
func (d *Dataset) Len() int { return len(d.Rows) }

// HasColumn reports whether column exists
func (d *Dataset) HasColumn(column string) bool {
	for _, c := range d.Columns {
		if c == column {
			return true
		}
	}
	return false
}

func (d *Dataset) addColumns(row Row) {
	var fresh []string
	for k := range row {
		if !d.HasColumn(k) {
			fresh = append(fresh, k)
		}
	}
	sort.Strings(fresh)
	d.Columns = append(d.Columns, fresh...)
}

func (d *Dataset) append(other *Dataset) {
	for _, c := range other.Columns {
		if !d.HasColumn(c) {
			d.Columns = append(d.Columns, c)
		}
	}
	d.Rows = append(d.Rows, other.Rows...)
}

// Load reads a dataset from a .jsonl or .csv file, or from every such file of
// a directory in lexical order.
func Load(path string, logger *zap.Logger) (*Dataset, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset '%s': %w", path, err)
	}

	if !info.IsDir() {
		return loadFile(path, logger)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset directory '%s': %w", path, err)
	}

	ds := &Dataset{}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !supported(entry.Name()) {
			continue
		}
		part, err := loadFile(filepath.Join(path, entry.Name()), logger)
		if err != nil {
			return nil, err
		}
		ds.append(part)
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("%w: no .jsonl or .csv files in '%s'", sdkerrors.ErrUnsupportedFormat, path)
	}
	return ds, nil
}

func supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".csv":
		return true
	}
	return false
}

func loadFile(path string, logger *zap.Logger) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset '%s': %w", path, err)
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jsonl":
		return readJSONL(f, path, logger)
	case ".csv":
		return readCSV(f, path)
	default:
		return nil, fmt.Errorf("%w: %s", sdkerrors.ErrUnsupportedFormat, ext)
	}
}

func readJSONL(r io.Reader, path string, logger *zap.Logger) (*Dataset, error) {
	ds := &Dataset{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var row Row
		if err := json.Unmarshal([]byte(text), &row); err != nil {
			logger.Error("Error decoding JSON line",
				zap.String("path", path),
				zap.Int("line", line),
				zap.Error(err))
			continue
		}
		ds.addColumns(row)
		ds.Rows = append(ds.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read '%s': %w", path, err)
	}
	return ds, nil
}

func readCSV(r io.Reader, path string) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return &Dataset{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header of '%s': %w", path, err)
	}

	ds := &Dataset{Columns: header}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV '%s': %w", path, err)
		}

		row := make(Row, len(header))
		for i, column := range header {
			if i < len(record) {
				row[column] = record[i]
			} else {
				row[column] = nil
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}
