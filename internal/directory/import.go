// Package directory loads supplier directories from spreadsheets and YAML into
// the store.
package directory

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/procure-cli/internal/model"
	"github.com/sells-group/procure-cli/internal/store"
)

const defaultBatchSize = 500

// Result summarizes one import.
type Result struct {
	File      string     `json:"file"`
	Imported  int        `json:"imported"`
	Rejected  []RowError `json:"rejected,omitempty"`
	Elapsed   string     `json:"elapsed"`
	BatchSize int        `json:"batch_size"`
}

// Importer writes parsed suppliers to a directory in batches.
type Importer struct {
	dir         store.SupplierDirectory
	batchSize   int
	concurrency int
}

// NewImporter creates an importer. Non-positive sizes fall back to defaults.
func NewImporter(dir store.SupplierDirectory, batchSize, concurrency int) *Importer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Importer{dir: dir, batchSize: batchSize, concurrency: concurrency}
}

// ImportFile reads path by extension (.xlsx, .csv, .yaml, .yml) and upserts
// every valid supplier.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "directory"), zap.String("file", path))

	suppliers, rejected, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	n, err := im.Import(ctx, suppliers)
	if err != nil {
		return nil, err
	}

	res := &Result{
		File:      filepath.Base(path),
		Imported:  n,
		Rejected:  rejected,
		Elapsed:   time.Since(start).Round(time.Millisecond).String(),
		BatchSize: im.batchSize,
	}
	log.Info("directory: import complete",
		zap.Int("imported", n),
		zap.Int("rejected", len(rejected)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// Import upserts suppliers in batches, up to concurrency batches at a time.
func (im *Importer) Import(ctx context.Context, suppliers []model.Supplier) (int, error) {
	counts := make([]int, (len(suppliers)+im.batchSize-1)/im.batchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)
	for b := range counts {
		lo := b * im.batchSize
		hi := min(lo+im.batchSize, len(suppliers))
		g.Go(func() error {
			n, err := im.dir.UpsertSuppliers(gctx, suppliers[lo:hi])
			if err != nil {
				return eris.Wrapf(err, "directory: upsert batch %d", b)
			}
			counts[b] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// ReadFile parses a supplier file according to its extension.
func ReadFile(path string) ([]model.Supplier, []RowError, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, "")
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "directory: open csv")
		}
		defer f.Close() //nolint:errcheck
		return ReadCSV(f)
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "directory: open yaml")
		}
		defer f.Close() //nolint:errcheck
		return ReadYAML(f)
	default:
		return nil, nil, eris.Errorf("directory: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadXLSX parses the named sheet, or the first one when sheet is empty. The
// first row is the header.
func ReadXLSX(path, sheet string) ([]model.Supplier, []RowError, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "xlsx: open file")
	}

	var sh *xlsx.Sheet
	switch {
	case sheet != "":
		var ok bool
		if sh, ok = f.Sheet[sheet]; !ok {
			return nil, nil, eris.Errorf("xlsx: sheet %q not found", sheet)
		}
	case len(f.Sheets) == 0:
		return nil, nil, eris.New("xlsx: workbook has no sheets")
	default:
		sh = f.Sheets[0]
	}

	var rows [][]string
	for _, row := range sh.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	sups, rejected := ParseRows(rows[0], rows[1:])
	return sups, rejected, nil
}

// ReadCSV parses comma-separated rows with a header line.
func ReadCSV(r io.Reader) ([]model.Supplier, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, eris.Wrap(err, "csv: read")
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	sups, rejected := ParseRows(rows[0], rows[1:])
	return sups, rejected, nil
}

type yamlDirectory struct {
	Suppliers []model.Supplier `yaml:"suppliers"`
}

// ReadYAML parses a document of the form {suppliers: [...]}.
func ReadYAML(r io.Reader) ([]model.Supplier, []RowError, error) {
	var doc yamlDirectory
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, nil, eris.Wrap(err, "yaml: decode suppliers")
	}

	var (
		out      []model.Supplier
		rejected []RowError
	)
	for i := range doc.Suppliers {
		sup := doc.Suppliers[i]
		if err := Validate(&sup); err != nil {
			rejected = append(rejected, RowError{Row: i + 1, Reason: err.Error()})
			continue
		}
		out = append(out, sup)
	}
	return out, rejected, nil
}
