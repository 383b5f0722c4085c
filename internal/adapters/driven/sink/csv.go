// Package sink provides downstream record writers. Sinks are driven
// adapters: the pipeline hands them normalized records and checkpoints
// a unit only after its rows were accepted.
package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/collabgraph/gitminer/internal/core/domain"
	"github.com/collabgraph/gitminer/internal/core/ports/driven"
)

// CSVSink writes one CSV file per entity kind into an output
// directory, mirroring the per-entity tables the downstream analysis
// consumes. The column set is fixed by the first record seen for a
// kind; later records write empty cells for missing fields.
type CSVSink struct {
	mu  sync.Mutex
	dir string

	files map[domain.EntityKind]*csvFile
}

type csvFile struct {
	f      *os.File
	w      *csv.Writer
	header []string
}

var _ driven.RecordSink = (*CSVSink)(nil)

// NewCSVSink creates a sink writing into dir, created if missing.
// Existing files are appended to, so a resumed run continues the same
// tables.
func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &CSVSink{
		dir:   dir,
		files: make(map[domain.EntityKind]*csvFile),
	}, nil
}

// Write appends records to their per-kind CSV files.
func (s *CSVSink) Write(_ context.Context, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		cf, err := s.file(rec)
		if err != nil {
			return err
		}

		row := make([]string, len(cf.header))
		row[0] = rec.UnitKey
		for i, col := range cf.header[1:] {
			if v, ok := rec.Fields[col]; ok {
				row[i+1] = fmt.Sprint(v)
			}
		}
		if err := cf.w.Write(row); err != nil {
			return fmt.Errorf("writing %s row: %w", rec.Kind, err)
		}
	}
	return nil
}

// file returns the writer for a record's kind, creating the file and
// header on first use.
func (s *CSVSink) file(rec domain.Record) (*csvFile, error) {
	if cf, ok := s.files[rec.Kind]; ok {
		return cf, nil
	}

	path := filepath.Join(s.dir, string(rec.Kind)+".csv")
	info, statErr := os.Stat(path)
	existing := statErr == nil && info.Size() > 0

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	header := make([]string, 0, len(rec.Fields)+1)
	header = append(header, "unit_key")
	fields := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	header = append(header, fields...)

	cf := &csvFile{f: f, w: csv.NewWriter(f), header: header}
	if !existing {
		if err := cf.w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing %s header: %w", path, err)
		}
	}

	s.files[rec.Kind] = cf
	return cf, nil
}

// Flush flushes every open CSV writer to its file.
func (s *CSVSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for kind, cf := range s.files {
		cf.w.Flush()
		if err := cf.w.Error(); err != nil {
			return fmt.Errorf("flushing %s: %w", kind, err)
		}
	}
	return nil
}

// Close flushes and closes all files.
func (s *CSVSink) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cf := range s.files {
		if err := cf.f.Close(); err != nil {
			return err
		}
	}
	s.files = make(map[domain.EntityKind]*csvFile)
	return nil
}
