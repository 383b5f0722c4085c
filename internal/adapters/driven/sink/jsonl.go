package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/collabgraph/gitminer/internal/core/domain"
	"github.com/collabgraph/gitminer/internal/core/ports/driven"
)

// JSONLSink writes every record as one JSON object per line into a
// single file, preserving each kind's full field set.
type JSONLSink struct {
	mu  sync.Mutex
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

var _ driven.RecordSink = (*JSONLSink)(nil)

// jsonlRow is the serialized shape of one record.
type jsonlRow struct {
	UnitKey string            `json:"unit_key"`
	Kind    domain.EntityKind `json:"kind"`
	Fields  map[string]any    `json:"fields"`
}

// NewJSONLSink creates a sink appending to path.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	buf := bufio.NewWriter(f)
	return &JSONLSink{f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// Write appends records as JSON lines.
func (s *JSONLSink) Write(_ context.Context, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		row := jsonlRow{UnitKey: rec.UnitKey, Kind: rec.Kind, Fields: rec.Fields}
		if err := s.enc.Encode(row); err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
	}
	return nil
}

// Flush forces buffered lines to the file.
func (s *JSONLSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Flush()
}

// Close flushes and closes the file.
func (s *JSONLSink) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}
