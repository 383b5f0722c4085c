package sink

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabgraph/gitminer/internal/core/domain"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

// TestCSVSink_WritePerKind tests that records land in per-kind files
// with a sorted header fixed by the first record.
func TestCSVSink_WritePerKind(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewCSVSink(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, []domain.Record{
		{
			UnitKey: "prs:golang/go:1",
			Kind:    domain.KindPulls,
			Fields:  map[string]any{"number": 1, "author": "gopher", "state": "open"},
		},
		{
			UnitKey: "stars:golang/go:1",
			Kind:    domain.KindStargazers,
			Fields:  map[string]any{"login": "fan"},
		},
	}))
	require.NoError(t, sink.Close())

	prs := readCSV(t, filepath.Join(dir, "prs.csv"))
	require.Len(t, prs, 2)
	assert.Equal(t, []string{"unit_key", "author", "number", "state"}, prs[0])
	assert.Equal(t, []string{"prs:golang/go:1", "gopher", "1", "open"}, prs[1])

	stars := readCSV(t, filepath.Join(dir, "stars.csv"))
	require.Len(t, stars, 2)
	assert.Equal(t, []string{"unit_key", "login"}, stars[0])
}

// TestCSVSink_MissingFieldsEmptyCells tests that later records lacking a
// header column write empty cells instead of failing.
func TestCSVSink_MissingFieldsEmptyCells(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewCSVSink(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, []domain.Record{
		{UnitKey: "issues:a/b:1", Kind: domain.KindIssues, Fields: map[string]any{"number": 1, "title": "first"}},
		{UnitKey: "issues:a/b:1", Kind: domain.KindIssues, Fields: map[string]any{"number": 2}},
	}))
	require.NoError(t, sink.Close())

	rows := readCSV(t, filepath.Join(dir, "issues.csv"))
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"issues:a/b:1", "2", ""}, rows[2])
}

// TestCSVSink_AppendOnResume tests that reopening the sink over an
// existing directory appends rows without duplicating headers.
func TestCSVSink_AppendOnResume(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewCSVSink(dir)
	require.NoError(t, err)
	require.NoError(t, first.Write(ctx, []domain.Record{
		{UnitKey: "forks:a/b:1", Kind: domain.KindForks, Fields: map[string]any{"owner": "x"}},
	}))
	require.NoError(t, first.Close())

	second, err := NewCSVSink(dir)
	require.NoError(t, err)
	require.NoError(t, second.Write(ctx, []domain.Record{
		{UnitKey: "forks:a/b:2", Kind: domain.KindForks, Fields: map[string]any{"owner": "y"}},
	}))
	require.NoError(t, second.Close())

	rows := readCSV(t, filepath.Join(dir, "forks.csv"))
	require.Len(t, rows, 3, "one header, two data rows")
	assert.Equal(t, "forks:a/b:1", rows[1][0])
	assert.Equal(t, "forks:a/b:2", rows[2][0])
}

// TestCSVSink_FlushMakesRowsVisible tests that Flush pushes buffered
// rows to disk without closing.
func TestCSVSink_FlushMakesRowsVisible(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewCSVSink(dir)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Write(context.Background(), []domain.Record{
		{UnitKey: "repo:a/b", Kind: domain.KindRepo, Fields: map[string]any{"name": "b"}},
	}))
	require.NoError(t, sink.Flush())

	rows := readCSV(t, filepath.Join(dir, "repo.csv"))
	assert.Len(t, rows, 2)
}
