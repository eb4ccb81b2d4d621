package transcript

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendTruncatesAndRoundTrips(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "illuminate_logs")
	w := New(dir, "planner")
	require.Equal(t, filepath.Join(dir, "planner.jsonl"), w.Path())

	require.NoError(t, w.Append(Entry{TaskID: "t1", Round: 1, Kind: "request", Content: "short"}))
	require.NoError(t, w.Append(Entry{TaskID: "t1", Round: 1, Kind: "response", Content: strings.Repeat("é", 1500)}))

	entries, err := Read(w.Path())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "short", entries[0].Content)
	assert.False(t, entries[0].Truncated)
	assert.False(t, entries[0].Time.IsZero())

	assert.True(t, entries[1].Truncated)
	assert.Equal(t, DefaultMaxContent, utf8.RuneCountInString(entries[1].Content))
	assert.True(t, strings.HasSuffix(entries[1].Content, "..."))
}

func TestNilWriterDiscards(t *testing.T) {
	t.Parallel()

	var w *Writer
	require.NoError(t, w.Append(Entry{Kind: "note"}))
	assert.Empty(t, w.Path())
}

func TestConcurrentAppends(t *testing.T) {
	t.Parallel()

	w := New(t.TempDir(), "executor")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Append(Entry{Kind: "step", Content: "ok"}))
		}()
	}
	wg.Wait()

	entries, err := Read(w.Path())
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestReadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Read(filepath.Join(t.TempDir(), "absent.jsonl"))
	require.Error(t, err)
}
