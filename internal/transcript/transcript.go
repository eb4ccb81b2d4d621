// Package transcript appends per-agent JSONL logs under the workspace log
// directory.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vsingh18567/illuminate/internal/tokenutil"
)

// DefaultMaxContent is the number of runes kept per entry.
const DefaultMaxContent = 1000

// Entry is one line of a transcript.
type Entry struct {
	Time      time.Time `json:"time"`
	TaskID    string    `json:"task_id,omitempty"`
	Round     int       `json:"round,omitempty"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Truncated bool      `json:"truncated,omitempty"`
}

// Writer appends entries to a single JSONL file. A nil Writer discards entries.
type Writer struct {
	mu         sync.Mutex
	path       string
	maxContent int
	now        func() time.Time
}

// New returns a writer for dir/name.jsonl. The directory is created lazily.
func New(dir, name string) *Writer {
	return &Writer{
		path:       filepath.Join(dir, name+".jsonl"),
		maxContent: DefaultMaxContent,
		now:        time.Now,
	}
}

// Path returns the transcript file path.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Append writes entry, truncating its content.
func (w *Writer) Append(entry Entry) error {
	if w == nil {
		return nil
	}
	if entry.Time.IsZero() {
		entry.Time = w.now()
	}
	if truncated := tokenutil.TruncateRunes(entry.Content, w.maxContent); truncated != entry.Content {
		entry.Content = truncated
		entry.Truncated = true
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode transcript entry: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(w.path), err)
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	defer func() { _ = file.Close() }()
	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return nil
}

// Read loads every entry of a transcript file.
func Read(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}
