// Package fsatomic provides crash-safe file writes (temp file + rename)
// and a cross-process advisory lock, the primitives every durable
// filesystem-backed store in this repository is built on.
package fsatomic

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WriteFile writes data to path by first writing to path+".tmp" and then
// renaming over path, so a reader never observes a partial file and a
// crash mid-write leaves the previous contents (or nothing) in place.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("fsatomic: mkdir %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("fsatomic: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("fsatomic: rename %s: %w", tmp, err)
	}
	return nil
}

// WriteJSON pretty-prints v as JSON and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("fsatomic: marshal %s: %w", path, err)
	}
	return WriteFile(path, data, 0644)
}

// ReadJSON reads and unmarshals the JSON file at path into v. Readers must
// tolerate a partially written file being absent (ENOENT) but not a
// corrupt one that exists; callers decide how to treat parse errors per
// the error taxonomy (typically: treat as missing, log, move on).
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// AppendJSONLine appends one JSON-encoded record followed by a newline to
// the JSON Lines file at path, creating it if necessary. Used for
// append-only logs (wake-log.jsonl, history.jsonl). It takes no lock
// itself; concurrent writers are not serialized here.
func AppendJSONLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("fsatomic: mkdir %s: %w", filepath.Dir(path), err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("fsatomic: marshal %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("fsatomic: open %s: %w", path, err)
	}
	defer f.Close()
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("fsatomic: append %s: %w", path, err)
	}
	return nil
}

// ReadJSONLines reads every line of a JSON Lines file at path, decoding
// each into T. A missing file yields an empty slice, not an error.
func ReadJSONLines[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsatomic: read %s: %w", path, err)
	}
	var items []T
	for _, line := range splitNonEmptyLines(data) {
		var item T
		if err := json.Unmarshal(line, &item); err != nil {
			// A partial line from a crash mid-append is tolerated: skip it.
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// WriteJSONLines atomically rewrites the whole JSON Lines file at path
// with one encoded line per item. Used where entries must be removed or
// reordered, unlike AppendJSONLine's pure-append logs.
func WriteJSONLines[T any](path string, items []T) error {
	var data []byte
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("fsatomic: marshal %s: %w", path, err)
		}
		data = append(data, line...)
		data = append(data, '\n')
	}
	return WriteFile(path, data, 0644)
}

func splitNonEmptyLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// Lock is a cross-process advisory file lock backed by gofrs/flock,
// guarding the read-modify-write cycle of a single JSON file.
type Lock struct {
	fl *flock.Flock
}

// NewLock returns a lock over the given lock-file path. The lock file is
// separate from the data file so a crash never corrupts the data itself.
func NewLock(path string) *Lock {
	return &Lock{fl: flock.New(path)}
}

// WithLock acquires the lock, runs fn, and releases the lock even if fn
// panics or returns an error.
func (l *Lock) WithLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(l.fl.Path()), 0755); err != nil {
		return fmt.Errorf("fsatomic: mkdir lock dir: %w", err)
	}
	if err := l.fl.Lock(); err != nil {
		return fmt.Errorf("fsatomic: acquire lock %s: %w", l.fl.Path(), err)
	}
	defer l.fl.Unlock()
	return fn()
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
