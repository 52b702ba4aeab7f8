package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// #region sink
// Sink persists finished episodes.
type Sink interface {
	Write(ctx context.Context, res EpisodeResult) error
}

// MultiSink writes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, res EpisodeResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// #endregion sink

// #region json-file
// JSONFile keeps all episodes of a run as one JSON array on disk. Each Write
// reads the array, appends and rewrites it through a temp file.
type JSONFile struct {
	mu   sync.Mutex
	path string
}

// NewJSONFile prepares path. With reset, or when the file does not exist, it
// starts as an empty array.
func NewJSONFile(path string, reset bool) (*JSONFile, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %s: %w", dir, err)
		}
	}
	_, err := os.Stat(path)
	if reset || errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte("[]\n"), 0o644); err != nil {
			return nil, fmt.Errorf("init episode log %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat episode log %s: %w", path, err)
	}
	return &JSONFile{path: path}, nil
}

// Path is the file being written.
func (f *JSONFile) Path() string { return f.path }

func (f *JSONFile) Write(_ context.Context, res EpisodeResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.readRaw()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal episode: %w", err)
	}
	entries = append(entries, raw)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal episode log: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write episode log: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace episode log: %w", err)
	}
	return nil
}

// ReadAll loads every episode written so far.
func (f *JSONFile) ReadAll() ([]EpisodeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ReadJSONFile(f.path)
}

func (f *JSONFile) readRaw() ([]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read episode log %s: %w", f.path, err)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse episode log %s: %w", f.path, err)
	}
	return entries, nil
}

// ReadJSONFile parses an episode log written by JSONFile.
func ReadJSONFile(path string) ([]EpisodeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read episode log %s: %w", path, err)
	}
	var out []EpisodeResult
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse episode log %s: %w", path, err)
	}
	return out, nil
}

// #endregion json-file
