// Package storage provides the key-value blob store the harvester persists
// through, the output key layout, and the promotion gate that decides when a
// run's spec replaces the published one. The local filesystem implementation
// is the only one in-tree; the interface is what the orchestrator depends on.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the blob interface the pipeline persists through.
type Store interface {
	ReadJSONOrNull(key string, dst any) (bool, error)
	WriteObject(key string, data []byte) error
	AppendText(key string, text string) error
	ObjectExists(key string) (bool, error)
	ResolveOutputKey(parts ...string) string
}

// Key layout relative to the output root.

func FinalSpecKey(category, productID string) string {
	return path.Join("final", category, productID, "spec.json")
}

func HistoryKey(category, productID string) string {
	return path.Join("final", category, productID, "history", "runs.jsonl")
}

func LatestArtifactKey(category, productID, artifact string) string {
	return path.Join("final", category, productID, "latest", artifact+".json")
}

func QueueStateKey(category string) string {
	return path.Join("_queue", category, "state.json")
}

func MetricsKey() string {
	return path.Join("_runtime", "metrics.jsonl")
}

func ReviewQueueKey(category string) string {
	return path.Join("_review", category, "queue.json")
}

// LocalStore implements Store on a filesystem root.
type LocalStore struct {
	root string
	mu   sync.Mutex
}

// NewLocalStore roots a store at dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output root: %w", err)
	}
	return &LocalStore{root: dir}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// ReadJSONOrNull unmarshals a key into dst, reporting false when the key does
// not exist.
func (s *LocalStore) ReadJSONOrNull(key string, dst any) (bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// WriteObject writes a blob atomically (temp file + rename).
func (s *LocalStore) WriteObject(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", key, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// AppendText appends a line of text, creating the key if needed.
func (s *LocalStore) AppendText(key, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	defer f.Close()
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err = f.WriteString(text)
	return err
}

// ObjectExists reports whether a key is present.
func (s *LocalStore) ObjectExists(key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ResolveOutputKey joins key parts with the layout separator.
func (s *LocalStore) ResolveOutputKey(parts ...string) string {
	return path.Join(parts...)
}

// WriteJSON marshals and writes an object under a key.
func WriteJSON(s Store, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.WriteObject(key, data)
}
