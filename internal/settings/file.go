package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

const (
	lockTimeout   = 2 * time.Second
	lockRetryWait = 25 * time.Millisecond
)

type document struct {
	Tools map[string]map[string]string `toml:"tools"`
}

// FileStore is a Store backed by a TOML file. Writes take an advisory file
// lock, merge with the on-disk content and replace the file atomically, so
// several devcodec processes can share one settings file.
type FileStore struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration

	mu  sync.RWMutex
	doc document
}

// Open loads the settings file at path. A missing file is not an error.
func Open(path string) (*FileStore, error) {
	s := &FileStore{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: lockTimeout,
	}
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return s, nil
}

// Path returns the settings file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(tool, key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.doc.Tools[tool][key]
	return v, ok
}

func (s *FileStore) Set(tool, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	ok, err := s.lock.TryLockContext(ctx, lockRetryWait)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("acquire settings lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	defer s.lock.Unlock() //nolint:errcheck

	// Another process may have written since we loaded.
	doc, err := readDocument(s.path)
	if err != nil {
		return err
	}
	for name, opts := range s.doc.Tools {
		for k, v := range opts {
			if _, exists := doc.Tools[name][k]; !exists {
				setValue(&doc, name, k, v)
			}
		}
	}
	setValue(&doc, tool, key, value)

	if err := writeDocument(s.path, doc); err != nil {
		return err
	}
	s.doc = doc
	return nil
}

func setValue(doc *document, tool, key, value string) {
	if doc.Tools == nil {
		doc.Tools = make(map[string]map[string]string)
	}
	if doc.Tools[tool] == nil {
		doc.Tools[tool] = make(map[string]string)
	}
	doc.Tools[tool][key] = value
}

func readDocument(path string) (document, error) {
	var doc document
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("read settings: %w", err)
	}
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return doc, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return doc, nil
}

func writeDocument(path string, doc document) error {
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
