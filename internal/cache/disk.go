// Package cache provides the per-backend durable cache directory: an
// ETag/body cache keyed by URL, stored as flat files with base64 names.
//
// Writes are write-through with last-writer-wins semantics; entries are
// idempotent so a lost race only wastes a write.
package cache

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Entry is a cached upstream response.
type Entry struct {
	URL       string          `json:"url"`
	ETag      string          `json:"etag,omitempty"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// Disk is a cache directory. The zero value is not usable; use [Open].
type Disk struct {
	dir string
}

// Open prepares a cache directory, creating it if needed.
func Open(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Disk{dir: dir}, nil
}

func (d *Disk) path(url string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(url))
	return filepath.Join(d.dir, name+".json")
}

// Get returns the cached entry for url, or (nil, nil) on a miss.
func (d *Disk) Get(url string) (*Entry, error) {
	b, err := os.ReadFile(d.path(url))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		// A torn or corrupt entry is treated as a miss; the next Put
		// repairs it.
		return nil, nil
	}
	return &e, nil
}

// Put stores an entry, replacing any previous one for the same URL.
func (d *Disk) Put(e *Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.dir, ".put-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, d.path(e.URL))
}
