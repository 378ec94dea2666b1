package records

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/hostwatch/internal/models"
)

const fileSuffix = ".fail"

// FileStore keeps one small text file per service under a directory.
type FileStore struct {
	dir string
	now Clock
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, now Clock) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("records dir is required")
	}
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create records dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir, now: now}, nil
}

func (s *FileStore) path(service string) (string, error) {
	if service == "" || service == "." || service == ".." {
		return "", fmt.Errorf("invalid service name %q", service)
	}
	return filepath.Join(s.dir, url.PathEscape(service)+fileSuffix), nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, service string) (models.FailureRecord, bool, error) {
	p, err := s.path(service)
	if err != nil {
		return models.FailureRecord{}, false, readErr(service, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.FailureRecord{}, false, nil
		}
		return models.FailureRecord{}, false, readErr(service, err)
	}
	rec, err := decodeRecord(service, data)
	if err != nil {
		return models.FailureRecord{}, false, readErr(service, err)
	}
	return rec, true, nil
}

// Put implements Store. The write goes through a temp file and rename so a crash
// never leaves a half-written record behind.
func (s *FileStore) Put(_ context.Context, service string, attemptCount int) error {
	p, err := s.path(service)
	if err != nil {
		return writeErr(service, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return writeErr(service, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(encodeRecord(attemptCount, s.now())); err != nil {
		tmp.Close()
		return writeErr(service, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return writeErr(service, err)
	}
	if err := tmp.Close(); err != nil {
		return writeErr(service, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return writeErr(service, err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, service string) error {
	p, err := s.path(service)
	if err != nil {
		return writeErr(service, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return writeErr(service, err)
	}
	return nil
}

// List implements Lister. Unreadable entries are skipped.
func (s *FileStore) List(_ context.Context) ([]models.FailureRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrStoreRead, s.dir, err)
	}
	var out []models.FailureRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		service, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		rec, err := decodeRecord(service, data)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// Dir exposes the backing directory.
func (s *FileStore) Dir() string { return s.dir }
