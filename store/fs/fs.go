/*
Package fs stores allocator state as one JSON file per key.

PURPOSE:
  A dependency-free deployment option: state lives next to the
  configuration as plain files that an operator can read and back up.
  Files are written through afs, so the base path may also be a remote
  URL supported by afs.

ATOMICITY:
  Each record is uploaded to a hidden temporary file and then moved over
  the target. A reader sees either the old file or the new one. A batch is
  written record by record in order; the engine puts the clock record
  last, so an interrupted batch is redone by the next run.

LAYOUT:
  <base>/clock.json
  <base>/groups.json
  <base>/quarter_00_2025_4.json
*/
package fs

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/warp/su-allocator/generic"
)

const (
	ext       = ".json"
	tmpPrefix = "."
)

// Store implements generic.Store on afs.
type Store struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

var _ generic.Store = (*Store)(nil)

// New creates the base directory if needed.
func New(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	basePath = url.Normalize(basePath, file.Scheme)
	fs := afs.New()
	ctx := context.Background()
	exists, err := fs.Exists(ctx, basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check base directory %s: %w", basePath, err)
	}
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	return &Store{
		basePath: basePath,
		fs:       fs,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.keyPath(key)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", filePath, err)
	}
	if !exists {
		return nil, generic.ErrNotFound
	}

	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replace(ctx, key, data)
}

// PutBatch replaces each record in order.
func (s *Store) PutBatch(ctx context.Context, records []generic.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if err := s.replace(ctx, r.Key, r.Data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) replace(ctx context.Context, key string, data []byte) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, tmpPrefix) {
		return fmt.Errorf("invalid state key %q", key)
	}

	target := s.keyPath(key)
	tmp := url.Join(s.basePath, tmpPrefix+key+"-"+uuid.NewString()+".tmp")
	if err := s.fs.Upload(ctx, tmp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := s.fs.Move(ctx, tmp, target); err != nil {
		_ = s.fs.Delete(ctx, tmp)
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list state files: %w", err)
	}

	var keys []string
	for _, object := range objects {
		name := object.Name()
		if object.IsDir() || strings.HasPrefix(name, tmpPrefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		key := strings.TrimSuffix(name, ext)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) keyPath(key string) string {
	return url.Join(s.basePath, key+ext)
}
