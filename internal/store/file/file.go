package file

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/AlexKimmel/PageGate/internal/store"
)

const recordExt = ".json"

// Store keeps one file per key under a root directory. Writes go to a temp
// file in the same directory and are renamed into place, so a record is
// either the old version or the new one, never a torn write. Keys are
// encoded into filenames reversibly so sweeps can list them back.
type Store struct {
	root  string
	locks sync.Map // filename -> *sync.Mutex, never evicted
}

// Open creates the root directory if needed and returns a store over it.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %q: %w", key, err)
	}
	return b, nil
}

func (s *Store) Put(_ context.Context, key string, val []byte) error {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()
	return s.write(key, val)
}

func (s *Store) Update(_ context.Context, key string, fn store.UpdateFunc) error {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	old, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		old = nil
	} else if err != nil {
		return fmt.Errorf("store: read %q: %w", key, err)
	}

	next, err := fn(old)
	if errors.Is(err, store.Tombstone) {
		if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("store: delete %q: %w", key, err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return s.write(key, next)
}

func (s *Store) Delete(_ context.Context, key string) error {
	mu := s.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", s.root, err)
	}
	var keys []string
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), recordExt)
		if !ok || e.IsDir() {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(name)
		if err != nil {
			// foreign file in the store dir, not ours
			continue
		}
		keys = append(keys, string(raw))
	}
	return keys, nil
}

func (s *Store) Close() error { return nil }

// write writes temp-then-rename so an unclean shutdown cannot leave a
// half-written record behind.
func (s *Store) write(key string, val []byte) error {
	tmp, err := os.CreateTemp(s.root, "tmp-*")
	if err != nil {
		return fmt.Errorf("store: temp for %q: %w", key, err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(val); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("store: write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("store: write %q: %w", key, err)
	}
	if err := os.Rename(name, s.path(key)); err != nil {
		os.Remove(name)
		return fmt.Errorf("store: rename %q: %w", key, err)
	}
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, filename(key))
}

func filename(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key)) + recordExt
}

func (s *Store) lockFor(key string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(filename(key), &sync.Mutex{})
	return v.(*sync.Mutex)
}

var _ store.Store = (*Store)(nil)
