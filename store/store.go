// Package store is the Entry Store: it materialises one translation file's
// entries from a PO file on disk and writes them back with a single writer
// per file.
package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/entry"
	"github.com/minios-linux/lokitd/logger"
	po "github.com/minios-linux/lokitd/pofile"
)

// FileInfo describes one stored file.
type FileInfo struct {
	ID    string      `json:"id"`
	Stats entry.Stats `json:"stats"`
}

// Store keeps PO files under a root directory. File ids are slash separated
// paths relative to the root without the .po suffix, e.g. "shop/th".
type Store struct {
	root string
	log  *logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a store rooted at dir. The directory is created if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperr.Wrap(err, apperr.KindPersistence, "store.New")
	}
	return &Store{
		root:  dir,
		log:   logger.Named("store"),
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Root returns the store directory.
func (s *Store) Root() string { return s.root }

// Path resolves a file id to its path on disk.
func (s *Store) Path(fileID string) (string, error) {
	id, err := CleanID(fileID)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(id)+".po"), nil
}

// CleanID normalises a file id and rejects ids escaping the root.
func CleanID(fileID string) (string, error) {
	id := strings.TrimSuffix(strings.TrimSpace(fileID), ".po")
	if id == "" {
		return "", apperr.Validationf("store", "empty file id")
	}
	clean := path.Clean("/" + filepath.ToSlash(id))[1:]
	if clean == "" || clean != filepath.ToSlash(id) || strings.HasPrefix(clean, "..") {
		return "", apperr.Validationf("store", "invalid file id %q", fileID)
	}
	return clean, nil
}

func (s *Store) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) read(p, fileID string) (*po.File, error) {
	f, err := po.ParseFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFoundf("store.Load", "file %q not found", fileID)
		}
		return nil, apperr.Wrap(err, apperr.KindPersistence, "store.Load "+fileID)
	}
	return f, nil
}

// Load reads a file's entries.
func (s *Store) Load(ctx context.Context, fileID string) (entry.Set, error) {
	p, err := s.Path(fileID)
	if err != nil {
		return entry.Set{}, err
	}
	f, err := s.read(p, fileID)
	if err != nil {
		return entry.Set{}, err
	}
	return entry.FromPO(f), nil
}

// LoadFile reads the PO file behind a file id, header and obsolete entries
// included.
func (s *Store) LoadFile(ctx context.Context, fileID string) (*po.File, error) {
	p, err := s.Path(fileID)
	if err != nil {
		return nil, err
	}
	return s.read(p, fileID)
}

// Save replaces a file's entries. Header and obsolete entries of the file on
// disk are preserved.
func (s *Store) Save(ctx context.Context, fileID string, set entry.Set) error {
	id, err := CleanID(fileID)
	if err != nil {
		return err
	}
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()
	return s.save(id, set)
}

func (s *Store) save(id string, set entry.Set) error {
	if err := set.Validate(); err != nil {
		return err
	}
	p, _ := s.Path(id)

	base, err := s.read(p, id)
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		base = nil
	}

	if err := entry.ToPO(set, base).WriteFile(p); err != nil {
		return apperr.Wrap(err, apperr.KindPersistence, "store.Save "+id)
	}
	s.log.Debug().Str("file", id).Int("entries", set.Len()).Msg("saved")
	return nil
}

// Update runs a load-modify-save cycle under the file's write lock, so two
// concurrent updates of one file never lose each other's changes.
func (s *Store) Update(ctx context.Context, fileID string, fn func(entry.Set) (entry.Set, error)) (entry.Set, error) {
	id, err := CleanID(fileID)
	if err != nil {
		return entry.Set{}, err
	}
	l := s.lock(id)
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return entry.Set{}, err
	}
	cur, err := s.Load(ctx, id)
	if err != nil {
		return entry.Set{}, err
	}
	next, err := fn(cur)
	if err != nil {
		return entry.Set{}, err
	}
	if err := s.save(id, next); err != nil {
		return entry.Set{}, err
	}
	return next, nil
}

// List returns every PO file under the root with its stats, sorted by id.
func (s *Store) List(ctx context.Context) ([]FileInfo, error) {
	var out []FileInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".po") || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		id := strings.TrimSuffix(filepath.ToSlash(rel), ".po")
		set, err := s.Load(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("file", id).Msg("skipping unreadable file")
			return nil
		}
		out = append(out, FileInfo{ID: id, Stats: set.Stats()})
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindPersistence, "store.List")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
