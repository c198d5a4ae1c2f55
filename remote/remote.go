// Package remote defines the remote repository collaborators used by sync
// and provides a directory-tree implementation of them.
package remote

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/entry"
	"github.com/minios-linux/lokitd/store"
)

// Reader lists and reads candidate files at a remote ref.
type Reader interface {
	List(ctx context.Context, ref string) ([]string, error)
	Read(ctx context.Context, ref, path string) (entry.Set, error)
}

// Writer pushes a merged file back to a remote ref.
type Writer interface {
	Write(ctx context.Context, ref, path string, set entry.Set) error
}

// Repository is a Reader that can also be written.
type Repository interface {
	Reader
	Writer
}

// Dir is a Repository over a directory tree: each ref is a subdirectory of
// Root holding PO files, and paths are file ids as used by the Entry Store.
// The empty ref is Root itself.
type Dir struct {
	root string

	mu   sync.Mutex
	refs map[string]*store.Store
}

// NewDir returns a directory repository rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root, refs: make(map[string]*store.Store)}
}

func (d *Dir) ref(ref string, create bool) (*store.Store, error) {
	dir := d.root
	if ref != "" {
		clean, err := store.CleanID(ref)
		if err != nil {
			return nil, apperr.Validationf("remote", "invalid ref %q", ref)
		}
		ref = clean
		dir = filepath.Join(d.root, filepath.FromSlash(clean))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.refs[ref]; ok {
		return s, nil
	}
	if !create {
		if _, err := os.Stat(dir); err != nil {
			return nil, apperr.NotFoundf("remote", "ref %q not found", ref)
		}
	}
	s, err := store.New(dir)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindExternalCall, "remote: open ref "+ref)
	}
	d.refs[ref] = s
	return s, nil
}

// classify keeps validation and not-found errors and reports every other
// failure as an external call failure.
func classify(err error, op string) error {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindNotFound:
		return err
	}
	return apperr.Wrap(err, apperr.KindExternalCall, op)
}

// List returns the file ids available at ref, sorted.
func (d *Dir) List(ctx context.Context, ref string) ([]string, error) {
	s, err := d.ref(ref, false)
	if err != nil {
		return nil, err
	}
	files, err := s.List(ctx)
	if err != nil {
		return nil, classify(err, "remote.List")
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.ID
	}
	return out, nil
}

// Read loads one file at ref.
func (d *Dir) Read(ctx context.Context, ref, path string) (entry.Set, error) {
	s, err := d.ref(ref, false)
	if err != nil {
		return entry.Set{}, err
	}
	set, err := s.Load(ctx, path)
	if err != nil {
		return entry.Set{}, classify(err, "remote.Read")
	}
	return set, nil
}

// Write replaces one file at ref, creating the ref if needed.
func (d *Dir) Write(ctx context.Context, ref, path string, set entry.Set) error {
	s, err := d.ref(ref, true)
	if err != nil {
		return err
	}
	if err := s.Save(ctx, path, set); err != nil {
		return classify(err, "remote.Write")
	}
	return nil
}
