// Package engine implements the operations the console calls: sync
// preview and apply, batch translation, bulk jobs and entry browsing.
// It owns no state of its own beyond its collaborators.
package engine

import (
	"context"

	"github.com/minios-linux/lokitd/bulk"
	"github.com/minios-linux/lokitd/entry"
	"github.com/minios-linux/lokitd/logger"
	po "github.com/minios-linux/lokitd/pofile"
	"github.com/minios-linux/lokitd/remote"
	"github.com/minios-linux/lokitd/store"
	"github.com/minios-linux/lokitd/translate"
)

// Store is the Entry Store as the engine uses it.
type Store interface {
	Load(ctx context.Context, fileID string) (entry.Set, error)
	LoadFile(ctx context.Context, fileID string) (*po.File, error)
	Save(ctx context.Context, fileID string, set entry.Set) error
	Update(ctx context.Context, fileID string, fn func(entry.Set) (entry.Set, error)) (entry.Set, error)
	List(ctx context.Context) ([]store.FileInfo, error)
}

// Options holds request defaults.
type Options struct {
	// DefaultRef is used when a sync request names no remote ref.
	DefaultRef string
	// GenerateDir receives catalogs written by generate jobs.
	GenerateDir string
	// Targets are enumerated by bulk jobs started without explicit targets.
	Targets []bulk.Target

	Provider  string
	Model     string
	BatchSize int
	Language  string
}

// Engine wires the components together.
type Engine struct {
	store      Store
	remote     remote.Repository
	translator *translate.Orchestrator
	jobs       *bulk.Orchestrator
	opts       Options
	log        *logger.Logger
}

// New returns an engine over its collaborators.
func New(st Store, repo remote.Repository, tr *translate.Orchestrator, jobs *bulk.Orchestrator, opts Options) *Engine {
	return &Engine{
		store:      st,
		remote:     repo,
		translator: tr,
		jobs:       jobs,
		opts:       opts,
		log:        logger.Named("engine"),
	}
}

// ListFiles returns every local file with its stats.
func (e *Engine) ListFiles(ctx context.Context) ([]store.FileInfo, error) {
	files, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []store.FileInfo{}
	}
	return files, nil
}
