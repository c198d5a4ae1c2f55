package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/leonelquinteros/gotext"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/bulk"
	"github.com/minios-linux/lokitd/entry"
	po "github.com/minios-linux/lokitd/pofile"
	"github.com/minios-linux/lokitd/translate"
)

// Bulk job kinds.
const (
	KindTranslate = "translate"
	KindGenerate  = "generate"
)

// BulkOptions configures a bulk job.
type BulkOptions struct {
	Kind      string `json:"kind" validate:"required,oneof=translate generate"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	BatchSize int    `json:"batch_size,omitempty" validate:"gte=0"`
	// Language overrides the target locale for translate jobs.
	Language string `json:"language,omitempty"`
}

func (e *Engine) withDefaults(req translate.Request) translate.Request {
	if req.Provider == "" {
		req.Provider = e.opts.Provider
	}
	if req.Model == "" {
		req.Model = e.opts.Model
	}
	if req.BatchSize == 0 {
		req.BatchSize = e.opts.BatchSize
	}
	if req.Language == "" {
		req.Language = e.opts.Language
	}
	return req
}

// TranslateBatch translates the requested entries of one file.
func (e *Engine) TranslateBatch(ctx context.Context, req translate.Request) (*translate.Result, error) {
	if req.FileID == "" {
		return nil, apperr.Validationf("engine.TranslateBatch", "file_id is required")
	}
	set, err := e.store.Load(ctx, req.FileID)
	if err != nil {
		return nil, err
	}
	if req.Language == "" {
		req.Language = e.languageOf(ctx, req.FileID)
	}
	req = e.withDefaults(req)
	return e.translator.Run(ctx, req, set)
}

// languageOf reads the Language header of a local file.
func (e *Engine) languageOf(ctx context.Context, fileID string) string {
	f, err := e.store.LoadFile(ctx, fileID)
	if err != nil {
		return ""
	}
	return f.HeaderField("Language")
}

// StartBulkJob starts an asynchronous job over targets. With no targets the
// configured app × locale targets are enumerated inside the job.
func (e *Engine) StartBulkJob(ctx context.Context, targets []bulk.Target, opts BulkOptions) (string, error) {
	var run bulk.RunFunc
	switch opts.Kind {
	case KindTranslate:
		run = e.translateTarget(opts)
	case KindGenerate:
		if e.opts.GenerateDir == "" {
			return "", apperr.Validationf("engine.StartBulkJob", "generate output directory is not configured")
		}
		run = e.generateTarget
	default:
		return "", apperr.Validationf("engine.StartBulkJob", "unknown job kind %q (valid: translate, generate)", opts.Kind)
	}
	if opts.BatchSize < 0 {
		return "", apperr.Validationf("engine.StartBulkJob", "batch_size must not be negative")
	}

	if len(targets) > 0 {
		return e.jobs.Start(ctx, opts.Kind, targets, run)
	}
	configured := append([]bulk.Target(nil), e.opts.Targets...)
	return e.jobs.StartEnumerated(ctx, opts.Kind, func(ctx context.Context) ([]bulk.Target, error) {
		if len(configured) == 0 {
			return nil, errors.New("no targets given and no apps configured")
		}
		return configured, nil
	}, run)
}

// GetBulkJobStatus returns a job snapshot. With ack set, a terminal job is
// reclaimed after this read.
func (e *Engine) GetBulkJobStatus(id string, ack bool) (bulk.Job, error) {
	job, err := e.jobs.Status(id)
	if err != nil {
		return bulk.Job{}, err
	}
	if ack && job.Status.Terminal() {
		e.jobs.Ack(id)
	}
	return job, nil
}

// CancelBulkJob asks a job to stop after its current target.
func (e *Engine) CancelBulkJob(id string) error {
	return e.jobs.Cancel(id)
}

// ListBulkJobs returns every job still held, newest first.
func (e *Engine) ListBulkJobs() []bulk.Job {
	return e.jobs.List()
}

func fileIDOf(t bulk.Target) (string, error) {
	switch {
	case t.FileID != "":
		return t.FileID, nil
	case t.App != "" && t.Locale != "":
		return t.App + "/" + t.Locale, nil
	}
	return "", apperr.Validationf("engine", "target %q names no file", t.Key())
}

// translateTarget translates every untranslated entry of a target's file
// and persists the result.
func (e *Engine) translateTarget(opts BulkOptions) bulk.RunFunc {
	return func(ctx context.Context, t bulk.Target) (int, error) {
		fileID, err := fileIDOf(t)
		if err != nil {
			return 0, err
		}
		set, err := e.store.Load(ctx, fileID)
		if err != nil {
			return 0, err
		}
		var ids []string
		for _, en := range set.Entries {
			if !en.IsTranslated() && en.SourceText != "" {
				ids = append(ids, en.ID())
			}
		}
		if len(ids) == 0 {
			return 0, nil
		}

		req := e.withDefaults(translate.Request{
			FileID:      fileID,
			EntryIDs:    ids,
			Provider:    opts.Provider,
			Model:       opts.Model,
			BatchSize:   opts.BatchSize,
			Language:    opts.Language,
			AutoPersist: true,
		})
		if opts.Language == "" && t.Locale != "" {
			req.Language = t.Locale
		}
		if req.Language == "" {
			req.Language = e.languageOf(ctx, fileID)
		}

		res, err := e.translator.Run(ctx, req, set)
		if err != nil {
			return 0, err
		}
		if res.PersistError != "" {
			return res.TranslatedCount, fmt.Errorf("translated %d entries but saving failed: %s", res.TranslatedCount, res.PersistError)
		}
		if res.TranslatedCount == 0 && res.FailedCount > 0 {
			return 0, fmt.Errorf("no entries translated: %s", res.Error)
		}
		return res.TranslatedCount, nil
	}
}

// generateTarget writes the target's catalog under the generate directory
// and checks that gettext reads every translation back unchanged.
func (e *Engine) generateTarget(ctx context.Context, t bulk.Target) (int, error) {
	fileID, err := fileIDOf(t)
	if err != nil {
		return 0, err
	}
	f, err := e.store.LoadFile(ctx, fileID)
	if err != nil {
		return 0, err
	}
	set := entry.FromPO(f)
	gen := entry.ToPO(set, f)
	if gen.Header == nil || strings.TrimSpace(gen.Header.MsgStr) == "" {
		app, locale := targetParts(t, fileID)
		gen.Header = po.MakeHeader(app, locale)
	}
	data, err := gen.Bytes()
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindPersistence, "engine.generate "+fileID)
	}

	out := filepath.Join(e.opts.GenerateDir, filepath.FromSlash(fileID)+".po")
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return 0, apperr.Wrap(err, apperr.KindPersistence, "engine.generate "+fileID)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return 0, apperr.Wrap(err, apperr.KindPersistence, "engine.generate "+fileID)
	}

	if err := verifyCatalog(data, set); err != nil {
		return 0, fmt.Errorf("%s: %w", out, err)
	}
	e.log.Debug().Str("file", fileID).Str("out", out).Int("entries", set.Len()).Msg("catalog generated")
	return set.Len(), nil
}

// targetParts names the app and locale of a target, splitting the file id
// when the target only carries one.
func targetParts(t bulk.Target, fileID string) (app, locale string) {
	if t.App != "" && t.Locale != "" {
		return t.App, t.Locale
	}
	if i := strings.LastIndex(fileID, "/"); i >= 0 {
		return fileID[:i], fileID[i+1:]
	}
	return fileID, ""
}

// verifyCatalog loads data with gettext and compares the singular
// translation of every translated, non-fuzzy entry.
func verifyCatalog(data []byte, set entry.Set) error {
	cat := gotext.NewPo()
	cat.Parse(data)
	// gettext files msgctxt "" under the no-context table, so a source that
	// appears both bare and with an empty context cannot be checked.
	bare, emptyCtx := make(map[string]bool), make(map[string]bool)
	for _, en := range set.Entries {
		switch {
		case en.Context == nil:
			bare[en.SourceText] = true
		case *en.Context == "":
			emptyCtx[en.SourceText] = true
		}
	}
	for _, en := range set.Entries {
		if !en.IsTranslated() || en.PluralSource != "" || hasFlag(en.Flags, "fuzzy") {
			continue
		}
		var got string
		switch {
		case en.Context == nil || *en.Context == "":
			if bare[en.SourceText] && emptyCtx[en.SourceText] {
				continue
			}
			got = cat.Get(en.SourceText)
		default:
			got = cat.GetC(en.SourceText, *en.Context)
		}
		if got != en.TargetText {
			return fmt.Errorf("catalog does not return the translation of %q", en.ID())
		}
	}
	return nil
}

func hasFlag(flags []string, f string) bool {
	for _, x := range flags {
		if x == f {
			return true
		}
	}
	return false
}
