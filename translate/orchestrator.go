package translate

import (
	"context"
	"fmt"
	"time"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/entry"
	"github.com/minios-linux/lokitd/logger"
)

// Request is one batch translation request.
type Request struct {
	FileID    string   `json:"file_id"`
	EntryIDs  []string `json:"entry_ids"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model,omitempty"`
	BatchSize int      `json:"batch_size,omitempty"`
	Language  string   `json:"language,omitempty"`
	// AutoPersist saves the translations through the Entry Store afterwards.
	AutoPersist bool `json:"auto_persist,omitempty"`
	// Timeout bounds each provider call. Zero uses the orchestrator default.
	Timeout time.Duration `json:"-"`
	// OnBatch is called after each batch with batches done and total.
	OnBatch func(done, total int) `json:"-"`
}

// BatchOutcome reports one batch.
type BatchOutcome struct {
	Index      int      `json:"index"`
	EntryIDs   []string `json:"entry_ids"`
	Translated int      `json:"translated"`
	Error      string   `json:"error,omitempty"`
}

// Result aggregates a request. TotalRows is always TranslatedCount +
// SkippedCount + FailedCount.
type Result struct {
	Translations    map[string]string `json:"translations"`
	TranslatedCount int               `json:"translated_count"`
	SkippedCount    int               `json:"skipped_count"`
	FailedCount     int               `json:"failed_count"`
	TotalRows       int               `json:"total_rows"`
	Batches         []BatchOutcome    `json:"batches"`
	Error           string            `json:"error,omitempty"`
	// Persisted is set when AutoPersist saved the translations.
	Persisted bool `json:"persisted"`
	// PersistError is set when the translations were produced but the save
	// failed; Translations is still complete and the save may be retried.
	PersistError string `json:"persist_error,omitempty"`
}

// Updater is the Entry Store operation used for auto-persist.
type Updater interface {
	Update(ctx context.Context, fileID string, fn func(entry.Set) (entry.Set, error)) (entry.Set, error)
}

// Options are orchestrator defaults applied to requests that leave them unset.
type Options struct {
	BatchSize int
	Timeout   time.Duration
	Language  string
}

func (o Options) effectiveBatchSize(req int) int {
	if req > 0 {
		return req
	}
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return 20
}

func (o Options) effectiveTimeout(req time.Duration) time.Duration {
	if req > 0 {
		return req
	}
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 120 * time.Second
}

// Orchestrator drives requests through translators batch by batch.
type Orchestrator struct {
	translators Resolver
	store       Updater
	opts        Options
	log         *logger.Logger
}

// NewOrchestrator returns an orchestrator. store may be nil when no request
// asks for auto-persist.
func NewOrchestrator(translators Resolver, store Updater, opts Options) *Orchestrator {
	return &Orchestrator{
		translators: translators,
		store:       store,
		opts:        opts,
		log:         logger.Named("translate"),
	}
}

// Run translates the requested entries of set. Batches run sequentially in
// request order; a failing batch leaves its entries untranslated and the
// remaining batches still run. Only malformed requests return an error;
// provider failures are reported inside the Result.
func (o *Orchestrator) Run(ctx context.Context, req Request, set entry.Set) (*Result, error) {
	if req.BatchSize < 0 {
		return nil, apperr.Validationf("translate.Run", "batch size must not be negative, got %d", req.BatchSize)
	}
	if len(req.EntryIDs) == 0 {
		return nil, apperr.Validationf("translate.Run", "no entry ids requested")
	}
	if req.AutoPersist && (o.store == nil || req.FileID == "") {
		return nil, apperr.Validationf("translate.Run", "auto-persist needs a file id and an entry store")
	}

	ids := dedupe(req.EntryIDs)
	positions, err := set.Lookup(ids)
	if err != nil {
		return nil, err
	}
	tr, err := o.translators.Resolve(req.Provider, req.Model)
	if err != nil {
		return nil, err
	}

	size := o.opts.effectiveBatchSize(req.BatchSize)
	timeout := o.opts.effectiveTimeout(req.Timeout)
	lang := req.Language
	if lang == "" {
		lang = o.opts.Language
	}

	log := o.log.With().Str("file", req.FileID).Str("provider", req.Provider).Logger()
	res := &Result{Translations: make(map[string]string), TotalRows: len(ids)}
	total := (len(ids) + size - 1) / size
	failed := 0

	for k := 0; k < total; k++ {
		lo, hi := k*size, min((k+1)*size, len(ids))
		out := BatchOutcome{Index: k, EntryIDs: ids[lo:hi]}

		var send []entry.Entry
		for _, pos := range positions[lo:hi] {
			e := set.Entries[pos]
			if e.SourceText == "" {
				res.SkippedCount++
				continue
			}
			send = append(send, e)
		}

		if len(send) > 0 {
			got, err := o.runBatch(ctx, tr, Batch{Entries: send, Language: lang, Model: req.Model}, timeout)
			if err != nil {
				failed++
				res.FailedCount += len(send)
				out.Error = err.Error()
				log.Warn().Err(err).Int("batch", k+1).Int("batches", total).Msg("batch failed")
			} else {
				for _, e := range send {
					id := e.ID()
					if text := got[id]; text != "" {
						res.Translations[id] = text
						out.Translated++
					} else {
						res.FailedCount++
					}
				}
				res.TranslatedCount += out.Translated
				log.Debug().Int("batch", k+1).Int("batches", total).Int("translated", out.Translated).Msg("batch done")
			}
		}

		res.Batches = append(res.Batches, out)
		if req.OnBatch != nil {
			req.OnBatch(k+1, total)
		}
	}

	if failed > 0 {
		res.Error = fmt.Sprintf("%d of %d batches failed", failed, total)
	}

	if req.AutoPersist && len(res.Translations) > 0 {
		_, err := o.store.Update(ctx, req.FileID, func(cur entry.Set) (entry.Set, error) {
			return cur.ApplyTranslations(res.Translations), nil
		})
		if err != nil {
			perr := apperr.Wrap(err, apperr.KindPersistence, "translate: save")
			res.PersistError = perr.Error()
			log.Error().Err(err).Msg("saving translations failed")
		} else {
			res.Persisted = true
		}
	}

	log.Info().Int("translated", res.TranslatedCount).Int("skipped", res.SkippedCount).
		Int("failed", res.FailedCount).Int("batches", total).Msg("translation finished")
	return res, nil
}

// runBatch issues one provider call bounded by timeout. A cancelled parent
// context fails the batch without calling the provider.
func (o *Orchestrator) runBatch(ctx context.Context, tr Translator, b Batch, timeout time.Duration) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindExternalCall, "translate: batch")
	}
	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	got, err := tr.Translate(bctx, b)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUnknown {
			err = apperr.Wrap(err, apperr.KindExternalCall, "translate: batch")
		}
		return nil, err
	}
	return got, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
