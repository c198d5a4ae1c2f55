package engine

import (
	"context"
	"fmt"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/diff"
	"github.com/minios-linux/lokitd/entry"
	"github.com/minios-linux/lokitd/logger"
	"github.com/minios-linux/lokitd/merge"
)

// ApplyResult reports a sync apply. Success means the merged set was saved
// locally; Pushed means it was also written back to the remote. A push
// failure leaves Success set and explains itself in Error.
type ApplyResult struct {
	Success   bool     `json:"success"`
	Pushed    bool     `json:"pushed"`
	Applied   []string `json:"applied"`
	Available []string `json:"available"`
	Error     string   `json:"error,omitempty"`
}

func (e *Engine) ref(ref string) string {
	if ref == "" {
		return e.opts.DefaultRef
	}
	return ref
}

// loadLocal returns the local set, or an empty set for a file that does not
// exist yet.
func (e *Engine) loadLocal(ctx context.Context, fileID string) (entry.Set, bool, error) {
	set, err := e.store.Load(ctx, fileID)
	if apperr.Is(err, apperr.KindNotFound) {
		return entry.Set{}, false, nil
	}
	if err != nil {
		return entry.Set{}, false, err
	}
	return set, true, nil
}

// PreviewSync diffs the remote file at ref against the local copy. Nothing
// is written.
func (e *Engine) PreviewSync(ctx context.Context, ref, fileID string) (*diff.Result, error) {
	remoteSet, err := e.remote.Read(ctx, e.ref(ref), fileID)
	if err != nil {
		return nil, err
	}
	local, _, err := e.loadLocal(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return diff.Diff(remoteSet, local)
}

// ApplySync merges the remote file at ref into the local copy under policy,
// saves the result and, when the policy asks for it, pushes the merged file
// back to ref.
func (e *Engine) ApplySync(ctx context.Context, ref, fileID string, policy merge.Policy) (*ApplyResult, error) {
	ref = e.ref(ref)
	remoteSet, err := e.remote.Read(ctx, ref, fileID)
	if err != nil {
		return nil, err
	}

	var outcome *merge.Outcome
	mergeInto := func(local entry.Set) (entry.Set, error) {
		d, err := diff.Diff(remoteSet, local)
		if err != nil {
			return entry.Set{}, err
		}
		outcome, err = merge.Apply(d, local, policy)
		if err != nil {
			return entry.Set{}, err
		}
		return outcome.Set, nil
	}

	var merged entry.Set
	if _, exists, err := e.loadLocal(ctx, fileID); err != nil {
		return nil, err
	} else if exists {
		merged, err = e.store.Update(ctx, fileID, mergeInto)
		if err != nil {
			return nil, err
		}
	} else {
		merged, err = mergeInto(entry.Set{})
		if err != nil {
			return nil, err
		}
		if err := e.store.Save(ctx, fileID, merged); err != nil {
			return nil, err
		}
	}

	res := &ApplyResult{
		Success:   true,
		Applied:   nonNil(outcome.Applied),
		Available: nonNil(outcome.Available),
	}
	log := logger.C(ctx).With().Str("file", fileID).Str("ref", ref).Logger()
	log.Info().Int("applied", len(res.Applied)).Int("available", len(res.Available)).Msg("sync applied")

	if !outcome.PushRequired {
		return res, nil
	}
	if err := e.remote.Write(ctx, ref, fileID, merged); err != nil {
		log.Warn().Err(err).Int("entries", outcome.Push.Len()).Msg("push failed")
		res.Error = fmt.Sprintf("saved locally but push failed: %v", err)
		return res, nil
	}
	res.Pushed = true
	return res, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
