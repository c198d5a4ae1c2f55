// Package merge applies a diff to a local entry set under a merge policy,
// and refreshes PO catalogs from templates the way msgmerge does.
package merge

import (
	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/diff"
	"github.com/minios-linux/lokitd/entry"
)

// Policy controls how remote changes are applied.
type Policy struct {
	// OverwriteLocalWithRemote applies remote target text for added and updated entries.
	OverwriteLocalWithRemote bool `json:"overwrite_local_with_remote"`
	// PushResultUpstream asks the caller to write the merged result back to the remote.
	PushResultUpstream bool `json:"push_result_upstream"`
}

// Outcome is the result of Apply. Set is a new value; the caller may discard it.
type Outcome struct {
	Set          entry.Set
	PushRequired bool
	// Push is the merged subset touched by the diff, for reporting.
	// Callers that push upstream write the whole of Set.
	Push entry.Set
	// Applied lists entry ids whose remote target text was written locally.
	Applied []string
	// Available lists entry ids that differ but were left untouched by policy.
	Available []string
}

// Apply merges d into a copy of local. Entries only present locally are kept
// as they are, and neither d nor local is modified. Applying the same diff
// to its own output again changes nothing.
func Apply(d *diff.Result, local entry.Set, p Policy) (*Outcome, error) {
	if d == nil {
		return nil, apperr.Validationf("merge.Apply", "nil diff")
	}
	idx, err := local.Index()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, "merge.Apply")
	}

	out := &Outcome{Set: local.Clone(), PushRequired: p.PushResultUpstream}
	touched := make([]entry.Key, 0, len(d.Added)+len(d.Updated))

	apply := func(m diff.Match) {
		k := m.Remote.Key()
		touched = append(touched, k)
		if !p.OverwriteLocalWithRemote {
			out.Available = append(out.Available, m.ID)
			return
		}
		if pos, ok := idx[k]; ok {
			out.Set.Entries[pos].TargetText = m.Remote.TargetText
		} else {
			idx[k] = len(out.Set.Entries)
			out.Set.Entries = append(out.Set.Entries, m.Remote.Clone())
		}
		out.Applied = append(out.Applied, m.ID)
	}

	for _, m := range d.Added {
		apply(m)
	}
	for _, m := range d.Updated {
		apply(m)
	}

	if p.PushResultUpstream {
		for _, k := range touched {
			if pos, ok := idx[k]; ok {
				out.Push.Entries = append(out.Push.Entries, out.Set.Entries[pos].Clone())
			}
		}
	}
	return out, nil
}
