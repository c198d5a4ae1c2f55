// Package diff classifies remote entries against a local entry set.
//
// The remote set is the source of truth for membership: every remote entry
// lands in exactly one of Added, Updated or Unchanged, and entries that only
// exist locally are not reported at all.
package diff

import (
	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/entry"
)

// Match pairs a remote entry with its local counterpart. Local is nil for
// added entries.
type Match struct {
	ID     string       `json:"id"`
	Remote entry.Entry  `json:"-"`
	Local  *entry.Entry `json:"-"`

	// Wire view of the two sides.
	Source       string  `json:"source"`
	Context      *string `json:"context,omitempty"`
	RemoteTarget string  `json:"remote_target"`
	LocalTarget  string  `json:"local_target"`
}

// Counts summarises one side of the diff.
type Counts struct {
	Entries      int `json:"entries"`
	Translated   int `json:"translated"`
	Untranslated int `json:"untranslated"`
}

// Result is the three-way classification.
type Result struct {
	Added     []Match `json:"added"`
	Updated   []Match `json:"updated"`
	Unchanged []Match `json:"unchanged"`

	Remote Counts `json:"remote"`
	Local  Counts `json:"local"`
}

// Changed reports whether the diff has anything to apply.
func (r *Result) Changed() bool { return len(r.Added)+len(r.Updated) > 0 }

func countsOf(s entry.Set) Counts {
	st := s.Stats()
	return Counts{Entries: st.Total, Translated: st.Translated, Untranslated: st.Untranslated}
}

func newMatch(remote entry.Entry, local *entry.Entry) Match {
	m := Match{
		ID:           remote.ID(),
		Remote:       remote,
		Local:        local,
		Source:       remote.SourceText,
		Context:      remote.Context,
		RemoteTarget: remote.TargetText,
	}
	if local != nil {
		m.LocalTarget = local.TargetText
	}
	return m
}

// Diff classifies remote against local. Keys are compared exactly and case
// sensitively; target texts are compared byte for byte. Duplicate keys in
// either input yield a *entry.DuplicateKeyError. Inputs are not modified.
func Diff(remote, local entry.Set) (*Result, error) {
	if err := remote.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, "diff: remote")
	}
	localIdx, err := local.Index()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, "diff: local")
	}

	res := &Result{
		Added:     []Match{},
		Updated:   []Match{},
		Unchanged: []Match{},
		Remote:    countsOf(remote),
		Local:     countsOf(local),
	}

	for _, r := range remote.Entries {
		pos, ok := localIdx[r.Key()]
		if !ok {
			res.Added = append(res.Added, newMatch(r, nil))
			continue
		}
		l := local.Entries[pos]
		m := newMatch(r, &l)
		if r.TargetText != l.TargetText {
			res.Updated = append(res.Updated, m)
		} else {
			res.Unchanged = append(res.Unchanged, m)
		}
	}
	return res, nil
}
