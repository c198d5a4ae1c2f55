package entry

import "github.com/minios-linux/lokitd/apperr"

// Stats are aggregate counters derived from a set.
type Stats struct {
	Total        int     `json:"total"`
	Translated   int     `json:"translated"`
	Untranslated int     `json:"untranslated"`
	Percentage   float64 `json:"percentage"`
}

// Set is an ordered sequence of entries. Order is load order and is what
// pagination and find-next use.
type Set struct {
	Entries []Entry
}

// NewSet wraps entries in a set.
func NewSet(entries ...Entry) Set { return Set{Entries: entries} }

// Len returns the number of entries.
func (s Set) Len() int { return len(s.Entries) }

// Stats computes the counters from the current entries.
func (s Set) Stats() Stats {
	st := Stats{Total: len(s.Entries)}
	for _, e := range s.Entries {
		if e.IsTranslated() {
			st.Translated++
		}
	}
	st.Untranslated = st.Total - st.Translated
	if st.Total > 0 {
		st.Percentage = float64(st.Translated) / float64(st.Total) * 100
	}
	return st
}

// Clone deep-copies the set so the result can be mutated freely.
func (s Set) Clone() Set {
	out := Set{Entries: make([]Entry, len(s.Entries))}
	for i, e := range s.Entries {
		out.Entries[i] = e.Clone()
	}
	return out
}

// Index maps every key to its position. Duplicate keys are a contract
// violation and produce a *DuplicateKeyError.
func (s Set) Index() (map[Key]int, error) {
	idx := make(map[Key]int, len(s.Entries))
	for i, e := range s.Entries {
		k := e.Key()
		if first, ok := idx[k]; ok {
			return nil, &DuplicateKeyError{Key: k, First: first, Again: i}
		}
		idx[k] = i
	}
	return idx, nil
}

// Validate checks the uniqueness invariant.
func (s Set) Validate() error {
	_, err := s.Index()
	return err
}

// Lookup returns the positions of the given entry ids, in request order.
// Unknown ids are a validation error.
func (s Set) Lookup(ids []string) ([]int, error) {
	idx, err := s.Index()
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		pos, ok := idx[ParseID(id)]
		if !ok {
			return nil, apperr.Validationf("entry.Lookup", "unknown entry id %q", id)
		}
		out = append(out, pos)
	}
	return out, nil
}

// ApplyTranslations returns a copy of s with the target text of the given
// entry ids replaced. Empty translations and unknown ids are ignored.
func (s Set) ApplyTranslations(byID map[string]string) Set {
	out := s.Clone()
	for i := range out.Entries {
		if text, ok := byID[out.Entries[i].ID()]; ok && text != "" {
			out.Entries[i].TargetText = text
		}
	}
	return out
}
