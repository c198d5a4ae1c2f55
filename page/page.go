// Package page filters, searches and paginates an entry set in its stable
// load order, and locates the next entry matching a predicate.
package page

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/entry"
)

// Filter selects entries by translation state.
type Filter string

const (
	FilterAll          Filter = "all"
	FilterTranslated   Filter = "translated"
	FilterUntranslated Filter = "untranslated"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// ParseFilter validates a filter value. An empty string means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterTranslated, FilterUntranslated:
		return f, nil
	default:
		return "", apperr.Validationf("page", "unknown filter %q", s)
	}
}

// Match reports whether e passes the filter.
func (f Filter) Match(e entry.Entry) bool {
	switch f {
	case FilterTranslated:
		return e.IsTranslated()
	case FilterUntranslated:
		return !e.IsTranslated()
	default:
		return true
	}
}

// Query selects one page.
type Query struct {
	Filter Filter
	Search string
	// Page is 1-based; values below 1 select the first page.
	Page     int
	PageSize int
}

// Item is an entry with its position in the unfiltered set.
type Item struct {
	Index int         `json:"index"`
	ID    string      `json:"id"`
	Entry entry.Entry `json:"-"`
}

// Result is one page of a filtered set.
type Result struct {
	Items        []Item `json:"items"`
	Page         int    `json:"page"`
	PageSize     int    `json:"page_size"`
	TotalPages   int    `json:"total_pages"`
	TotalEntries int    `json:"total_entries"`
}

func normSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

// searcher matches a needle against source or target text, ignoring case
// by Unicode case folding.
type searcher struct {
	fold   cases.Caser
	needle string
}

func newSearcher(q string) *searcher {
	if q == "" {
		return nil
	}
	c := cases.Fold()
	return &searcher{fold: c, needle: c.String(q)}
}

func (s *searcher) match(e entry.Entry) bool {
	if s == nil {
		return true
	}
	return strings.Contains(s.fold.String(e.SourceText), s.needle) ||
		strings.Contains(s.fold.String(e.TargetText), s.needle)
}

// Page filters set by q.Filter and q.Search, then returns page q.Page.
// A page past the end returns no items and the real totals.
func Page(set entry.Set, q Query) (Result, error) {
	f, err := ParseFilter(string(q.Filter))
	if err != nil {
		return Result{}, err
	}
	size := normSize(q.PageSize)
	pageNo := max(q.Page, 1)
	s := newSearcher(q.Search)

	var matched []Item
	for i, e := range set.Entries {
		if f.Match(e) && s.match(e) {
			matched = append(matched, Item{Index: i, ID: e.ID(), Entry: e})
		}
	}

	res := Result{
		Items:        []Item{},
		Page:         pageNo,
		PageSize:     size,
		TotalEntries: len(matched),
		TotalPages:   (len(matched) + size - 1) / size,
	}
	lo := (pageNo - 1) * size
	if lo < len(matched) {
		res.Items = matched[lo:min(lo+size, len(matched))]
	}
	return res, nil
}

// Position locates an entry for the paginating client.
type Position struct {
	Page    int    `json:"page"`
	Index   int    `json:"index"`
	EntryID string `json:"entry_id"`
}

// FindNext scans set in load order starting just after afterID (or from the
// start when afterID is empty) and returns the first entry satisfying pred.
// It does not wrap around; found is false when no later entry matches. The
// page number is computed for filter=all with the given page size.
func FindNext(set entry.Set, pred func(entry.Entry) bool, afterID string, pageSize int) (Position, bool, error) {
	idx, err := set.Index()
	if err != nil {
		return Position{}, false, err
	}
	start := 0
	if afterID != "" {
		pos, ok := idx[entry.ParseID(afterID)]
		if !ok {
			return Position{}, false, apperr.Validationf("page.FindNext", "unknown entry id %q", afterID)
		}
		start = pos + 1
	}
	size := normSize(pageSize)
	for i := start; i < len(set.Entries); i++ {
		if pred(set.Entries[i]) {
			return Position{Page: i/size + 1, Index: i, EntryID: set.Entries[i].ID()}, true, nil
		}
	}
	return Position{}, false, nil
}

// Untranslated is the FindNext predicate for entries without a translation.
func Untranslated(e entry.Entry) bool { return !e.IsTranslated() }
