package engine

import (
	"context"

	"github.com/minios-linux/lokitd/entry"
	"github.com/minios-linux/lokitd/page"
)

// EntryView is one listed entry.
type EntryView struct {
	Index      int      `json:"index"`
	ID         string   `json:"id"`
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Context    *string  `json:"context,omitempty"`
	Comments   []string `json:"comments,omitempty"`
	References []string `json:"references,omitempty"`
	Fuzzy      bool     `json:"fuzzy,omitempty"`
	Translated bool     `json:"translated"`
}

// ListQuery selects a page of entries.
type ListQuery struct {
	Filter   string `json:"filter" validate:"omitempty,oneof=all translated untranslated"`
	Search   string `json:"search"`
	Page     int    `json:"page" validate:"gte=0"`
	PageSize int    `json:"page_size" validate:"gte=0"`
}

// ListResult is one page of entries plus the file's stats.
type ListResult struct {
	Items        []EntryView `json:"items"`
	Page         int         `json:"page"`
	PageSize     int         `json:"page_size"`
	TotalPages   int         `json:"total_pages"`
	TotalEntries int         `json:"total_entries"`
	Stats        entry.Stats `json:"stats"`
}

// NextResult locates the next untranslated entry. Found is false when no
// entry after the given one is untranslated.
type NextResult struct {
	Found   bool   `json:"found"`
	Page    int    `json:"page,omitempty"`
	Index   int    `json:"index"`
	EntryID string `json:"entry_id,omitempty"`
}

// ListEntries returns one filtered page of a file's entries.
func (e *Engine) ListEntries(ctx context.Context, fileID string, q ListQuery) (*ListResult, error) {
	filter, err := page.ParseFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	set, err := e.store.Load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	r, err := page.Page(set, page.Query{Filter: filter, Search: q.Search, Page: q.Page, PageSize: q.PageSize})
	if err != nil {
		return nil, err
	}

	out := &ListResult{
		Items:        make([]EntryView, 0, len(r.Items)),
		Page:         r.Page,
		PageSize:     r.PageSize,
		TotalPages:   r.TotalPages,
		TotalEntries: r.TotalEntries,
		Stats:        set.Stats(),
	}
	for _, it := range r.Items {
		en := it.Entry
		out.Items = append(out.Items, EntryView{
			Index:      it.Index,
			ID:         it.ID,
			Source:     en.SourceText,
			Target:     en.TargetText,
			Context:    en.Context,
			Comments:   en.Comments,
			References: en.References,
			Fuzzy:      hasFlag(en.Flags, "fuzzy"),
			Translated: en.IsTranslated(),
		})
	}
	return out, nil
}

// FindNextUntranslated finds the first untranslated entry after afterID
// (from the start when empty) and the page it sits on at pageSize.
func (e *Engine) FindNextUntranslated(ctx context.Context, fileID, afterID string, pageSize int) (*NextResult, error) {
	set, err := e.store.Load(ctx, fileID)
	if err != nil {
		return nil, err
	}
	pos, found, err := page.FindNext(set, page.Untranslated, afterID, pageSize)
	if err != nil {
		return nil, err
	}
	if !found {
		return &NextResult{}, nil
	}
	return &NextResult{Found: true, Page: pos.Page, Index: pos.Index, EntryID: pos.EntryID}, nil
}
