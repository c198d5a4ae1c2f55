// Package entry holds the data model shared by the sync and batch engine:
// translatable entries, their identity keys and ordered entry sets.
package entry

import (
	"fmt"
	"strings"

	"github.com/minios-linux/lokitd/apperr"
)

// ctxSep separates context from source text in an entry ID. It is the same
// EOT byte gettext uses to join msgctxt and msgid in compiled catalogs.
const ctxSep = "\x04"

// Key identifies an entry within a file: source text plus optional context.
// An absent context and an empty-string context are different keys.
type Key struct {
	Source     string
	Context    string
	HasContext bool
}

// ID renders the key as a stable entry identifier.
func (k Key) ID() string {
	if !k.HasContext {
		return k.Source
	}
	return k.Context + ctxSep + k.Source
}

func (k Key) String() string {
	if !k.HasContext {
		return fmt.Sprintf("%q", k.Source)
	}
	return fmt.Sprintf("%q (context %q)", k.Source, k.Context)
}

// ParseID is the inverse of Key.ID.
func ParseID(id string) Key {
	if i := strings.Index(id, ctxSep); i >= 0 {
		return Key{Source: id[i+len(ctxSep):], Context: id[:i], HasContext: true}
	}
	return Key{Source: id}
}

// Entry is one translatable unit.
type Entry struct {
	SourceText string
	TargetText string
	// Context is nil when the entry has no context at all.
	Context  *string
	Comments []string

	// Informational fields carried through the PO backend.
	Notes         []string
	References    []string
	Flags         []string
	PluralSource  string
	PluralTargets map[int]string
}

// Ctx returns a pointer to a copy of s, for building entries with context.
func Ctx(s string) *string { return &s }

// Key returns the entry's identity key.
func (e Entry) Key() Key {
	if e.Context == nil {
		return Key{Source: e.SourceText}
	}
	return Key{Source: e.SourceText, Context: *e.Context, HasContext: true}
}

// ID returns the stable entry identifier derived from source text and context.
func (e Entry) ID() string { return e.Key().ID() }

// IsTranslated reports whether the target text is non-empty.
func (e Entry) IsTranslated() bool { return e.TargetText != "" }

// Clone returns a deep copy of e.
func (e Entry) Clone() Entry {
	c := e
	if e.Context != nil {
		c.Context = Ctx(*e.Context)
	}
	c.Comments = cloneStrings(e.Comments)
	c.Notes = cloneStrings(e.Notes)
	c.References = cloneStrings(e.References)
	c.Flags = cloneStrings(e.Flags)
	if e.PluralTargets != nil {
		c.PluralTargets = make(map[int]string, len(e.PluralTargets))
		for k, v := range e.PluralTargets {
			c.PluralTargets[k] = v
		}
	}
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// DuplicateKeyError reports two entries sharing the same key in one set.
type DuplicateKeyError struct {
	Key   Key
	First int
	Again int
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate entry key %s at positions %d and %d", e.Key, e.First, e.Again)
}

// AppKind classifies duplicates as validation failures.
func (e *DuplicateKeyError) AppKind() apperr.Kind { return apperr.KindValidation }
