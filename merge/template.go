package merge

import (
	"github.com/minios-linux/lokitd/entry"
	po "github.com/minios-linux/lokitd/pofile"
)

func poKey(e *po.Entry) entry.Key {
	return entry.Key{Source: e.MsgID, Context: e.MsgCtxt, HasContext: e.HasCtxt}
}

// Template updates a PO file from a POT template.
//   - New template entries are added with empty translations.
//   - Entries present in both keep their translation and take the template's
//     references, extracted comments and format flags.
//   - Entries no longer in the template are kept as obsolete.
func Template(poFile, potFile *po.File) *po.File {
	result := po.NewFile()
	if poFile.Header != nil {
		h := *poFile.Header
		result.Header = &h
	}
	if potFile.Header != nil {
		if d := potFile.HeaderField("POT-Creation-Date"); d != "" {
			result.SetHeaderField("POT-Creation-Date", d)
		}
	}

	existing := make(map[entry.Key]*po.Entry)
	for _, e := range poFile.Live() {
		existing[poKey(e)] = e
	}
	matched := make(map[entry.Key]bool)

	for _, t := range potFile.Live() {
		k := poKey(t)
		merged := &po.Entry{
			ExtractedComments: t.ExtractedComments,
			References:        t.References,
			Flags:             t.Flags,
			MsgCtxt:           t.MsgCtxt,
			HasCtxt:           t.HasCtxt,
			MsgID:             t.MsgID,
			MsgIDPlural:       t.MsgIDPlural,
			MsgStrPlural:      make(map[int]string),
		}
		if cur, ok := existing[k]; ok {
			merged.TranslatorComments = cur.TranslatorComments
			merged.Flags = mergeFlags(cur.Flags, t.Flags)
			merged.MsgStr = cur.MsgStr
			merged.MsgStrPlural = cur.MsgStrPlural
			matched[k] = true
		}
		result.Entries = append(result.Entries, merged)
	}

	for _, e := range poFile.Entries {
		if e.Obsolete {
			result.Entries = append(result.Entries, e)
			continue
		}
		if e.MsgID == "" || matched[poKey(e)] {
			continue
		}
		obsolete := *e
		obsolete.Obsolete = true
		obsolete.References = nil
		result.Entries = append(result.Entries, &obsolete)
	}

	return result
}

// mergeFlags keeps the PO's fuzzy marker first, followed by the template's
// format flags in template order.
func mergeFlags(poFlags, potFlags []string) []string {
	var result []string
	seen := make(map[string]bool)
	for _, f := range poFlags {
		if f == "fuzzy" {
			result = append(result, f)
			seen[f] = true
		}
	}
	for _, f := range potFlags {
		if !seen[f] {
			result = append(result, f)
			seen[f] = true
		}
	}
	return result
}
