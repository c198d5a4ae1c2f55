package entry

import po "github.com/minios-linux/lokitd/pofile"

// FromPO converts the live entries of a PO file into a set, keeping file order.
// Obsolete entries and the header are not part of the set.
func FromPO(f *po.File) Set {
	live := f.Live()
	s := Set{Entries: make([]Entry, 0, len(live))}
	for _, pe := range live {
		e := Entry{
			SourceText:   pe.MsgID,
			TargetText:   pe.MsgStr,
			Comments:     cloneStrings(pe.TranslatorComments),
			Notes:        cloneStrings(pe.ExtractedComments),
			References:   cloneStrings(pe.References),
			Flags:        cloneStrings(pe.Flags),
			PluralSource: pe.MsgIDPlural,
		}
		if pe.HasCtxt {
			e.Context = Ctx(pe.MsgCtxt)
		}
		if pe.MsgIDPlural != "" {
			e.PluralTargets = make(map[int]string, len(pe.MsgStrPlural))
			for k, v := range pe.MsgStrPlural {
				e.PluralTargets[k] = v
			}
			// The singular target of a plural entry is its first form.
			e.TargetText = pe.MsgStrPlural[0]
		}
		s.Entries = append(s.Entries, e)
	}
	return s
}

// ToPO renders a set into a PO file. Obsolete entries from base, if any,
// are carried over after the live ones so that saving never drops history.
func ToPO(s Set, base *po.File) *po.File {
	out := po.NewFile()
	if base != nil && base.Header != nil {
		h := *base.Header
		out.Header = &h
	}

	for _, e := range s.Entries {
		pe := &po.Entry{
			TranslatorComments: cloneStrings(e.Comments),
			ExtractedComments:  cloneStrings(e.Notes),
			References:         cloneStrings(e.References),
			Flags:              cloneStrings(e.Flags),
			MsgID:              e.SourceText,
			MsgIDPlural:        e.PluralSource,
			MsgStr:             e.TargetText,
			MsgStrPlural:       make(map[int]string),
		}
		if e.Context != nil {
			pe.SetContext(*e.Context)
		}
		if e.PluralSource != "" {
			for k, v := range e.PluralTargets {
				pe.MsgStrPlural[k] = v
			}
			pe.MsgStrPlural[0] = e.TargetText
			pe.MsgStr = ""
		}
		out.Entries = append(out.Entries, pe)
	}

	if base != nil {
		for _, pe := range base.Entries {
			if pe.Obsolete {
				out.Entries = append(out.Entries, pe)
			}
		}
	}
	return out
}
