package translate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/minios-linux/lokitd/entry"
	po "github.com/minios-linux/lokitd/pofile"
)

var markdownCodeBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

func languageName(lang string) string {
	if lang == "" {
		return "the target language"
	}
	return po.LangName(lang)
}

// buildUserPrompt lists the batch entries, numbered, with context hints.
func buildUserPrompt(entries []entry.Entry) string {
	var b strings.Builder
	b.WriteString("Translate these entries:\n\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, escapeForPrompt(e.SourceText))
		var hints []string
		if e.Context != nil && *e.Context != "" {
			hints = append(hints, *e.Context)
		}
		hints = append(hints, e.Notes...)
		hints = append(hints, e.References...)
		if len(hints) > 0 {
			fmt.Fprintf(&b, "   (context: %s)\n", strings.Join(hints, ", "))
		}
	}
	fmt.Fprintf(&b, "\nReturn a JSON array with exactly %d translated strings.", len(entries))
	return b.String()
}

// parseTranslations extracts a JSON array of strings from the AI response text.
func parseTranslations(content string, expected int) ([]string, error) {
	content = strings.TrimSpace(content)

	if m := markdownCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}
	startIdx := strings.Index(content, "[")
	endIdx := strings.LastIndex(content, "]")
	if startIdx >= 0 && endIdx > startIdx {
		content = content[startIdx : endIdx+1]
	}

	// Models sometimes leave backslashes unescaped inside JSON strings.
	content = fixInvalidEscapes(content)

	var translations []string
	if err := json.Unmarshal([]byte(content), &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation response as JSON array: %w\nResponse: %s", err, truncate(content, 300))
	}
	if len(translations) == 0 {
		return nil, fmt.Errorf("got 0 translations, expected %d", expected)
	}
	return translations, nil
}

// fixInvalidEscapes doubles backslashes that do not start a valid JSON
// escape sequence inside string values: \& becomes \\&, \[dq] becomes \\[dq].
func fixInvalidEscapes(jsonContent string) string {
	var fixed strings.Builder
	inQuote := false
	escaped := false

	for i := 0; i < len(jsonContent); i++ {
		c := jsonContent[i]

		if c == '"' && !escaped {
			inQuote = !inQuote
			fixed.WriteByte(c)
			continue
		}

		if inQuote && c == '\\' && !escaped {
			if i+1 < len(jsonContent) {
				switch jsonContent[i+1] {
				case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
					fixed.WriteByte(c)
					escaped = true
					continue
				}
			}
			fixed.WriteString(`\\`)
			continue
		}

		fixed.WriteByte(c)
		escaped = false
	}
	return fixed.String()
}

// escapeForPrompt prepares a string for inclusion in the AI prompt.
func escapeForPrompt(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return fmt.Sprintf(`"%s"`, s)
}

// truncate limits s to maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
