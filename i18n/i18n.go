// Package i18n translates lokitd's own command-line messages.
//
// Catalogs are embedded from locales/{lang}/LC_MESSAGES/lokitd.po and
// loaded through gotext. Until Init runs, T and N return their input.
package i18n

import (
	"embed"
	"os"
	"strings"
	"sync"

	"github.com/leonelquinteros/gotext"
)

//go:embed all:locales
var locales embed.FS

const domain = "lokitd"

var (
	mu   sync.RWMutex
	po   *gotext.Locale
	lang string
)

// Init loads the catalog for lang, or for the language named by the
// environment when lang is empty. Calling it again switches languages.
func Init(l string) {
	if l == "" {
		l = detectLanguage()
	}
	loc := gotext.NewLocaleFSWithPath(l, locales, "locales")
	loc.AddDomain(domain)
	loc.SetDomain(domain)

	mu.Lock()
	po, lang = loc, l
	mu.Unlock()
}

// Language returns the language passed to the last Init.
func Language() string {
	mu.RLock()
	defer mu.RUnlock()
	return lang
}

func current() *gotext.Locale {
	mu.RLock()
	defer mu.RUnlock()
	return po
}

// T translates msgid.
func T(msgid string) string {
	loc := current()
	if loc == nil {
		return msgid
	}
	return loc.Get(msgid)
}

// N picks the plural form for n.
func N(singular, plural string, n int) string {
	loc := current()
	if loc == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return loc.GetN(singular, plural, n)
}

// detectLanguage follows gettext's LANGUAGE > LC_ALL > LC_MESSAGES > LANG order.
func detectLanguage() string {
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		val := os.Getenv(env)
		if env == "LANGUAGE" {
			val, _, _ = strings.Cut(val, ":")
		}
		// ru_RU.UTF-8 -> ru_RU
		val, _, _ = strings.Cut(val, ".")
		val, _, _ = strings.Cut(val, "@")
		if val == "" || val == "C" || val == "POSIX" {
			continue
		}
		return val
	}
	return "en"
}
