// Package i18n looks up user-facing strings. Keys are the English source
// strings themselves, so a missing translation falls back to English.
package i18n

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Message keys used by the service.
const (
	KeyCanceledNotice = "This round was automatically canceled due to an error. If you entered a position, please reclaim your funds below."
	KeyRoundHistory   = "Round History"
	KeyUp             = "Up"
	KeyDown           = "Down"
	KeyOpeningBlock   = "Opening Block"
	KeyClosingBlock   = "Closing Block"
)

// Translator resolves a message key.
type Translator interface {
	T(key string) string
}

// Identity returns every key unchanged.
type Identity struct{}

func (Identity) T(key string) string { return key }

// Catalog is one language's translations.
type Catalog map[string]string

// T returns the translation of key, or key itself when untranslated.
func (c Catalog) T(key string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}
	return key
}

// Bundle holds catalogs per language tag ("es", "pt-br", ...).
type Bundle struct {
	fallback string
	catalogs map[string]Catalog
}

// NewBundle creates an empty bundle whose default language is fallback.
func NewBundle(fallback string) *Bundle {
	return &Bundle{
		fallback: strings.ToLower(fallback),
		catalogs: make(map[string]Catalog),
	}
}

// LoadFile reads a TOML file with one table per language:
//
//	[es]
//	"Round History" = "Historial de la ronda"
func (b *Bundle) LoadFile(path string) error {
	var raw map[string]map[string]string
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("i18n: load %s: %w", path, err)
	}
	for lang, entries := range raw {
		b.Add(lang, entries)
	}
	return nil
}

// Add merges entries into the catalog for lang.
func (b *Bundle) Add(lang string, entries map[string]string) {
	lang = strings.ToLower(lang)
	c, ok := b.catalogs[lang]
	if !ok {
		c = make(Catalog, len(entries))
		b.catalogs[lang] = c
	}
	for k, v := range entries {
		c[k] = v
	}
}

// Translator picks the best catalog for an Accept-Language header value.
// Tags are tried in order, full tag first and then its base language.
// Quality weights are ignored.
func (b *Bundle) Translator(acceptLanguage string) Translator {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.ToLower(strings.TrimSpace(strings.SplitN(part, ";", 2)[0]))
		if tag == "" {
			continue
		}
		if c, ok := b.catalogs[tag]; ok {
			return c
		}
		if base, _, found := strings.Cut(tag, "-"); found {
			if c, ok := b.catalogs[base]; ok {
				return c
			}
		}
	}
	if c, ok := b.catalogs[b.fallback]; ok {
		return c
	}
	return Identity{}
}
