package i18n

import (
	"embed"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalogs/*.yaml
var catalogFiles embed.FS

// DefaultLang is used when a user has no stored preference or asks for a
// locale we have no catalog for.
const DefaultLang = "es"

var languageNames = map[string]string{
	"es": "🇪🇸 Español",
	"en": "🇬🇧 English",
}

type Catalog struct {
	messages map[string]map[string]string
}

// Load parses every embedded catalog. Keys are flattened to dotted paths
// ("transcription.busy").
func Load() (*Catalog, error) {
	entries, err := catalogFiles.ReadDir("catalogs")
	if err != nil {
		return nil, fmt.Errorf("read embedded catalogs: %w", err)
	}

	c := &Catalog{messages: make(map[string]map[string]string)}
	for _, e := range entries {
		lang := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		data, err := catalogFiles.ReadFile("catalogs/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", e.Name(), err)
		}

		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", e.Name(), err)
		}

		flat := make(map[string]string)
		flatten("", tree, flat)
		c.messages[lang] = flat
	}

	if _, ok := c.messages[DefaultLang]; !ok {
		return nil, fmt.Errorf("default catalog %q missing", DefaultLang)
	}
	return c, nil
}

// T resolves a message key for the given language, substituting {name}
// placeholders from args. Missing languages fall back to the default
// catalog; a missing key renders the key itself so the gap is visible.
func (c *Catalog) T(lang, key string, args map[string]string) string {
	flat, ok := c.messages[lang]
	if !ok {
		flat = c.messages[DefaultLang]
	}

	msg, ok := flat[key]
	if !ok {
		if fallback, inDefault := c.messages[DefaultLang][key]; inDefault {
			msg = fallback
		} else {
			return key
		}
	}

	for name, value := range args {
		msg = strings.ReplaceAll(msg, "{"+name+"}", value)
	}
	return msg
}

// Languages returns the sorted codes of every loaded catalog.
func (c *Catalog) Languages() []string {
	langs := make([]string, 0, len(c.messages))
	for lang := range c.messages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// Supported reports whether a catalog exists for lang.
func (c *Catalog) Supported(lang string) bool {
	_, ok := c.messages[lang]
	return ok
}

// LanguageName returns the display name for a supported language code.
func LanguageName(lang string) string {
	if name, ok := languageNames[lang]; ok {
		return name
	}
	return lang
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch v := value.(type) {
		case string:
			out[full] = v
		case map[string]any:
			flatten(full, v, out)
		}
	}
}
