// Package i18n loads embedded message catalogs and negotiates locales.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// BaseLocale is the source locale every key must exist in.
var BaseLocale = language.English

//go:embed locales/*/*.yaml
var embeddedFS embed.FS

type catalogFile struct {
	Locale    string            `yaml:"locale"`
	Namespace string            `yaml:"namespace"`
	Messages  map[string]string `yaml:"messages"`
}

// Bundle holds the registered catalog and the supported locales.
type Bundle struct {
	builder *catalog.Builder
	tags    []language.Tag
	matcher language.Matcher
	keys    map[language.Tag]map[string]struct{}
}

// LoadEmbedded loads the catalogs compiled into the binary.
func LoadEmbedded() (*Bundle, error) {
	return LoadFromFS(embeddedFS)
}

// LoadFromFS loads locales/<locale>/<namespace>.yaml files from fsys.
func LoadFromFS(fsys fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(fsys, "locales/*/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	b := &Bundle{
		builder: catalog.NewBuilder(catalog.Fallback(BaseLocale)),
		keys:    map[language.Tag]map[string]struct{}{},
	}
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}
		if err := b.add(p, file); err != nil {
			return nil, err
		}
	}
	if _, ok := b.keys[BaseLocale]; !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}

	// Base locale first so it wins ties in negotiation.
	b.tags = append(b.tags, BaseLocale)
	for tag := range b.keys {
		if tag != BaseLocale {
			b.tags = append(b.tags, tag)
		}
	}
	sort.SliceStable(b.tags[1:], func(i, j int) bool {
		return b.tags[i+1].String() < b.tags[j+1].String()
	})
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

func (b *Bundle) add(p string, file catalogFile) error {
	localeFromPath := path.Base(path.Dir(p))
	namespaceFromPath := strings.TrimSuffix(path.Base(p), path.Ext(p))

	if strings.TrimSpace(file.Locale) != localeFromPath {
		return fmt.Errorf("catalog %s: locale %q must match path locale %q", p, file.Locale, localeFromPath)
	}
	if strings.TrimSpace(file.Namespace) != namespaceFromPath {
		return fmt.Errorf("catalog %s: namespace %q must match filename %q", p, file.Namespace, namespaceFromPath)
	}
	if len(file.Messages) == 0 {
		return fmt.Errorf("catalog %s: messages map is required", p)
	}
	tag, err := language.Parse(localeFromPath)
	if err != nil {
		return fmt.Errorf("catalog %s: parse locale: %w", p, err)
	}
	seen, ok := b.keys[tag]
	if !ok {
		seen = map[string]struct{}{}
		b.keys[tag] = seen
	}
	for key, value := range file.Messages {
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("catalog %s: message key cannot be blank", p)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("catalog %s: duplicate key %q in locale %q", p, key, localeFromPath)
		}
		seen[key] = struct{}{}
		if err := b.builder.SetString(tag, key, value); err != nil {
			return fmt.Errorf("catalog %s: set %q: %w", p, key, err)
		}
	}
	return nil
}

// Locales returns the supported locales, base locale first.
func (b *Bundle) Locales() []language.Tag {
	out := make([]language.Tag, len(b.tags))
	copy(out, b.tags)
	return out
}

// Match negotiates an Accept-Language header against the supported locales.
func (b *Bundle) Match(acceptLanguage string) language.Tag {
	requested, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(requested) == 0 {
		return BaseLocale
	}
	_, index, confidence := b.matcher.Match(requested...)
	if confidence == language.No {
		return BaseLocale
	}
	return b.tags[index]
}

// Printer returns a printer bound to tag and this bundle's catalog.
func (b *Bundle) Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(b.builder))
}

// Text translates key for tag, returning fallback when the key is unknown.
func (b *Bundle) Text(tag language.Tag, key, fallback string) string {
	if !b.Has(key) {
		return fallback
	}
	return b.Printer(tag).Sprintf(key)
}

// Has reports whether key exists in the base locale.
func (b *Bundle) Has(key string) bool {
	_, ok := b.keys[BaseLocale][key]
	return ok
}
