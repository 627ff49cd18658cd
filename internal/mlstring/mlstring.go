// Package mlstring implements the multilingual containers stored in JSON
// columns: language code -> text.
package mlstring

import (
	"database/sql/driver"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"reviewcore/internal/domain"
)

// String maps a language code to text.
type String map[string]string

// Rich is a text field with an optional rendered HTML variant per language.
type Rich struct {
	Text String `json:"text,omitempty"`
	HTML String `json:"html,omitempty"`
}

// List maps a language code to several values (aliases, author names).
type List map[string][]string

// Options controls Validate.
type Options struct {
	// Required demands non-blank text in the original language.
	Required bool
	// MaxLength is a per-value rune limit; zero means unlimited.
	MaxLength int
}

// Validate checks language keys, original-language presence and length.
// A non-empty container must always carry the original language.
func (s String) Validate(field, originalLanguage string, opts Options) error {
	if len(s) == 0 {
		if opts.Required {
			return domain.Invalid(field, "text in original language %q is required", originalLanguage)
		}
		return nil
	}
	for _, lang := range slices.Sorted(maps.Keys(s)) {
		if !IsSupported(lang) {
			return domain.Invalid(field, "unsupported language %q", lang)
		}
		if opts.MaxLength > 0 && utf8.RuneCountInString(s[lang]) > opts.MaxLength {
			return domain.Invalid(field, "%s text exceeds %d characters", lang, opts.MaxLength)
		}
	}
	text, ok := s[originalLanguage]
	if !ok {
		return domain.Invalid(field, "missing original language %q", originalLanguage)
	}
	if opts.Required && strings.TrimSpace(text) == "" {
		return domain.Invalid(field, "text in original language %q is required", originalLanguage)
	}
	return nil
}

// Resolve returns the text for lang, falling back to DefaultLanguage and
// then to the first language in sorted order. The second result is the
// language actually used, empty when the container is empty.
func (s String) Resolve(lang string) (string, string) {
	if v, ok := s[lang]; ok {
		return v, lang
	}
	if v, ok := s[DefaultLanguage]; ok {
		return v, DefaultLanguage
	}
	if keys := slices.Sorted(maps.Keys(s)); len(keys) > 0 {
		return s[keys[0]], keys[0]
	}
	return "", ""
}

// Clone returns a deep copy; nil stays nil.
func (s String) Clone() String {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

func (s String) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	return marshal(map[string]string(s))
}

func (s *String) Scan(src any) error {
	*s = nil
	return unmarshal(src, s)
}

// Validate checks the plain-text variant; HTML is derived from it.
func (r Rich) Validate(field, originalLanguage string, opts Options) error {
	if err := r.Text.Validate(field, originalLanguage, opts); err != nil {
		return err
	}
	for lang := range r.HTML {
		if _, ok := r.Text[lang]; !ok {
			return domain.Invalid(field, "html variant for %q has no text", lang)
		}
	}
	return nil
}

func (r Rich) IsZero() bool {
	return len(r.Text) == 0 && len(r.HTML) == 0
}

func (r Rich) Clone() Rich {
	return Rich{Text: r.Text.Clone(), HTML: r.HTML.Clone()}
}

func (r Rich) Value() (driver.Value, error) {
	return marshal(r)
}

func (r *Rich) Scan(src any) error {
	*r = Rich{}
	return unmarshal(src, r)
}

func (l List) Validate(field, originalLanguage string, opts Options) error {
	for _, lang := range slices.Sorted(maps.Keys(l)) {
		if !IsSupported(lang) {
			return domain.Invalid(field, "unsupported language %q", lang)
		}
		for _, v := range l[lang] {
			if strings.TrimSpace(v) == "" {
				return domain.Invalid(field, "blank %s entry", lang)
			}
			if opts.MaxLength > 0 && utf8.RuneCountInString(v) > opts.MaxLength {
				return domain.Invalid(field, "%s entry exceeds %d characters", lang, opts.MaxLength)
			}
		}
	}
	if opts.Required && len(l[originalLanguage]) == 0 {
		return domain.Invalid(field, "entries in original language %q are required", originalLanguage)
	}
	return nil
}

func (l List) Clone() List {
	if l == nil {
		return nil
	}
	out := make(List, len(l))
	for k, v := range l {
		out[k] = slices.Clone(v)
	}
	return out
}

func (l List) Value() (driver.Value, error) {
	if l == nil {
		return "{}", nil
	}
	return marshal(map[string][]string(l))
}

func (l *List) Scan(src any) error {
	*l = nil
	return unmarshal(src, l)
}

func marshal(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshal(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("mlstring: cannot scan %T", src)
	}
}
