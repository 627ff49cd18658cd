// Package slug maps human-readable names to document ids. Slug rows are
// immutable: a document keeps every name it ever had, and only the name in
// its canonicalSlugName field is canonical. Other names redirect.
package slug

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"reviewcore/internal/domain"
	"reviewcore/internal/util"
)

const MaxLength = 100

// Reserved names collide with route segments and are always qualified.
var Reserved = []string{
	"new", "edit", "delete", "upload", "feed", "blog", "members", "moderators",
	"rules", "join", "leave", "reviews", "files", "manage-urls", "merge", "diff",
}

var lower = cases.Lower(language.Und)

// Generate derives a slug from a label: lower-cased, NFC-normalized,
// whitespace turned into dashes, anything but letters, digits and dashes
// dropped.
func Generate(label string) (string, error) {
	s := norm.NFC.String(lower.String(strings.TrimSpace(label)))

	var b strings.Builder
	b.Grow(len(s))
	dash := false
	n := 0
	for _, r := range s {
		if n >= MaxLength {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
				n++
			}
			dash = false
			b.WriteRune(r)
			n++
		case unicode.IsSpace(r), r == '-':
			dash = true
		}
	}

	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "", domain.Invalid("slug", "label %q yields an empty name", label)
	}
	return out, nil
}

// needsQualifier reports whether name cannot be used without a suffix.
func needsQualifier(name string) bool {
	return slices.Contains(Reserved, name) || util.IsID(name)
}
