package mlstring

import (
	"slices"

	"golang.org/x/text/language"
)

// DefaultLanguage is tried after the requested language when resolving.
const DefaultLanguage = "en"

var supported = []string{
	"ar", "bn", "de", "en", "eo", "es", "fi", "fr", "hu", "it", "ja", "lt",
	"mk", "nl", "pt", "pt-PT", "sk", "sl", "sv", "tr", "uk", "zh", "zh-Hant",
}

// Languages returns the supported language codes in sorted order.
func Languages() []string {
	return slices.Clone(supported)
}

// IsSupported reports whether code is a canonical BCP 47 tag that the
// platform accepts as a content language. Use Canonical to normalize input.
func IsSupported(code string) bool {
	tag, err := language.Parse(code)
	if err != nil || tag.String() != code {
		return false
	}
	return slices.Contains(supported, code)
}

// Canonical normalizes the casing of a tag ("PT-pt" -> "pt-PT").
func Canonical(code string) (string, bool) {
	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	c := tag.String()
	return c, slices.Contains(supported, c)
}
