package model

import (
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"reviewcore/internal/domain"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/permission"
	"reviewcore/internal/revision"
)

const MaxURLLength = 2048

// Fields that metadata adapters may keep in sync.
const (
	FieldLabel       = "label"
	FieldDescription = "description"
	FieldSubtitle    = "subtitle"
	FieldAuthors     = "authors"
)

var SyncFields = []string{FieldLabel, FieldDescription, FieldSubtitle, FieldAuthors}

// SyncState records whether a field follows an external source.
type SyncState struct {
	Active  bool       `json:"active"`
	Source  string     `json:"source,omitempty"`
	Updated *time.Time `json:"updated,omitempty"`
}

type ThingMetadata struct {
	Description mlstring.String `json:"description,omitempty"`
	Subtitle    mlstring.String `json:"subtitle,omitempty"`
	Authors     mlstring.List   `json:"authors,omitempty"`
}

// Thing is the subject of reviews, identified by one or more URLs.
type Thing struct {
	revision.Meta
	permission.Flags `db:"-"`

	URLs              []string             `json:"urls"`
	Label             mlstring.String      `json:"label"`
	Aliases           mlstring.List        `json:"aliases"`
	Metadata          ThingMetadata        `json:"metadata"`
	Sync              map[string]SyncState `json:"sync"`
	OriginalLanguage  string               `json:"originalLanguage"`
	CanonicalSlugName string               `json:"canonicalSlugName,omitempty"`
	CreatedOn         time.Time            `json:"createdOn"`
	CreatedBy         string               `json:"createdBy"`

	Files   []string `json:"files,omitempty" db:"-"`
	Uploads []*File  `json:"uploads,omitempty" db:"-"`
}

// ValidURL accepts absolute http and https URLs.
func ValidURL(raw string) bool {
	if raw == "" || len(raw) > MaxURLLength {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (t *Thing) Validate() error {
	if len(t.URLs) == 0 {
		return domain.Invalid("urls", "at least one URL is required")
	}
	seen := make(map[string]bool, len(t.URLs))
	for _, u := range t.URLs {
		if !ValidURL(u) {
			return domain.Invalid("urls", "%q is not an absolute http(s) URL", u)
		}
		if seen[u] {
			return domain.Invalid("urls", "%q is listed twice", u)
		}
		seen[u] = true
	}
	if err := validateLanguage(t.OriginalLanguage); err != nil {
		return err
	}
	if err := t.Label.Validate("label", t.OriginalLanguage, mlstring.Options{MaxLength: 256}); err != nil {
		return err
	}
	if err := t.Aliases.Validate("aliases", t.OriginalLanguage, mlstring.Options{MaxLength: 256}); err != nil {
		return err
	}
	if err := t.Metadata.Description.Validate("description", t.OriginalLanguage, mlstring.Options{MaxLength: 512}); err != nil {
		return err
	}
	if err := t.Metadata.Subtitle.Validate("subtitle", t.OriginalLanguage, mlstring.Options{MaxLength: 256}); err != nil {
		return err
	}
	if err := t.Metadata.Authors.Validate("authors", t.OriginalLanguage, mlstring.Options{MaxLength: 256}); err != nil {
		return err
	}
	for _, field := range slices.Sorted(maps.Keys(t.Sync)) {
		if !slices.Contains(SyncFields, field) {
			return domain.Invalid("sync", "unknown field %q", field)
		}
	}
	if err := required("createdBy", t.CreatedBy); err != nil {
		return err
	}
	if t.CreatedOn.IsZero() {
		return domain.Invalid("createdOn", "required")
	}
	return nil
}

// LabelOrURL is the display name used when no label has been set.
func (t *Thing) LabelOrURL(lang string) string {
	if label, _ := t.Label.Resolve(lang); strings.TrimSpace(label) != "" {
		return label
	}
	if len(t.URLs) > 0 {
		return t.URLs[0]
	}
	return ""
}

func (t *Thing) RelatedIDs(name string) ([]string, bool) {
	if name == ThingFiles.Name {
		return t.Files, t.Files != nil
	}
	return nil, false
}

func (t *Thing) PopulateUserInfo(v *permission.Viewer) {
	t.Flags = permission.ForThing(t.CreatedBy, v)
}
