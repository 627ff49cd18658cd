package model

import (
	"path"
	"slices"
	"strings"
	"time"
	"unicode"

	"reviewcore/internal/domain"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/permission"
	"reviewcore/internal/revision"
)

var Licenses = []string{"cc-0", "cc-by", "cc-by-sa", "fair-use"}

// File describes an uploaded media file attached to a thing.
type File struct {
	revision.Meta
	permission.Flags `db:"-"`

	Name             string          `json:"name"`
	Description      mlstring.String `json:"description"`
	Creator          mlstring.String `json:"creator"`
	Source           mlstring.String `json:"source"`
	License          string          `json:"license"`
	MimeType         string          `json:"mimeType"`
	ObjectKey        string          `json:"objectKey"`
	OriginalLanguage string          `json:"originalLanguage"`
	UploadedBy       string          `json:"uploadedBy"`
	UploadedOn       time.Time       `json:"uploadedOn"`
	Completed        bool            `json:"completed"`
}

// SanitizeFileName keeps the base name and replaces characters that are
// awkward in object keys.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		}
		return -1
	}, name)
}

// ObjectKeyFor is the blob location of a file's bytes.
func ObjectKeyFor(fileID, name string) string {
	return "files/" + fileID + "/" + SanitizeFileName(name)
}

func (f *File) Validate() error {
	if err := required("name", f.Name); err != nil {
		return err
	}
	if f.Name != SanitizeFileName(f.Name) {
		return domain.Invalid("name", "contains unsupported characters")
	}
	if err := required("mimeType", f.MimeType); err != nil {
		return err
	}
	if err := required("objectKey", f.ObjectKey); err != nil {
		return err
	}
	if err := validateLanguage(f.OriginalLanguage); err != nil {
		return err
	}
	opts := mlstring.Options{Required: f.Completed, MaxLength: 1000}
	if err := f.Description.Validate("description", f.OriginalLanguage, opts); err != nil {
		return err
	}
	if err := f.Creator.Validate("creator", f.OriginalLanguage, opts); err != nil {
		return err
	}
	if err := f.Source.Validate("source", f.OriginalLanguage, opts); err != nil {
		return err
	}
	if (f.Completed || f.License != "") && !slices.Contains(Licenses, f.License) {
		return domain.Invalid("license", "must be one of %s", strings.Join(Licenses, ", "))
	}
	if err := required("uploadedBy", f.UploadedBy); err != nil {
		return err
	}
	if f.UploadedOn.IsZero() {
		return domain.Invalid("uploadedOn", "required")
	}
	return nil
}

func (f *File) PopulateUserInfo(v *permission.Viewer) {
	f.Flags = permission.ForThing(f.UploadedBy, v)
	f.UserCanUpload = false
}
