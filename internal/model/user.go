package model

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"reviewcore/internal/domain"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/permission"
	"reviewcore/internal/revision"
)

const (
	MaxUserNameLength = 128
	MinPasswordLength = 6
)

var userNamePattern = regexp.MustCompile(`^[^<>;"&?!./_]+$`)

type User struct {
	revision.Meta
	permission.Flags `db:"-"`

	DisplayName      string        `json:"displayName"`
	CanonicalName    string        `json:"canonicalName"`
	Email            string        `json:"email,omitempty"`
	PasswordHash     string        `json:"-" db:"password_hash"`
	RegistrationDate time.Time     `json:"registrationDate"`
	IsTrusted        bool          `json:"isTrusted"`
	IsSiteModerator  bool          `json:"isSiteModerator"`
	IsSuperUser      bool          `json:"isSuperUser"`
	ShowErrorDetails bool          `json:"showErrorDetails"`
	InviteLinkCount  int           `json:"inviteLinkCount"`
	Bio              mlstring.Rich `json:"bio"`
	BioLanguage      string        `json:"bioLanguage,omitempty"`
}

// CanonicalUserName is the case-insensitive identity of a display name.
func CanonicalUserName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// SetName sets the display name and its canonical form together.
func (u *User) SetName(name string) {
	u.DisplayName = strings.TrimSpace(name)
	u.CanonicalName = CanonicalUserName(u.DisplayName)
}

func (u *User) SetPassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return domain.Invalid("password", "must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return domain.Invalid("password", "too long")
		}
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

func (u *User) Validate() error {
	name := u.DisplayName
	if strings.TrimSpace(name) == "" {
		return domain.Invalid("displayName", "required")
	}
	if utf8.RuneCountInString(name) > MaxUserNameLength {
		return domain.Invalid("displayName", "exceeds %d characters", MaxUserNameLength)
	}
	if !userNamePattern.MatchString(name) {
		return domain.Invalid("displayName", "contains a reserved character")
	}
	if u.CanonicalName != CanonicalUserName(name) {
		return domain.Invalid("canonicalName", "does not match display name")
	}
	if u.Email != "" {
		if len(u.Email) > MaxUserNameLength {
			return domain.Invalid("email", "exceeds %d characters", MaxUserNameLength)
		}
		if _, err := mail.ParseAddress(u.Email); err != nil {
			return domain.Invalid("email", "not a valid address")
		}
	}
	if u.PasswordHash == "" {
		return domain.Invalid("password", "required")
	}
	if u.RegistrationDate.IsZero() {
		return domain.Invalid("registrationDate", "required")
	}
	if u.InviteLinkCount < 0 {
		return domain.Invalid("inviteLinkCount", "must not be negative")
	}
	if !u.Bio.IsZero() {
		if err := validateLanguage(u.BioLanguage); err != nil {
			return domain.Invalid("bioLanguage", "unsupported language %q", u.BioLanguage)
		}
		if err := u.Bio.Validate("bio", u.BioLanguage, mlstring.Options{MaxLength: 1000}); err != nil {
			return err
		}
	}
	return nil
}

// Viewer projects the user onto the identity the permission rules read.
func (u *User) Viewer() *permission.Viewer {
	if u == nil {
		return nil
	}
	return &permission.Viewer{
		ID:              u.ID,
		IsSiteModerator: u.IsSiteModerator,
		IsTrusted:       u.IsTrusted,
	}
}

func (u *User) PopulateUserInfo(v *permission.Viewer) {
	u.Flags = permission.ForUser(u.ID, v)
}
