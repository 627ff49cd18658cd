package model

import (
	"time"

	"reviewcore/internal/domain"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/permission"
	"reviewcore/internal/revision"
)

type Team struct {
	revision.Meta
	permission.Flags `db:"-"`

	Name              mlstring.String `json:"name"`
	Motto             mlstring.String `json:"motto"`
	Description       mlstring.Rich   `json:"description"`
	Rules             mlstring.Rich   `json:"rules"`
	ModApprovalToJoin bool            `json:"modApprovalToJoin"`
	OnlyModsCanBlog   bool            `json:"onlyModsCanBlog"`
	OriginalLanguage  string          `json:"originalLanguage"`
	CanonicalSlugName string          `json:"canonicalSlugName,omitempty"`
	CreatedOn         time.Time       `json:"createdOn"`
	CreatedBy         string          `json:"createdBy"`

	Members        []string `json:"members,omitempty" db:"-"`
	Moderators     []string `json:"moderators,omitempty" db:"-"`
	MemberUsers    []*User  `json:"memberUsers,omitempty" db:"-"`
	ModeratorUsers []*User  `json:"moderatorUsers,omitempty" db:"-"`
}

func (t *Team) Validate() error {
	if err := validateLanguage(t.OriginalLanguage); err != nil {
		return err
	}
	if err := t.Name.Validate("name", t.OriginalLanguage, mlstring.Options{Required: true, MaxLength: 100}); err != nil {
		return err
	}
	if err := t.Motto.Validate("motto", t.OriginalLanguage, mlstring.Options{MaxLength: 200}); err != nil {
		return err
	}
	if err := t.Description.Validate("description", t.OriginalLanguage, mlstring.Options{Required: true, MaxLength: 10000}); err != nil {
		return err
	}
	if err := t.Rules.Validate("rules", t.OriginalLanguage, mlstring.Options{MaxLength: 10000}); err != nil {
		return err
	}
	if err := required("createdBy", t.CreatedBy); err != nil {
		return err
	}
	if t.CreatedOn.IsZero() {
		return domain.Invalid("createdOn", "required")
	}
	return nil
}

func (t *Team) RelatedIDs(name string) ([]string, bool) {
	switch name {
	case TeamMembers.Name:
		return t.Members, t.Members != nil
	case TeamModerators.Name:
		return t.Moderators, t.Moderators != nil
	}
	return nil, false
}

func (t *Team) PopulateUserInfo(v *permission.Viewer) {
	t.Flags = permission.ForTeam(permission.TeamInput{
		CreatedBy:       t.CreatedBy,
		Members:         t.Members,
		Moderators:      t.Moderators,
		OnlyModsCanBlog: t.OnlyModsCanBlog,
	}, v)
	for _, u := range t.MemberUsers {
		u.PopulateUserInfo(v)
	}
	for _, u := range t.ModeratorUsers {
		u.PopulateUserInfo(v)
	}
}
