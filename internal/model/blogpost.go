package model

import (
	"time"

	"reviewcore/internal/domain"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/permission"
	"reviewcore/internal/revision"
)

type BlogPost struct {
	revision.Meta
	permission.Flags `db:"-"`

	TeamID           string          `json:"teamID"`
	Title            mlstring.String `json:"title"`
	Post             mlstring.Rich   `json:"post"`
	OriginalLanguage string          `json:"originalLanguage"`
	CreatedOn        time.Time       `json:"createdOn"`
	CreatedBy        string          `json:"createdBy"`
}

func (p *BlogPost) Validate() error {
	if err := required("teamID", p.TeamID); err != nil {
		return err
	}
	if err := validateLanguage(p.OriginalLanguage); err != nil {
		return err
	}
	if err := p.Title.Validate("title", p.OriginalLanguage, mlstring.Options{Required: true, MaxLength: 100}); err != nil {
		return err
	}
	if err := p.Post.Validate("post", p.OriginalLanguage, mlstring.Options{Required: true}); err != nil {
		return err
	}
	if err := required("createdBy", p.CreatedBy); err != nil {
		return err
	}
	if p.CreatedOn.IsZero() {
		return domain.Invalid("createdOn", "required")
	}
	return nil
}

// PopulateUserInfo needs the owning team's moderators, loaded by the caller.
func (p *BlogPost) PopulateUserInfo(v *permission.Viewer, teamModerators []string) {
	p.Flags = permission.ForBlogPost(p.CreatedBy, teamModerators, v)
}
