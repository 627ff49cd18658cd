// Package model defines the stored document types and their relations.
package model

import (
	"strings"

	"reviewcore/internal/association"
	"reviewcore/internal/domain"
	"reviewcore/internal/mlstring"
)

const (
	UsersTable     = "users"
	ThingsTable    = "things"
	ReviewsTable   = "reviews"
	TeamsTable     = "teams"
	BlogPostsTable = "blog_posts"
	FilesTable     = "files"
)

var (
	TeamMembers = association.Relation{
		Name: "members", Table: "team_members", OwnerColumn: "team_id", TargetColumn: "user_id",
	}
	TeamModerators = association.Relation{
		Name: "moderators", Table: "team_moderators", OwnerColumn: "team_id", TargetColumn: "user_id",
	}
	ReviewTeams = association.Relation{
		Name: "teams", Table: "review_teams", OwnerColumn: "review_id", TargetColumn: "team_id",
	}
	ThingFiles = association.Relation{
		Name: "files", Table: "thing_files", OwnerColumn: "thing_id", TargetColumn: "file_id",
	}
)

func validateLanguage(lang string) error {
	if !mlstring.IsSupported(lang) {
		return domain.Invalid("originalLanguage", "unsupported language %q", lang)
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return domain.Invalid(field, "required")
	}
	return nil
}
