// Package permission derives per-viewer capability flags from a document
// snapshot. Nothing here performs I/O and nothing here is persisted.
package permission

import "slices"

// Viewer is the acting user. A nil *Viewer is an anonymous visitor.
type Viewer struct {
	ID              string
	IsSiteModerator bool
	IsTrusted       bool
}

// Flags are attached to a loaded document for the duration of a request.
type Flags struct {
	UserIsAuthor    bool `json:"userIsAuthor,omitempty"`
	UserIsSelf      bool `json:"userIsSelf,omitempty"`
	UserIsFounder   bool `json:"userIsFounder,omitempty"`
	UserIsMember    bool `json:"userIsMember,omitempty"`
	UserIsModerator bool `json:"userIsModerator,omitempty"`
	UserCanEdit     bool `json:"userCanEdit,omitempty"`
	UserCanDelete   bool `json:"userCanDelete,omitempty"`
	UserCanBlog     bool `json:"userCanBlog,omitempty"`
	UserCanJoin     bool `json:"userCanJoin,omitempty"`
	UserCanLeave    bool `json:"userCanLeave,omitempty"`
	UserCanUpload   bool `json:"userCanUpload,omitempty"`
}

type Action string

const (
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionBlog   Action = "blog"
	ActionJoin   Action = "join"
	ActionLeave  Action = "leave"
	ActionUpload Action = "upload"
)

// Can answers whether flags grant action.
func Can(f Flags, action Action) bool {
	switch action {
	case ActionEdit:
		return f.UserCanEdit
	case ActionDelete:
		return f.UserCanDelete
	case ActionBlog:
		return f.UserCanBlog
	case ActionJoin:
		return f.UserCanJoin
	case ActionLeave:
		return f.UserCanLeave
	case ActionUpload:
		return f.UserCanUpload
	default:
		return false
	}
}

func (v *Viewer) is(userID string) bool {
	return v != nil && v.ID != "" && v.ID == userID
}

func (v *Viewer) siteModerator() bool {
	return v != nil && v.IsSiteModerator
}

// ForReview: authors edit and delete; site moderators may delete but not edit.
func ForReview(createdBy string, v *Viewer) Flags {
	author := v.is(createdBy)
	return Flags{
		UserIsAuthor:  author,
		UserCanEdit:   author,
		UserCanDelete: author || v.siteModerator(),
	}
}

// ForThing: things are shared records, so only site moderators delete them,
// even when the viewer created the thing. Trusted users may upload files.
func ForThing(createdBy string, v *Viewer) Flags {
	author := v.is(createdBy)
	return Flags{
		UserIsAuthor:  author,
		UserCanEdit:   author,
		UserCanDelete: v.siteModerator(),
		UserCanUpload: author || (v != nil && v.IsTrusted),
	}
}

// TeamInput is the team snapshot the team rules need. Members and
// Moderators must already be loaded.
type TeamInput struct {
	CreatedBy       string
	Members         []string
	Moderators      []string
	OnlyModsCanBlog bool
}

func ForTeam(t TeamInput, v *Viewer) Flags {
	if v == nil || v.ID == "" {
		return Flags{}
	}
	founder := v.is(t.CreatedBy)
	member := slices.Contains(t.Members, v.ID)
	moderator := slices.Contains(t.Moderators, v.ID)
	return Flags{
		UserIsFounder:   founder,
		UserIsMember:    member,
		UserIsModerator: moderator,
		UserCanEdit:     founder || moderator,
		UserCanBlog:     moderator || (member && !t.OnlyModsCanBlog),
		UserCanJoin:     !member,
		UserCanLeave:    member && !founder,
		UserCanDelete:   founder || v.IsSiteModerator,
	}
}

// ForBlogPost: team moderators and site moderators may remove posts.
func ForBlogPost(createdBy string, teamModerators []string, v *Viewer) Flags {
	author := v.is(createdBy)
	teamMod := v != nil && v.ID != "" && slices.Contains(teamModerators, v.ID)
	return Flags{
		UserIsAuthor:  author,
		UserCanEdit:   author,
		UserCanDelete: author || teamMod || v.siteModerator(),
	}
}

// ForUser covers profile pages.
func ForUser(profileID string, v *Viewer) Flags {
	self := v.is(profileID)
	return Flags{
		UserIsSelf:  self,
		UserCanEdit: self,
	}
}
