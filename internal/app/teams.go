package app

import (
	"context"
	"database/sql"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"reviewcore/internal/association"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/model"
	"reviewcore/internal/revision"
)

type TeamInput struct {
	Name              mlstring.String `json:"name"`
	Motto             mlstring.String `json:"motto"`
	Description       *mlstring.Rich  `json:"description"`
	Rules             *mlstring.Rich  `json:"rules"`
	ModApprovalToJoin *bool           `json:"modApprovalToJoin"`
	OnlyModsCanBlog   *bool           `json:"onlyModsCanBlog"`
	OriginalLanguage  string          `json:"originalLanguage"`
}

type teamGetter struct{ s *Service }

func (g teamGetter) GetNotStaleOrDeleted(ctx context.Context, id string) (*model.Team, error) {
	return association.GetWithData(ctx, g.s.assoc, g.s.teams, id, g.s.teamLoaders()...)
}

func (s *Service) teamLoaders() []association.Loader[*model.Team] {
	return []association.Loader[*model.Team]{
		association.With(model.TeamMembers, s.users, func(t *model.Team, ids []string, users []*model.User) {
			t.Members = ids
			t.MemberUsers = users
		}),
		association.With(model.TeamModerators, s.users, func(t *model.Team, ids []string, users []*model.User) {
			t.Moderators = ids
			t.ModeratorUsers = users
		}),
	}
}

// CreateTeam saves a team whose founder is its first member and moderator.
func (s *Service) CreateTeam(ctx context.Context, viewer *model.User, input TeamInput) (*model.Team, error) {
	ctx, span := s.start(ctx, "CreateTeam")
	defer span.End()
	if err := requireViewer(viewer, "create teams"); err != nil {
		return nil, err
	}

	t := s.teams.CreateFirstRevision(viewer.ID, "create")
	t.OriginalLanguage = s.language(input.OriginalLanguage)
	applyTeamInput(t, input)
	t.CreatedOn = t.RevisionDate
	t.CreatedBy = viewer.ID
	t.Members = []string{viewer.ID}
	t.Moderators = []string{viewer.ID}

	name, _ := t.Name.Resolve(t.OriginalLanguage)
	step := s.slugStep(s.teamSlugs, t.ID, viewer.ID, name, func(slug string) {
		t.CanonicalSlugName = slug
	})
	err := association.SaveAllWith(ctx, s.assoc, s.teams, t,
		[]association.Relation{model.TeamMembers, model.TeamModerators}, step)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	t.MemberUsers = []*model.User{viewer}
	t.ModeratorUsers = []*model.User{viewer}
	t.PopulateUserInfo(viewer.Viewer())
	return t, nil
}

// UpdateTeam saves new team content. Membership is changed only through
// JoinTeam and LeaveTeam.
func (s *Service) UpdateTeam(ctx context.Context, viewer *model.User, id string, input TeamInput) (*model.Team, error) {
	ctx, span := s.start(ctx, "UpdateTeam", attribute.String("reviewcore.id", id))
	defer span.End()

	current, err := s.GetTeamWithData(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if !current.UserCanEdit {
		return nil, forbidden("edit team " + id)
	}

	next, err := s.teams.NewRevision(current, viewer.ID, "edit")
	if err != nil {
		return nil, err
	}
	if input.OriginalLanguage != "" {
		next.OriginalLanguage = s.language(input.OriginalLanguage)
	}
	applyTeamInput(next, input)

	var steps []association.Step
	if !maps.Equal(current.Name, next.Name) || next.CanonicalSlugName == "" {
		name, _ := next.Name.Resolve(next.OriginalLanguage)
		steps = append(steps, s.slugStep(s.teamSlugs, next.ID, viewer.ID, name, func(slug string) {
			next.CanonicalSlugName = slug
		}))
	}
	if err := association.SaveAllWith(ctx, s.assoc, s.teams, next, nil, steps...); err != nil {
		span.RecordError(err)
		return nil, err
	}
	next.PopulateUserInfo(viewer.Viewer())
	return next, nil
}

// GetTeamWithData loads a team with its members and moderators.
func (s *Service) GetTeamWithData(ctx context.Context, viewer *model.User, id string) (*model.Team, error) {
	ctx, span := s.start(ctx, "GetTeamWithData", attribute.String("reviewcore.id", id))
	defer span.End()

	t, err := teamGetter{s}.GetNotStaleOrDeleted(ctx, id)
	if err != nil {
		return nil, err
	}
	t.PopulateUserInfo(viewer.Viewer())
	return t, nil
}

// JoinTeam adds the viewer to the team's members. Teams that require
// moderator approval can only be joined directly by site moderators.
func (s *Service) JoinTeam(ctx context.Context, viewer *model.User, id string) (*model.Team, error) {
	ctx, span := s.start(ctx, "JoinTeam", attribute.String("reviewcore.id", id))
	defer span.End()
	if err := requireViewer(viewer, "join teams"); err != nil {
		return nil, err
	}

	t, err := s.GetTeamWithData(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if !t.UserCanJoin {
		return nil, forbidden("join team " + id)
	}
	if t.ModApprovalToJoin && !viewer.IsSiteModerator {
		return nil, forbidden("join team " + id + " without approval")
	}
	if err := s.assoc.Add(ctx, s.db, model.TeamMembers, id, viewer.ID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.log.Info().Str("team_id", id).Str("user_id", viewer.ID).Msg("user joined team")
	return s.GetTeamWithData(ctx, viewer, id)
}

// LeaveTeam removes the viewer from members and moderators together.
// Founders cannot leave.
func (s *Service) LeaveTeam(ctx context.Context, viewer *model.User, id string) (*model.Team, error) {
	ctx, span := s.start(ctx, "LeaveTeam", attribute.String("reviewcore.id", id))
	defer span.End()
	if err := requireViewer(viewer, "leave teams"); err != nil {
		return nil, err
	}

	t, err := s.GetTeamWithData(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	if !t.UserCanLeave {
		return nil, forbidden("leave team " + id)
	}
	err = s.assoc.Atomic(ctx, "leave team", func(tx *sql.Tx) error {
		if err := s.assoc.Remove(ctx, tx, model.TeamMembers, id, viewer.ID); err != nil {
			return err
		}
		return s.assoc.Remove(ctx, tx, model.TeamModerators, id, viewer.ID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.log.Info().Str("team_id", id).Str("user_id", viewer.ID).Msg("user left team")
	return s.GetTeamWithData(ctx, viewer, id)
}

func (s *Service) DeleteTeam(ctx context.Context, viewer *model.User, id string) error {
	ctx, span := s.start(ctx, "DeleteTeam", attribute.String("reviewcore.id", id))
	defer span.End()

	t, err := s.GetTeamWithData(ctx, viewer, id)
	if err != nil {
		return err
	}
	if !t.UserCanDelete {
		return forbidden("delete team " + id)
	}
	if err := s.teams.DeleteAllRevisions(ctx, t, viewer.ID); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ResolveTeam loads a team by slug or id, with members and moderators.
func (s *Service) ResolveTeam(ctx context.Context, viewer *model.User, requestPath, rawQuery, candidate string) (*model.Team, error) {
	t, err := s.teamNames.ResolveAndLoad(ctx, requestPath, rawQuery, candidate)
	if err != nil {
		return nil, err
	}
	t.PopulateUserInfo(viewer.Viewer())
	return t, nil
}

type BlogPostInput struct {
	Title            mlstring.String `json:"title"`
	Post             mlstring.Rich   `json:"post"`
	OriginalLanguage string          `json:"originalLanguage"`
}

func (s *Service) CreateBlogPost(ctx context.Context, viewer *model.User, teamID string, input BlogPostInput) (*model.BlogPost, error) {
	ctx, span := s.start(ctx, "CreateBlogPost", attribute.String("reviewcore.team_id", teamID))
	defer span.End()

	team, err := s.GetTeamWithData(ctx, viewer, teamID)
	if err != nil {
		return nil, err
	}
	if !team.UserCanBlog {
		return nil, forbidden("blog for team " + teamID)
	}

	p := s.posts.CreateFirstRevision(viewer.ID, "create")
	p.TeamID = team.ID
	p.Title = input.Title.Clone()
	p.Post = input.Post.Clone()
	p.OriginalLanguage = s.language(input.OriginalLanguage)
	p.CreatedOn = p.RevisionDate
	p.CreatedBy = viewer.ID
	if err := s.posts.Save(ctx, p); err != nil {
		span.RecordError(err)
		return nil, err
	}
	p.PopulateUserInfo(viewer.Viewer(), team.Moderators)
	return p, nil
}

// GetTeamBlogFeed pages through a team's live posts, newest first.
func (s *Service) GetTeamBlogFeed(ctx context.Context, viewer *model.User, teamID string, limit int, offsetDate *time.Time, offsetID string) (revision.FeedPage[*model.BlogPost], error) {
	ctx, span := s.start(ctx, "GetTeamBlogFeed", attribute.String("reviewcore.team_id", teamID))
	defer span.End()

	team, err := s.GetTeamWithData(ctx, viewer, teamID)
	if err != nil {
		return revision.FeedPage[*model.BlogPost]{}, err
	}
	page, err := s.posts.FilterNotStaleOrDeleted().
		Where("teamID", "=", team.ID).
		Feed(ctx, revision.FeedOptions{Limit: limit, OffsetDate: offsetDate, OffsetID: offsetID, Field: "createdOn"})
	if err != nil {
		span.RecordError(err)
		return revision.FeedPage[*model.BlogPost]{}, err
	}
	for _, p := range page.Items {
		p.PopulateUserInfo(viewer.Viewer(), team.Moderators)
	}
	return page, nil
}

func applyTeamInput(t *model.Team, input TeamInput) {
	if input.Name != nil {
		t.Name = input.Name.Clone()
	}
	if input.Motto != nil {
		t.Motto = input.Motto.Clone()
	}
	if input.Description != nil {
		t.Description = input.Description.Clone()
	}
	if input.Rules != nil {
		t.Rules = input.Rules.Clone()
	}
	if input.ModApprovalToJoin != nil {
		t.ModApprovalToJoin = *input.ModApprovalToJoin
	}
	if input.OnlyModsCanBlog != nil {
		t.OnlyModsCanBlog = *input.OnlyModsCanBlog
	}
}
