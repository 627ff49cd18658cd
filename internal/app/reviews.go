package app

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"reviewcore/internal/association"
	"reviewcore/internal/domain"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/model"
	"reviewcore/internal/revision"
	"reviewcore/internal/store"
)

type ReviewInput struct {
	ThingID          string          `json:"thingID"`
	Title            mlstring.String `json:"title"`
	Text             mlstring.String `json:"text"`
	HTML             mlstring.String `json:"html"`
	StarRating       any             `json:"starRating"`
	OriginalLanguage string          `json:"originalLanguage"`
	Teams            []string        `json:"teams"`
}

// CreateReview saves a review and its team tags together. The author must
// be a member of every team the review is tagged with, and may review a
// thing only once.
func (s *Service) CreateReview(ctx context.Context, viewer *model.User, input ReviewInput) (*model.Review, error) {
	ctx, span := s.start(ctx, "CreateReview", attribute.String("reviewcore.thing_id", input.ThingID))
	defer span.End()
	if err := requireViewer(viewer, "write reviews"); err != nil {
		return nil, err
	}

	thing, err := s.things.GetNotStaleOrDeleted(ctx, input.ThingID)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil, domain.Invalid("thingID", "no thing with id %q", input.ThingID)
	}
	if err != nil {
		return nil, err
	}
	n, err := s.reviews.FilterNotStaleOrDeleted().
		Where("thingID", "=", thing.ID).
		Where("createdBy", "=", viewer.ID).
		Count(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, domain.Invalid("thingID", "you have already reviewed this thing")
	}

	r := s.reviews.CreateFirstRevision(viewer.ID, "create")
	r.ThingID = thing.ID
	r.OriginalLanguage = s.language(input.OriginalLanguage)
	applyReviewInput(r, input)
	r.CreatedOn = r.RevisionDate
	r.CreatedBy = viewer.ID
	if r.Teams == nil {
		r.Teams = []string{}
	}

	err = association.SaveAllWith(ctx, s.assoc, s.reviews, r, []association.Relation{model.ReviewTeams},
		s.lockThing(thing.ID), s.requireMembership(viewer.ID, r.Teams))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	r.Thing = thing
	r.PopulateUserInfo(viewer.Viewer())
	return r, nil
}

// UpdateReview saves a new revision. Only teams added by this edit are
// checked for membership.
func (s *Service) UpdateReview(ctx context.Context, viewer *model.User, id string, input ReviewInput) (*model.Review, error) {
	ctx, span := s.start(ctx, "UpdateReview", attribute.String("reviewcore.id", id))
	defer span.End()

	current, err := association.GetWithData(ctx, s.assoc, s.reviews, id, s.withReviewTeamIDs())
	if err != nil {
		return nil, err
	}
	current.PopulateUserInfo(viewer.Viewer())
	if !current.UserCanEdit {
		return nil, forbidden("edit review " + id)
	}

	next, err := s.reviews.NewRevision(current, viewer.ID, "edit")
	if err != nil {
		return nil, err
	}
	if input.OriginalLanguage != "" {
		next.OriginalLanguage = s.language(input.OriginalLanguage)
	}
	applyReviewInput(next, input)

	var added []string
	for _, teamID := range next.Teams {
		if !slices.Contains(current.Teams, teamID) {
			added = append(added, teamID)
		}
	}
	err = association.SaveAllWith(ctx, s.assoc, s.reviews, next, []association.Relation{model.ReviewTeams},
		s.requireMembership(viewer.ID, added))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	next.PopulateUserInfo(viewer.Viewer())
	return next, nil
}

func (s *Service) DeleteReview(ctx context.Context, viewer *model.User, id string) error {
	ctx, span := s.start(ctx, "DeleteReview", attribute.String("reviewcore.id", id))
	defer span.End()

	r, err := s.reviews.GetNotStaleOrDeleted(ctx, id)
	if err != nil {
		return err
	}
	r.PopulateUserInfo(viewer.Viewer())
	if !r.UserCanDelete {
		return forbidden("delete review " + id)
	}
	if err := s.reviews.DeleteAllRevisions(ctx, r, viewer.ID); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// GetReviewWithData loads a review with its teams, thing and author from
// one snapshot. A deleted thing or author leaves the field nil.
func (s *Service) GetReviewWithData(ctx context.Context, viewer *model.User, id string) (*model.Review, error) {
	ctx, span := s.start(ctx, "GetReviewWithData", attribute.String("reviewcore.id", id))
	defer span.End()

	r, err := association.GetWithData(ctx, s.assoc, s.reviews, id,
		association.With(model.ReviewTeams, s.teams, func(r *model.Review, ids []string, teams []*model.Team) {
			r.Teams = ids
			r.TeamData = teams
		}),
		func(ctx context.Context, _ *association.Manager, q store.Querier, r *model.Review) error {
			t, err := s.things.GetNotStaleOrDeletedTx(ctx, q, r.ThingID)
			if err != nil {
				return notFoundIsNil(err)
			}
			r.Thing = t
			return nil
		},
		func(ctx context.Context, _ *association.Manager, q store.Querier, r *model.Review) error {
			u, err := s.users.GetNotStaleOrDeletedTx(ctx, q, r.CreatedBy)
			if err != nil {
				return notFoundIsNil(err)
			}
			r.Creator = u
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	r.PopulateUserInfo(viewer.Viewer())
	return r, nil
}

type FeedQuery struct {
	ThingID    string
	TeamID     string
	AuthorID   string
	Limit      int
	OffsetDate *time.Time
	OffsetID   string
}

// GetFeed pages through live reviews, newest first. Each review comes with
// its thing.
func (s *Service) GetFeed(ctx context.Context, viewer *model.User, fq FeedQuery) (revision.FeedPage[*model.Review], error) {
	ctx, span := s.start(ctx, "GetFeed")
	defer span.End()

	q := s.reviews.FilterNotStaleOrDeleted()
	if fq.ThingID != "" {
		q = q.Where("thingID", "=", fq.ThingID)
	}
	if fq.AuthorID != "" {
		q = q.Where("createdBy", "=", fq.AuthorID)
	}
	if fq.TeamID != "" {
		rel := model.ReviewTeams
		q = q.WhereLinked(rel.Table, rel.OwnerColumn, rel.TargetColumn, fq.TeamID)
	}
	page, err := q.Feed(ctx, revision.FeedOptions{
		Limit:      fq.Limit,
		OffsetDate: fq.OffsetDate,
		OffsetID:   fq.OffsetID,
		Field:      "createdOn",
	})
	if err != nil {
		span.RecordError(err)
		return revision.FeedPage[*model.Review]{}, err
	}

	thingIDs := make([]string, 0, len(page.Items))
	for _, r := range page.Items {
		if !slices.Contains(thingIDs, r.ThingID) {
			thingIDs = append(thingIDs, r.ThingID)
		}
	}
	if len(thingIDs) > 0 {
		things, err := s.things.FilterNotStaleOrDeleted().WhereIn("id", thingIDs).Run(ctx)
		if err != nil {
			return revision.FeedPage[*model.Review]{}, err
		}
		byID := make(map[string]*model.Thing, len(things))
		for _, t := range things {
			byID[t.ID] = t
		}
		for _, r := range page.Items {
			r.Thing = byID[r.ThingID]
		}
	}
	for _, r := range page.Items {
		r.PopulateUserInfo(viewer.Viewer())
	}
	return page, nil
}

func (s *Service) withReviewTeamIDs() association.Loader[*model.Review] {
	return func(ctx context.Context, m *association.Manager, q store.Querier, r *model.Review) error {
		ids, err := m.TargetIDs(ctx, q, model.ReviewTeams, r.ID)
		if err != nil {
			return err
		}
		r.Teams = ids
		return nil
	}
}

// requireMembership fails the surrounding transaction unless userID belongs
// to every team in teamIDs.
// lockThing holds the reviewed thing live until the transaction ends, so a
// concurrent DeleteThing cannot strand the new review.
func (s *Service) lockThing(thingID string) association.Step {
	return func(ctx context.Context, tx *sql.Tx) error {
		err := s.things.LockCurrentTx(ctx, tx, thingID)
		if errors.Is(err, domain.ErrDocumentNotFound) {
			return domain.Invalid("thingID", "no thing with id %q", thingID)
		}
		return err
	}
}

func (s *Service) requireMembership(userID string, teamIDs []string) association.Step {
	return func(ctx context.Context, tx *sql.Tx) error {
		for _, teamID := range teamIDs {
			member, err := s.assoc.Has(ctx, tx, model.TeamMembers, teamID, userID)
			if err != nil {
				return err
			}
			if !member {
				return forbidden("tag a review with team " + teamID)
			}
		}
		return nil
	}
}

func applyReviewInput(r *model.Review, input ReviewInput) {
	if input.Title != nil {
		r.Title = input.Title.Clone()
	}
	if input.Text != nil {
		r.Text = input.Text.Clone()
	}
	if input.HTML != nil {
		r.HTML = input.HTML.Clone()
	}
	if input.StarRating != nil {
		r.SetStarRating(input.StarRating)
	}
	if input.Teams != nil {
		r.Teams = slices.Clone(input.Teams)
	}
}
