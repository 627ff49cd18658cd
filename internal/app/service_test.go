package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewcore/internal/config"
	"reviewcore/internal/domain"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/model"
)

// newOfflineService has no database; only paths that fail before any
// query can be exercised with it.
func newOfflineService() *Service {
	return New(config.Config{DefaultLanguage: "de"}, nil)
}

func TestAsDomainError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domain.Invalid("title", "required"), http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"conflict", &domain.ConflictError{Table: "reviews", ID: "r1"}, http.StatusConflict, "CONFLICT"},
		{"stale", &domain.StaleDocumentError{ID: "r1"}, http.StatusConflict, "CONFLICT"},
		{"not found", fmt.Errorf("load: %w", domain.NotFoundError{Table: "things", ID: "x"}), http.StatusNotFound, "NOT_FOUND"},
		{"already deleted", &domain.AlreadyDeletedError{ID: "x"}, http.StatusGone, "ALREADY_DELETED"},
		{"forbidden", forbidden("edit"), http.StatusForbidden, "FORBIDDEN"},
		{"redirect", &domain.RedirectedError{Target: "/thing/dune"}, http.StatusSeeOther, "REDIRECT"},
		{"credentials", ErrInvalidCredentials, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"uploads disabled", ErrUploadsDisabled, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"persistence", &domain.PersistenceError{Op: "save", Err: errors.New("reset")}, http.StatusInternalServerError, "SERVER_ERROR"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
		{"explicit", domainError(http.StatusTeapot, "TEAPOT", "short and stout", nil), http.StatusTeapot, "TEAPOT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			de := AsDomainError(tc.err)
			require.NotNil(t, de)
			assert.Equal(t, tc.status, de.Status)
			assert.Equal(t, tc.code, de.Code)
		})
	}
	assert.Nil(t, AsDomainError(nil))
	assert.Equal(t, "/thing/dune", AsDomainError(&domain.RedirectedError{Target: "/thing/dune"}).Details)
}

func TestMutationsRequireViewer(t *testing.T) {
	s := newOfflineService()
	ctx := context.Background()
	var fe *domain.ForbiddenError

	_, err := s.CreateThing(ctx, nil, ThingInput{URLs: []string{"https://example.com/dune"}})
	assert.ErrorAs(t, err, &fe)
	_, err = s.CreateReview(ctx, nil, ReviewInput{ThingID: "t1", StarRating: 4})
	assert.ErrorAs(t, err, &fe)
	_, err = s.CreateTeam(ctx, &model.User{}, TeamInput{})
	assert.ErrorAs(t, err, &fe)
	_, err = s.JoinTeam(ctx, nil, "team")
	assert.ErrorAs(t, err, &fe)
	_, err = s.LeaveTeam(ctx, nil, "team")
	assert.ErrorAs(t, err, &fe)
}

func TestOptionalCollaborators(t *testing.T) {
	s := newOfflineService()
	viewer := &model.User{}
	viewer.ID = "u1"

	_, err := s.UploadFile(context.Background(), viewer, "t1", UploadInput{Name: "cover.png"})
	assert.ErrorIs(t, err, ErrUploadsDisabled)
	_, err = s.RefreshThingMetadata(context.Background(), viewer, "t1")
	assert.ErrorIs(t, err, ErrSyncDisabled)
}

func TestCreateUserValidatesBeforeStore(t *testing.T) {
	s := newOfflineService()
	var ve *domain.ValidationError

	_, err := s.CreateUser(context.Background(), CreateUserInput{Name: "alice", Password: "short"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "password", ve.Field)

	_, err = s.CreateUser(context.Background(), CreateUserInput{Name: "a/b", Password: "long enough"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "displayName", ve.Field)
}

func TestLanguage(t *testing.T) {
	s := newOfflineService()
	assert.Equal(t, "fr", s.language("fr"))
	assert.Equal(t, "de", s.language(""))
	assert.Equal(t, "xx-nope", s.language("xx-nope"), "unsupported codes are kept for validation to reject")

	fallback := New(config.Config{}, nil)
	assert.Equal(t, mlstring.DefaultLanguage, fallback.language(""))
}

func TestChangedSyncFields(t *testing.T) {
	before := &model.Thing{
		Label:    mlstring.String{"en": "Dune"},
		Metadata: model.ThingMetadata{Authors: mlstring.List{"en": {"Frank Herbert"}}},
	}
	after := &model.Thing{
		Label:    mlstring.String{"en": "Dune"},
		Metadata: model.ThingMetadata{
			Subtitle: mlstring.String{"en": "Deluxe Edition"},
			Authors:  mlstring.List{"en": {"Frank Herbert", "Brian Herbert"}},
		},
	}
	assert.Equal(t, []string{model.FieldSubtitle, model.FieldAuthors}, changedSyncFields(before, after))
	assert.Empty(t, changedSyncFields(before, before))
}

func TestApplyInputsLeaveUnsetFieldsAlone(t *testing.T) {
	th := &model.Thing{URLs: []string{"https://example.com/a"}, Label: mlstring.String{"en": "A"}}
	applyThingInput(th, ThingInput{URLs: []string{" https://example.com/b ", ""}})
	assert.Equal(t, []string{"https://example.com/b"}, th.URLs)
	assert.Equal(t, mlstring.String{"en": "A"}, th.Label)

	yes := true
	team := &model.Team{Name: mlstring.String{"en": "Readers"}}
	applyTeamInput(team, TeamInput{OnlyModsCanBlog: &yes})
	assert.True(t, team.OnlyModsCanBlog)
	assert.False(t, team.ModApprovalToJoin)
	assert.Equal(t, mlstring.String{"en": "Readers"}, team.Name)

	r := &model.Review{StarRating: 3, Teams: []string{"a"}}
	applyReviewInput(r, ReviewInput{StarRating: 5.0})
	assert.Equal(t, 5, r.StarRating)
	assert.Equal(t, []string{"a"}, r.Teams)
	applyReviewInput(r, ReviewInput{StarRating: "five"})
	var ve *domain.ValidationError
	assert.ErrorAs(t, r.Validate(), &ve)
}
