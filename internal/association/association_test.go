package association_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewcore/internal/association"
	"reviewcore/internal/domain"
	"reviewcore/internal/model"
	"reviewcore/internal/revision"
)

func TestReverse(t *testing.T) {
	rev := model.TeamMembers.Reverse()
	assert.Equal(t, "user_id", rev.OwnerColumn)
	assert.Equal(t, "team_id", rev.TargetColumn)
	assert.Equal(t, model.TeamMembers, rev.Reverse())
}

func TestReplaceRejectsBadInput(t *testing.T) {
	m := association.NewManager(nil, zerolog.Nop(), nil)
	ctx := context.Background()

	bad := association.Relation{Name: "x", Table: "team_members; drop", OwnerColumn: "a", TargetColumn: "b"}
	require.Error(t, m.Replace(ctx, nil, bad, "owner", nil))

	var ve *domain.ValidationError
	require.ErrorAs(t, m.Replace(ctx, nil, model.TeamMembers, "team", []string{"u1", " "}), &ve)
	assert.Equal(t, "members", ve.Field)
}

func TestSaveAllNeedsLoadedRelations(t *testing.T) {
	m := association.NewManager(nil, zerolog.Nop(), nil)
	teams := revision.NewTable[model.Team](nil, model.TeamsTable)
	team := teams.CreateFirstRevision("u1", "create")
	team.Members = []string{"u1"}

	err := association.SaveAll(context.Background(), m, teams, team, model.TeamMembers, model.TeamModerators)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "moderators", ve.Field)
	assert.False(t, team.Persisted())
}
