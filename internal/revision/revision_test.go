package revision

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewcore/internal/domain"
)

type note struct {
	Meta
	Title     string            `json:"title"`
	Labels    map[string]string `json:"labels"`
	Stars     int               `json:"stars"`
	CreatedOn time.Time         `json:"createdOn"`
}

func (n *note) Validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return domain.Invalid("title", "required")
	}
	if n.Stars < 0 || n.Stars > 5 {
		return domain.Invalid("stars", "must be between 0 and 5")
	}
	return nil
}

func fixedClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func newNotes() *Table[note, *note] {
	return NewTable[note](nil, "notes", WithClock(fixedClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))))
}

func TestCreateFirstRevision(t *testing.T) {
	notes := newNotes()
	doc := notes.CreateFirstRevision("u-1", "create")
	m := doc.Revision()

	assert.NotEmpty(t, m.ID)
	assert.NotEmpty(t, m.RevisionID)
	assert.NotEqual(t, m.ID, m.RevisionID)
	assert.Equal(t, "u-1", m.RevisionUser)
	assert.Equal(t, []string{"create"}, m.RevisionTags)
	assert.Nil(t, m.PreviousRevisionOf)
	assert.Nil(t, m.RevisionParent)
	assert.Equal(t, StateCurrent, m.State())
	assert.False(t, m.Persisted())
	assert.Empty(t, doc.Title)
}

func TestNewRevision(t *testing.T) {
	notes := newNotes()
	doc := notes.CreateFirstRevision("u-1", "create")
	doc.Title = "first"
	doc.Labels = map[string]string{"en": "one"}

	_, err := notes.NewRevision(doc, "u-2", "edit")
	var se *domain.StaleDocumentError
	require.ErrorAs(t, err, &se, "unsaved documents cannot be branched")
	assert.Equal(t, doc.ID, se.ID)

	doc.persisted = true
	next, err := notes.NewRevision(doc, "u-2", "edit")
	require.NoError(t, err)

	nm := next.Revision()
	assert.Equal(t, doc.ID, nm.ID)
	assert.NotEqual(t, doc.RevisionID, nm.RevisionID)
	require.NotNil(t, nm.RevisionParent)
	assert.Equal(t, doc.RevisionID, *nm.RevisionParent)
	assert.Equal(t, "u-2", nm.RevisionUser)
	assert.Equal(t, []string{"edit"}, nm.RevisionTags)
	assert.True(t, nm.RevisionDate.After(doc.RevisionDate))
	assert.False(t, nm.Persisted())
	assert.Equal(t, "first", next.Title)

	next.Labels["en"] = "changed"
	assert.Equal(t, "one", doc.Labels["en"], "content maps must not be shared")
}

func TestNewRevisionRejectsStaleAndDeleted(t *testing.T) {
	notes := newNotes()
	for _, tc := range []struct {
		name    string
		mutate  func(*Meta)
		deleted bool
	}{
		{name: "stale", mutate: func(m *Meta) { m.Stale = true }},
		{name: "deleted", mutate: func(m *Meta) { m.Deleted = true }, deleted: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			doc := notes.CreateFirstRevision("u-1")
			doc.persisted = true
			tc.mutate(&doc.Meta)

			_, err := notes.NewRevision(doc, "u-1")
			var se *domain.StaleDocumentError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tc.deleted, se.Deleted)
		})
	}
}

func TestSaveRejectsBeforeTouchingStore(t *testing.T) {
	notes := newNotes()
	ctx := context.Background()

	doc := notes.CreateFirstRevision("u-1")
	err := notes.SaveTx(ctx, nil, doc)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "title", ve.Field)

	doc.persisted = true
	assert.ErrorIs(t, notes.SaveTx(ctx, nil, doc), ErrAlreadyPersisted)

	blank := &note{Title: "x"}
	require.ErrorAs(t, notes.SaveTx(ctx, nil, blank), &ve)
	assert.Equal(t, "id", ve.Field)
}

func TestState(t *testing.T) {
	assert.Equal(t, StateCurrent, (&Meta{}).State())
	assert.Equal(t, StateSuperseded, (&Meta{Stale: true}).State())
	assert.Equal(t, StateDeleted, (&Meta{Stale: true, Deleted: true}).State())
	assert.True(t, (&Meta{RevisionTags: []string{"create", "import"}}).HasTag("import"))
}

func TestInsertSQL(t *testing.T) {
	notes := newNotes()
	got := notes.insertSQL()
	assert.True(t, strings.HasPrefix(got, "INSERT INTO notes (id, revision_id, revision_user, revision_date, revision_tags, revision_parent, previous_revision_of, stale, deleted, deleted_by, deleted_on, title, labels, stars, created_on)"), got)
	assert.True(t, strings.HasSuffix(got, "$14, $15)"), got)
	assert.Equal(t, "x.id, x.revision_id", strings.Join(strings.Split(notes.SelectList("x"), ", ")[:2], ", "))
}

func TestQueryBuild(t *testing.T) {
	notes := newNotes()

	q := notes.FilterNotStaleOrDeleted().
		Where("stars", ">=", 3).
		WhereIn("id", []string{"a", "b"}).
		WhereLinked("note_teams", "note_id", "team_id", "team-1").
		OrderBy("createdOn", true).
		Limit(5)
	require.NoError(t, q.err)

	assert.Equal(t,
		"SELECT count(*) FROM notes d WHERE NOT d.stale AND NOT d.deleted AND d.stars >= $1 AND d.id = ANY($2) "+
			"AND EXISTS (SELECT 1 FROM note_teams j WHERE j.note_id = d.id AND j.team_id = $3)",
		q.build("count(*)", false))
	assert.Equal(t, []any{3, []string{"a", "b"}, "team-1"}, q.args)
	assert.True(t, strings.HasSuffix(q.build("*", true), "ORDER BY d.created_on DESC, d.revision_id DESC LIMIT 5"))

	def := notes.Filter().build("*", true)
	assert.Equal(t, "SELECT * FROM notes d ORDER BY d.revision_date DESC, d.revision_id DESC", def)
}

func TestQueryBuilderIsImmutable(t *testing.T) {
	notes := newNotes()
	base := notes.FilterNotStaleOrDeleted()
	a := base.Where("title", "=", "a")
	b := base.Where("title", "=", "b")

	assert.Len(t, base.args, 0)
	assert.Equal(t, []any{"a"}, a.args)
	assert.Equal(t, []any{"b"}, b.args)
}

func TestQueryErrors(t *testing.T) {
	notes := newNotes()
	ctx := context.Background()

	cases := map[string]*Query[note, *note]{
		"unknown field":   notes.Filter().Where("nope", "=", 1),
		"bad operator":    notes.Filter().Where("stars", "LIKE", 1),
		"bad identifier":  notes.Filter().WhereLinked("teams; DROP", "a", "b", 1),
		"unknown order":   notes.Filter().OrderBy("nope", false),
		"unknown in-list": notes.Filter().WhereIn("nope", nil),
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := q.Run(ctx)
			assert.Error(t, err)
			_, err = q.Count(ctx)
			assert.Error(t, err)
			for _, err := range q.All(ctx) {
				assert.Error(t, err)
			}
		})
	}

	_, err := notes.Filter().Feed(ctx, FeedOptions{Field: "nope"})
	assert.Error(t, err)
}

func TestNewTableRejectsBadName(t *testing.T) {
	assert.Panics(t, func() { NewTable[note](nil, "notes; drop") })
}
