package codec

import (
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewcore/internal/mlstring"
)

type Meta struct {
	ID         string   `json:"id"`
	RevisionID string   `json:"revisionID"`
	Tags       []string `json:"revisionTags"`
	Parent     *string  `json:"revisionParent"`
	Stale      bool     `json:"staleFlag" db:"stale"`
	persisted  bool
}

type Flags struct {
	UserCanEdit bool `json:"userCanEdit"`
}

type syncState struct {
	Active bool   `json:"active"`
	Source string `json:"source"`
}

type sample struct {
	Meta
	Flags `db:"-"`

	Title     mlstring.String      `json:"title"`
	Sync      map[string]syncState `json:"sync"`
	Rating    int                  `json:"starRating"`
	ThingID   string               `json:"thingID"`
	CreatedOn time.Time            `json:"createdOn"`
	Hash      string               `json:"-" db:"password_hash"`
	Skipped   string               `json:"-"`
	Teams     []string             `json:"teams" db:"-"`
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"id":                "id",
		"revisionUser":      "revision_user",
		"thingID":           "thing_id",
		"isSiteModerator":   "is_site_moderator",
		"HTMLBody":          "html_body",
		"url2Label":         "url2_label",
		"modApprovalToJoin": "mod_approval_to_join",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}

func TestCamelCase(t *testing.T) {
	cases := map[string]string{
		"id":                   "id",
		"revision_user":        "revisionUser",
		"thing_id":             "thingID",
		"previous_revision_of": "previousRevisionOf",
	}
	for in, want := range cases {
		assert.Equal(t, want, CamelCase(in), in)
	}
}

func TestSchemaColumns(t *testing.T) {
	s := SchemaOf(reflect.TypeOf(sample{}))
	assert.Equal(t, []string{
		"id", "revision_id", "revision_tags", "revision_parent", "stale",
		"title", "sync", "star_rating", "thing_id", "created_on", "password_hash",
	}, s.Columns())

	f, ok := s.Lookup("staleFlag")
	require.True(t, ok)
	assert.Equal(t, "stale", f.Column)
	assert.False(t, f.JSON)

	f, ok = s.Lookup("revision_tags")
	require.True(t, ok)
	assert.True(t, f.JSON)

	f, _ = s.Lookup("title")
	assert.False(t, f.JSON, "valuer types are passed through")

	_, ok = s.Lookup("teams")
	assert.False(t, ok)
	assert.Same(t, s, For(&sample{}))
}

func TestValues(t *testing.T) {
	parent := "rev-0"
	doc := &sample{
		Meta:   Meta{ID: "doc-1", RevisionID: "rev-1", Tags: []string{"edit"}, Parent: &parent},
		Title:  mlstring.String{"en": "Dune"},
		Rating: 4,
		Hash:   "secret",
	}
	values, err := For(doc).Values(doc)
	require.NoError(t, err)

	assert.Equal(t, "doc-1", values[0])
	assert.JSONEq(t, `["edit"]`, values[2].(string))
	assert.Equal(t, "rev-0", values[3])
	assert.JSONEq(t, `{"en":"Dune"}`, values[5].(string))
	assert.Equal(t, "{}", values[6], "nil map is stored as an empty object")
	assert.Equal(t, 4, values[7])
	assert.Equal(t, "secret", values[10])

	doc.Parent, doc.Tags = nil, nil
	values, err = For(doc).Values(doc)
	require.NoError(t, err)
	assert.Nil(t, values[3])
	assert.Equal(t, "[]", values[2])
}

func TestTargetsScan(t *testing.T) {
	doc := &sample{Sync: map[string]syncState{"old": {}}}
	targets := For(doc).Targets(doc)

	*(targets[0].(*string)) = "doc-1"
	require.NoError(t, targets[2].(sql.Scanner).Scan([]byte(`["create"]`)))
	require.NoError(t, targets[5].(sql.Scanner).Scan(`{"en":"Dune","de":"Wüste"}`))
	require.NoError(t, targets[6].(sql.Scanner).Scan([]byte(`{"label":{"active":true,"source":"wikidata"}}`)))

	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, []string{"create"}, doc.Tags)
	assert.Equal(t, "Wüste", doc.Title["de"])
	assert.Equal(t, map[string]syncState{"label": {Active: true, Source: "wikidata"}}, doc.Sync)

	require.NoError(t, targets[6].(sql.Scanner).Scan(nil))
	assert.Nil(t, doc.Sync)
	assert.Error(t, targets[6].(sql.Scanner).Scan(12))
}

func TestRowRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	doc := &sample{
		Meta:      Meta{ID: "doc-1", RevisionID: "rev-1", Stale: true},
		Title:     mlstring.String{"en": "Dune"},
		Rating:    5,
		ThingID:   "thing-1",
		CreatedOn: now,
	}
	row := ToRow(doc)
	assert.Equal(t, true, row["stale"])
	assert.Equal(t, "thing-1", row["thing_id"])

	var back sample
	require.NoError(t, FromRow(row, &back))
	assert.Equal(t, doc.ID, back.ID)
	assert.Equal(t, doc.Title, back.Title)
	assert.Equal(t, now, back.CreatedOn)
	assert.True(t, back.Stale)

	require.NoError(t, FromRow(map[string]any{
		"star_rating":     int64(3),
		"title":           []byte(`{"fr":"Dune"}`),
		"revision_parent": "rev-0",
		"sync":            `{"label":{"active":true}}`,
		"unknown":         "ignored",
	}, &back))
	assert.Equal(t, 3, back.Rating)
	assert.Equal(t, mlstring.String{"fr": "Dune"}, back.Title)
	require.NotNil(t, back.Parent)
	assert.Equal(t, "rev-0", *back.Parent)
	assert.True(t, back.Sync["label"].Active)

	assert.Error(t, FromRow(map[string]any{"star_rating": "five"}, &back))
}

func TestDeepCopy(t *testing.T) {
	parent := "rev-0"
	src := &sample{
		Meta:  Meta{ID: "doc-1", Tags: []string{"create"}, Parent: &parent, persisted: true},
		Title: mlstring.String{"en": "Dune"},
		Sync:  map[string]syncState{"label": {Active: true}},
		Teams: []string{"team-1"},
	}
	var dst sample
	DeepCopy(&dst, src)

	dst.Title["en"] = "Children of Dune"
	dst.Tags[0] = "edit"
	*dst.Parent = "rev-9"
	dst.Teams[0] = "team-2"
	dst.Sync["label"] = syncState{}

	assert.Equal(t, "Dune", src.Title["en"])
	assert.Equal(t, "create", src.Tags[0])
	assert.Equal(t, "rev-0", parent)
	assert.Equal(t, "team-1", src.Teams[0])
	assert.True(t, src.Sync["label"].Active)
	assert.True(t, dst.persisted, "unexported state is copied shallowly")
}

func TestDuplicateColumnPanics(t *testing.T) {
	type clash struct {
		A string `json:"a" db:"x"`
		B string `json:"b" db:"x"`
	}
	assert.Panics(t, func() { SchemaOf(reflect.TypeOf(clash{})) })
}
