package metasync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewcore/internal/mlstring"
	"reviewcore/internal/model"
)

type fakeAdapter struct {
	source string
	prefix string
	fields []string
	result Data
	err    error
	calls  int
}

func (f *fakeAdapter) SourceID() string          { return f.source }
func (f *fakeAdapter) Matches(url string) bool   { return strings.HasPrefix(url, f.prefix) }
func (f *fakeAdapter) SupportedFields() []string { return f.fields }

func (f *fakeAdapter) Lookup(_ context.Context, _ string) (Result, error) {
	f.calls++
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{Data: f.result, SourceID: f.source}, nil
}

var fixed = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func newThing(urls ...string) *model.Thing {
	return &model.Thing{URLs: urls, OriginalLanguage: "en"}
}

func TestSyncFirstURLOwnsField(t *testing.T) {
	wiki := &fakeAdapter{
		source: "wikidata", prefix: "https://www.wikidata.org/",
		fields: []string{model.FieldLabel, model.FieldDescription},
		result: Data{
			Label:       mlstring.String{"en": "Dune", "de": "Der Wüstenplanet"},
			Description: mlstring.String{"en": "novel by Frank Herbert"},
		},
	}
	books := &fakeAdapter{
		source: "openlibrary", prefix: "https://openlibrary.org/",
		fields: []string{model.FieldLabel, model.FieldSubtitle, model.FieldAuthors},
		result: Data{
			Label:   mlstring.String{"en": "DUNE (paperback)"},
			Authors: mlstring.List{"en": {"Frank Herbert"}},
		},
	}
	s := NewSyncer(NewRegistry(wiki, books), time.Minute, WithClock(func() time.Time { return fixed }))

	thing := newThing("https://www.wikidata.org/wiki/Q190192", "https://openlibrary.org/works/OL893415W")
	applied, err := s.Sync(context.Background(), thing)
	require.NoError(t, err)

	assert.Equal(t, []string{"wikidata", "openlibrary"}, applied)
	assert.Equal(t, "Dune", thing.Label["en"])
	assert.Equal(t, "Der Wüstenplanet", thing.Label["de"])
	assert.Equal(t, "novel by Frank Herbert", thing.Metadata.Description["en"])
	assert.Equal(t, []string{"Frank Herbert"}, thing.Metadata.Authors["en"])
	assert.Empty(t, thing.Metadata.Subtitle, "source had no subtitle")

	assert.Equal(t, "wikidata", thing.Sync[model.FieldLabel].Source)
	assert.Equal(t, "openlibrary", thing.Sync[model.FieldAuthors].Source)
	require.NotNil(t, thing.Sync[model.FieldLabel].Updated)
	assert.True(t, thing.Sync[model.FieldLabel].Updated.Equal(fixed))
	_, tracked := thing.Sync[model.FieldSubtitle]
	assert.False(t, tracked)
}

func TestSyncRespectsInactiveFields(t *testing.T) {
	wiki := &fakeAdapter{
		source: "wikidata", prefix: "https://",
		fields: []string{model.FieldLabel, model.FieldDescription},
		result: Data{Label: mlstring.String{"en": "Synced"}, Description: mlstring.String{"en": "synced"}},
	}
	s := NewSyncer(NewRegistry(wiki), time.Minute)

	thing := newThing("https://example.org/x")
	thing.Label = mlstring.String{"en": "Hand written"}
	thing.Sync = map[string]model.SyncState{model.FieldLabel: {Active: false}}

	applied, err := s.Sync(context.Background(), thing)
	require.NoError(t, err)
	assert.Equal(t, []string{"wikidata"}, applied)
	assert.Equal(t, "Hand written", thing.Label["en"])
	assert.Equal(t, "synced", thing.Metadata.Description["en"])
	assert.False(t, thing.Sync[model.FieldLabel].Active)
}

func TestSyncSkipsMergeWithoutOriginalLanguage(t *testing.T) {
	a := &fakeAdapter{
		source: "src", prefix: "https://",
		fields: []string{model.FieldLabel},
		result: Data{Label: mlstring.String{"fr": "Dune"}},
	}
	s := NewSyncer(NewRegistry(a), time.Minute)
	thing := newThing("https://example.org/x")

	applied, err := s.Sync(context.Background(), thing)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Empty(t, thing.Label)
}

func TestSyncCachesLookupsAndReportsFailures(t *testing.T) {
	good := &fakeAdapter{
		source: "good", prefix: "https://good/",
		fields: []string{model.FieldLabel},
		result: Data{Label: mlstring.String{"en": "Good"}},
	}
	bad := &fakeAdapter{source: "bad", prefix: "https://bad/", fields: []string{model.FieldDescription}, err: errors.New("timeout")}
	s := NewSyncer(NewRegistry(good, bad), time.Minute)

	for range 2 {
		thing := newThing("https://bad/1", "https://good/1", "https://nowhere/")
		applied, err := s.Sync(context.Background(), thing)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout")
		assert.Equal(t, []string{"good"}, applied)
	}
	assert.Equal(t, 1, good.calls, "successful lookups are cached")
	assert.Equal(t, 2, bad.calls, "failures are not cached")
}

func TestRegistryForURL(t *testing.T) {
	a := &fakeAdapter{source: "a", prefix: "https://a/"}
	b := &fakeAdapter{source: "b", prefix: "https://"}
	r := NewRegistry(a, b)

	got, ok := r.ForURL("https://a/x")
	require.True(t, ok)
	assert.Equal(t, "a", got.SourceID())

	got, ok = r.ForURL("https://b/x")
	require.True(t, ok)
	assert.Equal(t, "b", got.SourceID())

	_, ok = r.ForURL("ftp://x")
	assert.False(t, ok)
	assert.Len(t, r.Adapters(), 2)
}
