package search

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reviewcore/internal/mlstring"
	"reviewcore/internal/model"
	"reviewcore/internal/revision"
)

type fakeBackend struct {
	mu      sync.Mutex
	healthy bool
	err     error
	results []Result
	things  []ThingRecord
	reviews []ReviewRecord
	deleted []string
	ops     []string
	gate    chan struct{}
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) Search(Query) ([]Result, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.results, len(f.results), nil
}

func (f *fakeBackend) IndexThing(t ThingRecord) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.things = append(f.things, t)
	f.ops = append(f.ops, "index "+t.ID)
	return nil
}

func (f *fakeBackend) IndexReview(r ReviewRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews = append(f.reviews, r)
	return nil
}

func (f *fakeBackend) DeleteThing(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	f.ops = append(f.ops, "delete "+id)
	return nil
}

func (f *fakeBackend) DeleteReview(id string) error { return f.DeleteThing(id) }

func TestSearchFallsBack(t *testing.T) {
	primary := &fakeBackend{healthy: true, err: errors.New("down")}
	fallback := &fakeBackend{healthy: true, results: []Result{{Type: ResultThing, ID: "t1"}}}
	s := NewService(primary, fallback, zerolog.Nop())

	resp := s.Search(Query{Text: "dune"})
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "t1", resp.Results[0].ID)
	assert.Equal(t, "dune", resp.Query)

	primary.err = nil
	primary.results = []Result{{Type: ResultReview, ID: "r1"}}
	resp = s.Search(Query{Text: "dune"})
	assert.Equal(t, "r1", resp.Results[0].ID)
}

func TestSearchWithoutBackends(t *testing.T) {
	s := NewService(nil, nil, zerolog.Nop())
	resp := s.Search(Query{Text: "x"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestIndexWritesSkipUnhealthyPrimary(t *testing.T) {
	primary := &fakeBackend{}
	s := NewService(primary, nil, zerolog.Nop())
	s.IndexThing(ThingRecord{ID: "t1"})
	s.Wait()
	assert.Empty(t, primary.things)

	primary.healthy = true
	s.IndexThing(ThingRecord{ID: "t1"})
	s.IndexReview(ReviewRecord{ID: "r1"})
	s.DeleteReview("r0")
	s.Wait()
	assert.Len(t, primary.things, 1)
	assert.Len(t, primary.reviews, 1)
	assert.Equal(t, []string{"r0"}, primary.deleted)
}

func TestIndexWritesKeepOrderPerDocument(t *testing.T) {
	primary := &fakeBackend{healthy: true, gate: make(chan struct{})}
	s := NewService(primary, nil, zerolog.Nop())

	s.IndexThing(ThingRecord{ID: "t1"})
	s.DeleteThing("t1")
	s.DeleteThing("t2")

	// The unrelated delete is not held up by the blocked index write.
	require.Eventually(t, func() bool {
		primary.mu.Lock()
		defer primary.mu.Unlock()
		return len(primary.ops) == 1
	}, time.Second, 5*time.Millisecond)
	primary.mu.Lock()
	assert.Equal(t, []string{"delete t2"}, primary.ops)
	primary.mu.Unlock()

	close(primary.gate)
	s.Wait()
	assert.Equal(t, []string{"delete t2", "index t1", "delete t1"}, primary.ops)

	s.mu.Lock()
	assert.Empty(t, s.tails)
	s.mu.Unlock()
}

func TestRecordsFromDocuments(t *testing.T) {
	thing := &model.Thing{
		Meta:              revision.Meta{ID: "t1"},
		URLs:              []string{"https://example.com"},
		Label:             mlstring.String{"en": "Dune"},
		Aliases:           mlstring.List{"en": {"Dune (novel)"}},
		CanonicalSlugName: "dune",
	}
	rec := ThingRecordFrom(thing)
	assert.Equal(t, "dune", rec.Slug)
	assert.Equal(t, []string{"Dune (novel)"}, rec.Aliases)
	thing.Label["en"] = "changed"
	assert.Equal(t, "Dune", rec.Label["en"], "records do not alias documents")

	review := &model.Review{Meta: revision.Meta{ID: "r1"}, ThingID: "t1", StarRating: 4, Title: mlstring.String{"de": "Gut"}}
	rr := ReviewRecordFrom(review)
	assert.Equal(t, "t1", rr.ThingID)
	title, lang := resolve(rr.Title, "fr")
	assert.Equal(t, "Gut", title)
	assert.Equal(t, "de", lang)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("  short ", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 3))
}
