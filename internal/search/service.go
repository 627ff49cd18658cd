package search

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"reviewcore/internal/logger"
)

// Backend is a search engine that can also be written to.
type Backend interface {
	Searcher
	Indexer
}

// Service is the facade that tries the primary backend first and falls
// back to Postgres. Index writes are fire-and-forget, but writes for the
// same document reach the backend in the order they were issued.
type Service struct {
	primary  Backend
	fallback Searcher
	log      zerolog.Logger
	wg       sync.WaitGroup

	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewService creates a search service. primary may be nil when Meilisearch
// is not configured.
func NewService(primary Backend, fallback Searcher, log zerolog.Logger) *Service {
	return &Service{
		primary:  primary,
		fallback: fallback,
		log:      logger.Component(log, "search"),
		tails:    map[string]chan struct{}{},
	}
}

// Search tries the primary backend if healthy, otherwise the fallback.
func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("primary search failed, falling back")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.log.Error().Err(err).Msg("fallback search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// async queues fn behind any pending write for the same key.
func (s *Service) async(op, key string, fn func(Backend) error) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	s.mu.Lock()
	prev := s.tails[key]
	done := make(chan struct{})
	s.tails[key] = done
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if prev != nil {
			<-prev
		}
		if err := fn(s.primary); err != nil {
			s.log.Error().Err(err).Str("op", op).Str("key", key).Msg("index update failed")
		}
		close(done)
		s.mu.Lock()
		if s.tails[key] == done {
			delete(s.tails, key)
		}
		s.mu.Unlock()
	}()
}

func (s *Service) IndexThing(t ThingRecord) {
	s.async("index thing", "thing:"+t.ID, func(b Backend) error { return b.IndexThing(t) })
}

func (s *Service) IndexReview(r ReviewRecord) {
	s.async("index review", "review:"+r.ID, func(b Backend) error { return b.IndexReview(r) })
}

func (s *Service) DeleteThing(id string) {
	s.async("delete thing", "thing:"+id, func(b Backend) error { return b.DeleteThing(id) })
}

func (s *Service) DeleteReview(id string) {
	s.async("delete review", "review:"+id, func(b Backend) error { return b.DeleteReview(id) })
}

// Wait blocks until pending index writes finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// bulkIndexer is implemented by backends that accept batches.
type bulkIndexer interface {
	IndexThings([]ThingRecord) error
	IndexReviews([]ReviewRecord) error
}

// ReindexAllFromPG pushes every current thing and review into the primary
// backend. Called at startup when the primary is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context, pg *PgSearch) {
	if s.primary == nil || !s.primary.Healthy() || pg == nil {
		return
	}
	bulk, ok := s.primary.(bulkIndexer)
	if !ok {
		return
	}
	things, reviews, err := pg.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := bulk.IndexThings(things); err != nil {
		s.log.Error().Err(err).Msg("reindex things")
	}
	if err := bulk.IndexReviews(reviews); err != nil {
		s.log.Error().Err(err).Msg("reindex reviews")
	}
	s.log.Info().Int("things", len(things)).Int("reviews", len(reviews)).Msg("search index rebuilt")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
