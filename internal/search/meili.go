package search

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const (
	idxThings  = "reviewcore_things"
	idxReviews = "reviewcore_reviews"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     zerolog.Logger
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string, log zerolog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
		log:    log,
	}

	if _, err := client.Health(); err != nil {
		m.log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxThings,
			primaryKey: "id",
			filterable: []string{"urls", "slug"},
			searchable: []string{"label", "aliases", "description"},
		},
		{
			uid:        idxReviews,
			primaryKey: "id",
			filterable: []string{"thingID", "createdBy", "starRating"},
			searchable: []string{"title", "text"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			m.log.Debug().Err(err).Str("index", idx.uid).Msg("create index (may already exist)")
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			m.log.Warn().Err(err).Str("index", idx.uid).Msg("update filterable attributes")
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			m.log.Warn().Err(err).Str("index", idx.uid).Msg("update searchable attributes")
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info().Msg("meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or one, when filtered) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, ti := range []struct {
		uid  string
		rtyp ResultType
	}{
		{idxThings, ResultThing},
		{idxReviews, ResultReview},
	} {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		queries = append(queries, &meili.SearchRequest{
			IndexUID:         ti.uid,
			Query:            q.Text,
			Limit:            limit,
			Offset:           int64(q.Offset),
			ShowRankingScore: true,
		})
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp, q.Lang))
		}
	}
	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxThings:
		return ResultThing
	case idxReviews:
		return ResultReview
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType, lang string) Result {
	r := Result{Type: rtyp, ID: decodeString(hit, "id")}
	switch rtyp {
	case ResultThing:
		r.ThingID = r.ID
		r.Title, r.Language = resolve(decodeLangMap(hit, "label"), lang)
		r.Snippet, _ = resolve(decodeLangMap(hit, "description"), lang)
	case ResultReview:
		r.ThingID = decodeString(hit, "thingID")
		r.Title, r.Language = resolve(decodeLangMap(hit, "title"), lang)
		r.Snippet, _ = resolve(decodeLangMap(hit, "text"), lang)
		r.Snippet = truncate(r.Snippet, 200)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeLangMap(hit meili.Hit, key string) map[string]string {
	raw, ok := hit[key]
	if !ok {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func (m *Meili) IndexThing(t ThingRecord) error {
	_, err := m.client.Index(idxThings).AddDocuments([]ThingRecord{t}, nil)
	return err
}

func (m *Meili) IndexReview(r ReviewRecord) error {
	_, err := m.client.Index(idxReviews).AddDocuments([]ReviewRecord{r}, nil)
	return err
}

func (m *Meili) DeleteThing(id string) error {
	_, err := m.client.Index(idxThings).DeleteDocument(id, nil)
	return err
}

func (m *Meili) DeleteReview(id string) error {
	_, err := m.client.Index(idxReviews).DeleteDocument(id, nil)
	return err
}

// IndexThings bulk-indexes things.
func (m *Meili) IndexThings(things []ThingRecord) error {
	if len(things) == 0 {
		return nil
	}
	_, err := m.client.Index(idxThings).AddDocuments(things, nil)
	return err
}

// IndexReviews bulk-indexes reviews.
func (m *Meili) IndexReviews(reviews []ReviewRecord) error {
	if len(reviews) == 0 {
		return nil
	}
	_, err := m.client.Index(idxReviews).AddDocuments(reviews, nil)
	return err
}
