// Package search keeps current things and reviews in a full-text index.
package search

import (
	"reviewcore/internal/mlstring"
	"reviewcore/internal/model"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultThing  ResultType = "thing"
	ResultReview ResultType = "review"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	ThingID  string     `json:"thingID"`
	Language string     `json:"language,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Lang       string
	Limit      int
	Offset     int
}

// Response is the envelope returned to callers.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexThing(t ThingRecord) error
	IndexReview(r ReviewRecord) error
	DeleteThing(id string) error
	DeleteReview(id string) error
}

// ThingRecord is the data we index for a thing.
type ThingRecord struct {
	ID          string            `json:"id"`
	Label       map[string]string `json:"label"`
	Aliases     []string          `json:"aliases"`
	Description map[string]string `json:"description"`
	URLs        []string          `json:"urls"`
	Slug        string            `json:"slug,omitempty"`
}

// ReviewRecord is the data we index for a review.
type ReviewRecord struct {
	ID         string            `json:"id"`
	ThingID    string            `json:"thingID"`
	Title      map[string]string `json:"title"`
	Text       map[string]string `json:"text"`
	StarRating int               `json:"starRating"`
	CreatedBy  string            `json:"createdBy"`
}

func ThingRecordFrom(t *model.Thing) ThingRecord {
	var aliases []string
	for _, values := range t.Aliases {
		aliases = append(aliases, values...)
	}
	return ThingRecord{
		ID:          t.ID,
		Label:       t.Label.Clone(),
		Aliases:     aliases,
		Description: t.Metadata.Description.Clone(),
		URLs:        append([]string(nil), t.URLs...),
		Slug:        t.CanonicalSlugName,
	}
}

func ReviewRecordFrom(r *model.Review) ReviewRecord {
	return ReviewRecord{
		ID:         r.ID,
		ThingID:    r.ThingID,
		Title:      r.Title.Clone(),
		Text:       r.Text.Clone(),
		StarRating: r.StarRating,
		CreatedBy:  r.CreatedBy,
	}
}

// resolve picks the text for lang from a language map.
func resolve(m map[string]string, lang string) (string, string) {
	if lang == "" {
		lang = mlstring.DefaultLanguage
	}
	return mlstring.String(m).Resolve(lang)
}
