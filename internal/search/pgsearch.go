package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"reviewcore/internal/mlstring"
)

// PgSearch implements Searcher over the current rows in PostgreSQL. It is
// the fallback when Meilisearch is not configured or unhealthy.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; without Postgres nothing works anyway.
func (p *PgSearch) Healthy() bool {
	return true
}

const (
	thingVector  = `jsonb_to_tsvector('simple', t.label, '["string"]') || jsonb_to_tsvector('simple', t.aliases, '["string"]')`
	reviewVector = `jsonb_to_tsvector('simple', r.title, '["string"]') || jsonb_to_tsvector('simple', r.text, '["string"]')`
	tsQuery      = `plainto_tsquery('simple', $1)`
)

// Search ranks current, non-deleted things and reviews with ts_rank over
// every language of their multilingual text.
func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(q.Offset, 0)

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultThing {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'thing'::text AS type, t.id, t.label AS title, t.metadata->'description' AS snippet,
				t.id AS thing_id, ts_rank(%[1]s, %[2]s) AS rank, t.revision_date
			FROM things t
			WHERE NOT t.stale AND NOT t.deleted AND %[1]s @@ %[2]s`, thingVector, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultReview {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'review'::text AS type, r.id, r.title, r.text AS snippet,
				r.thing_id, ts_rank(%[1]s, %[2]s) AS rank, r.revision_date
			FROM reviews r
			WHERE NOT r.stale AND NOT r.deleted AND %[1]s @@ %[2]s`, reviewVector, tsQuery))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM (`+union+`) sub`, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgsearch count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, id, title, coalesce(snippet, '{}'::jsonb), thing_id
		FROM (%s) sub
		ORDER BY rank DESC, revision_date DESC
		LIMIT %d OFFSET %d`, union, limit, offset), q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgsearch query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r              Result
			typ            string
			title, snippet mlstring.String
		)
		if err := rows.Scan(&typ, &r.ID, &title, &snippet, &r.ThingID); err != nil {
			return nil, 0, fmt.Errorf("pgsearch scan: %w", err)
		}
		r.Type = ResultType(typ)
		r.Title, r.Language = resolve(title, q.Lang)
		text, _ := resolve(snippet, q.Lang)
		r.Snippet = truncate(text, 200)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every current thing and review for reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]ThingRecord, []ReviewRecord, error) {
	thingRows, err := p.db.QueryContext(ctx, `
		SELECT id, label, aliases, metadata->'description', urls, canonical_slug_name
		FROM things
		WHERE NOT stale AND NOT deleted
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load things: %w", err)
	}
	defer thingRows.Close()

	things := make([]ThingRecord, 0)
	for thingRows.Next() {
		var (
			t           ThingRecord
			label, desc mlstring.String
			aliases     mlstring.List
			urls        jsonStrings
		)
		if err := thingRows.Scan(&t.ID, &label, &aliases, &desc, &urls, &t.Slug); err != nil {
			return nil, nil, fmt.Errorf("scan thing: %w", err)
		}
		t.Label, t.Description, t.URLs = label, desc, urls
		for _, values := range aliases {
			t.Aliases = append(t.Aliases, values...)
		}
		things = append(things, t)
	}
	if err := thingRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate things: %w", err)
	}

	reviewRows, err := p.db.QueryContext(ctx, `
		SELECT id, thing_id, title, text, star_rating, created_by
		FROM reviews
		WHERE NOT stale AND NOT deleted
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load reviews: %w", err)
	}
	defer reviewRows.Close()

	reviews := make([]ReviewRecord, 0)
	for reviewRows.Next() {
		var (
			r           ReviewRecord
			title, text mlstring.String
		)
		if err := reviewRows.Scan(&r.ID, &r.ThingID, &title, &text, &r.StarRating, &r.CreatedBy); err != nil {
			return nil, nil, fmt.Errorf("scan review: %w", err)
		}
		r.Title, r.Text = title, text
		reviews = append(reviews, r)
	}
	if err := reviewRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate reviews: %w", err)
	}

	return things, reviews, nil
}
