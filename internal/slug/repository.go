package slug

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"reviewcore/internal/domain"
	"reviewcore/internal/logger"
	"reviewcore/internal/metrics"
	"reviewcore/internal/revision"
	"reviewcore/internal/store"
)

var tracer = otel.Tracer("reviewcore/slug")

// maxQualifier bounds the base-N search in Claim.
const maxQualifier = 1000

// Slug is one stored name.
type Slug struct {
	Name          string    `json:"name"`
	BaseName      string    `json:"baseName"`
	QualifierPart string    `json:"qualifierPart,omitempty"`
	DocumentID    string    `json:"documentID"`
	CreatedBy     string    `json:"createdBy"`
	CreatedOn     time.Time `json:"createdOn"`
}

// Repository reads and claims names in one slug table.
type Repository struct {
	db      *sql.DB
	table   string
	cache   Cache
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Repository)

func WithCache(c Cache) Option { return func(r *Repository) { r.cache = c } }

func WithLogger(l zerolog.Logger) Option {
	return func(r *Repository) { r.log = logger.Component(l, "slug").With().Str("table", r.table).Logger() }
}

func WithMetrics(m *metrics.Metrics) Option { return func(r *Repository) { r.metrics = m } }

func WithClock(now func() time.Time) Option { return func(r *Repository) { r.now = now } }

func NewRepository(db *sql.DB, table string, opts ...Option) *Repository {
	if !revision.ValidIdent(table) {
		panic(fmt.Sprintf("slug: invalid table name %q", table))
	}
	r := &Repository{db: db, table: table, log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Table() string { return r.table }

// Lookup returns the document id a name points to.
func (r *Repository) Lookup(ctx context.Context, name string) (string, error) {
	ctx, span := tracer.Start(ctx, "Slug.Repository.Lookup", trace.WithAttributes(
		attribute.String("reviewcore.table", r.table),
		attribute.String("reviewcore.slug", name),
	))
	defer span.End()

	if r.cache != nil {
		id, ok, err := r.cache.Get(ctx, r.table, name)
		switch {
		case err != nil:
			r.metrics.SlugCache("error")
			r.log.Warn().Err(err).Str("slug", name).Msg("slug cache unavailable")
		case ok:
			r.metrics.SlugCache("hit")
			return id, nil
		default:
			r.metrics.SlugCache("miss")
		}
	}

	var id string
	err := r.db.QueryRowContext(ctx, `SELECT document_id FROM `+r.table+` WHERE name = $1`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.NotFoundError{Table: r.table, ID: name}
	}
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("lookup slug %s: %w", name, err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, r.table, name, id); err != nil {
			r.log.Warn().Err(err).Str("slug", name).Msg("slug cache write failed")
		}
	}
	return id, nil
}

// Claim returns a name for docID derived from base. A name the document
// already holds for base is reused; otherwise the first free name of base,
// base-2, base-3, ... is inserted. Existing rows are never changed.
func (r *Repository) Claim(ctx context.Context, q store.Querier, docID, userID, base string) (string, error) {
	ctx, span := tracer.Start(ctx, "Slug.Repository.Claim", trace.WithAttributes(
		attribute.String("reviewcore.table", r.table),
		attribute.String("reviewcore.id", docID),
	))
	defer span.End()

	var owned string
	err := q.QueryRowContext(ctx, `
		SELECT name FROM `+r.table+`
		WHERE document_id = $1 AND base_name = $2
		ORDER BY created_on, name
		LIMIT 1
	`, docID, base).Scan(&owned)
	switch {
	case err == nil:
		return owned, nil
	case !errors.Is(err, sql.ErrNoRows):
		span.RecordError(err)
		return "", fmt.Errorf("find slug for %s: %w", docID, err)
	}

	createdOn := r.now().UTC()
	for i := 1; i <= maxQualifier; i++ {
		name, qualifier := base, ""
		if i > 1 {
			qualifier = strconv.Itoa(i)
			name = base + "-" + qualifier
		}
		if needsQualifier(name) {
			continue
		}

		res, err := q.ExecContext(ctx, `
			INSERT INTO `+r.table+` (name, base_name, qualifier_part, document_id, created_by, created_on)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (name) DO NOTHING
		`, name, base, qualifier, docID, userID, createdOn)
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("claim slug %s: %w", name, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return "", fmt.Errorf("claim slug %s: %w", name, err)
		} else if n == 1 {
			r.log.Debug().Str("slug", name).Str("id", docID).Msg("slug claimed")
			return name, nil
		}
	}
	return "", domain.Invalid("slug", "no free name for %q", base)
}

// ForDocument lists every name that points to docID, oldest first.
func (r *Repository) ForDocument(ctx context.Context, docID string) ([]Slug, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, base_name, qualifier_part, document_id, created_by, created_on
		FROM `+r.table+`
		WHERE document_id = $1
		ORDER BY created_on, name
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("list slugs for %s: %w", docID, err)
	}
	defer rows.Close()

	var out []Slug
	for rows.Next() {
		var s Slug
		if err := rows.Scan(&s.Name, &s.BaseName, &s.QualifierPart, &s.DocumentID, &s.CreatedBy, &s.CreatedOn); err != nil {
			return nil, fmt.Errorf("scan slug: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
