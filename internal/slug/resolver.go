package slug

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"reviewcore/internal/domain"
	"reviewcore/internal/metrics"
	"reviewcore/internal/util"
)

// Lookuper maps a name to a document id.
type Lookuper interface {
	Lookup(ctx context.Context, name string) (string, error)
}

// Getter loads the current live revision of a document.
type Getter[P any] interface {
	GetNotStaleOrDeleted(ctx context.Context, id string) (P, error)
}

// Resolver turns a URL path segment into a document.
type Resolver[P any] struct {
	slugs     Lookuper
	docs      Getter[P]
	canonical func(P) string
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// NewResolver builds a resolver. canonical returns the document's
// canonical slug name, empty if it has none.
func NewResolver[P any](slugs Lookuper, docs Getter[P], canonical func(P) string, log zerolog.Logger, m *metrics.Metrics) *Resolver[P] {
	return &Resolver[P]{slugs: slugs, docs: docs, canonical: canonical, log: log, metrics: m}
}

// ResolveAndLoad loads the document named by candidate. If candidate is an
// alias, or a bare id of a document with a slug, it returns a
// *domain.RedirectedError whose Target is requestPath with the candidate
// segment replaced by the canonical name and rawQuery appended unchanged.
func (r *Resolver[P]) ResolveAndLoad(ctx context.Context, requestPath, rawQuery, candidate string) (P, error) {
	var zero P
	ctx, span := tracer.Start(ctx, "Slug.Resolver.ResolveAndLoad")
	defer span.End()

	id, err := r.slugs.Lookup(ctx, candidate)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrDocumentNotFound) && util.IsID(candidate):
		id = candidate
	case errors.Is(err, domain.ErrDocumentNotFound):
		r.metrics.SlugResolution("not_found")
		return zero, err
	default:
		r.metrics.SlugResolution("error")
		span.RecordError(err)
		return zero, err
	}

	doc, err := r.docs.GetNotStaleOrDeleted(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrDocumentNotFound) {
			r.metrics.SlugResolution("not_found")
		} else {
			r.metrics.SlugResolution("error")
			span.RecordError(err)
		}
		return zero, err
	}

	canonical := r.canonical(doc)
	if canonical == "" || canonical == candidate {
		r.metrics.SlugResolution("match")
		return doc, nil
	}

	target := RedirectTarget(requestPath, candidate, canonical, rawQuery)
	r.metrics.SlugResolution("redirect")
	r.log.Debug().Str("from", candidate).Str("to", canonical).Msg("slug redirect")
	return zero, &domain.RedirectedError{Target: target}
}

// RedirectTarget replaces the last path segment equal to from with to and
// appends rawQuery verbatim.
func RedirectTarget(requestPath, from, to, rawQuery string) string {
	segments := strings.Split(requestPath, "/")
	replaced := false
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if unescaped, err := url.PathUnescape(seg); err == nil {
			seg = unescaped
		}
		if seg == from {
			segments[i] = url.PathEscape(to)
			replaced = true
			break
		}
	}
	target := strings.Join(segments, "/")
	if !replaced {
		target = "/" + url.PathEscape(to)
	}
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}
