// Package metasync merges metadata from external sources into things.
// Adapters are supplied by the caller; this package only decides which
// adapter owns which field and records the per-field sync state.
package metasync

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"reviewcore/internal/logger"
	"reviewcore/internal/metrics"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/model"
)

var tracer = otel.Tracer("reviewcore/metasync")

// Data holds per-field values returned by an adapter. Nil fields were not
// found by the source.
type Data struct {
	Label       mlstring.String
	Description mlstring.String
	Subtitle    mlstring.String
	Authors     mlstring.List
}

func (d Data) has(field string) bool {
	switch field {
	case model.FieldLabel:
		return len(d.Label) > 0
	case model.FieldDescription:
		return len(d.Description) > 0
	case model.FieldSubtitle:
		return len(d.Subtitle) > 0
	case model.FieldAuthors:
		return len(d.Authors) > 0
	}
	return false
}

type Result struct {
	Data     Data
	SourceID string
}

type Adapter interface {
	SourceID() string
	Matches(url string) bool
	SupportedFields() []string
	Lookup(ctx context.Context, url string) (Result, error)
}

// Registry is the ordered set of adapters known to the process.
type Registry struct {
	adapters []Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: slices.Clone(adapters)}
}

func (r *Registry) Adapters() []Adapter {
	return slices.Clone(r.adapters)
}

// ForURL returns the first adapter that matches url.
func (r *Registry) ForURL(url string) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.Matches(url) {
			return a, true
		}
	}
	return nil, false
}

// Syncer applies adapter results to things.
type Syncer struct {
	registry *Registry
	cache    *cache.Cache
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Syncer)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Syncer) { s.log = logger.Component(l, "metasync") }
}

func WithMetrics(m *metrics.Metrics) Option { return func(s *Syncer) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Syncer) { s.now = now } }

// NewSyncer caches successful lookups for ttl.
func NewSyncer(registry *Registry, ttl time.Duration, opts ...Option) *Syncer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	s := &Syncer{
		registry: registry,
		cache:    cache.New(ttl, 2*ttl),
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Syncer) lookup(ctx context.Context, a Adapter, url string) (Result, error) {
	key := a.SourceID() + "|" + url
	if v, ok := s.cache.Get(key); ok {
		return v.(Result), nil
	}
	res, err := a.Lookup(ctx, url)
	s.metrics.MetadataLookup(a.SourceID(), err)
	if err != nil {
		return Result{}, fmt.Errorf("%s lookup %s: %w", a.SourceID(), url, err)
	}
	if res.SourceID == "" {
		res.SourceID = a.SourceID()
	}
	s.cache.SetDefault(key, res)
	return res, nil
}

// Sync updates thing in place from its URLs, in URL order. A field is owned
// by the first URL whose adapter supplies it; fields whose sync state is
// inactive are left alone. It returns the sources that changed something.
// Lookup failures are joined into the error but do not stop other URLs.
func (s *Syncer) Sync(ctx context.Context, thing *model.Thing) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Metasync.Syncer.Sync", trace.WithAttributes(
		attribute.String("reviewcore.id", thing.ID),
	))
	defer span.End()

	if thing.Sync == nil {
		thing.Sync = map[string]model.SyncState{}
	}
	claimed := map[string]bool{}
	var (
		applied []string
		errs    []error
	)

	for _, url := range thing.URLs {
		a, ok := s.registry.ForURL(url)
		if !ok {
			continue
		}
		var fields []string
		for _, f := range a.SupportedFields() {
			if claimed[f] {
				continue
			}
			if st, ok := thing.Sync[f]; ok && !st.Active {
				continue
			}
			fields = append(fields, f)
		}
		if len(fields) == 0 {
			continue
		}

		res, err := s.lookup(ctx, a, url)
		if err != nil {
			s.log.Warn().Err(err).Str("source", a.SourceID()).Str("url", url).Msg("metadata lookup failed")
			span.RecordError(err)
			errs = append(errs, err)
			continue
		}

		updated := s.now().UTC()
		changed := false
		for _, f := range fields {
			if !res.Data.has(f) || !apply(thing, f, res.Data) {
				continue
			}
			claimed[f] = true
			changed = true
			thing.Sync[f] = model.SyncState{Active: true, Source: res.SourceID, Updated: &updated}
		}
		if changed && !slices.Contains(applied, res.SourceID) {
			applied = append(applied, res.SourceID)
		}
	}

	if len(applied) > 0 {
		s.log.Debug().Str("id", thing.ID).Strs("sources", applied).Msg("metadata merged")
	}
	return applied, errors.Join(errs...)
}

// apply merges one field. Values are merged per language; a merge that
// would leave the field without the thing's original language is skipped.
func apply(thing *model.Thing, field string, d Data) bool {
	lang := thing.OriginalLanguage
	switch field {
	case model.FieldLabel:
		return mergeString(&thing.Label, d.Label, lang)
	case model.FieldDescription:
		return mergeString(&thing.Metadata.Description, d.Description, lang)
	case model.FieldSubtitle:
		return mergeString(&thing.Metadata.Subtitle, d.Subtitle, lang)
	case model.FieldAuthors:
		merged := thing.Metadata.Authors.Clone()
		if merged == nil {
			merged = mlstring.List{}
		}
		maps.Copy(merged, d.Authors.Clone())
		if _, ok := merged[lang]; !ok {
			return false
		}
		thing.Metadata.Authors = merged
		return true
	}
	return false
}

func mergeString(dst *mlstring.String, src mlstring.String, lang string) bool {
	merged := dst.Clone()
	if merged == nil {
		merged = mlstring.String{}
	}
	maps.Copy(merged, src)
	if _, ok := merged[lang]; !ok {
		return false
	}
	*dst = merged
	return true
}
