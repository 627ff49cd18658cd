// Package app composes the document core into the operations callers use.
// Every document it returns carries the permission flags of the viewer it
// was loaded for.
package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"reviewcore/internal/association"
	"reviewcore/internal/config"
	"reviewcore/internal/domain"
	"reviewcore/internal/logger"
	"reviewcore/internal/metasync"
	"reviewcore/internal/metrics"
	"reviewcore/internal/model"
	"reviewcore/internal/revision"
	"reviewcore/internal/search"
	"reviewcore/internal/slug"
)

var tracer = otel.Tracer("reviewcore/app")

const (
	ThingSlugsTable = "thing_slugs"
	TeamSlugsTable  = "team_slugs"
)

// BlobStore holds uploaded file bytes. *blob.Store implements it.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
}

type Option func(*settings)

type settings struct {
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	slugCache slug.Cache
	search    *search.Service
	blobs     BlobStore
	syncer    *metasync.Syncer
}

func WithLogger(l zerolog.Logger) Option          { return func(s *settings) { s.log = l } }
func WithMetrics(m *metrics.Metrics) Option       { return func(s *settings) { s.metrics = m } }
func WithClock(now func() time.Time) Option       { return func(s *settings) { s.now = now } }
func WithSlugCache(c slug.Cache) Option           { return func(s *settings) { s.slugCache = c } }
func WithSearch(svc *search.Service) Option       { return func(s *settings) { s.search = svc } }
func WithBlobStore(b BlobStore) Option            { return func(s *settings) { s.blobs = b } }
func WithMetadataSync(sy *metasync.Syncer) Option { return func(s *settings) { s.syncer = sy } }

type Service struct {
	cfg     config.Config
	db      *sql.DB
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	users   *revision.Table[model.User, *model.User]
	things  *revision.Table[model.Thing, *model.Thing]
	reviews *revision.Table[model.Review, *model.Review]
	teams   *revision.Table[model.Team, *model.Team]
	posts   *revision.Table[model.BlogPost, *model.BlogPost]
	files   *revision.Table[model.File, *model.File]

	assoc      *association.Manager
	thingSlugs *slug.Repository
	teamSlugs  *slug.Repository
	thingNames *slug.Resolver[*model.Thing]
	teamNames  *slug.Resolver[*model.Team]

	search *search.Service
	blobs  BlobStore
	syncer *metasync.Syncer
}

func New(cfg config.Config, db *sql.DB, opts ...Option) *Service {
	st := settings{log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&st)
	}

	tableOpts := []revision.Option{
		revision.WithLogger(st.log),
		revision.WithMetrics(st.metrics),
		revision.WithClock(st.now),
	}
	slugOpts := []slug.Option{
		slug.WithLogger(st.log),
		slug.WithMetrics(st.metrics),
		slug.WithClock(st.now),
	}
	if st.slugCache != nil {
		slugOpts = append(slugOpts, slug.WithCache(st.slugCache))
	}

	if st.search == nil {
		st.search = search.NewService(nil, search.NewPgSearch(db), st.log)
	}

	s := &Service{
		cfg:     cfg,
		db:      db,
		log:     logger.Component(st.log, "app"),
		metrics: st.metrics,
		now:     st.now,

		users:   revision.NewTable[model.User](db, model.UsersTable, tableOpts...),
		things:  revision.NewTable[model.Thing](db, model.ThingsTable, tableOpts...),
		reviews: revision.NewTable[model.Review](db, model.ReviewsTable, tableOpts...),
		teams:   revision.NewTable[model.Team](db, model.TeamsTable, tableOpts...),
		posts:   revision.NewTable[model.BlogPost](db, model.BlogPostsTable, tableOpts...),
		files:   revision.NewTable[model.File](db, model.FilesTable, tableOpts...),

		assoc:      association.NewManager(db, st.log, st.metrics),
		thingSlugs: slug.NewRepository(db, ThingSlugsTable, slugOpts...),
		teamSlugs:  slug.NewRepository(db, TeamSlugsTable, slugOpts...),

		search: st.search,
		blobs:  st.blobs,
		syncer: st.syncer,
	}
	s.thingNames = slug.NewResolver[*model.Thing](s.thingSlugs, thingGetter{s}, func(t *model.Thing) string {
		return t.CanonicalSlugName
	}, st.log, st.metrics)
	s.teamNames = slug.NewResolver[*model.Team](s.teamSlugs, teamGetter{s}, func(t *model.Team) string {
		return t.CanonicalSlugName
	}, st.log, st.metrics)

	// Only committed current revisions reach the index.
	s.things.OnSave(func(_ context.Context, t *model.Thing) { s.search.IndexThing(search.ThingRecordFrom(t)) })
	s.things.OnDelete(func(_ context.Context, t *model.Thing) { s.search.DeleteThing(t.ID) })
	s.reviews.OnSave(func(_ context.Context, r *model.Review) { s.search.IndexReview(search.ReviewRecordFrom(r)) })
	s.reviews.OnDelete(func(_ context.Context, r *model.Review) { s.search.DeleteReview(r.ID) })
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Search runs a full-text query. Without Meilisearch the current rows in
// Postgres are searched directly.
func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

// WaitForIndexing blocks until pending index writes finish.
func (s *Service) WaitForIndexing() {
	s.search.Wait()
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "App.Service."+name, trace.WithAttributes(attrs...))
}

// requireViewer rejects anonymous callers of mutating operations.
func requireViewer(viewer *model.User, action string) error {
	if viewer == nil || viewer.ID == "" {
		return forbidden(action)
	}
	return nil
}

// slugStep claims a slug for label inside the save transaction and records
// it on the document through set. Labels that yield no usable slug leave
// the current canonical name alone.
func (s *Service) slugStep(repo *slug.Repository, docID, userID, label string, set func(string)) association.Step {
	return func(ctx context.Context, tx *sql.Tx) error {
		base, err := slug.Generate(label)
		if err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				return nil
			}
			return err
		}
		name, err := repo.Claim(ctx, tx, docID, userID, base)
		if err != nil {
			return err
		}
		set(name)
		return nil
	}
}

func notFoundIsNil(err error) error {
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil
	}
	return err
}
