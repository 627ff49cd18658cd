package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"reviewcore/internal/association"
	"reviewcore/internal/domain"
	"reviewcore/internal/mlstring"
	"reviewcore/internal/model"
	"reviewcore/internal/store"
)

type ThingInput struct {
	URLs             []string        `json:"urls"`
	Label            mlstring.String `json:"label"`
	Aliases          mlstring.List   `json:"aliases"`
	Description      mlstring.String `json:"description"`
	Subtitle         mlstring.String `json:"subtitle"`
	Authors          mlstring.List   `json:"authors"`
	OriginalLanguage string          `json:"originalLanguage"`
}

type thingGetter struct{ s *Service }

func (g thingGetter) GetNotStaleOrDeleted(ctx context.Context, id string) (*model.Thing, error) {
	return association.GetWithData(ctx, g.s.assoc, g.s.things, id, g.s.withUploads())
}

func (s *Service) withUploads() association.Loader[*model.Thing] {
	return association.With(model.ThingFiles, s.files, func(t *model.Thing, ids []string, files []*model.File) {
		t.Files = ids
		t.Uploads = files
	})
}

// CreateThing records a new review subject. When metadata sync is
// configured the adapters fill in fields before the first revision is saved.
func (s *Service) CreateThing(ctx context.Context, viewer *model.User, input ThingInput) (*model.Thing, error) {
	ctx, span := s.start(ctx, "CreateThing")
	defer span.End()
	if err := requireViewer(viewer, "create things"); err != nil {
		return nil, err
	}
	for _, u := range input.URLs {
		existing, err := s.thingByURL(ctx, s.db, u)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, domain.Invalid("urls", "%q already belongs to thing %s", u, existing.ID)
		}
	}

	t := s.things.CreateFirstRevision(viewer.ID, "create")
	t.OriginalLanguage = s.language(input.OriginalLanguage)
	applyThingInput(t, input)
	t.Sync = map[string]model.SyncState{}
	t.CreatedOn = t.RevisionDate
	t.CreatedBy = viewer.ID
	t.Files = []string{}

	if s.syncer != nil {
		sources, err := s.syncer.Sync(ctx, t)
		if err != nil {
			s.log.Warn().Err(err).Str("thing_id", t.ID).Msg("metadata lookup failed during create")
		}
		for _, src := range sources {
			t.RevisionTags = append(t.RevisionTags, "create-via-"+src)
		}
	}

	step := s.slugStep(s.thingSlugs, t.ID, viewer.ID, t.LabelOrURL(t.OriginalLanguage), func(name string) {
		t.CanonicalSlugName = name
	})
	if err := association.SaveAllWith(ctx, s.assoc, s.things, t, nil, s.claimURLs(t.ID, t.URLs), step); err != nil {
		span.RecordError(err)
		return nil, err
	}
	t.PopulateUserInfo(viewer.Viewer())
	return t, nil
}

// UpdateThing saves a new revision with the given content. Editing a field
// that follows an external source stops the sync for that field.
func (s *Service) UpdateThing(ctx context.Context, viewer *model.User, id string, input ThingInput) (*model.Thing, error) {
	ctx, span := s.start(ctx, "UpdateThing", attribute.String("reviewcore.id", id))
	defer span.End()

	current, err := s.things.GetNotStaleOrDeleted(ctx, id)
	if err != nil {
		return nil, err
	}
	current.PopulateUserInfo(viewer.Viewer())
	if !current.UserCanEdit {
		return nil, forbidden("edit thing " + id)
	}

	next, err := s.things.NewRevision(current, viewer.ID, "edit")
	if err != nil {
		return nil, err
	}
	before := next.Label.Clone()
	if input.OriginalLanguage != "" {
		next.OriginalLanguage = s.language(input.OriginalLanguage)
	}
	applyThingInput(next, input)
	for _, field := range changedSyncFields(current, next) {
		if st, ok := next.Sync[field]; ok && st.Active {
			st.Active = false
			next.Sync[field] = st
		}
	}

	var steps []association.Step
	if input.URLs != nil {
		steps = append(steps, s.claimURLs(next.ID, next.URLs))
	}
	if !maps.Equal(before, next.Label) || next.CanonicalSlugName == "" {
		steps = append(steps, s.slugStep(s.thingSlugs, next.ID, viewer.ID, next.LabelOrURL(next.OriginalLanguage), func(name string) {
			next.CanonicalSlugName = name
		}))
	}
	if err := association.SaveAllWith(ctx, s.assoc, s.things, next, nil, steps...); err != nil {
		span.RecordError(err)
		return nil, err
	}
	next.PopulateUserInfo(viewer.Viewer())
	return next, nil
}

// RefreshThingMetadata asks the metadata adapters for fresh values and saves
// a revision tagged update-<source> when anything changed. Lookup failures
// are reported alongside the (possibly unchanged) thing.
func (s *Service) RefreshThingMetadata(ctx context.Context, viewer *model.User, id string) (*model.Thing, error) {
	ctx, span := s.start(ctx, "RefreshThingMetadata", attribute.String("reviewcore.id", id))
	defer span.End()
	if s.syncer == nil {
		return nil, ErrSyncDisabled
	}

	current, err := s.things.GetNotStaleOrDeleted(ctx, id)
	if err != nil {
		return nil, err
	}
	current.PopulateUserInfo(viewer.Viewer())
	if !current.UserCanEdit && !current.UserCanDelete {
		return nil, forbidden("refresh thing " + id)
	}

	next, err := s.things.NewRevision(current, viewer.ID)
	if err != nil {
		return nil, err
	}
	sources, lookupErr := s.syncer.Sync(ctx, next)
	if len(sources) == 0 {
		return current, lookupErr
	}
	for _, src := range sources {
		next.RevisionTags = append(next.RevisionTags, "update-"+src)
	}

	var steps []association.Step
	if !maps.Equal(current.Label, next.Label) {
		steps = append(steps, s.slugStep(s.thingSlugs, next.ID, viewer.ID, next.LabelOrURL(next.OriginalLanguage), func(name string) {
			next.CanonicalSlugName = name
		}))
	}
	if err := association.SaveAllWith(ctx, s.assoc, s.things, next, nil, steps...); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.log.Info().Str("thing_id", id).Strs("sources", sources).Msg("thing metadata refreshed")
	next.PopulateUserInfo(viewer.Viewer())
	return next, lookupErr
}

// DeleteThing removes a thing together with its live reviews. Either both
// are deleted or neither is.
func (s *Service) DeleteThing(ctx context.Context, viewer *model.User, id string) error {
	ctx, span := s.start(ctx, "DeleteThing", attribute.String("reviewcore.id", id))
	defer span.End()

	t, err := s.things.GetNotStaleOrDeleted(ctx, id)
	if err != nil {
		return err
	}
	t.PopulateUserInfo(viewer.Viewer())
	if !t.UserCanDelete {
		return forbidden("delete thing " + id)
	}

	before := *t.Revision()
	var reviews []*model.Review
	err = s.assoc.Atomic(ctx, "delete thing", func(tx *sql.Tx) error {
		if err := s.things.DeleteAllRevisionsTx(ctx, tx, t, viewer.ID); err != nil {
			return err
		}
		var err error
		reviews, err = s.reviews.DeleteWhereTx(ctx, tx, "thingID", id, viewer.ID)
		return err
	})
	if err != nil {
		*t.Revision() = before
		span.RecordError(err)
		s.log.Error().Err(err).Str("thing_id", id).Msg("thing delete rolled back")
		return err
	}
	s.things.DeleteCommitted(ctx, t)
	s.reviews.DeleteCommitted(ctx, reviews...)
	return nil
}

// ResolveThing loads a thing by slug or id. Aliases and bare ids of things
// with a slug produce a *domain.RedirectedError.
func (s *Service) ResolveThing(ctx context.Context, viewer *model.User, requestPath, rawQuery, candidate string) (*model.Thing, error) {
	t, err := s.thingNames.ResolveAndLoad(ctx, requestPath, rawQuery, candidate)
	if err != nil {
		return nil, err
	}
	t.PopulateUserInfo(viewer.Viewer())
	for _, f := range t.Uploads {
		f.PopulateUserInfo(viewer.Viewer())
	}
	return t, nil
}

type UploadInput struct {
	Name             string
	MimeType         string
	Size             int64
	Body             io.Reader
	Description      mlstring.String
	Creator          mlstring.String
	Source           mlstring.String
	License          string
	OriginalLanguage string
}

// UploadFile stores the bytes first, then the file document and its link to
// the thing in one transaction. The stored object is removed again if that
// transaction fails.
func (s *Service) UploadFile(ctx context.Context, viewer *model.User, thingID string, input UploadInput) (*model.File, error) {
	ctx, span := s.start(ctx, "UploadFile", attribute.String("reviewcore.id", thingID))
	defer span.End()
	if s.blobs == nil {
		return nil, ErrUploadsDisabled
	}

	t, err := s.things.GetNotStaleOrDeleted(ctx, thingID)
	if err != nil {
		return nil, err
	}
	t.PopulateUserInfo(viewer.Viewer())
	if !t.UserCanUpload {
		return nil, forbidden("upload files to thing " + thingID)
	}

	f := s.files.CreateFirstRevision(viewer.ID, "upload")
	f.Name = model.SanitizeFileName(input.Name)
	f.MimeType = strings.TrimSpace(input.MimeType)
	f.ObjectKey = model.ObjectKeyFor(f.ID, input.Name)
	f.Description = input.Description
	f.Creator = input.Creator
	f.Source = input.Source
	f.License = input.License
	f.OriginalLanguage = s.language(input.OriginalLanguage)
	f.UploadedBy = viewer.ID
	f.UploadedOn = f.RevisionDate
	f.Completed = input.License != ""
	if err := f.Validate(); err != nil {
		return nil, err
	}

	if err := s.blobs.Put(ctx, f.ObjectKey, input.Body, input.Size, f.MimeType); err != nil {
		span.RecordError(err)
		return nil, &domain.PersistenceError{Op: "store file " + f.Name, Err: err}
	}
	err = s.assoc.Atomic(ctx, "save uploaded file", func(tx *sql.Tx) error {
		if err := s.files.SaveTx(ctx, tx, f); err != nil {
			return err
		}
		return s.assoc.Add(ctx, tx, model.ThingFiles, thingID, f.ID)
	})
	if err != nil {
		span.RecordError(err)
		if rmErr := s.blobs.Remove(ctx, f.ObjectKey); rmErr != nil {
			s.log.Error().Err(rmErr).Str("key", f.ObjectKey).Msg("removing orphaned upload")
		}
		return nil, err
	}
	s.files.Committed(ctx, f)
	s.log.Info().Str("file_id", f.ID).Str("thing_id", thingID).Str("key", f.ObjectKey).Msg("file uploaded")
	f.PopulateUserInfo(viewer.Viewer())
	return f, nil
}

func applyThingInput(t *model.Thing, input ThingInput) {
	if input.URLs != nil {
		t.URLs = trimmed(input.URLs)
	}
	if input.Label != nil {
		t.Label = input.Label.Clone()
	}
	if input.Aliases != nil {
		t.Aliases = input.Aliases.Clone()
	}
	if input.Description != nil {
		t.Metadata.Description = input.Description.Clone()
	}
	if input.Subtitle != nil {
		t.Metadata.Subtitle = input.Subtitle.Clone()
	}
	if input.Authors != nil {
		t.Metadata.Authors = input.Authors.Clone()
	}
}

func changedSyncFields(before, after *model.Thing) []string {
	var out []string
	if !maps.Equal(before.Label, after.Label) {
		out = append(out, model.FieldLabel)
	}
	if !maps.Equal(before.Metadata.Description, after.Metadata.Description) {
		out = append(out, model.FieldDescription)
	}
	if !maps.Equal(before.Metadata.Subtitle, after.Metadata.Subtitle) {
		out = append(out, model.FieldSubtitle)
	}
	if !maps.EqualFunc(before.Metadata.Authors, after.Metadata.Authors, slices.Equal[[]string]) {
		out = append(out, model.FieldAuthors)
	}
	return out
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// claimURLs serializes writers on each URL for the rest of the transaction
// and rejects URLs that a different live thing already lists.
func (s *Service) claimURLs(selfID string, urls []string) association.Step {
	return func(ctx context.Context, tx *sql.Tx) error {
		sorted := slices.Clone(urls)
		slices.Sort(sorted)
		for _, u := range slices.Compact(sorted) {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "thing-url:"+u); err != nil {
				return fmt.Errorf("lock url %q: %w", u, err)
			}
			existing, err := s.thingByURL(ctx, tx, u)
			if err != nil {
				return err
			}
			if existing != nil && existing.ID != selfID {
				return domain.Invalid("urls", "%q already belongs to thing %s", u, existing.ID)
			}
		}
		return nil
	}
}

// thingByURL finds the live thing that lists url, if any.
func (s *Service) thingByURL(ctx context.Context, q store.Querier, url string) (*model.Thing, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+s.things.SelectList("d")+`
		FROM `+model.ThingsTable+` d
		WHERE NOT d.stale AND NOT d.deleted AND d.urls @> jsonb_build_array($1::text)
		LIMIT 1
	`, strings.TrimSpace(url))
	if err != nil {
		return nil, fmt.Errorf("find thing by url: %w", err)
	}
	found, err := s.things.ScanAll(rows)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}
