package revision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"reviewcore/internal/codec"
	"reviewcore/internal/domain"
	"reviewcore/internal/logger"
	"reviewcore/internal/metrics"
	"reviewcore/internal/store"
	"reviewcore/internal/util"
)

var tracer = otel.Tracer("reviewcore/revision")

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdent reports whether s is safe to splice into SQL as an identifier.
func ValidIdent(s string) bool {
	return identRe.MatchString(s)
}

// Hook observes committed revisions. Hooks run after the transaction commits
// and must not fail the operation.
type Hook[P any] func(ctx context.Context, doc P)

type options struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the revision timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Table is the revision store for one document type.
type Table[T any, P Doc[T]] struct {
	db       *sql.DB
	name     string
	schema   *codec.Schema
	log      zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	onSave   []Hook[P]
	onDelete []Hook[P]
}

func NewTable[T any, P Doc[T]](db *sql.DB, name string, opts ...Option) *Table[T, P] {
	if !ValidIdent(name) {
		panic(fmt.Sprintf("revision: invalid table name %q", name))
	}
	o := options{log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Table[T, P]{
		db:      db,
		name:    name,
		schema:  codec.SchemaOf(reflect.TypeFor[T]()),
		log:     logger.Table(o.log, name),
		metrics: o.metrics,
		now:     o.now,
	}
}

func (t *Table[T, P]) Name() string          { return t.name }
func (t *Table[T, P]) DB() *sql.DB           { return t.db }
func (t *Table[T, P]) Schema() *codec.Schema { return t.schema }

// OnSave registers a hook run after every committed save.
func (t *Table[T, P]) OnSave(h Hook[P]) { t.onSave = append(t.onSave, h) }

// OnDelete registers a hook run after DeleteAllRevisions commits.
func (t *Table[T, P]) OnDelete(h Hook[P]) { t.onDelete = append(t.onDelete, h) }

func (t *Table[T, P]) timestamp() time.Time {
	return t.now().UTC().Truncate(time.Microsecond)
}

// CreateFirstRevision returns an unsaved document with fresh identifiers.
// Content fields are left for the caller.
func (t *Table[T, P]) CreateFirstRevision(userID string, tags ...string) P {
	doc := P(new(T))
	m := doc.Revision()
	m.ID = util.NewID("")
	m.RevisionID = util.NewID("")
	m.RevisionUser = userID
	m.RevisionDate = t.timestamp()
	m.RevisionTags = append([]string{}, tags...)
	return doc
}

// NewRevision branches an editable copy from the current revision doc. The
// copy shares no maps or slices with doc.
func (t *Table[T, P]) NewRevision(doc P, userID string, tags ...string) (P, error) {
	m := doc.Revision()
	if m.Stale || m.Deleted {
		return nil, &domain.StaleDocumentError{ID: m.ID, RevisionID: m.RevisionID, Deleted: m.Deleted}
	}
	if !m.persisted {
		return nil, &domain.StaleDocumentError{ID: m.ID, RevisionID: m.RevisionID}
	}

	next := P(new(T))
	codec.DeepCopy(next, doc)
	nm := next.Revision()
	parent := m.RevisionID
	nm.RevisionID = util.NewID("")
	nm.RevisionParent = &parent
	nm.PreviousRevisionOf = nil
	nm.RevisionUser = userID
	nm.RevisionDate = t.timestamp()
	nm.RevisionTags = append([]string{}, tags...)
	nm.persisted = false
	return next, nil
}

// Save validates doc and stores it as the current revision of its id.
func (t *Table[T, P]) Save(ctx context.Context, doc P) error {
	ctx, span := t.start(ctx, "Revision.Table.Save", doc.Revision().ID)
	defer span.End()
	started := time.Now()

	err := store.WithTx(ctx, t.db, nil, func(tx *sql.Tx) error {
		return t.SaveTx(ctx, tx, doc)
	})
	t.metrics.ObserveStoreOp(t.name, "save", started, err)
	if err != nil {
		span.RecordError(err)
		return t.persistenceError("save", err)
	}
	t.Committed(ctx, doc)
	return nil
}

// SaveTx is Save inside a caller-owned transaction. The caller must invoke
// Committed once the transaction commits.
func (t *Table[T, P]) SaveTx(ctx context.Context, q store.Querier, doc P) error {
	m := doc.Revision()
	if m.persisted {
		return ErrAlreadyPersisted
	}
	if m.ID == "" || m.RevisionID == "" {
		return domain.Invalid("id", "document has no identifiers; use CreateFirstRevision")
	}
	if m.Stale || m.Deleted {
		return &domain.StaleDocumentError{ID: m.ID, RevisionID: m.RevisionID, Deleted: m.Deleted}
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	if m.RevisionParent != nil {
		res, err := q.ExecContext(ctx, `
			UPDATE `+t.name+`
			SET stale = TRUE, previous_revision_of = id
			WHERE revision_id = $1 AND id = $2 AND NOT stale AND NOT deleted
		`, *m.RevisionParent, m.ID)
		if err != nil {
			return fmt.Errorf("supersede %s: %w", *m.RevisionParent, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("supersede %s: %w", *m.RevisionParent, err)
		} else if n == 0 {
			return t.conflict(m)
		}
	}

	values, err := t.schema.Values(doc)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, t.insertSQL(), values...); err != nil {
		switch {
		case store.IsUniqueViolation(err):
			return t.conflict(m)
		case store.IsCheckViolation(err):
			return domain.Invalid(store.ConstraintName(err), "rejected by the store")
		}
		return fmt.Errorf("insert revision %s: %w", m.RevisionID, err)
	}

	t.log.Debug().
		Str("id", m.ID).
		Str("revision_id", m.RevisionID).
		Strs("tags", m.RevisionTags).
		Msg("revision saved")
	return nil
}

// Committed marks doc as stored and runs the save hooks.
func (t *Table[T, P]) Committed(ctx context.Context, doc P) {
	doc.Revision().persisted = true
	for _, h := range t.onSave {
		h(ctx, doc)
	}
}

func (t *Table[T, P]) conflict(m *Meta) error {
	t.metrics.RevisionConflict(t.name)
	parent := ""
	if m.RevisionParent != nil {
		parent = *m.RevisionParent
	}
	t.log.Warn().Str("id", m.ID).Str("parent", parent).Msg("revision conflict")
	return &domain.ConflictError{Table: t.name, ID: m.ID, RevisionID: parent}
}

func (t *Table[T, P]) insertSQL() string {
	cols := t.schema.Columns()
	params := make([]string, len(cols))
	for i := range cols {
		params[i] = "$" + strconv.Itoa(i+1)
	}
	return `INSERT INTO ` + t.name + ` (` + strings.Join(cols, ", ") + `) VALUES (` + strings.Join(params, ", ") + `)`
}

// SelectList renders the table's columns qualified by alias.
func (t *Table[T, P]) SelectList(alias string) string {
	cols := t.schema.Columns()
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// ScanAll reads every row selected with SelectList and closes rows.
func (t *Table[T, P]) ScanAll(rows *sql.Rows) ([]P, error) {
	defer rows.Close()
	var out []P
	for rows.Next() {
		doc, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return out, nil
}

func (t *Table[T, P]) scan(rows *sql.Rows) (P, error) {
	doc := P(new(T))
	if err := rows.Scan(t.schema.Targets(doc)...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.name, err)
	}
	doc.Revision().persisted = true
	return doc, nil
}

func (t *Table[T, P]) getOne(ctx context.Context, q store.Querier, op, where string, args ...any) (P, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+t.SelectList("d")+` FROM `+t.name+` d WHERE `+where+` LIMIT 1`, args...)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, t.name, err)
	}
	docs, err := t.ScanAll(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		id := ""
		if len(args) > 0 {
			id, _ = args[0].(string)
		}
		return nil, domain.NotFoundError{Table: t.name, ID: id}
	}
	return docs[0], nil
}

// Get returns the head row for id verbatim, even when it is deleted. If
// every row is stale the newest one is returned. Intended for audit views.
func (t *Table[T, P]) Get(ctx context.Context, id string) (P, error) {
	ctx, span := t.start(ctx, "Revision.Table.Get", id)
	defer span.End()
	started := time.Now()
	doc, err := t.getOne(ctx, t.db, "get", `d.id = $1 ORDER BY d.stale ASC, d.revision_date DESC`, id)
	t.metrics.ObserveStoreOp(t.name, "get", started, ignoreNotFound(err))
	if err != nil {
		span.RecordError(err)
	}
	return doc, err
}

// GetRevision returns one stored row by revision id.
func (t *Table[T, P]) GetRevision(ctx context.Context, revisionID string) (P, error) {
	ctx, span := t.start(ctx, "Revision.Table.GetRevision", revisionID)
	defer span.End()
	doc, err := t.getOne(ctx, t.db, "get revision", `d.revision_id = $1`, revisionID)
	if err != nil {
		span.RecordError(err)
	}
	return doc, err
}

// GetNotStaleOrDeleted returns the current live revision of id. Missing,
// superseded and deleted documents all yield domain.ErrDocumentNotFound.
func (t *Table[T, P]) GetNotStaleOrDeleted(ctx context.Context, id string) (P, error) {
	return t.GetNotStaleOrDeletedTx(ctx, t.db, id)
}

// GetNotStaleOrDeletedTx is GetNotStaleOrDeleted against q.
func (t *Table[T, P]) GetNotStaleOrDeletedTx(ctx context.Context, q store.Querier, id string) (P, error) {
	ctx, span := t.start(ctx, "Revision.Table.GetNotStaleOrDeleted", id)
	defer span.End()
	started := time.Now()
	doc, err := t.getOne(ctx, q, "get", `d.id = $1 AND NOT d.stale AND NOT d.deleted`, id)
	t.metrics.ObserveStoreOp(t.name, "get_current", started, ignoreNotFound(err))
	if err != nil {
		span.RecordError(err)
	}
	return doc, err
}

// History returns every stored revision of id, newest first.
func (t *Table[T, P]) History(ctx context.Context, id string) ([]P, error) {
	ctx, span := t.start(ctx, "Revision.Table.History", id)
	defer span.End()
	rows, err := t.db.QueryContext(ctx, `
		SELECT `+t.SelectList("d")+`
		FROM `+t.name+` d
		WHERE d.id = $1
		ORDER BY d.revision_date DESC, d.stale ASC
	`, id)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("history %s: %w", t.name, err)
	}
	return t.ScanAll(rows)
}

// DeleteAllRevisions flags the current revision of doc's id and all of its
// history as deleted, recording the actor. No rows are removed.
func (t *Table[T, P]) DeleteAllRevisions(ctx context.Context, doc P, userID string) error {
	m := doc.Revision()
	ctx, span := t.start(ctx, "Revision.Table.DeleteAllRevisions", m.ID)
	defer span.End()
	started := time.Now()
	before := *m

	err := store.WithTx(ctx, t.db, nil, func(tx *sql.Tx) error {
		return t.DeleteAllRevisionsTx(ctx, tx, doc, userID)
	})
	t.metrics.ObserveStoreOp(t.name, "delete", started, err)
	if err != nil {
		*m = before
		span.RecordError(err)
		return t.persistenceError("delete", err)
	}
	t.DeleteCommitted(ctx, doc)
	return nil
}

// DeleteAllRevisionsTx is DeleteAllRevisions inside a caller-owned
// transaction. doc is marked deleted in memory; the caller must invoke
// DeleteCommitted once the transaction commits.
func (t *Table[T, P]) DeleteAllRevisionsTx(ctx context.Context, q store.Querier, doc P, userID string) error {
	m := doc.Revision()
	deletedOn := t.timestamp()
	if err := t.deleteTx(ctx, q, m.ID, userID, deletedOn); err != nil {
		return err
	}
	m.Deleted = true
	m.DeletedBy = &userID
	m.DeletedOn = &deletedOn
	return nil
}

// DeleteWhereTx deletes every live document whose field equals value,
// together with their history, inside q. The returned documents are the
// deleted heads, ready for DeleteCommitted.
func (t *Table[T, P]) DeleteWhereTx(ctx context.Context, q store.Querier, field string, value any, userID string) ([]P, error) {
	f, ok := t.schema.Lookup(field)
	if !ok {
		return nil, fmt.Errorf("delete from %s: unknown field %q", t.name, field)
	}
	deletedOn := t.timestamp()
	rows, err := q.QueryContext(ctx, `
		UPDATE `+t.name+` d
		SET deleted = TRUE, deleted_by = $2, deleted_on = $3
		WHERE d.`+f.Column+` = $1 AND NOT d.stale AND NOT d.deleted
		RETURNING `+t.SelectList("d"), value, userID, deletedOn)
	if err != nil {
		return nil, fmt.Errorf("delete from %s where %s: %w", t.name, f.Column, err)
	}
	docs, err := t.ScanAll(rows)
	if err != nil || len(docs) == 0 {
		return nil, err
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.Revision().ID
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE `+t.name+`
		SET deleted = TRUE, deleted_by = $2, deleted_on = $3
		WHERE id = ANY($1) AND stale AND NOT deleted
	`, ids, userID, deletedOn); err != nil {
		return nil, fmt.Errorf("delete history from %s: %w", t.name, err)
	}
	return docs, nil
}

// DeleteCommitted runs the delete hooks for documents whose deletion has
// been committed.
func (t *Table[T, P]) DeleteCommitted(ctx context.Context, docs ...P) {
	for _, doc := range docs {
		m := doc.Revision()
		deletedBy := ""
		if m.DeletedBy != nil {
			deletedBy = *m.DeletedBy
		}
		t.log.Info().Str("id", m.ID).Str("deleted_by", deletedBy).Msg("document deleted")
		for _, h := range t.onDelete {
			h(ctx, doc)
		}
	}
}

// LockCurrentTx holds a share lock on the live revision of id until q's
// transaction ends, so the document cannot be deleted or replaced under a
// write that depends on it. A head replaced while waiting is looked up once
// more.
func (t *Table[T, P]) LockCurrentTx(ctx context.Context, q store.Querier, id string) error {
	for attempt := 0; ; attempt++ {
		var one int
		err := q.QueryRowContext(ctx, `
			SELECT 1 FROM `+t.name+`
			WHERE id = $1 AND NOT stale AND NOT deleted
			FOR SHARE
		`, id).Scan(&one)
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("lock %s %s: %w", t.name, id, err)
		case attempt > 0:
			return domain.NotFoundError{Table: t.name, ID: id}
		}
	}
}

func (t *Table[T, P]) deleteTx(ctx context.Context, q store.Querier, id, userID string, deletedOn time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE `+t.name+`
		SET deleted = TRUE, deleted_by = $2, deleted_on = $3
		WHERE id = $1 AND NOT stale AND NOT deleted
	`, id, userID, deletedOn)
	if err != nil {
		return fmt.Errorf("delete current %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete current %s: %w", id, err)
	}
	if n == 0 {
		var deleted bool
		err := q.QueryRowContext(ctx, `SELECT deleted FROM `+t.name+` WHERE id = $1 AND NOT stale`, id).Scan(&deleted)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return domain.NotFoundError{Table: t.name, ID: id}
		case err != nil:
			return fmt.Errorf("inspect %s: %w", id, err)
		case deleted:
			return &domain.AlreadyDeletedError{Table: t.name, ID: id}
		}
		return t.conflict(&Meta{ID: id})
	}

	if _, err := q.ExecContext(ctx, `
		UPDATE `+t.name+`
		SET deleted = TRUE, deleted_by = $2, deleted_on = $3
		WHERE id = $1 AND stale AND NOT deleted
	`, id, userID, deletedOn); err != nil {
		return fmt.Errorf("delete history %s: %w", id, err)
	}
	return nil
}

func (t *Table[T, P]) start(ctx context.Context, name, id string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("reviewcore.table", t.name),
		attribute.String("reviewcore.id", id),
	))
}

// persistenceError passes typed errors through and wraps store failures.
func (t *Table[T, P]) persistenceError(op string, err error) error {
	if domain.IsTyped(err) || errors.Is(err, ErrAlreadyPersisted) || errors.Is(err, context.Canceled) {
		return err
	}
	t.log.Error().Err(err).Str("op", op).Msg("store failure")
	return &domain.PersistenceError{Op: op + " " + t.name, Err: err}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil
	}
	return err
}
