package association

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"reviewcore/internal/domain"
	"reviewcore/internal/revision"
	"reviewcore/internal/store"
)

// Step is an extra statement run inside a composite write, before the
// document row is stored.
type Step func(ctx context.Context, tx *sql.Tx) error

// SaveAll stores doc and replaces each listed relation with the document's
// in-memory set, as one transaction.
func SaveAll[T any, P revision.Doc[T]](ctx context.Context, m *Manager, table *revision.Table[T, P], doc P, relations ...Relation) error {
	return SaveAllWith(ctx, m, table, doc, relations)
}

// SaveAllWith is SaveAll with extra steps sharing the transaction. Either
// everything becomes visible or nothing does. Store failures surface as
// *domain.PersistenceError; validation and conflict errors pass through.
func SaveAllWith[T any, P revision.Doc[T]](ctx context.Context, m *Manager, table *revision.Table[T, P], doc P, relations []Relation, steps ...Step) error {
	id := doc.Revision().ID
	ctx, span := tracer.Start(ctx, "Association.SaveAll", trace.WithAttributes(
		attribute.String("reviewcore.table", table.Name()),
		attribute.String("reviewcore.id", id),
	))
	defer span.End()

	sets := make([][]string, len(relations))
	if len(relations) > 0 {
		related, ok := any(doc).(Related)
		if !ok {
			return fmt.Errorf("association: %T has no relations", doc)
		}
		for i, rel := range relations {
			ids, ok := related.RelatedIDs(rel.Name)
			if !ok {
				return domain.Invalid(rel.Name, "relation is not loaded")
			}
			sets[i] = ids
		}
	}

	err := store.WithTx(ctx, m.db, nil, func(tx *sql.Tx) error {
		for _, step := range steps {
			if err := step(ctx, tx); err != nil {
				return err
			}
		}
		if err := table.SaveTx(ctx, tx, doc); err != nil {
			return err
		}
		for i, rel := range relations {
			if err := m.Replace(ctx, tx, rel, id, sets[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if domain.IsTyped(err) || errors.Is(err, revision.ErrAlreadyPersisted) {
			return err
		}
		m.log.Error().Err(err).Str("table", table.Name()).Str("id", id).Msg("composite save rolled back")
		return &domain.PersistenceError{Op: "save " + table.Name() + " with relations", Err: err}
	}

	table.Committed(ctx, doc)
	return nil
}

// Atomic runs fn in one transaction with the same error policy as SaveAll.
// Callers that save revisions inside fn must call Committed afterwards.
func (m *Manager) Atomic(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	ctx, span := tracer.Start(ctx, "Association.Atomic", trace.WithAttributes(attribute.String("reviewcore.op", op)))
	defer span.End()
	err := store.WithTx(ctx, m.db, nil, fn)
	if err != nil {
		span.RecordError(err)
		if domain.IsTyped(err) || errors.Is(err, revision.ErrAlreadyPersisted) {
			return err
		}
		return &domain.PersistenceError{Op: op, Err: err}
	}
	return nil
}

// Load returns the current, live target documents linked from ownerID,
// ordered by id.
func Load[T any, P revision.Doc[T]](ctx context.Context, q store.Querier, rel Relation, ownerID string, targets *revision.Table[T, P]) ([]P, error) {
	if err := rel.check(); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+targets.SelectList("d")+`
		FROM `+rel.Table+` r
		JOIN `+targets.Name()+` d ON d.id = r.`+rel.TargetColumn+` AND NOT d.stale AND NOT d.deleted
		WHERE r.`+rel.OwnerColumn+` = $1
		ORDER BY d.id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", rel.Name, err)
	}
	return targets.ScanAll(rows)
}

// Loader hydrates one relation of a document inside a composite read.
type Loader[P any] func(ctx context.Context, m *Manager, q store.Querier, doc P) error

// With builds a Loader that reads rel's ids and the linked target documents
// and hands both to set.
func With[T any, P revision.Doc[T], U any, Q revision.Doc[U]](rel Relation, targets *revision.Table[U, Q], set func(doc P, ids []string, items []Q)) Loader[P] {
	return func(ctx context.Context, m *Manager, q store.Querier, doc P) error {
		owner := doc.Revision().ID
		ids, err := m.TargetIDs(ctx, q, rel, owner)
		if err != nil {
			return err
		}
		items, err := Load(ctx, q, rel, owner, targets)
		if err != nil {
			return err
		}
		set(doc, ids, items)
		return nil
	}
}

// WithReadTx runs fn in a read-only repeatable-read transaction, so every
// query in fn observes the same snapshot.
func (m *Manager) WithReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return store.WithTx(ctx, m.db, store.ReadSnapshot, fn)
}

// GetWithData loads the current revision of id and the requested relations
// from one snapshot.
func GetWithData[T any, P revision.Doc[T]](ctx context.Context, m *Manager, table *revision.Table[T, P], id string, loaders ...Loader[P]) (P, error) {
	ctx, span := tracer.Start(ctx, "Association.GetWithData", trace.WithAttributes(
		attribute.String("reviewcore.table", table.Name()),
		attribute.String("reviewcore.id", id),
	))
	defer span.End()

	var doc P
	err := m.WithReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		doc, err = table.GetNotStaleOrDeletedTx(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, load := range loaders {
			if err := load(ctx, m, tx, doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return doc, nil
}
