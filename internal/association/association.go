// Package association manages join-table relations between documents and
// the composite reads and writes that span a document and its relations.
//
// Relations point at document ids, never at revisions, so they survive
// edits of either side.
package association

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"reviewcore/internal/domain"
	"reviewcore/internal/logger"
	"reviewcore/internal/metrics"
	"reviewcore/internal/revision"
	"reviewcore/internal/store"
)

var tracer = otel.Tracer("reviewcore/association")

// Relation describes a join table linking an owner document to targets.
type Relation struct {
	Name         string
	Table        string
	OwnerColumn  string
	TargetColumn string
}

// Reverse views the same table from the target side.
func (r Relation) Reverse() Relation {
	return Relation{
		Name:         r.Name,
		Table:        r.Table,
		OwnerColumn:  r.TargetColumn,
		TargetColumn: r.OwnerColumn,
	}
}

func (r Relation) check() error {
	for _, ident := range []string{r.Table, r.OwnerColumn, r.TargetColumn} {
		if !revision.ValidIdent(ident) {
			return fmt.Errorf("association: invalid identifier %q in relation %q", ident, r.Name)
		}
	}
	return nil
}

// Related is implemented by documents carrying in-memory relation arrays.
// ok is false when the named array was never populated.
type Related interface {
	RelatedIDs(name string) (ids []string, ok bool)
}

// Manager writes and reads join rows.
type Manager struct {
	db      *sql.DB
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewManager(db *sql.DB, log zerolog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{db: db, log: logger.Component(log, "association"), metrics: m}
}

func (m *Manager) DB() *sql.DB { return m.db }

// normalizeIDs sorts and de-duplicates ids, rejecting blanks.
func normalizeIDs(rel Relation, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, domain.Invalid(rel.Name, "blank id")
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Replace makes the stored set for ownerID exactly targetIDs. Pairs already
// present are left untouched.
func (m *Manager) Replace(ctx context.Context, q store.Querier, rel Relation, ownerID string, targetIDs []string) error {
	if err := rel.check(); err != nil {
		return err
	}
	ids, err := normalizeIDs(rel, targetIDs)
	if err != nil {
		return err
	}
	started := time.Now()

	if _, err := q.ExecContext(ctx, `
		DELETE FROM `+rel.Table+`
		WHERE `+rel.OwnerColumn+` = $1 AND NOT (`+rel.TargetColumn+` = ANY($2))
	`, ownerID, ids); err != nil {
		m.metrics.ObserveStoreOp(rel.Table, "replace", started, err)
		return fmt.Errorf("prune %s: %w", rel.Name, err)
	}
	if len(ids) > 0 {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO `+rel.Table+` (`+rel.OwnerColumn+`, `+rel.TargetColumn+`)
			SELECT $1, t FROM unnest($2::text[]) AS t
			ON CONFLICT DO NOTHING
		`, ownerID, ids); err != nil {
			m.metrics.ObserveStoreOp(rel.Table, "replace", started, err)
			return fmt.Errorf("insert %s: %w", rel.Name, err)
		}
	}
	m.metrics.ObserveStoreOp(rel.Table, "replace", started, nil)
	m.log.Debug().Str("relation", rel.Name).Str("owner", ownerID).Int("count", len(ids)).Msg("relation replaced")
	return nil
}

// Add links ownerID to targetID. Adding an existing pair is a no-op.
func (m *Manager) Add(ctx context.Context, q store.Querier, rel Relation, ownerID, targetID string) error {
	if err := rel.check(); err != nil {
		return err
	}
	if strings.TrimSpace(targetID) == "" {
		return domain.Invalid(rel.Name, "blank id")
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO `+rel.Table+` (`+rel.OwnerColumn+`, `+rel.TargetColumn+`)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, ownerID, targetID)
	if err != nil {
		return fmt.Errorf("add %s: %w", rel.Name, err)
	}
	return nil
}

// Remove unlinks the pair. Removing an absent pair is a no-op.
func (m *Manager) Remove(ctx context.Context, q store.Querier, rel Relation, ownerID, targetID string) error {
	if err := rel.check(); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `DELETE FROM `+rel.Table+` WHERE `+rel.OwnerColumn+` = $1 AND `+rel.TargetColumn+` = $2`, ownerID, targetID)
	if err != nil {
		return fmt.Errorf("remove %s: %w", rel.Name, err)
	}
	return nil
}

// Has reports whether the pair is linked.
func (m *Manager) Has(ctx context.Context, q store.Querier, rel Relation, ownerID, targetID string) (bool, error) {
	if err := rel.check(); err != nil {
		return false, err
	}
	var ok bool
	err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+rel.Table+` WHERE `+rel.OwnerColumn+` = $1 AND `+rel.TargetColumn+` = $2)`, ownerID, targetID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", rel.Name, err)
	}
	return ok, nil
}

// TargetIDs lists the ids linked to ownerID, sorted.
func (m *Manager) TargetIDs(ctx context.Context, q store.Querier, rel Relation, ownerID string) ([]string, error) {
	if err := rel.check(); err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT `+rel.TargetColumn+` FROM `+rel.Table+` WHERE `+rel.OwnerColumn+` = $1 ORDER BY `+rel.TargetColumn, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel.Name, err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", rel.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
