package revision

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"reviewcore/internal/codec"
	"reviewcore/internal/store"
)

const (
	DefaultFeedLimit = 10
	MaxFeedLimit     = 100
)

var comparisonOps = map[string]bool{"=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true}

// Query is a composable, lazily executed filter over one table. Builder
// methods return a modified copy, so a base query can be reused.
type Query[T any, P Doc[T]] struct {
	table *Table[T, P]
	conds []string
	args  []any
	order []string
	limit int
	err   error
}

// Filter selects over every stored row, including history.
func (t *Table[T, P]) Filter() *Query[T, P] {
	return &Query[T, P]{table: t}
}

// FilterNotStaleOrDeleted selects over current, live revisions only.
func (t *Table[T, P]) FilterNotStaleOrDeleted() *Query[T, P] {
	return &Query[T, P]{table: t, conds: []string{"NOT d.stale", "NOT d.deleted"}}
}

func (q *Query[T, P]) clone() *Query[T, P] {
	c := *q
	c.conds = append([]string(nil), q.conds...)
	c.args = append([]any(nil), q.args...)
	c.order = append([]string(nil), q.order...)
	return &c
}

func (q *Query[T, P]) column(name string) (string, bool) {
	f, ok := q.table.schema.Lookup(name)
	if !ok {
		return "", false
	}
	return f.Column, true
}

func (q *Query[T, P]) fail(format string, args ...any) *Query[T, P] {
	c := q.clone()
	if c.err == nil {
		c.err = fmt.Errorf("revision query on %s: "+format, append([]any{q.table.name}, args...)...)
	}
	return c
}

func (q *Query[T, P]) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// Where adds "field op value". field may be a document key or a column name.
func (q *Query[T, P]) Where(field, op string, value any) *Query[T, P] {
	col, ok := q.column(field)
	if !ok {
		return q.fail("unknown field %q", field)
	}
	if !comparisonOps[op] {
		return q.fail("unsupported operator %q", op)
	}
	c := q.clone()
	c.conds = append(c.conds, "d."+col+" "+op+" "+c.arg(value))
	return c
}

// WhereIn matches rows whose field equals any of values.
func (q *Query[T, P]) WhereIn(field string, values []string) *Query[T, P] {
	col, ok := q.column(field)
	if !ok {
		return q.fail("unknown field %q", field)
	}
	c := q.clone()
	c.conds = append(c.conds, "d."+col+" = ANY("+c.arg(values)+")")
	return c
}

// WhereLinked keeps rows whose id appears in joinTable.linkColumn next to
// filterColumn = value, e.g. reviews tagged with a team.
func (q *Query[T, P]) WhereLinked(joinTable, linkColumn, filterColumn string, value any) *Query[T, P] {
	for _, ident := range []string{joinTable, linkColumn, filterColumn} {
		if !ValidIdent(ident) {
			return q.fail("invalid identifier %q", ident)
		}
	}
	c := q.clone()
	c.conds = append(c.conds, fmt.Sprintf(
		"EXISTS (SELECT 1 FROM %[1]s j WHERE j.%[2]s = d.id AND j.%[3]s = %[4]s)",
		joinTable, linkColumn, filterColumn, c.arg(value),
	))
	return c
}

// OrderBy appends a sort key. Without one, rows come newest revision first.
func (q *Query[T, P]) OrderBy(field string, desc bool) *Query[T, P] {
	col, ok := q.column(field)
	if !ok {
		return q.fail("unknown field %q", field)
	}
	c := q.clone()
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	c.order = append(c.order, "d."+col+" "+dir)
	return c
}

func (q *Query[T, P]) Limit(n int) *Query[T, P] {
	c := q.clone()
	c.limit = n
	return c
}

func (q *Query[T, P]) build(selectList string, withOrder bool) string {
	var b strings.Builder
	b.WriteString("SELECT " + selectList + " FROM " + q.table.name + " d")
	if len(q.conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(q.conds, " AND "))
	}
	if withOrder {
		order := q.order
		if len(order) == 0 {
			order = []string{"d.revision_date DESC"}
		}
		b.WriteString(" ORDER BY " + strings.Join(order, ", ") + ", d.revision_id DESC")
		if q.limit > 0 {
			b.WriteString(" LIMIT " + strconv.Itoa(q.limit))
		}
	}
	return b.String()
}

func (q *Query[T, P]) rows(ctx context.Context, db store.Querier) (*sql.Rows, error) {
	if q.err != nil {
		return nil, q.err
	}
	rows, err := db.QueryContext(ctx, q.build(q.table.SelectList("d"), true), q.args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.table.name, err)
	}
	return rows, nil
}

// Run executes the query and returns every match.
func (q *Query[T, P]) Run(ctx context.Context) ([]P, error) {
	return q.RunTx(ctx, q.table.db)
}

// RunTx executes the query against db, typically a transaction.
func (q *Query[T, P]) RunTx(ctx context.Context, db store.Querier) ([]P, error) {
	ctx, span := q.table.start(ctx, "Revision.Query.Run", "")
	defer span.End()
	started := time.Now()
	rows, err := q.rows(ctx, db)
	var docs []P
	if err == nil {
		docs, err = q.table.ScanAll(rows)
	}
	q.table.metrics.ObserveStoreOp(q.table.name, "query", started, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return docs, nil
}

// All returns a lazy sequence over the matches. Each iteration runs the
// query afresh, so the sequence can be ranged over more than once. An error
// is yielded once and ends the sequence.
func (q *Query[T, P]) All(ctx context.Context) iter.Seq2[P, error] {
	return func(yield func(P, error) bool) {
		rows, err := q.rows(ctx, q.table.db)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			doc, err := q.table.scan(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("iterate %s: %w", q.table.name, err))
		}
	}
}

// Count returns the number of matches, ignoring order and limit.
func (q *Query[T, P]) Count(ctx context.Context) (int, error) {
	if q.err != nil {
		return 0, q.err
	}
	var n int
	if err := q.table.db.QueryRowContext(ctx, q.build("count(*)", false), q.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", q.table.name, err)
	}
	return n, nil
}

// FeedOptions selects one page of a reverse-chronological feed.
type FeedOptions struct {
	Limit int
	// OffsetDate restricts the page to items strictly older than it.
	OffsetDate *time.Time
	// OffsetID, taken from the previous page, also admits items stamped
	// exactly OffsetDate whose revision id sorts below it. Without it, items
	// sharing the boundary timestamp are skipped.
	OffsetID string
	// Field is the timestamp to page on; defaults to revisionDate.
	Field string
}

// FeedPage is one page of results. OffsetDate and OffsetID are set when more
// items remain and are the values to pass for the next page.
type FeedPage[P any] struct {
	Items      []P
	OffsetDate *time.Time
	OffsetID   string
}

// Feed pages through the query newest first by a timestamp field. Ties are
// ordered by revision id, descending.
func (q *Query[T, P]) Feed(ctx context.Context, opts FeedOptions) (FeedPage[P], error) {
	field := opts.Field
	if field == "" {
		field = "revisionDate"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	if limit > MaxFeedLimit {
		limit = MaxFeedLimit
	}

	f, ok := q.table.schema.Lookup(field)
	if !ok {
		return FeedPage[P]{}, fmt.Errorf("feed on %s: unknown field %q", q.table.name, field)
	}

	page := q.clone()
	page.order = nil
	switch {
	case opts.OffsetDate != nil && opts.OffsetID != "":
		page.conds = append(page.conds, fmt.Sprintf("(d.%[1]s < %[2]s OR (d.%[1]s = %[2]s AND d.revision_id < %[3]s))",
			f.Column, page.arg(opts.OffsetDate.UTC()), page.arg(opts.OffsetID)))
	case opts.OffsetDate != nil:
		page = page.Where(f.Column, "<", opts.OffsetDate.UTC())
	}
	page = page.OrderBy(f.Column, true).Limit(limit + 1)

	docs, err := page.Run(ctx)
	if err != nil {
		return FeedPage[P]{}, err
	}
	out := FeedPage[P]{Items: docs}
	if len(docs) > limit {
		out.Items = docs[:limit]
		last, ok := codec.ToRow(out.Items[limit-1])[f.Column].(time.Time)
		if !ok {
			return FeedPage[P]{}, fmt.Errorf("feed on %s: %q is not a timestamp", q.table.name, field)
		}
		out.OffsetDate = &last
		out.OffsetID = out.Items[limit-1].Revision().RevisionID
	}
	return out, nil
}
