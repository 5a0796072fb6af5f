// Package sqlstore implements storage.Driver on top of database/sql using
// ent's dialect-aware SQL builder and schema migration. It is shared by the
// SQLite and PostgreSQL drivers.
package sqlstore

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"github.com/google/uuid"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/storage"
)

// Driver provides storage operations over a SQL database.
// It is database-agnostic and can be embedded by specific drivers.
type Driver struct {
	// Clock overrides the time source used for timestamps.
	Clock storage.Clock

	db      *stdsql.DB
	dialect string
}

// New wraps an open database. Migrate must be called before use.
func New(db *stdsql.DB, dialectName string) *Driver {
	return &Driver{db: db, dialect: dialectName}
}

// Migrate creates or updates the memory tables and indexes.
func (d *Driver) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(sql.OpenDB(d.dialect, d.db))
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// DB exposes the underlying database handle.
func (d *Driver) DB() *stdsql.DB {
	return d.db
}

// Create stores a new unit and its entity index rows in one transaction.
func (d *Driver) Create(ctx context.Context, unit *memory.Unit) (string, error) {
	if unit == nil {
		return "", storage.ErrNilUnit
	}

	u := unit.Clone()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	memory.PrepareCreate(u, d.Clock.Now())

	r, err := toRow(u)
	if err != nil {
		return "", err
	}

	err = d.withTx(ctx, "create", func(tx *stdsql.Tx) error {
		query, args := sql.Dialect(d.dialect).
			Insert(memoriesTable).
			Columns(r.columns()...).
			Values(r.values()...).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert memory: %w", err)
		}
		return d.insertEntities(ctx, tx, u.ID, u.Entities)
	})
	if err != nil {
		return "", err
	}

	return u.ID, nil
}

func (d *Driver) insertEntities(ctx context.Context, tx *stdsql.Tx, id string, entities []memory.EntityRef) error {
	if len(entities) == 0 {
		return nil
	}

	insert := sql.Dialect(d.dialect).
		Insert(entitiesTable).
		Columns(colMemoryID, colEntityType, colEntityID, colEntityRole)
	for _, e := range entities {
		insert.Values(id, e.EntityType, e.EntityID, e.Role)
	}

	query, args := insert.Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert memory entities: %w", err)
	}
	return nil
}

// Get retrieves a unit by id.
func (d *Driver) Get(ctx context.Context, id string) (*memory.Unit, error) {
	units, err := d.Find(ctx, memory.Query{Filter: memory.Filter{IDs: []string{id}}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, storage.NotFoundError{ID: id}
	}
	return units[0], nil
}

// Find returns matching units ordered by the query's sort.
func (d *Driver) Find(ctx context.Context, q memory.Query) ([]*memory.Unit, error) {
	selector := sql.Dialect(d.dialect).
		Select(unitColumns...).
		From(sql.Table(memoriesTable)).
		OrderBy(orderBy(q.Ordering())...)
	if p := d.predicate(q.Filter); p != nil {
		selector.Where(p)
	}
	if q.Limit > 0 {
		selector.Limit(q.Limit)
	}

	query, args := selector.Query()
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("find", fmt.Errorf("failed to query memories: %w", err))
	}
	defer rows.Close()

	var units []*memory.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("find", fmt.Errorf("failed to read memories: %w", err))
	}

	return units, nil
}

// Count returns the number of matching units.
func (d *Driver) Count(ctx context.Context, f memory.Filter) (int, error) {
	selector := sql.Dialect(d.dialect).
		Select(sql.Count("*")).
		From(sql.Table(memoriesTable))
	if p := d.predicate(f); p != nil {
		selector.Where(p)
	}

	var n int
	if err := d.queryRow(ctx, selector, &n); err != nil {
		return 0, classify("count", fmt.Errorf("failed to count memories: %w", err))
	}
	return n, nil
}

// Update applies a patch to a single unit.
func (d *Driver) Update(ctx context.Context, id string, patch memory.Patch) (bool, error) {
	n, err := d.UpdateMany(ctx, memory.Filter{IDs: []string{id}}, patch)
	return n > 0, err
}

// UpdateMany applies a patch to every matching unit. Scalar changes run as a
// single UPDATE statement; tag and relation edits need each unit's current
// lists and are applied row by row inside the same transaction.
func (d *Driver) UpdateMany(ctx context.Context, f memory.Filter, patch memory.Patch) (int, error) {
	now := d.Clock.Now()
	patch.Normalize()
	if err := checkList("tags", patch.AddTags); err != nil {
		return 0, err
	}
	if err := checkList("relatedMemories", patch.AddRelated); err != nil {
		return 0, err
	}

	var affected int
	err := d.withTx(ctx, "update", func(tx *stdsql.Tx) error {
		if patch.HasSetOps() {
			n, err := d.updateSetOps(ctx, tx, f, patch, now)
			affected = n
			return err
		}

		update := d.scalarUpdate(patch, now)
		if p := d.predicate(f); p != nil {
			update.Where(p)
		}
		query, args := update.Query()
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update memories: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		affected = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (d *Driver) scalarUpdate(patch memory.Patch, now time.Time) *sql.UpdateBuilder {
	update := sql.Dialect(d.dialect).
		Update(memoriesTable).
		Set(colUpdatedAt, nanos(now))

	if patch.Confidence != nil {
		update.Set(colConfidence, *patch.Confidence)
	}
	if patch.Importance != nil {
		update.Set(colImportance, *patch.Importance)
	}
	if patch.Tier != nil {
		update.Set(colTier, string(*patch.Tier))
	}
	if patch.Summary != nil {
		update.Set(colSummary, *patch.Summary)
	}
	if patch.Validated != nil {
		update.Set(colValidated, *patch.Validated)
		if *patch.Validated {
			update.Set(colLastValidated, nanos(now))
		}
	}
	switch {
	case patch.ClearExpiry:
		update.SetNull(colExpiresAt)
	case patch.ExpiresAt != nil:
		update.Set(colExpiresAt, nanos(*patch.ExpiresAt))
	}
	if patch.LastAccessed != nil {
		update.Set(colLastAccessed, nanos(*patch.LastAccessed))
	}
	if patch.IncrementAccess != 0 {
		update.Add(colAccessCount, patch.IncrementAccess)
	}
	return update
}

func (d *Driver) updateSetOps(ctx context.Context, tx *stdsql.Tx, f memory.Filter, patch memory.Patch, now time.Time) (int, error) {
	selector := sql.Dialect(d.dialect).
		Select(colID, colTags, colRelated).
		From(sql.Table(memoriesTable))
	if p := d.predicate(f); p != nil {
		selector.Where(p)
	}

	type lists struct {
		id      string
		tags    []string
		related []string
	}

	query, args := selector.Query()
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to select memories for update: %w", err)
	}
	var targets []lists
	for rows.Next() {
		var id, tags, related string
		if err := rows.Scan(&id, &tags, &related); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan memory lists: %w", err)
		}
		targets = append(targets, lists{id: id, tags: splitList(tags), related: splitList(related)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read memory lists: %w", err)
	}

	for _, t := range targets {
		tags := memory.RemoveFromSet(memory.AddToSet(t.tags, patch.AddTags...), patch.RemoveTags...)
		related := memory.AddToSet(t.related, patch.AddRelated...)

		query, args := d.scalarUpdate(patch, now).
			Set(colTags, joinList(tags)).
			Set(colRelated, joinList(related)).
			Where(sql.EQ(colID, t.id)).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("failed to update memory %s: %w", t.id, err)
		}
	}

	return len(targets), nil
}

// Delete removes a single unit.
func (d *Driver) Delete(ctx context.Context, id string) (bool, error) {
	n, err := d.DeleteMany(ctx, memory.Filter{IDs: []string{id}})
	return n > 0, err
}

// DeleteMany removes every matching unit along with its entity rows.
func (d *Driver) DeleteMany(ctx context.Context, f memory.Filter) (int, error) {
	var affected int
	err := d.withTx(ctx, "delete", func(tx *stdsql.Tx) error {
		ids := sql.Dialect(d.dialect).
			Select(colID).
			From(sql.Table(memoriesTable))
		if p := d.predicate(f); p != nil {
			ids.Where(p)
		}

		query, args := sql.Dialect(d.dialect).
			Delete(entitiesTable).
			Where(sql.In(colMemoryID, ids)).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to delete memory entities: %w", err)
		}

		del := sql.Dialect(d.dialect).Delete(memoriesTable)
		if p := d.predicate(f); p != nil {
			del.Where(p)
		}
		query, args = del.Query()
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to delete memories: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		affected = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// FindRelated resolves related memories up to depth hops.
func (d *Driver) FindRelated(ctx context.Context, id string, depth int) ([]*memory.Unit, error) {
	return storage.WalkRelated(ctx, d, id, depth)
}

// Summarize computes aggregate statistics with grouped queries.
func (d *Driver) Summarize(ctx context.Context, now time.Time) (*memory.Summary, error) {
	s := memory.NewSummary()

	totals := sql.Dialect(d.dialect).
		Select(
			sql.Count("*"),
			"CAST(COALESCE(SUM(access_count), 0) AS BIGINT)",
			"COALESCE(AVG(confidence), 0)",
		).
		From(sql.Table(memoriesTable))
	if err := d.queryRow(ctx, totals, &s.Total, &s.TotalAccess, &s.AvgConfidence); err != nil {
		return nil, classify("summarize", fmt.Errorf("failed to summarize memories: %w", err))
	}

	byTier := sql.Dialect(d.dialect).
		Select(colTier, sql.Count("*")).
		From(sql.Table(memoriesTable)).
		GroupBy(colTier)
	query, args := byTier.Query()
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("summarize", fmt.Errorf("failed to group memories by tier: %w", err))
	}
	for rows.Next() {
		var (
			tier string
			n    int
		)
		if err := rows.Scan(&tier, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan tier count: %w", err)
		}
		s.ByTier[memory.Tier(tier)] = n
	}
	rows.Close()

	counts := []struct {
		dst *int
		f   memory.Filter
	}{
		{&s.ByConfidence.High, memory.Filter{MinConfidence: memory.Ptr(memory.HighConfidence)}},
		{&s.ByConfidence.Medium, memory.Filter{
			MinConfidence: memory.Ptr(memory.MediumConfidence),
			MaxConfidence: memory.Ptr(memory.HighConfidence),
		}},
		{&s.Validated, memory.Filter{Validated: memory.Ptr(true)}},
		{&s.Expired, memory.Filter{ExpiredBefore: &now}},
	}
	for _, c := range counts {
		n, err := d.Count(ctx, c.f)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}
	s.ByConfidence.Low = s.Total - s.ByConfidence.High - s.ByConfidence.Medium

	return s, nil
}

// Close closes the database connection.
func (d *Driver) Close() error {
	return d.db.Close()
}

func (d *Driver) queryRow(ctx context.Context, selector *sql.Selector, dest ...any) error {
	query, args := selector.Query()
	return d.db.QueryRowContext(ctx, query, args...).Scan(dest...)
}

func (d *Driver) withTx(ctx context.Context, op string, fn func(tx *stdsql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// classify marks connection-level failures as transient.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, stdsql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded),
		isConnError(err):
		return &storage.TransientError{Op: op, Err: err}
	}
	return err
}

// Dialects supported by this package.
const (
	SQLite   = dialect.SQLite
	Postgres = dialect.Postgres
)
