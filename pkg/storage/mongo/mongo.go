// Package mongo provides a MongoDB-backed memory store. Units are stored as
// documents in their canonical camelCase shape, and text predicates use
// case-insensitive regular expressions.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/papercomputeco/reminisce/pkg/memory"
	"github.com/papercomputeco/reminisce/pkg/storage"
)

// DefaultCollection is the collection memories are stored in.
const DefaultCollection = "memories"

// Driver implements storage.Driver using MongoDB.
type Driver struct {
	// Clock overrides the time source used for timestamps.
	Clock storage.Clock

	client *mongo.Client
	coll   *mongo.Collection
}

// NewDriver connects to MongoDB and ensures the collection indexes exist.
func NewDriver(ctx context.Context, uri, database string) (*Driver, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Verify the connection is reachable
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	d := &Driver{
		client: client,
		coll:   client.Database(database).Collection(DefaultCollection),
	}
	if err := d.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return d, nil
}

func (d *Driver) ensureIndexes(ctx context.Context) error {
	_, err := d.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "fingerprint", Value: 1}}},
		{Keys: bson.D{{Key: "pattern.type", Value: 1}, {Key: "pattern.intent", Value: 1}}},
		{Keys: bson.D{{Key: "entities.entityType", Value: 1}, {Key: "entities.entityId", Value: 1}}},
		{Keys: bson.D{{Key: "tier", Value: 1}}},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}},
		{Keys: bson.D{{Key: "lastAccessed", Value: 1}}},
		{Keys: bson.D{{Key: "relatedMemories", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Create stores a new unit and returns its id.
func (d *Driver) Create(ctx context.Context, unit *memory.Unit) (string, error) {
	if unit == nil {
		return "", storage.ErrNilUnit
	}

	u := unit.Clone()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	memory.PrepareCreate(u, d.Clock.Now())

	if _, err := d.coll.InsertOne(ctx, toDocument(u)); err != nil {
		return "", classify("create", fmt.Errorf("failed to insert memory: %w", err))
	}
	return u.ID, nil
}

// Get retrieves a unit by id.
func (d *Driver) Get(ctx context.Context, id string) (*memory.Unit, error) {
	var doc document
	err := d.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, classify("get", fmt.Errorf("failed to get memory: %w", err))
	}
	return doc.unit(), nil
}

// Find returns matching units ordered by the query's sort.
func (d *Driver) Find(ctx context.Context, q memory.Query) ([]*memory.Unit, error) {
	opts := options.Find().SetSort(toSort(q.Ordering()))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := d.coll.Find(ctx, toFilter(q.Filter), opts)
	if err != nil {
		return nil, classify("find", fmt.Errorf("failed to find memories: %w", err))
	}

	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify("find", fmt.Errorf("failed to decode memories: %w", err))
	}

	units := make([]*memory.Unit, 0, len(docs))
	for i := range docs {
		units = append(units, docs[i].unit())
	}
	return units, nil
}

// Count returns the number of matching units.
func (d *Driver) Count(ctx context.Context, f memory.Filter) (int, error) {
	n, err := d.coll.CountDocuments(ctx, toFilter(f))
	if err != nil {
		return 0, classify("count", fmt.Errorf("failed to count memories: %w", err))
	}
	return int(n), nil
}

// Update applies a patch to a single unit.
func (d *Driver) Update(ctx context.Context, id string, patch memory.Patch) (bool, error) {
	n, err := d.UpdateMany(ctx, memory.Filter{IDs: []string{id}}, patch)
	return n > 0, err
}

// UpdateMany applies a patch to every matching unit. Removing tags conflicts
// with adding them in a single update document, so set edits resolve the
// target ids first and apply each operator in turn.
func (d *Driver) UpdateMany(ctx context.Context, f memory.Filter, patch memory.Patch) (int, error) {
	now := d.Clock.Now()
	patch.Normalize()

	filter := toFilter(f)
	if len(patch.RemoveTags) > 0 {
		ids, err := d.matchingIDs(ctx, filter)
		if err != nil {
			return 0, err
		}
		if len(ids) == 0 {
			return 0, nil
		}
		filter = bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
	}

	res, err := d.coll.UpdateMany(ctx, filter, toUpdate(patch, now))
	if err != nil {
		return 0, classify("update", fmt.Errorf("failed to update memories: %w", err))
	}

	if len(patch.RemoveTags) > 0 {
		pull := bson.D{{Key: "$pull", Value: bson.D{
			{Key: "tags", Value: bson.D{{Key: "$in", Value: patch.RemoveTags}}},
		}}}
		if _, err := d.coll.UpdateMany(ctx, filter, pull); err != nil {
			return 0, classify("update", fmt.Errorf("failed to remove tags: %w", err))
		}
	}

	return int(res.MatchedCount), nil
}

func (d *Driver) matchingIDs(ctx context.Context, filter bson.D) ([]string, error) {
	cursor, err := d.coll.Find(ctx, filter, options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, classify("update", fmt.Errorf("failed to select memories: %w", err))
	}

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, classify("update", fmt.Errorf("failed to decode memory ids: %w", err))
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

func toUpdate(patch memory.Patch, now time.Time) bson.D {
	set := bson.D{{Key: "updatedAt", Value: now}}
	var unset bson.D

	if patch.Confidence != nil {
		set = append(set, bson.E{Key: "confidence", Value: *patch.Confidence})
	}
	if patch.Importance != nil {
		set = append(set, bson.E{Key: "importance", Value: *patch.Importance})
	}
	if patch.Tier != nil {
		set = append(set, bson.E{Key: "tier", Value: string(*patch.Tier)})
	}
	if patch.Summary != nil {
		set = append(set, bson.E{Key: "summary", Value: *patch.Summary})
	}
	if patch.Validated != nil {
		set = append(set, bson.E{Key: "validated", Value: *patch.Validated})
		if *patch.Validated {
			set = append(set, bson.E{Key: "lastValidated", Value: now})
		}
	}
	switch {
	case patch.ClearExpiry:
		unset = append(unset, bson.E{Key: "expiresAt", Value: ""})
	case patch.ExpiresAt != nil:
		set = append(set, bson.E{Key: "expiresAt", Value: *patch.ExpiresAt})
	}
	if patch.LastAccessed != nil {
		set = append(set, bson.E{Key: "lastAccessed", Value: *patch.LastAccessed})
	}

	update := bson.D{{Key: "$set", Value: set}}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	if patch.IncrementAccess != 0 {
		update = append(update, bson.E{Key: "$inc", Value: bson.D{{Key: "accessCount", Value: patch.IncrementAccess}}})
	}

	var addToSet bson.D
	if len(patch.AddTags) > 0 {
		addToSet = append(addToSet, bson.E{Key: "tags", Value: bson.D{{Key: "$each", Value: patch.AddTags}}})
	}
	if len(patch.AddRelated) > 0 {
		addToSet = append(addToSet, bson.E{Key: "relatedMemories", Value: bson.D{{Key: "$each", Value: patch.AddRelated}}})
	}
	if len(addToSet) > 0 {
		update = append(update, bson.E{Key: "$addToSet", Value: addToSet})
	}

	return update
}

// Delete removes a single unit.
func (d *Driver) Delete(ctx context.Context, id string) (bool, error) {
	res, err := d.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return false, classify("delete", fmt.Errorf("failed to delete memory: %w", err))
	}
	return res.DeletedCount > 0, nil
}

// DeleteMany removes every matching unit.
func (d *Driver) DeleteMany(ctx context.Context, f memory.Filter) (int, error) {
	res, err := d.coll.DeleteMany(ctx, toFilter(f))
	if err != nil {
		return 0, classify("delete", fmt.Errorf("failed to delete memories: %w", err))
	}
	return int(res.DeletedCount), nil
}

// FindRelated resolves related memories up to depth hops.
func (d *Driver) FindRelated(ctx context.Context, id string, depth int) ([]*memory.Unit, error) {
	return storage.WalkRelated(ctx, d, id, depth)
}

type totals struct {
	Total         int     `bson:"total"`
	TotalAccess   int64   `bson:"totalAccess"`
	AvgConfidence float64 `bson:"avgConfidence"`
	High          int     `bson:"high"`
	Medium        int     `bson:"medium"`
	Validated     int     `bson:"validated"`
	Expired       int     `bson:"expired"`
}

func countIf(cond any) bson.D {
	return bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{cond, 1, 0}}}}}
}

// Summarize computes aggregate statistics with two aggregation pipelines.
func (d *Driver) Summarize(ctx context.Context, now time.Time) (*memory.Summary, error) {
	s := memory.NewSummary()

	cursor, err := d.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "totalAccess", Value: bson.D{{Key: "$sum", Value: "$accessCount"}}},
			{Key: "avgConfidence", Value: bson.D{{Key: "$avg", Value: "$confidence"}}},
			{Key: "high", Value: countIf(bson.D{{Key: "$gte", Value: bson.A{"$confidence", memory.HighConfidence}}})},
			{Key: "medium", Value: countIf(bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "$gte", Value: bson.A{"$confidence", memory.MediumConfidence}}},
				bson.D{{Key: "$lt", Value: bson.A{"$confidence", memory.HighConfidence}}},
			}}})},
			{Key: "validated", Value: countIf("$validated")},
			{Key: "expired", Value: countIf(bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$type", Value: "$expiresAt"}}, "date"}}},
				bson.D{{Key: "$lt", Value: bson.A{"$expiresAt", now}}},
			}}})},
		}}},
	})
	if err != nil {
		return nil, classify("summarize", fmt.Errorf("failed to aggregate memories: %w", err))
	}
	var agg []totals
	if err := cursor.All(ctx, &agg); err != nil {
		return nil, classify("summarize", fmt.Errorf("failed to decode aggregate: %w", err))
	}
	if len(agg) > 0 {
		t := agg[0]
		s.Total = t.Total
		s.TotalAccess = t.TotalAccess
		s.AvgConfidence = t.AvgConfidence
		s.ByConfidence.High = t.High
		s.ByConfidence.Medium = t.Medium
		s.ByConfidence.Low = t.Total - t.High - t.Medium
		s.Validated = t.Validated
		s.Expired = t.Expired
	}

	cursor, err = d.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$tier"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, classify("summarize", fmt.Errorf("failed to group memories by tier: %w", err))
	}
	var tiers []struct {
		Tier string `bson:"_id"`
		N    int    `bson:"n"`
	}
	if err := cursor.All(ctx, &tiers); err != nil {
		return nil, classify("summarize", fmt.Errorf("failed to decode tier counts: %w", err))
	}
	for _, t := range tiers {
		s.ByTier[memory.Tier(t.Tier)] = t.N
	}

	return s, nil
}

// DropAll removes every memory. It exists for test isolation.
func (d *Driver) DropAll(ctx context.Context) error {
	_, err := d.coll.DeleteMany(ctx, bson.D{})
	return err
}

// Close disconnects the client.
func (d *Driver) Close() error {
	return d.client.Disconnect(context.Background())
}

// classify marks network failures and timeouts as transient.
func classify(op string, err error) error {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return &storage.TransientError{Op: op, Err: err}
	}
	return err
}
