// Package mongo implements the MongoDB-backed registry store. Function specs
// and their change events are written inside a single transaction so the sync
// pipeline never observes one without the other.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/ioc-platform/agentcore/runtime/registry"
	syncpkg "github.com/ioc-platform/agentcore/runtime/sync"
)

const (
	defaultCollection       = "functions"
	defaultEventsCollection = "sync_events"
	defaultTimeout          = 5 * time.Second
	clientName              = "registry-mongo"
)

// Options configures the Mongo registry store.
type Options struct {
	// Client is the connected MongoDB client. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Collection holds function specs. Defaults to "functions".
	Collection string
	// EventsCollection holds change events. Defaults to "sync_events".
	EventsCollection string
	// Timeout bounds individual operations. Defaults to 5s.
	Timeout time.Duration
}

// Store implements registry.Store on MongoDB.
type Store struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	events  *mongodriver.Collection
	timeout time.Duration
}

var _ registry.Store = (*Store)(nil)
var _ health.Pinger = (*Store)(nil)

// functionDocument is the stored shape. The success counter backs the running
// success rate and never leaves the store.
type functionDocument struct {
	registry.FunctionSpec `bson:",inline"`

	SuccessCount int64 `bson:"success_count"`
}

// New connects the store to its collections and ensures indexes.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	eventsCollection := opts.EventsCollection
	if eventsCollection == "" {
		eventsCollection = defaultEventsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &Store{
		mongo:   opts.Client,
		coll:    db.Collection(collection),
		events:  db.Collection(eventsCollection),
		timeout: timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name identifies the store for health checks.
func (s *Store) Name() string { return clientName }

// Ping verifies connectivity to the primary.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "function_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "domain", Value: 1}}},
		{Keys: bson.D{{Key: "call_count", Value: -1}}},
	})
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// inTransaction runs fn inside a session transaction.
func (s *Store) inTransaction(ctx context.Context, fn func(sc mongodriver.SessionContext) error) error {
	session, err := s.mongo.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongodriver.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// Create inserts the spec and its change event in one transaction.
func (s *Store) Create(ctx context.Context, fn *registry.FunctionSpec, evt *syncpkg.Event) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.inTransaction(ctx, func(sc mongodriver.SessionContext) error {
		if _, err := s.coll.InsertOne(sc, functionDocument{FunctionSpec: *fn}); err != nil {
			return err
		}
		_, err := s.events.InsertOne(sc, evt)
		return err
	})
	if mongodriver.IsDuplicateKeyError(err) {
		return registry.ErrExists
	}
	return err
}

// Get loads one spec by ID.
func (s *Store) Get(ctx context.Context, id string) (*registry.FunctionSpec, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc functionDocument
	if err := s.coll.FindOne(ctx, bson.M{"function_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, registry.ErrNotFound
		}
		return nil, err
	}
	return doc.FunctionSpec.Clone(), nil
}

// Update rewrites the mutable fields and appends the change event in one
// transaction. Usage statistics and created_at are owned by the store and
// left untouched.
func (s *Store) Update(ctx context.Context, fn *registry.FunctionSpec, evt *syncpkg.Event) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.inTransaction(ctx, func(sc mongodriver.SessionContext) error {
		res, err := s.coll.UpdateOne(sc, bson.M{"function_id": fn.ID}, bson.M{"$set": bson.M{
			"name":          fn.Name,
			"description":   fn.Description,
			"domain":        fn.Domain,
			"endpoint":      fn.Endpoint,
			"method":        fn.Method,
			"parameters":    fn.Parameters,
			"tags":          fn.Tags,
			"auth_required": fn.AuthRequired,
			"deprecated":    fn.Deprecated,
			"updated_at":    fn.UpdatedAt,
		}})
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return registry.ErrNotFound
		}
		_, err = s.events.InsertOne(sc, evt)
		return err
	})
}

// Delete removes the spec and appends the change event in one transaction.
func (s *Store) Delete(ctx context.Context, id string, evt *syncpkg.Event) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.inTransaction(ctx, func(sc mongodriver.SessionContext) error {
		res, err := s.coll.DeleteOne(sc, bson.M{"function_id": id})
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
			return registry.ErrNotFound
		}
		_, err = s.events.InsertOne(sc, evt)
		return err
	})
}

// List filters functions, newest first, and reports the total match count.
func (s *Store) List(ctx context.Context, filter registry.Filter) ([]*registry.FunctionSpec, int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := bson.M{}
	if filter.Domain != "" {
		query["domain"] = filter.Domain
	}
	if filter.Deprecated != nil {
		query["deprecated"] = *filter.Deprecated
	}
	if len(filter.Tags) > 0 {
		query["tags"] = bson.M{"$in": filter.Tags}
	}

	total, err := s.coll.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cur, err := s.coll.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, err
	}
	specs, err := decodeAll(ctx, cur)
	if err != nil {
		return nil, 0, err
	}
	return specs, total, nil
}

// Search matches name, description and ID case-insensitively, ordered by
// call count descending.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*registry.FunctionSpec, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	re := bson.M{"$regex": query, "$options": "i"}
	filter := bson.M{"$or": bson.A{
		bson.M{"name": re},
		bson.M{"description": re},
		bson.M{"function_id": re},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "call_count", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAll(ctx, cur)
}

// RecordUsage folds one call into the running statistics with a single
// pipeline update so concurrent callers never lose samples.
func (s *Store) RecordUsage(ctx context.Context, id string, latencyMs float64, success bool) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var successInc int64
	if success {
		successInc = 1
	}
	update := mongodriver.Pipeline{
		{{Key: "$set", Value: bson.M{
			"call_count":     bson.M{"$add": bson.A{"$call_count", 1}},
			"success_count":  bson.M{"$add": bson.A{"$success_count", successInc}},
			"last_called_at": time.Now().UTC(),
		}}},
		{{Key: "$set", Value: bson.M{
			"avg_latency_ms": bson.M{"$divide": bson.A{
				bson.M{"$add": bson.A{
					bson.M{"$multiply": bson.A{"$avg_latency_ms", bson.M{"$subtract": bson.A{"$call_count", 1}}}},
					latencyMs,
				}},
				"$call_count",
			}},
			"success_rate": bson.M{"$multiply": bson.A{
				bson.M{"$divide": bson.A{"$success_count", "$call_count"}},
				100,
			}},
		}}},
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"function_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// Statistics aggregates registry-wide counters.
func (s *Store) Statistics(ctx context.Context) (*registry.Statistics, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stats := &registry.Statistics{ByDomain: make(map[string]int64)}

	var err error
	if stats.Total, err = s.coll.CountDocuments(ctx, bson.M{}); err != nil {
		return nil, err
	}
	if stats.Active, err = s.coll.CountDocuments(ctx, bson.M{"deprecated": false}); err != nil {
		return nil, err
	}

	cur, err := s.coll.Aggregate(ctx, mongodriver.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$domain", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	var groups []struct {
		Domain string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return nil, err
	}
	for _, g := range groups {
		stats.ByDomain[g.Domain] = g.Count
	}

	topCur, err := s.coll.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "call_count", Value: -1}}).SetLimit(10))
	if err != nil {
		return nil, err
	}
	if stats.MostCalled, err = decodeAll(ctx, topCur); err != nil {
		return nil, err
	}
	return stats, nil
}

func decodeAll(ctx context.Context, cur *mongodriver.Cursor) ([]*registry.FunctionSpec, error) {
	var docs []functionDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*registry.FunctionSpec, len(docs))
	for i := range docs {
		out[i] = docs[i].FunctionSpec.Clone()
	}
	return out, nil
}
