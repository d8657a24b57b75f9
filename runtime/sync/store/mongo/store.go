// Package mongo implements the MongoDB-backed sync event store. It reads the
// same collection the registry store writes its change events into.
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

	syncpkg "github.com/ioc-platform/agentcore/runtime/sync"
)

const (
	defaultCollection = "sync_events"
	defaultTimeout    = 5 * time.Second
	clientName        = "sync-mongo"
)

// Options configures the Mongo sync store.
type Options struct {
	// Client is the connected MongoDB client. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Collection holds the event log. Defaults to "sync_events".
	Collection string
	// Timeout bounds individual operations. Defaults to 5s.
	Timeout time.Duration
}

// Store implements sync.Store on MongoDB.
type Store struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

var _ syncpkg.Store = (*Store)(nil)
var _ health.Pinger = (*Store)(nil)

// New connects the store to its collection and ensures indexes.
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
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	s := &Store{
		mongo:   opts.Client,
		coll:    opts.Client.Database(opts.Database).Collection(collection),
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
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "sync_status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "entity_type", Value: 1}}},
	})
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Append adds a new event to the log.
func (s *Store) Append(ctx context.Context, evt *syncpkg.Event) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.coll.InsertOne(ctx, evt)
	return err
}

// Pending returns eligible events ordered by creation time ascending: pending
// events, plus failed ones still under their retry budget.
func (s *Store) Pending(ctx context.Context, limit int, entityType string) ([]*syncpkg.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"$or": bson.A{
		bson.M{"sync_status": syncpkg.StatusPending},
		bson.M{
			"sync_status": syncpkg.StatusFailed,
			"$expr":       bson.M{"$lt": bson.A{"$retry_count", "$max_retries"}},
		},
	}}
	if entityType != "" {
		filter["entity_type"] = entityType
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var events []*syncpkg.Event
	if err := cur.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Claim atomically flips an eligible event to processing. The eligibility
// condition rides in the update filter, so of any number of concurrent
// workers exactly one sees a match.
func (s *Store) Claim(ctx context.Context, evt *syncpkg.Event) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"event_id": evt.ID,
		"$or": bson.A{
			bson.M{"sync_status": syncpkg.StatusPending},
			bson.M{
				"sync_status": syncpkg.StatusFailed,
				"$expr":       bson.M{"$lt": bson.A{"$retry_count", "$max_retries"}},
			},
		},
	}
	set := bson.M{"sync_status": syncpkg.StatusProcessing}
	if evt.ProcessedAt != nil {
		set["processed_at"] = *evt.ProcessedAt
	}
	res := s.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set})
	if err := res.Err(); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Update persists the event's pipeline state.
func (s *Store) Update(ctx context.Context, evt *syncpkg.Event) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	set := bson.M{
		"sync_status":   evt.Status,
		"error_message": evt.Error,
		"retry_count":   evt.RetryCount,
	}
	if evt.ProcessedAt != nil {
		set["processed_at"] = *evt.ProcessedAt
	}
	if evt.SyncedAt != nil {
		set["synced_at"] = *evt.SyncedAt
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"event_id": evt.ID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errors.New("sync event not found")
	}
	return nil
}

// Stats reports counts by status and the ten most recent failures.
func (s *Store) Stats(ctx context.Context) (*syncpkg.Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stats := &syncpkg.Stats{ByStatus: make(map[syncpkg.Status]int64)}

	cur, err := s.coll.Aggregate(ctx, mongodriver.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$sync_status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, err
	}
	var groups []struct {
		Status syncpkg.Status `bson:"_id"`
		Count  int64          `bson:"count"`
	}
	if err := cur.All(ctx, &groups); err != nil {
		return nil, err
	}
	for _, g := range groups {
		stats.ByStatus[g.Status] = g.Count
		stats.Total += g.Count
	}

	failCur, err := s.coll.Find(ctx, bson.M{"sync_status": syncpkg.StatusFailed},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(10))
	if err != nil {
		return nil, err
	}
	if err := failCur.All(ctx, &stats.RecentFailures); err != nil {
		return nil, err
	}
	return stats, nil
}
