// Package mongo implements the MongoDB-backed conversation store. Profiles,
// conversations and messages each live in their own collection.
package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	agentmemory "github.com/ioc-platform/agentcore/runtime/memory"
)

const (
	defaultProfiles      = "user_profiles"
	defaultConversations = "conversations"
	defaultMessages      = "messages"
	defaultTimeout       = 5 * time.Second
	clientName           = "memory-mongo"
)

// Options configures the Mongo conversation store.
type Options struct {
	// Client is the connected MongoDB client. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Timeout bounds individual operations. Defaults to 5s.
	Timeout time.Duration
}

// Store implements memory.Store on MongoDB.
type Store struct {
	mongo         *mongodriver.Client
	profiles      *mongodriver.Collection
	conversations *mongodriver.Collection
	messages      *mongodriver.Collection
	timeout       time.Duration
}

var _ agentmemory.Store = (*Store)(nil)
var _ health.Pinger = (*Store)(nil)

// messageDocument adds the conversation key to the stored message.
type messageDocument struct {
	ConversationID      string `bson:"conversation_id"`
	agentmemory.Message `bson:",inline"`
}

// New connects the store to its collections and ensures indexes.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &Store{
		mongo:         opts.Client,
		profiles:      db.Collection(defaultProfiles),
		conversations: db.Collection(defaultConversations),
		messages:      db.Collection(defaultMessages),
		timeout:       timeout,
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
	if _, err := s.profiles.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.conversations.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := s.messages.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// GetOrCreateProfile loads the profile, inserting a default one on first
// sight of the user.
func (s *Store) GetOrCreateProfile(ctx context.Context, userID string) (*agentmemory.Profile, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	res := s.profiles.FindOneAndUpdate(ctx,
		bson.M{"user_id": userID},
		bson.M{"$setOnInsert": bson.M{
			"user_id":    userID,
			"created_at": now,
			"updated_at": now,
		}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var profile agentmemory.Profile
	if err := res.Decode(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// SaveProfile upserts the profile.
func (s *Store) SaveProfile(ctx context.Context, profile *agentmemory.Profile) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cp := *profile
	cp.UpdatedAt = time.Now().UTC()
	_, err := s.profiles.ReplaceOne(ctx,
		bson.M{"user_id": profile.UserID}, cp, options.Replace().SetUpsert(true))
	return err
}

// CreateConversation starts a new thread.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (*agentmemory.Conversation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	conv := &agentmemory.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.conversations.InsertOne(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// AppendMessage adds a message to the conversation and bumps its activity
// timestamp.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg agentmemory.Message) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"conversation_id": conversationID},
		bson.M{"$set": bson.M{"updated_at": msg.CreatedAt}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return agentmemory.ErrConversationNotFound
	}
	_, err = s.messages.InsertOne(ctx, messageDocument{
		ConversationID: conversationID,
		Message:        msg,
	})
	return err
}

// RecentMessages returns up to n most recent messages, oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, n int) ([]agentmemory.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.conversations.FindOne(ctx, bson.M{"conversation_id": conversationID}).Err(); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, agentmemory.ErrConversationNotFound
		}
		return nil, err
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if n > 0 {
		opts.SetLimit(int64(n))
	}
	cur, err := s.messages.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	// Newest-first from the query; flip to chronological order.
	out := make([]agentmemory.Message, len(docs))
	for i, d := range docs {
		out[len(docs)-1-i] = d.Message
	}
	return out, nil
}

// Summary reports message count and last activity.
func (s *Store) Summary(ctx context.Context, conversationID string) (*agentmemory.Summary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var conv agentmemory.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&conv); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, agentmemory.ErrConversationNotFound
		}
		return nil, err
	}
	count, err := s.messages.CountDocuments(ctx, bson.M{"conversation_id": conversationID})
	if err != nil {
		return nil, err
	}
	return &agentmemory.Summary{
		ConversationID: conversationID,
		MessageCount:   int(count),
		LastActivity:   conv.UpdatedAt,
	}, nil
}
