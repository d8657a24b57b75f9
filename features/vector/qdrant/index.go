// Package qdrant provides a rag.Index backed by a Qdrant collection. Point
// IDs are derived deterministically from function IDs so upserts replace and
// deletes address the right point without a lookup.
package qdrant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	sdk "github.com/qdrant/go-client/qdrant"

	"github.com/ioc-platform/agentcore/runtime/rag"
)

const defaultCollection = "functions"

type (
	// PointsClient captures the subset of the Qdrant client used by the
	// index. It is satisfied by *sdk.Client.
	PointsClient interface {
		CollectionExists(ctx context.Context, collectionName string) (bool, error)
		CreateCollection(ctx context.Context, request *sdk.CreateCollection) error
		Upsert(ctx context.Context, request *sdk.UpsertPoints) (*sdk.UpdateResult, error)
		Query(ctx context.Context, request *sdk.QueryPoints) ([]*sdk.ScoredPoint, error)
		Delete(ctx context.Context, request *sdk.DeletePoints) (*sdk.UpdateResult, error)
		Count(ctx context.Context, request *sdk.CountPoints) (uint64, error)
	}

	// Options configures the index.
	Options struct {
		// Client is the connected Qdrant client. Required.
		Client PointsClient
		// Collection is the collection name. Defaults to "functions".
		Collection string
		// Dimension is the vector size, used when creating the collection.
		// Required.
		Dimension int
	}

	// Index implements rag.Index on a Qdrant collection.
	Index struct {
		client     PointsClient
		collection string
		dimension  int
	}
)

var _ rag.Index = (*Index)(nil)

// New builds the index and creates the collection when missing.
func New(ctx context.Context, opts Options) (*Index, error) {
	if opts.Client == nil {
		return nil, errors.New("qdrant client is required")
	}
	if opts.Dimension <= 0 {
		return nil, errors.New("vector dimension is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	idx := &Index{client: opts.Client, collection: collection, dimension: opts.Dimension}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// NewFromConfig connects a Qdrant client and builds the index.
func NewFromConfig(ctx context.Context, host string, port int, apiKey string, opts Options) (*Index, error) {
	client, err := sdk.NewClient(&sdk.Config{Host: host, Port: port, APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	opts.Client = client
	return New(ctx, opts)
}

func (i *Index) ensureCollection(ctx context.Context) error {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return i.client.CreateCollection(ctx, &sdk.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: sdk.NewVectorsConfig(&sdk.VectorParams{
			Size:     uint64(i.dimension),
			Distance: sdk.Distance_Cosine,
		}),
	})
}

// pointID derives a stable UUID from the document ID.
func pointID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String()
}

// Upsert stores the document under its vector.
func (i *Index) Upsert(ctx context.Context, doc rag.Document, vector []float32) error {
	params := make([]any, len(doc.Parameters))
	for j, p := range doc.Parameters {
		params[j] = p
	}
	point := &sdk.PointStruct{
		Id:      sdk.NewIDUUID(pointID(doc.ID)),
		Vectors: sdk.NewVectors(vector...),
		Payload: sdk.NewValueMap(map[string]any{
			"function_id": doc.ID,
			"name":        doc.Name,
			"description": doc.Description,
			"category":    doc.Category,
			"parameters":  params,
		}),
	}
	_, err := i.client.Upsert(ctx, &sdk.UpsertPoints{
		CollectionName: i.collection,
		Points:         []*sdk.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Search returns the topK nearest documents, optionally restricted to a
// category.
func (i *Index) Search(ctx context.Context, vector []float32, topK int, category string) ([]rag.Match, error) {
	query := &sdk.QueryPoints{
		CollectionName: i.collection,
		Query:          sdk.NewQuery(vector...),
		Limit:          sdk.PtrOf(uint64(topK)),
		WithPayload:    sdk.NewWithPayload(true),
	}
	if category != "" {
		query.Filter = &sdk.Filter{
			Must: []*sdk.Condition{sdk.NewMatch("category", category)},
		}
	}
	points, err := i.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	matches := make([]rag.Match, 0, len(points))
	for _, p := range points {
		matches = append(matches, rag.Match{
			Document: payloadDocument(p.Payload),
			Score:    float64(p.Score),
		})
	}
	return matches, nil
}

// Delete removes the point derived from the document ID.
func (i *Index) Delete(ctx context.Context, id string) error {
	_, err := i.client.Delete(ctx, &sdk.DeletePoints{
		CollectionName: i.collection,
		Points:         sdk.NewPointsSelector(sdk.NewIDUUID(pointID(id))),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// Count reports the exact number of indexed documents.
func (i *Index) Count(ctx context.Context) (uint64, error) {
	return i.client.Count(ctx, &sdk.CountPoints{
		CollectionName: i.collection,
		Exact:          sdk.PtrOf(true),
	})
}

func payloadDocument(payload map[string]*sdk.Value) rag.Document {
	doc := rag.Document{
		ID:          payload["function_id"].GetStringValue(),
		Name:        payload["name"].GetStringValue(),
		Description: payload["description"].GetStringValue(),
		Category:    payload["category"].GetStringValue(),
	}
	if list := payload["parameters"].GetListValue(); list != nil {
		for _, v := range list.Values {
			if s := v.GetStringValue(); s != "" {
				doc.Parameters = append(doc.Parameters, s)
			}
		}
	}
	return doc
}
