package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ioc-platform/agentcore/runtime/agent/telemetry"
)

// Rerank weights: vector similarity dominates, lexical overlap breaks ties.
const (
	vectorWeight  = 0.8
	overlapWeight = 0.2
)

type (
	// RetrieverOptions configures the Retriever.
	RetrieverOptions struct {
		// Embedder generates query and document vectors. Required.
		Embedder Embedder
		// Index is the backing vector store. Required.
		Index Index
		// InitialTopK is the stage-1 candidate count. Defaults to 20.
		InitialTopK int
		// FinalTopK is the stage-2 result count. Defaults to 5.
		FinalTopK int
		// Logger receives structured logs. Defaults to noop.
		Logger telemetry.Logger
	}

	// Retriever performs two-stage retrieval: vector search for candidates,
	// then a combined vector+overlap rerank.
	Retriever struct {
		embedder    Embedder
		index       Index
		initialTopK int
		finalTopK   int
		logger      telemetry.Logger
	}

	// RetrieveOptions tunes a single Retrieve call.
	RetrieveOptions struct {
		// Category restricts candidates to one category when non-empty.
		Category string
		// DisableRerank skips stage 2 and truncates stage-1 results instead.
		DisableRerank bool
	}

	// Stats describes the retriever configuration and index size.
	Stats struct {
		TotalFunctions     uint64 `json:"total_functions"`
		EmbeddingDimension int    `json:"embedding_dimension"`
		InitialTopK        int    `json:"initial_top_k"`
		FinalTopK          int    `json:"final_top_k"`
	}
)

// NewRetriever constructs a Retriever.
func NewRetriever(opts RetrieverOptions) (*Retriever, error) {
	if opts.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if opts.Index == nil {
		return nil, errors.New("index is required")
	}
	initial := opts.InitialTopK
	if initial <= 0 {
		initial = 20
	}
	final := opts.FinalTopK
	if final <= 0 {
		final = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Retriever{
		embedder:    opts.Embedder,
		index:       opts.Index,
		initialTopK: initial,
		finalTopK:   final,
		logger:      logger,
	}, nil
}

// Retrieve finds the functions most relevant to the query. Stage 1 pulls
// InitialTopK candidates by cosine similarity; stage 2 reranks them by
// 0.8*vector + 0.2*term-overlap and keeps FinalTopK. Reranking only runs when
// there are more candidates than the final count.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]Result, error) {
	if query == "" {
		return nil, errors.New("query is required")
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := r.index.Search(ctx, vector, r.initialTopK, opts.Category)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(candidates) == 0 {
		r.logger.Warn(ctx, "no candidates found in vector search", "query", query)
		return nil, nil
	}
	r.logger.Debug(ctx, "vector search complete", "candidates", len(candidates))

	if !opts.DisableRerank && len(candidates) > r.finalTopK {
		return r.rerank(query, candidates), nil
	}

	results := make([]Result, 0, r.finalTopK)
	for _, c := range candidates {
		if len(results) == r.finalTopK {
			break
		}
		results = append(results, Result{Document: c.Document, Score: c.Score, VectorScore: c.Score})
	}
	return results, nil
}

// rerank combines vector score and lexical overlap, sorts descending and
// keeps the final top K.
func (r *Retriever) rerank(query string, candidates []Match) []Result {
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		overlap := termOverlap(query, c.Document)
		results[i] = Result{
			Document:    c.Document,
			Score:       vectorWeight*c.Score + overlapWeight*overlap,
			VectorScore: c.Score,
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > r.finalTopK {
		results = results[:r.finalTopK]
	}
	return results
}

// IndexFunction embeds and upserts one document.
func (r *Retriever) IndexFunction(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	vector, err := r.embedder.Embed(ctx, EmbedText(doc))
	if err != nil {
		return fmt.Errorf("embed document %s: %w", doc.ID, err)
	}
	return r.index.Upsert(ctx, doc, vector)
}

// IndexFunctions embeds all documents in one batch round trip and upserts
// them in order, stopping at the first upsert failure.
func (r *Retriever) IndexFunctions(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return errors.New("document id is required")
		}
		texts[i] = EmbedText(doc)
	}
	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}
	for i, doc := range docs {
		if err := r.index.Upsert(ctx, doc, vectors[i]); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFunction removes a document from the index.
func (r *Retriever) DeleteFunction(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("document id is required")
	}
	return r.index.Delete(ctx, id)
}

// Stats reports the retriever configuration and index size.
func (r *Retriever) Stats(ctx context.Context) (*Stats, error) {
	count, err := r.index.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		TotalFunctions:     count,
		EmbeddingDimension: r.embedder.Dimension(),
		InitialTopK:        r.initialTopK,
		FinalTopK:          r.finalTopK,
	}, nil
}
