// Package rag implements two-stage retrieval over the function index: a
// vector similarity search followed by a lexical rerank. The package owns the
// Embedder and Index abstractions; concrete bindings live under features.
package rag

import (
	"context"
	"fmt"
	"strings"
)

type (
	// Document is the indexable projection of a registry function.
	Document struct {
		ID          string   `json:"id"`
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Category    string   `json:"category"`
		Parameters  []string `json:"parameters,omitempty"`
	}

	// Match is a document with its vector similarity score.
	Match struct {
		Document
		// Score is the cosine similarity from the vector search.
		Score float64 `json:"score"`
	}

	// Result is a reranked match.
	Result struct {
		Document
		// Score is the combined rerank score.
		Score float64 `json:"rerank_score"`
		// VectorScore is the original similarity before reranking.
		VectorScore float64 `json:"original_score"`
	}

	// Embedder turns text into dense vectors.
	Embedder interface {
		Embed(ctx context.Context, text string) ([]float32, error)
		// EmbedBatch embeds texts in one round trip, preserving order.
		EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
		Dimension() int
	}

	// Index stores and searches document vectors.
	Index interface {
		// Search returns the topK nearest documents, optionally restricted to
		// a category.
		Search(ctx context.Context, vector []float32, topK int, category string) ([]Match, error)
		// Upsert stores the document under its vector, replacing any prior
		// entry with the same ID.
		Upsert(ctx context.Context, doc Document, vector []float32) error
		// Delete removes the document with the given ID.
		Delete(ctx context.Context, id string) error
		// Count reports the number of indexed documents.
		Count(ctx context.Context) (uint64, error)
	}
)

// EmbedText renders the canonical embedding text for a document. The format
// is part of the index contract: changing it invalidates stored vectors.
func EmbedText(doc Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Function: %s | Description: %s | Category: %s", doc.Name, doc.Description, doc.Category)
	if len(doc.Parameters) > 0 {
		fmt.Fprintf(&b, " | Parameters: %s", strings.Join(doc.Parameters, ", "))
	}
	return b.String()
}

// termOverlap computes |query ∩ doc| / max(|query|, 1) over lowercased
// whitespace-separated terms of the document name and description.
func termOverlap(query string, doc Document) float64 {
	queryTerms := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(query)) {
		queryTerms[t] = struct{}{}
	}
	docTerms := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(doc.Name + " " + doc.Description)) {
		docTerms[t] = struct{}{}
	}
	overlap := 0
	for t := range queryTerms {
		if _, ok := docTerms[t]; ok {
			overlap++
		}
	}
	denom := len(queryTerms)
	if denom < 1 {
		denom = 1
	}
	return float64(overlap) / float64(denom)
}
