package rag

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-memory Index with brute-force cosine search. It backs
// tests and single-process deployments; production uses the Qdrant binding.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	doc    Document
	vector []float32
}

// NewMemoryIndex constructs an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]memoryEntry)}
}

// Search scans all entries and returns the topK by cosine similarity.
func (m *MemoryIndex) Search(_ context.Context, vector []float32, topK int, category string) ([]Match, error) {
	if len(vector) == 0 {
		return nil, errors.New("query vector is required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Match
	for _, entry := range m.entries {
		if category != "" && entry.doc.Category != category {
			continue
		}
		matches = append(matches, Match{
			Document: entry.doc,
			Score:    cosine(vector, entry.vector),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Upsert stores the document vector, replacing any prior entry.
func (m *MemoryIndex) Upsert(_ context.Context, doc Document, vector []float32) error {
	if doc.ID == "" {
		return errors.New("document id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	vec := make([]float32, len(vector))
	copy(vec, vector)
	m.entries[doc.ID] = memoryEntry{doc: doc, vector: vec}
	return nil
}

// Delete removes the entry with the given ID. Missing IDs are not an error.
func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, id)
	return nil
}

// Count reports the number of indexed documents.
func (m *MemoryIndex) Count(context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return uint64(len(m.entries)), nil
}

// cosine computes cosine similarity; mismatched or zero vectors score 0.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
