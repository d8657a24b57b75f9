// Package openai provides a rag.Embedder backed by the OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ioc-platform/agentcore/runtime/rag"
)

const (
	defaultModel     = "text-embedding-3-small"
	defaultDimension = 1536
)

type (
	// EmbeddingsClient captures the subset of the OpenAI SDK used by the
	// embedder. It is satisfied by *sdk.EmbeddingService.
	EmbeddingsClient interface {
		New(ctx context.Context, body sdk.EmbeddingNewParams, opts ...option.RequestOption) (*sdk.CreateEmbeddingResponse, error)
	}

	// Options configures the embedder.
	Options struct {
		// Model is the embedding model. Defaults to text-embedding-3-small.
		Model string
		// Dimension is the vector size produced by the model. Defaults to 1536.
		Dimension int
	}

	// Embedder implements rag.Embedder on the OpenAI embeddings endpoint.
	Embedder struct {
		embeddings EmbeddingsClient
		model      string
		dimension  int
	}
)

var _ rag.Embedder = (*Embedder)(nil)

// New builds an OpenAI-backed embedder.
func New(embeddings EmbeddingsClient, opts Options) (*Embedder, error) {
	if embeddings == nil {
		return nil, errors.New("embeddings client is required")
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &Embedder{embeddings: embeddings, model: model, dimension: dimension}, nil
}

// NewFromAPIKey constructs an embedder using the default OpenAI HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Embedder, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Embeddings, opts)
}

// Embed returns the vector for the given text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one API call. The embeddings endpoint
// accepts arrays natively; the response is reordered by its index field.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.embeddings.New(ctx, sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(e.model),
		Input: sdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings.new: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) || len(d.Embedding) == 0 {
			return nil, errors.New("openai: malformed embedding response")
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}

// Dimension reports the configured vector size.
func (e *Embedder) Dimension() int { return e.dimension }
