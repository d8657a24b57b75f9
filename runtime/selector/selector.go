// Package selector chooses candidate functions for a query using a three-tier
// hybrid strategy: keyword rules for the common fast path, semantic retrieval
// for fuzzy matches and LLM reasoning as the last resort.
package selector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ioc-platform/agentcore/runtime/agent/telemetry"
	"github.com/ioc-platform/agentcore/runtime/model"
	"github.com/ioc-platform/agentcore/runtime/rag"
)

type (
	// Method identifies which tier produced a selection.
	Method string

	// Candidate is a selected function with its retrieval score.
	Candidate struct {
		rag.Document
		Score float64
	}

	// Selection is the outcome of Select.
	Selection struct {
		Candidates []Candidate
		Method     Method
		Confidence float64
	}

	// Options configures the Selector.
	Options struct {
		// Retriever performs semantic retrieval. Required.
		Retriever *rag.Retriever
		// Model backs the LLM reasoning tier. Required.
		Model model.Client
		// RuleThreshold is the tier-1 acceptance score. Defaults to 0.85.
		RuleThreshold float64
		// RAGTimeout bounds the tier-2 retrieval. Defaults to 10s.
		RAGTimeout time.Duration
		// TopK is the number of functions returned. Defaults to 5.
		TopK int
		// Logger receives structured logs. Defaults to noop.
		Logger telemetry.Logger
		// Metrics receives tier counters. Defaults to noop.
		Metrics telemetry.Metrics
	}

	// Selector implements the three-tier strategy.
	Selector struct {
		retriever     *rag.Retriever
		model         model.Client
		ruleThreshold float64
		ragTimeout    time.Duration
		topK          int
		logger        telemetry.Logger
		metrics       telemetry.Metrics

		ruleHits int64
		ragHits  int64
		llmHits  int64
	}
)

const (
	MethodRule Method = "rule_based"
	MethodRAG  Method = "rag_semantic"
	MethodLLM  Method = "llm_reasoning"
)

// llmCandidateLimit bounds how many functions the reasoning prompt lists.
const llmCandidateLimit = 15

// llmConfidence is the fixed confidence assigned to tier-3 selections.
const llmConfidence = 0.7

// ragConfidenceWeights weight retrieval scores by position when computing
// tier-2 confidence; shorter result lists use the prefix.
var ragConfidenceWeights = []float64{1.0, 0.7, 0.5, 0.3, 0.2}

// New constructs a Selector.
func New(opts Options) (*Selector, error) {
	if opts.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if opts.Model == nil {
		return nil, errors.New("model client is required")
	}
	threshold := opts.RuleThreshold
	if threshold <= 0 {
		threshold = 0.85
	}
	timeout := opts.RAGTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Selector{
		retriever:     opts.Retriever,
		model:         opts.Model,
		ruleThreshold: threshold,
		ragTimeout:    timeout,
		topK:          topK,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Select picks the functions most relevant to the query. Tier 1 accepts when
// the keyword rules score at or above the threshold; tier 2 retrieves
// semantically under a timeout; tier 3 asks the model to pick from the
// candidate list. An empty selection with zero confidence means no function
// fits.
func (s *Selector) Select(ctx context.Context, query string) (*Selection, error) {
	if query == "" {
		return nil, errors.New("query is required")
	}

	// Tier 1: rule-based.
	ruleScore, category := matchPatterns(query)
	if ruleScore >= s.ruleThreshold {
		s.logger.Info(ctx, "rule-based match", "score", ruleScore, "category", category)
		results, err := s.retriever.Retrieve(ctx, query, rag.RetrieveOptions{})
		if err != nil {
			s.logger.Warn(ctx, "retrieval after rule match failed", "err", err)
		} else if len(results) > 0 {
			atomic.AddInt64(&s.ruleHits, 1)
			s.metrics.IncCounter("selector_selections", 1, "method", string(MethodRule))
			return &Selection{
				Candidates: toCandidates(results, s.topK),
				Method:     MethodRule,
				Confidence: ruleScore,
			}, nil
		}
	}

	// Tier 2: RAG semantic with a timeout.
	ragCtx, cancel := context.WithTimeout(ctx, s.ragTimeout)
	results, err := s.retriever.Retrieve(ragCtx, query, rag.RetrieveOptions{})
	cancel()
	if err != nil {
		s.logger.Warn(ctx, "semantic retrieval failed", "err", err)
	} else if len(results) > 0 {
		confidence := ragConfidence(results)
		atomic.AddInt64(&s.ragHits, 1)
		s.metrics.IncCounter("selector_selections", 1, "method", string(MethodRAG))
		s.logger.Info(ctx, "semantic selection", "confidence", confidence)
		return &Selection{
			Candidates: toCandidates(results, s.topK),
			Method:     MethodRAG,
			Confidence: confidence,
		}, nil
	}

	// Tier 3: LLM reasoning over a broader candidate pool.
	pool, err := s.retriever.Retrieve(ctx, query, rag.RetrieveOptions{DisableRerank: true})
	if err != nil || len(pool) == 0 {
		if err != nil {
			s.logger.Error(ctx, "candidate pool retrieval failed", "err", err)
		}
		return &Selection{Method: MethodRAG, Confidence: 0}, nil
	}

	selected := s.llmSelect(ctx, query, pool)
	atomic.AddInt64(&s.llmHits, 1)
	s.metrics.IncCounter("selector_selections", 1, "method", string(MethodLLM))
	return &Selection{
		Candidates: selected,
		Method:     MethodLLM,
		Confidence: llmConfidence,
	}, nil
}

// Stats reports how often each tier produced the selection.
func (s *Selector) Stats() map[Method]int64 {
	return map[Method]int64{
		MethodRule: atomic.LoadInt64(&s.ruleHits),
		MethodRAG:  atomic.LoadInt64(&s.ragHits),
		MethodLLM:  atomic.LoadInt64(&s.llmHits),
	}
}

// llmSelect asks the model to pick from the candidate pool. Parse failures
// fall back to the first topK candidates.
func (s *Selector) llmSelect(ctx context.Context, query string, pool []rag.Result) []Candidate {
	limited := pool
	if len(limited) > llmCandidateLimit {
		limited = limited[:llmCandidateLimit]
	}

	var list strings.Builder
	for i, r := range limited {
		desc := r.Description
		if len(desc) > 100 {
			desc = desc[:100]
		}
		fmt.Fprintf(&list, "%d. %s: %s\n", i+1, r.Name, desc)
	}

	prompt := fmt.Sprintf(`Analyze this query and select the most relevant functions.

Query: %s

Available Functions:
%s
Select the top %d functions needed. Consider:
1. Direct relevance to query intent
2. Data dependencies (what needs to be called first)
3. Completeness (do we have all needed functions)

Output JSON list of function names:
["function1", "function2", ...]

Selected:`, query, list.String(), s.topK)

	resp, err := s.model.Complete(ctx, &model.Request{
		Messages:  []model.Message{model.UserMessage(prompt)},
		MaxTokens: 200,
	})
	if err != nil {
		s.logger.Error(ctx, "llm selection failed", "err", err)
		return toCandidates(limited, s.topK)
	}

	names, err := parseNameList(resp.Text)
	if err != nil {
		s.logger.Warn(ctx, "llm selection parse failed", "err", err)
		return toCandidates(limited, s.topK)
	}

	byName := make(map[string]rag.Result, len(limited))
	for _, r := range limited {
		byName[r.Name] = r
	}
	var selected []Candidate
	for _, name := range names {
		if r, ok := byName[name]; ok {
			selected = append(selected, Candidate{Document: r.Document, Score: r.Score})
		}
		if len(selected) == s.topK {
			break
		}
	}
	if len(selected) == 0 {
		return toCandidates(limited, s.topK)
	}
	return selected
}

// parseNameList extracts a JSON string array from a completion, tolerating
// fenced code blocks.
func parseNameList(text string) ([]string, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.LastIndex(trimmed, "```"); i >= 0 {
			trimmed = trimmed[:i]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	var names []string
	if err := json.Unmarshal([]byte(trimmed), &names); err != nil {
		return nil, err
	}
	return names, nil
}

// ragConfidence computes the positionally weighted mean of retrieval scores.
func ragConfidence(results []rag.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	n := len(results)
	if n > len(ragConfidenceWeights) {
		n = len(ragConfidenceWeights)
	}
	var weighted, total float64
	for i := 0; i < n; i++ {
		weighted += results[i].Score * ragConfidenceWeights[i]
		total += ragConfidenceWeights[i]
	}
	return weighted / total
}

func toCandidates(results []rag.Result, topK int) []Candidate {
	if len(results) > topK {
		results = results[:topK]
	}
	out := make([]Candidate, len(results))
	for i, r := range results {
		out[i] = Candidate{Document: r.Document, Score: r.Score}
	}
	return out
}
