package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ioc-platform/agentcore/runtime/agent/telemetry"
	"github.com/ioc-platform/agentcore/runtime/rag"
)

type (
	// Indexer receives registry changes. Implemented by the RAG retriever.
	Indexer interface {
		IndexFunction(ctx context.Context, doc rag.Document) error
		DeleteFunction(ctx context.Context, id string) error
	}

	// ProcessorOptions configures the Processor.
	ProcessorOptions struct {
		// Store holds the event log. Required.
		Store Store
		// Indexer applies changes to the search index. Required.
		Indexer Indexer
		// BatchSize bounds events drained per pass. Defaults to 10.
		BatchSize int
		// Interval is the background loop period. Defaults to 30s.
		Interval time.Duration
		// Logger receives structured logs. Defaults to noop.
		Logger telemetry.Logger
		// Metrics receives counters. Defaults to noop.
		Metrics telemetry.Metrics
	}

	// Processor drains pending events and replays them against the indexer.
	// Batches run strictly sequentially so events for one entity always apply
	// in creation order.
	Processor struct {
		store     Store
		indexer   Indexer
		batchSize int
		interval  time.Duration
		logger    telemetry.Logger
		metrics   telemetry.Metrics
	}

	// BatchReport summarizes one ProcessPending pass. Total counts events
	// this worker actually processed; Skipped counts events another worker
	// claimed first.
	BatchReport struct {
		Total      int          `json:"total_processed"`
		Successful int          `json:"successful"`
		Failed     int          `json:"failed"`
		Skipped    int          `json:"skipped,omitempty"`
		Errors     []BatchError `json:"errors,omitempty"`
	}

	// BatchError records one failed event within a batch.
	BatchError struct {
		EventID  string `json:"event_id"`
		EntityID string `json:"entity_id"`
		Error    string `json:"error"`
	}

	// functionSnapshot is the subset of a registry function snapshot needed
	// to build an index document. Field names mirror the registry JSON.
	functionSnapshot struct {
		ID          string `json:"function_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Domain      string `json:"domain"`
		Parameters  []struct {
			Name string `json:"name"`
		} `json:"parameters"`
	}
)

// ErrAlreadyClaimed reports that a concurrent worker claimed the event first.
var ErrAlreadyClaimed = errors.New("event already claimed")

// NewProcessor constructs a Processor.
func NewProcessor(opts ProcessorOptions) (*Processor, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Indexer == nil {
		return nil, errors.New("indexer is required")
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 10
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Processor{
		store:     opts.Store,
		indexer:   opts.Indexer,
		batchSize: batch,
		interval:  interval,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Run drains batches on a ticker until the context is canceled.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := p.ProcessPending(ctx, "")
			if report.Total > 0 {
				p.logger.Info(ctx, "sync batch processed",
					"total", report.Total, "successful", report.Successful, "failed", report.Failed)
			}
		}
	}
}

// ProcessPending drains one batch of eligible events. An empty entityType
// matches all. The returned report counts outcomes per event.
func (p *Processor) ProcessPending(ctx context.Context, entityType string) *BatchReport {
	report := &BatchReport{}

	events, err := p.store.Pending(ctx, p.batchSize, entityType)
	if err != nil {
		p.logger.Error(ctx, "load pending events failed", "err", err)
		report.Errors = append(report.Errors, BatchError{Error: err.Error()})
		return report
	}
	if len(events) == 0 {
		return report
	}
	report.Total = len(events)

	for _, evt := range events {
		if err := p.ProcessEvent(ctx, evt); err != nil {
			if errors.Is(err, ErrAlreadyClaimed) {
				report.Total--
				report.Skipped++
				continue
			}
			report.Failed++
			report.Errors = append(report.Errors, BatchError{
				EventID:  evt.ID,
				EntityID: evt.EntityID,
				Error:    evt.Error,
			})
			continue
		}
		report.Successful++
	}

	p.metrics.IncCounter("sync_events_processed", float64(report.Successful), "outcome", "success")
	if report.Failed > 0 {
		p.metrics.IncCounter("sync_events_processed", float64(report.Failed), "outcome", "failure")
	}
	return report
}

// ProcessEvent claims and applies a single event. The pending→processing
// transition is a conditional store update so only one worker ever applies an
// event; a missed claim returns ErrAlreadyClaimed. On success the event
// becomes synced; on failure it becomes failed with the error truncated and
// retry count bumped. Replaying an already synced snapshot converges to the
// same index state, so retries are safe.
func (p *Processor) ProcessEvent(ctx context.Context, evt *Event) error {
	now := time.Now().UTC()
	evt.markProcessing(now)
	claimed, err := p.store.Claim(ctx, evt)
	if err != nil {
		return fmt.Errorf("claim event: %w", err)
	}
	if !claimed {
		p.logger.Debug(ctx, "event claimed elsewhere", "event_id", evt.ID)
		return ErrAlreadyClaimed
	}

	if err := p.dispatch(ctx, evt); err != nil {
		p.logger.Error(ctx, "sync event failed", "event_id", evt.ID, "entity_id", evt.EntityID, "err", err)
		evt.markFailed(err)
		if uerr := p.store.Update(ctx, evt); uerr != nil {
			p.logger.Error(ctx, "persist failed status", "event_id", evt.ID, "err", uerr)
		}
		return err
	}

	evt.markSynced(time.Now().UTC())
	if err := p.store.Update(ctx, evt); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	p.logger.Debug(ctx, "sync event applied", "event_id", evt.ID, "operation", string(evt.Op))
	return nil
}

func (p *Processor) dispatch(ctx context.Context, evt *Event) error {
	if evt.EntityType != "function" {
		return nil
	}
	switch evt.Op {
	case OpInsert:
		doc, err := snapshotDocument(evt.NewData)
		if err != nil {
			return err
		}
		return p.indexer.IndexFunction(ctx, doc)
	case OpUpdate:
		doc, err := snapshotDocument(evt.NewData)
		if err != nil {
			return err
		}
		// Remove any stale vector first; a missing entry is fine.
		if derr := p.indexer.DeleteFunction(ctx, evt.EntityID); derr != nil {
			p.logger.Debug(ctx, "pre-update delete skipped", "entity_id", evt.EntityID, "err", derr)
		}
		return p.indexer.IndexFunction(ctx, doc)
	case OpDelete:
		if err := p.indexer.DeleteFunction(ctx, evt.EntityID); err != nil {
			p.logger.Warn(ctx, "index delete failed", "entity_id", evt.EntityID, "err", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown operation %q", evt.Op)
	}
}

// snapshotDocument converts an event snapshot into an index document.
func snapshotDocument(data json.RawMessage) (rag.Document, error) {
	if len(data) == 0 {
		return rag.Document{}, errors.New("event has no snapshot data")
	}
	var snap functionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return rag.Document{}, fmt.Errorf("decode snapshot: %w", err)
	}
	category := snap.Domain
	if category == "" {
		category = "general"
	}
	params := make([]string, len(snap.Parameters))
	for i, prm := range snap.Parameters {
		params[i] = prm.Name
	}
	return rag.Document{
		ID:          snap.ID,
		Name:        snap.Name,
		Description: snap.Description,
		Category:    category,
		Parameters:  params,
	}, nil
}
