// Package sync implements application-level change data capture for the
// function registry. Registry writes append change events; a background
// Processor replays them against the vector index so search stays consistent
// with the source of truth.
package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type (
	// Operation identifies the kind of change captured by an event.
	Operation string

	// Status tracks an event through the pipeline.
	Status string

	// Event records a single registry change awaiting propagation.
	Event struct {
		// ID uniquely identifies the event.
		ID string `json:"event_id" bson:"event_id"`
		// EntityType names the changed entity kind (currently "function").
		EntityType string `json:"entity_type" bson:"entity_type"`
		// EntityID is the identifier of the changed entity.
		EntityID string `json:"entity_id" bson:"entity_id"`
		// Op is the change operation.
		Op Operation `json:"operation" bson:"operation"`
		// OldData snapshots the entity before the change, when applicable.
		OldData json.RawMessage `json:"old_data,omitempty" bson:"old_data,omitempty"`
		// NewData snapshots the entity after the change, when applicable.
		NewData json.RawMessage `json:"new_data,omitempty" bson:"new_data,omitempty"`
		// Status is the pipeline state.
		Status Status `json:"sync_status" bson:"sync_status"`
		// Error holds the last failure message, truncated to 1000 bytes.
		Error string `json:"error_message,omitempty" bson:"error_message,omitempty"`
		// RetryCount is the number of failed processing attempts so far.
		RetryCount int `json:"retry_count" bson:"retry_count"`
		// MaxRetries bounds reprocessing of failed events.
		MaxRetries int `json:"max_retries" bson:"max_retries"`

		CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
		ProcessedAt *time.Time `json:"processed_at,omitempty" bson:"processed_at,omitempty"`
		SyncedAt    *time.Time `json:"synced_at,omitempty" bson:"synced_at,omitempty"`
	}

	// Stats summarizes the pipeline state.
	Stats struct {
		Total          int64            `json:"total_events"`
		ByStatus       map[Status]int64 `json:"by_status"`
		RecentFailures []*Event         `json:"recent_failures"`
	}

	// Store persists sync events.
	Store interface {
		// Append adds a new event to the log.
		Append(ctx context.Context, evt *Event) error
		// Pending returns events eligible for processing: pending, or failed
		// with retry_count < max_retries, ordered by creation time ascending.
		// An empty entityType matches all.
		Pending(ctx context.Context, limit int, entityType string) ([]*Event, error)
		// Claim atomically transitions an eligible event to processing.
		// Returns false without error when the event is no longer eligible,
		// which happens when a concurrent worker claimed it first.
		Claim(ctx context.Context, evt *Event) (bool, error)
		// Update persists status, error and timestamp changes for an event.
		Update(ctx context.Context, evt *Event) error
		// Stats reports event counts by status and the ten most recent failures.
		Stats(ctx context.Context) (*Stats, error)
	}

	// Recorder is the write-side interface consumed by the registry. It is a
	// subset of Store so registry stores can couple the append with their own
	// transaction.
	Recorder interface {
		Append(ctx context.Context, evt *Event) error
	}
)

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"

	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSynced     Status = "synced"
	StatusFailed     Status = "failed"
)

// DefaultMaxRetries bounds reprocessing attempts for failed events.
const DefaultMaxRetries = 3

// maxErrorLen caps stored failure messages.
const maxErrorLen = 1000

// NewEvent builds a pending event for the given change. Snapshots must
// already be serialized; nil snapshots are allowed (e.g. OldData on insert).
func NewEvent(entityType, entityID string, op Operation, oldData, newData json.RawMessage) *Event {
	return &Event{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Op:         op,
		OldData:    oldData,
		NewData:    newData,
		Status:     StatusPending,
		MaxRetries: DefaultMaxRetries,
		CreatedAt:  time.Now().UTC(),
	}
}

// Eligible reports whether the event should be picked up by the processor.
func (e *Event) Eligible() bool {
	if e.Status == StatusPending {
		return true
	}
	return e.Status == StatusFailed && e.RetryCount < e.MaxRetries
}

// markProcessing transitions the event to processing.
func (e *Event) markProcessing(now time.Time) {
	e.Status = StatusProcessing
	e.ProcessedAt = &now
}

// markSynced transitions the event to synced and clears any prior error.
func (e *Event) markSynced(now time.Time) {
	e.Status = StatusSynced
	e.SyncedAt = &now
	e.Error = ""
}

// markFailed transitions the event to failed, recording the truncated error
// and bumping the retry counter.
func (e *Event) markFailed(err error) {
	e.Status = StatusFailed
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	e.Error = msg
	e.RetryCount++
}
