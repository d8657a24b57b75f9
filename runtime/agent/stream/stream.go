// Package stream defines the event model published while a run executes.
// Sinks receive events as they happen; the channel sink serves in-process
// consumers and the Pulse feature binding fans events out over Redis streams.
package stream

import (
	"context"
	"time"
)

type (
	// EventType identifies the kind of run event.
	EventType string

	// Event is one occurrence within a run.
	Event interface {
		// Type returns the event kind.
		Type() EventType
		// RunID links the event to a run.
		RunID() string
		// SessionID links the event to a conversation session.
		SessionID() string
		// Payload returns the event-specific data, if any.
		Payload() any
	}

	// Sink receives run events. Implementations must be safe for concurrent
	// Send calls.
	Sink interface {
		Send(ctx context.Context, event Event) error
		Close(ctx context.Context) error
	}

	// Base is the common implementation backing all events.
	Base struct {
		t EventType
		r string
		s string
		p any
	}

	// StartPayload announces a new run.
	StartPayload struct {
		Query     string    `json:"query"`
		StartedAt time.Time `json:"started_at"`
	}

	// ThoughtPayload carries one reasoning step.
	ThoughtPayload struct {
		Step    int    `json:"step"`
		Content string `json:"content"`
	}

	// ActionPayload carries one decided function call.
	ActionPayload struct {
		Step         int            `json:"step"`
		FunctionName string         `json:"function_name"`
		Parameters   map[string]any `json:"parameters,omitempty"`
	}

	// ObservationPayload carries one execution outcome.
	ObservationPayload struct {
		Step     int    `json:"step"`
		Success  bool   `json:"success"`
		Result   any    `json:"result,omitempty"`
		Error    string `json:"error,omitempty"`
		Duration string `json:"duration,omitempty"`
	}

	// FinalAnswerPayload carries the answer text.
	FinalAnswerPayload struct {
		Answer string `json:"answer"`
	}

	// CompletePayload summarizes a finished run.
	CompletePayload struct {
		Status   string  `json:"status"`
		Quality  float64 `json:"quality"`
		Steps    int     `json:"steps"`
		Duration string  `json:"duration"`
	}

	// ErrorPayload carries a run-level failure.
	ErrorPayload struct {
		Message string `json:"message"`
	}
)

const (
	EventStart       EventType = "start"
	EventThought     EventType = "thought"
	EventAction      EventType = "action"
	EventObservation EventType = "observation"
	EventFinalAnswer EventType = "final_answer"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
)

// NewBase constructs an event with the given type, identifiers and payload.
func NewBase(t EventType, runID, sessionID string, payload any) Base {
	return Base{t: t, r: runID, s: sessionID, p: payload}
}

// Type returns the event kind.
func (b Base) Type() EventType { return b.t }

// RunID returns the run identifier.
func (b Base) RunID() string { return b.r }

// SessionID returns the session identifier.
func (b Base) SessionID() string { return b.s }

// Payload returns the event payload.
func (b Base) Payload() any { return b.p }
