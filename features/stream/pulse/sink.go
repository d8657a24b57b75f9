// Package pulse publishes run events to goa.design/pulse streams so web and
// worker processes can follow a run over Redis.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ioc-platform/agentcore/features/stream/pulse/clients/pulse"
	"github.com/ioc-platform/agentcore/runtime/agent/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client publishes events. Required.
		Client pulse.Client
		// StreamID derives the target stream from an event.
		// Defaults to `run/<RunID>`.
		StreamID func(stream.Event) (string, error)
	}

	// Sink implements stream.Sink on Pulse streams. Safe for concurrent Send.
	Sink struct {
		client   pulse.Client
		streamID func(stream.Event) (string, error)
	}

	// envelope is the wire shape of one published event.
	envelope struct {
		Type      string    `json:"type"`
		RunID     string    `json:"run_id"`
		SessionID string    `json:"session_id,omitempty"`
		Timestamp time.Time `json:"timestamp"`
		Payload   any       `json:"payload,omitempty"`
	}
)

var _ stream.Sink = (*Sink)(nil)

// NewSink constructs a Pulse-backed run event sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}
	return &Sink{client: opts.Client, streamID: streamID}, nil
}

// Send publishes the event to its derived stream.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	name, err := s.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(name)
	if err != nil {
		return err
	}
	env := envelope{
		Type:      string(event.Type()),
		RunID:     event.RunID(),
		SessionID: event.SessionID(),
		Timestamp: time.Now().UTC(),
		Payload:   event.Payload(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = handle.Add(ctx, env.Type, payload)
	return err
}

// Close delegates to the underlying client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func defaultStreamID(event stream.Event) (string, error) {
	if event.RunID() == "" {
		return "", errors.New("run event missing run id")
	}
	return fmt.Sprintf("run/%s", event.RunID()), nil
}
