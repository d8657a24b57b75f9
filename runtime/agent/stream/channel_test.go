package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(t EventType, step int) Event {
	return NewBase(t, "run1", "sess1", ThoughtPayload{Step: step, Content: "thinking"})
}

func TestChannelSinkDelivers(t *testing.T) {
	ctx := context.Background()
	sink := NewChannelSink(4)

	require.NoError(t, sink.Send(ctx, event(EventStart, 0)))
	require.NoError(t, sink.Send(ctx, event(EventThought, 1)))
	require.NoError(t, sink.Close(ctx))

	var got []Event
	for evt := range sink.Events() {
		got = append(got, evt)
	}
	require.Len(t, got, 2)
	assert.Equal(t, EventStart, got[0].Type())
	assert.Equal(t, "run1", got[0].RunID())
	assert.Equal(t, "sess1", got[0].SessionID())
	payload, ok := got[1].Payload().(ThoughtPayload)
	require.True(t, ok)
	assert.Equal(t, 1, payload.Step)
	assert.Zero(t, sink.Dropped())
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	ctx := context.Background()
	sink := NewChannelSink(1)

	// No consumer: the second send must not block.
	require.NoError(t, sink.Send(ctx, event(EventThought, 1)))
	require.NoError(t, sink.Send(ctx, event(EventThought, 2)))
	assert.Equal(t, int64(1), sink.Dropped())
}

func TestChannelSinkSendAfterClose(t *testing.T) {
	ctx := context.Background()
	sink := NewChannelSink(4)
	require.NoError(t, sink.Close(ctx))

	require.NoError(t, sink.Send(ctx, event(EventThought, 1)))
	assert.Equal(t, int64(1), sink.Dropped())
}

func TestChannelSinkCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	sink := NewChannelSink(4)
	require.NoError(t, sink.Close(ctx))
	require.NoError(t, sink.Close(ctx))
}

func TestChannelSinkDefaultBuffer(t *testing.T) {
	sink := NewChannelSink(0)
	assert.Equal(t, DefaultChannelBuffer, cap(sink.ch))
}
