package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioc-platform/agentcore/runtime/model"
)

type fakeClient struct {
	err   error
	calls int
}

func (f *fakeClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &model.Response{Text: "ok"}, nil
}

func TestNewRateLimitedValidation(t *testing.T) {
	_, err := NewRateLimited(nil, RateLimitOptions{RequestsPerSecond: 1})
	assert.Error(t, err)
	_, err = NewRateLimited(&fakeClient{}, RateLimitOptions{})
	assert.Error(t, err)
}

func TestCompleteDelegates(t *testing.T) {
	next := &fakeClient{}
	c, err := NewRateLimited(next, RateLimitOptions{RequestsPerSecond: 100, Burst: 10})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), &model.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 1, next.calls)
}

func TestBackoffHalvesRateToFloor(t *testing.T) {
	next := &fakeClient{err: errors.New("throttled")}
	c, err := NewRateLimited(next, RateLimitOptions{RequestsPerSecond: 8, Burst: 100, MinRate: 2})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, cerr := c.Complete(ctx, &model.Request{})
		require.Error(t, cerr)
	}
	// 8 → 4 → 2, then pinned at the floor.
	assert.InDelta(t, 2.0, c.Rate(), 0.0001)
}

func TestRecoverClimbsBackToBase(t *testing.T) {
	next := &fakeClient{err: errors.New("throttled")}
	c, err := NewRateLimited(next, RateLimitOptions{RequestsPerSecond: 10, Burst: 100, MinRate: 5})
	require.NoError(t, err)

	ctx := context.Background()
	_, cerr := c.Complete(ctx, &model.Request{})
	require.Error(t, cerr)
	assert.InDelta(t, 5.0, c.Rate(), 0.0001)

	next.err = nil
	for i := 0; i < 50; i++ {
		_, cerr = c.Complete(ctx, &model.Request{})
		require.NoError(t, cerr)
	}
	// Recovery is multiplicative and capped at the configured steady state.
	assert.InDelta(t, 10.0, c.Rate(), 0.0001)
}

func TestCompleteHonorsCanceledContext(t *testing.T) {
	// Burst 1 with an immediate first call leaves no token for the second;
	// a canceled context must surface instead of blocking.
	c, err := NewRateLimited(&fakeClient{}, RateLimitOptions{RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, err)

	ctx := context.Background()
	_, cerr := c.Complete(ctx, &model.Request{})
	require.NoError(t, cerr)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, cerr = c.Complete(canceled, &model.Request{})
	assert.Error(t, cerr)
}
