package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ioc-platform/agentcore/runtime/registry"
	registrymem "github.com/ioc-platform/agentcore/runtime/registry/store/memory"
	syncpkg "github.com/ioc-platform/agentcore/runtime/sync"
	syncmem "github.com/ioc-platform/agentcore/runtime/sync/store/memory"
)

func newService(t *testing.T) (*registry.Service, *syncmem.Store) {
	t.Helper()
	events := syncmem.New()
	store, err := registrymem.New(registrymem.Options{Events: events})
	require.NoError(t, err)
	svc, err := registry.New(registry.Options{Store: store})
	require.NoError(t, err)
	return svc, events
}

func spec(id, name, domain string) *registry.FunctionSpec {
	return &registry.FunctionSpec{
		ID:          id,
		Name:        name,
		Description: "retrieves " + name + " data",
		Domain:      domain,
		Endpoint:    "https://api.example.com/" + id,
		Method:      "GET",
		Parameters: []registry.ParameterSpec{
			{Name: "region", Type: "string", Required: true},
		},
	}
}

func TestCreateAppendsInsertEvent(t *testing.T) {
	ctx := context.Background()
	svc, events := newService(t)

	created, err := svc.Create(ctx, spec("get_energy", "get_energy", "energy"))
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	pending, err := events.Pending(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, syncpkg.OpInsert, pending[0].Op)
	assert.Equal(t, "get_energy", pending[0].EntityID)
	assert.Equal(t, syncpkg.StatusPending, pending[0].Status)
	assert.NotEmpty(t, pending[0].NewData)
	assert.Empty(t, pending[0].OldData)
}

func TestCreateDuplicateFails(t *testing.T) {
	ctx := context.Background()
	svc, events := newService(t)

	_, err := svc.Create(ctx, spec("dup", "dup", "energy"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, spec("dup", "dup", "energy"))
	assert.ErrorIs(t, err, registry.ErrExists)

	// The failed create must not leave a second event behind.
	pending, err := events.Pending(ctx, 10, "")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestGetReadThroughCache(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Create(ctx, spec("cached", "cached", "energy"))
	require.NoError(t, err)

	first, err := svc.Get(ctx, "cached")
	require.NoError(t, err)
	second, err := svc.Get(ctx, "cached")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestUpdatePartialAndEvent(t *testing.T) {
	ctx := context.Background()
	svc, events := newService(t)

	_, err := svc.Create(ctx, spec("upd", "upd", "energy"))
	require.NoError(t, err)

	newDesc := "updated description"
	updated, err := svc.Update(ctx, "upd", registry.Update{Description: &newDesc})
	require.NoError(t, err)
	assert.Equal(t, newDesc, updated.Description)
	assert.Equal(t, "upd", updated.Name, "unset fields stay untouched")

	pending, err := events.Pending(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, syncpkg.OpUpdate, pending[1].Op)
	assert.NotEmpty(t, pending[1].OldData)
	assert.NotEmpty(t, pending[1].NewData)

	// Cache entry was invalidated: Get sees the new description.
	got, err := svc.Get(ctx, "upd")
	require.NoError(t, err)
	assert.Equal(t, newDesc, got.Description)
}

func TestCreateAndUpdateVersioning(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	created, err := svc.Create(ctx, spec("ver", "ver", "energy"))
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)

	newDesc := "first revision"
	updated, err := svc.Update(ctx, "ver", registry.Update{Description: &newDesc})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	newDesc = "second revision"
	updated, err = svc.Update(ctx, "ver", registry.Update{Description: &newDesc})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version)
}

func TestUpdateExecutionSettings(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Create(ctx, spec("exec", "exec", "energy"))
	require.NoError(t, err)

	cacheTTL := 300
	timeout := 15
	updated, err := svc.Update(ctx, "exec", registry.Update{
		CacheTTLSeconds: &cacheTTL,
		TimeoutSeconds:  &timeout,
	})
	require.NoError(t, err)
	assert.Equal(t, 300, updated.CacheTTLSeconds)
	assert.Equal(t, 15, updated.TimeoutSeconds)

	got, err := svc.Get(ctx, "exec")
	require.NoError(t, err)
	assert.Equal(t, 300, got.CacheTTLSeconds)
	assert.Equal(t, 15, got.TimeoutSeconds)
}

func TestDeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	svc, events := newService(t)

	_, err := svc.Create(ctx, spec("del", "del", "energy"))
	require.NoError(t, err)

	found, err := svc.Delete(ctx, "del")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = svc.Delete(ctx, "del")
	require.NoError(t, err)
	assert.False(t, found)

	pending, err := events.Pending(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, syncpkg.OpDelete, pending[1].Op)
}

func TestRecordUsageRunningStats(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Create(ctx, spec("stats", "stats", "energy"))
	require.NoError(t, err)

	require.NoError(t, svc.RecordUsage(ctx, "stats", 100*time.Millisecond, true))
	require.NoError(t, svc.RecordUsage(ctx, "stats", 300*time.Millisecond, false))

	got, err := svc.Get(ctx, "stats")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.CallCount)
	assert.InDelta(t, 200.0, got.AvgLatencyMs, 0.001)
	assert.InDelta(t, 50.0, got.SuccessRate, 0.001)
	require.NotNil(t, got.LastCalledAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.LastCalledAt, time.Minute)
}

func TestSearchOrdersByCallCount(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Create(ctx, spec("energy_north", "energy_north", "energy"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, spec("energy_south", "energy_south", "energy"))
	require.NoError(t, err)

	require.NoError(t, svc.RecordUsage(ctx, "energy_south", time.Millisecond, true))
	require.NoError(t, svc.RecordUsage(ctx, "energy_south", time.Millisecond, true))

	hits, err := svc.Search(ctx, "energy", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "energy_south", hits[0].ID)
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Create(ctx, spec("a", "a", "energy"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, spec("b", "b", "water"))
	require.NoError(t, err)

	hits, total, err := svc.List(ctx, registry.Filter{Domain: "energy"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestBulkImport(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Create(ctx, spec("existing", "existing", "energy"))
	require.NoError(t, err)

	batch := []*registry.FunctionSpec{
		spec("existing", "existing-renamed", "energy"),
		spec("fresh", "fresh", "water"),
	}

	results := svc.BulkImport(ctx, batch, false)
	require.Len(t, results, 2)
	assert.True(t, results[0].Skipped)
	assert.True(t, results[1].Created)

	results = svc.BulkImport(ctx, batch[:1], true)
	require.Len(t, results, 1)
	assert.True(t, results[0].Updated)

	got, err := svc.Get(ctx, "existing")
	require.NoError(t, err)
	assert.Equal(t, "existing-renamed", got.Name)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.Create(ctx, spec("s1", "s1", "energy"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, spec("s2", "s2", "energy"))
	require.NoError(t, err)
	deprecated := true
	_, err = svc.Create(ctx, spec("s3", "s3", "water"))
	require.NoError(t, err)
	_, err = svc.Update(ctx, "s3", registry.Update{Deprecated: &deprecated})
	require.NoError(t, err)

	require.NoError(t, svc.RecordUsage(ctx, "s2", time.Millisecond, true))

	stats, err := svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Active)
	assert.Equal(t, int64(2), stats.ByDomain["energy"])
	assert.Equal(t, int64(1), stats.ByDomain["water"])
	require.NotEmpty(t, stats.MostCalled)
	assert.Equal(t, "s2", stats.MostCalled[0].ID)
}
