package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/vectorstore"
)

func testOpts() Options {
	return Options{
		RetentionDays:       30,
		ImportanceThreshold: 0.8,
		ScrollBatchSize:     100,
		PruneCollections:    []string{"agent_logs"},
		ReindexCollections:  []string{"agent_logs"},
		HNSWM:               16,
		HNSWEfConstruct:     100,
	}
}

func seedPoint(t *testing.T, store *vectorstore.MemStore, collection, id string, payload map[string]any) {
	t.Helper()
	require.NoError(t, store.EnsureCollection(context.Background(), collection, 4, vectorstore.DistanceCosine, vectorstore.HNSWParams{}))
	require.NoError(t, store.UpsertPoints(context.Background(), collection, []vectorstore.Point{{
		ID:      id,
		Vector:  []float32{0, 0, 0, 0},
		Payload: payload,
	}}))
}

func TestVacuum_DeletesAgedNonEssentialPoints(t *testing.T) {
	store := vectorstore.NewMemStore()
	old := time.Now().AddDate(0, 0, -60).Format(time.RFC3339)
	seedPoint(t, store, "agent_logs", "p1", map[string]any{"timestamp": old, "status": "normal", "importance_score": 0.1})

	e := New(store, bus.New(), testOpts())
	result, ok := e.RunOnce(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, result.DeletedByCollection["agent_logs"])
	assert.False(t, store.Has("agent_logs", "p1"))
}

func TestVacuum_KeepsEssentialPointsDespiteAge(t *testing.T) {
	store := vectorstore.NewMemStore()
	old := time.Now().AddDate(0, 0, -60).Format(time.RFC3339)
	seedPoint(t, store, "agent_logs", "p1", map[string]any{"timestamp": old, "status": "essential", "importance_score": 0.95})

	e := New(store, bus.New(), testOpts())
	result, ok := e.RunOnce(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, result.DeletedByCollection["agent_logs"])
	assert.True(t, store.Has("agent_logs", "p1"))
}

func TestVacuum_KeepsPointsWithUnparseableTimestamp(t *testing.T) {
	store := vectorstore.NewMemStore()
	seedPoint(t, store, "agent_logs", "p1", map[string]any{"timestamp": "not-a-date", "status": "normal"})

	e := New(store, bus.New(), testOpts())
	result, ok := e.RunOnce(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, result.DeletedByCollection["agent_logs"])
	assert.True(t, store.Has("agent_logs", "p1"))
}

func TestVacuum_KeepsRecentPoints(t *testing.T) {
	store := vectorstore.NewMemStore()
	recent := time.Now().Format(time.RFC3339)
	seedPoint(t, store, "agent_logs", "p1", map[string]any{"timestamp": recent, "status": "normal"})

	e := New(store, bus.New(), testOpts())
	result, ok := e.RunOnce(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, result.DeletedByCollection["agent_logs"])
}

func TestRunOnce_RejectsConcurrentRun(t *testing.T) {
	store := vectorstore.NewMemStore()
	e := New(store, bus.New(), testOpts())
	e.running.Lock()
	defer e.running.Unlock()

	_, ok := e.RunOnce(context.Background())
	assert.False(t, ok)
}
