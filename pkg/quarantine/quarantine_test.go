package quarantine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/pkg/vectorstore"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store := vectorstore.NewMemStore()
	r := New(store, false)
	require.NoError(t, r.Load(context.Background()))
	return r
}

func TestQuarantineIdempotence(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Quarantine(ctx, Entry{NodeID: "peer-x", Reason: "bad signature", QuarantinedBy: "node-a"})
	assert.True(t, r.IsQuarantined("peer-x", "", ""))
	assert.Len(t, r.List(), 1)

	// Quarantining the same node again leaves exactly one entry for it
	// (re-indexing replaces, never appends, for the same node_id key).
	r.Quarantine(ctx, Entry{NodeID: "peer-x", Reason: "bad signature again", QuarantinedBy: "node-a"})
	count := 0
	for _, e := range r.List() {
		if e.NodeID == "peer-x" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	r.Reintegrate(ctx, "peer-x")
	assert.False(t, r.IsQuarantined("peer-x", "", ""))

	// A further reintegrate is a no-op, not an error.
	r.Reintegrate(ctx, "peer-x")
	assert.False(t, r.IsQuarantined("peer-x", "", ""))
}

func TestIsQuarantined_ChecksAllIdentifiers(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	r.Quarantine(ctx, Entry{IPAddress: "10.0.0.5", Reason: "flood", QuarantinedBy: "node-a"})
	r.Quarantine(ctx, Entry{ManifestHash: "deadbeef", Reason: "untrusted manifest", QuarantinedBy: "node-a"})

	assert.True(t, r.IsQuarantined("", "10.0.0.5", ""))
	assert.True(t, r.IsQuarantined("", "", "deadbeef"))
	assert.False(t, r.IsQuarantined("unrelated-node", "", ""))
}

func TestLoad_RebuildsIndicesFromStore(t *testing.T) {
	store := vectorstore.NewMemStore()
	ctx := context.Background()

	r1 := New(store, false)
	require.NoError(t, r1.Load(ctx))
	r1.Quarantine(ctx, Entry{NodeID: "peer-y", Reason: "expired nonce", QuarantinedBy: "node-a"})

	r2 := New(store, false)
	require.NoError(t, r2.Load(ctx))
	assert.True(t, r2.IsQuarantined("peer-y", "", ""))
}
