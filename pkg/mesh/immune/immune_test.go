package immune

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/mesh/handshake"
	"github.com/codeready-toolchain/tarsy/pkg/quarantine"
	"github.com/codeready-toolchain/tarsy/pkg/vectorstore"
)

func newTestResponse() *Response {
	reg := quarantine.New(vectorstore.NewMemStore(), false)
	b := bus.New()
	return New(reg, b, nil, nil, 0, "self-node")
}

func TestHandleComplianceAlert_MarksManifestUntrustedAndQuarantines(t *testing.T) {
	r := newTestResponse()
	r.RegisterAgentManifest("agent-1", "hash-abc")
	assert.True(t, r.IsManifestTrusted("hash-abc"))

	r.HandleComplianceAlert(context.Background(), "agent-1", "hash-abc", 40.0)

	assert.False(t, r.IsManifestTrusted("hash-abc"))
	assert.Equal(t, TrustUntrusted, r.TrustStatusOf("hash-abc"))
	assert.True(t, r.quar.IsQuarantined("", "", "hash-abc"))
}

// countingPeerLister records how often the fan-out path asks for peers.
type countingPeerLister struct{ calls int }

func (c *countingPeerLister) GetVerifiedPeers() []handshake.Peer {
	c.calls++
	return nil
}

func TestHandlePeerQuarantine_DoesNotRePropagate(t *testing.T) {
	peers := &countingPeerLister{}
	dial := func(ctx context.Context, address string) (*grpc.ClientConn, error) {
		return nil, errors.New("no dial expected")
	}
	r := New(quarantine.New(vectorstore.NewMemStore(), false), bus.New(), peers, dial, time.Second, "self-node")
	r.HandlePeerQuarantine(context.Background(), "hash-xyz", "agent-2", "peer-node", 10.0)

	assert.Equal(t, TrustQuarantined, r.TrustStatusOf("hash-xyz"))
	assert.True(t, r.quar.IsQuarantined("", "", "hash-xyz"))
	assert.Equal(t, 0, peers.calls)
}

func TestIsManifestTrusted_UnknownHashIsUntrusted(t *testing.T) {
	r := newTestResponse()
	assert.False(t, r.IsManifestTrusted("never-seen"))
}
