// Package immune implements the Immune Response (C6): tracks manifest trust
// and quarantines agents, nodes, or peers in reaction to two inputs only —
// a local ComplianceAlert from the Compliance Monitor, or a PropagateQuarantine
// call from an already-verified peer (spec.md §4.6). Handshake failures are
// quarantined directly by the Handshake Service and never reach this package.
package immune

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/mesh/handshake"
	"github.com/codeready-toolchain/tarsy/pkg/meshrpc"
	"github.com/codeready-toolchain/tarsy/pkg/quarantine"
)

// TrustStatus classifies a manifest hash's standing in the mesh.
type TrustStatus string

const (
	TrustTrusted     TrustStatus = "trusted"
	TrustUntrusted   TrustStatus = "untrusted"
	TrustQuarantined TrustStatus = "quarantined"
)

// PeerLister supplies the set of currently verified peers to fan a
// quarantine notice out to, decoupling this package from dial/connection
// management.
type PeerLister interface {
	GetVerifiedPeers() []handshake.Peer
}

// Dialer establishes a client connection to a verified peer's mesh address.
type Dialer func(ctx context.Context, address string) (*grpc.ClientConn, error)

// Response is the node-local immune system: the manifest trust map plus
// quarantine propagation.
type Response struct {
	mu               sync.RWMutex
	manifestTrust    map[string]TrustStatus
	agentManifestMap map[string]string // agent_id -> manifest_hash

	quar    *quarantine.Registry
	bus     *bus.Bus
	peers   PeerLister
	dial    Dialer
	timeout time.Duration
	selfID  string
}

// New creates a Response. timeout bounds each per-peer propagation call
// (spec.md §6 default: 3s).
func New(quar *quarantine.Registry, b *bus.Bus, peers PeerLister, dial Dialer, timeout time.Duration, selfID string) *Response {
	return &Response{
		manifestTrust:    make(map[string]TrustStatus),
		agentManifestMap: make(map[string]string),
		quar:             quar,
		bus:              b,
		peers:            peers,
		dial:             dial,
		timeout:          timeout,
		selfID:           selfID,
	}
}

// RegisterAgentManifest records the manifest hash currently associated with
// a locally-run agent, so a later ComplianceAlert can be resolved to a hash.
func (r *Response) RegisterAgentManifest(agentID, manifestHash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentManifestMap[agentID] = manifestHash
	if _, ok := r.manifestTrust[manifestHash]; !ok {
		r.manifestTrust[manifestHash] = TrustTrusted
	}
}

// HandleComplianceAlert is the local-trigger path: a compliance score below
// threshold marks the offending agent's manifest untrusted, quarantines it,
// and fans the quarantine out to every verified peer.
func (r *Response) HandleComplianceAlert(ctx context.Context, agentID string, manifestHash string, score float64) {
	r.mu.Lock()
	if manifestHash == "" {
		manifestHash = r.agentManifestMap[agentID]
	}
	r.manifestTrust[manifestHash] = TrustUntrusted
	r.mu.Unlock()

	r.quar.Quarantine(ctx, quarantine.Entry{
		ManifestHash:  manifestHash,
		Reason:        "compliance_alert",
		QuarantinedBy: r.selfID,
	})

	r.bus.Publish(bus.NewEvent(bus.EventNodeIsolated, map[string]any{
		"agent_id":         agentID,
		"manifest_hash":    manifestHash,
		"compliance_score": score,
	}))

	r.propagateToPeers(ctx, meshrpc.QuarantineNotice{
		ManifestHash:     manifestHash,
		AgentID:          agentID,
		ComplianceScore:  score,
		QuarantinedBy:    r.selfID,
	})
}

// HandlePeerQuarantine is the remote-trigger path: a verified peer told us
// it quarantined a manifest. We mirror the decision locally but never
// re-propagate, so a quarantine notice does not echo around the mesh.
func (r *Response) HandlePeerQuarantine(ctx context.Context, manifestHash, agentID, quarantinedBy string, complianceScore float64) {
	r.mu.Lock()
	r.manifestTrust[manifestHash] = TrustQuarantined
	r.mu.Unlock()

	r.quar.Quarantine(ctx, quarantine.Entry{
		ManifestHash:  manifestHash,
		Reason:        "peer_quarantine",
		QuarantinedBy: quarantinedBy,
	})

	r.bus.Publish(bus.NewEvent(bus.EventNodeIsolated, map[string]any{
		"agent_id":         agentID,
		"manifest_hash":    manifestHash,
		"compliance_score": complianceScore,
		"source":           "peer",
		"quarantined_by":   quarantinedBy,
	}))
}

// IsManifestTrusted reports whether hash is currently Trusted. An unknown
// hash is treated as untrusted — trust must be established, not assumed.
func (r *Response) IsManifestTrusted(hash string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manifestTrust[hash] == TrustTrusted
}

// TrustStatusOf returns the current trust classification for hash.
func (r *Response) TrustStatusOf(hash string) TrustStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.manifestTrust[hash]; ok {
		return s
	}
	return TrustUntrusted
}

// propagateToPeers fans a quarantine notice out to every verified peer,
// fire-and-forget: a single peer's unreachability never blocks the others
// or the caller (spec.md §4.6).
func (r *Response) propagateToPeers(_ context.Context, notice meshrpc.QuarantineNotice) {
	if r.peers == nil || r.dial == nil {
		return
	}
	for _, p := range r.peers.GetVerifiedPeers() {
		go func(addr, nodeID string) {
			cctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			conn, err := r.dial(cctx, addr)
			if err != nil {
				slog.Warn("quarantine propagation: dial failed", "peer", nodeID, "error", err)
				return
			}
			defer conn.Close()
			client := meshrpc.NewNodeHandshakeClient(conn)
			if _, err := client.PropagateQuarantine(cctx, &notice); err != nil {
				slog.Warn("quarantine propagation: rpc failed", "peer", nodeID, "error", err)
			}
		}(p.RemoteAddress, p.NodeID)
	}
}
