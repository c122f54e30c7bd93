package handshake

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	grpcpeer "google.golang.org/grpc/peer"

	"github.com/codeready-toolchain/tarsy/pkg/blueflameerr"
	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/identity"
	"github.com/codeready-toolchain/tarsy/pkg/meshrpc"
	"github.com/codeready-toolchain/tarsy/pkg/quarantine"
)

type pendingChallenge struct {
	nonce           string
	expiresAt       time.Time
	remoteAddress   string
	softwareVersion string
	manifestHash    string
}

// Options configures handshake policy.
type Options struct {
	NonceTTL                 time.Duration
	RequireManifestAlignment bool
	LocalManifestHash        string
	LocalSoftwareVersion     string

	// CompatibleSoftwareVersions, if non-empty, restricts accepted peers to
	// these software_version strings. Empty means any version is accepted.
	CompatibleSoftwareVersions []string
}

func (o Options) isCompatible(peerVersion string) bool {
	if len(o.CompatibleSoftwareVersions) == 0 {
		return true
	}
	for _, v := range o.CompatibleSoftwareVersions {
		if v == peerVersion {
			return true
		}
	}
	return false
}

// Service implements meshrpc.NodeHandshakeServer: the four-step attestation
// protocol of spec.md §4.5.
type Service struct {
	id    *identity.Identity
	quar  *quarantine.Registry
	bus   *bus.Bus
	opts  Options

	mu       sync.RWMutex
	peers    map[string]Peer
	pending  map[string]pendingChallenge

	nodeLocksMu sync.Mutex
	nodeLocks   map[string]*sync.Mutex

	quarantineHandler QuarantineHandler
}

// New creates a handshake Service.
func New(id *identity.Identity, quar *quarantine.Registry, b *bus.Bus, opts Options) *Service {
	return &Service{
		id:        id,
		quar:      quar,
		bus:       b,
		opts:      opts,
		peers:     make(map[string]Peer),
		pending:   make(map[string]pendingChallenge),
		nodeLocks: make(map[string]*sync.Mutex),
	}
}

// lockFor serializes all handshake activity for a single remote node_id,
// per spec.md §5's "one in-flight handshake per remote node_id" ordering
// guarantee.
func (s *Service) lockFor(nodeID string) *sync.Mutex {
	s.nodeLocksMu.Lock()
	defer s.nodeLocksMu.Unlock()
	l, ok := s.nodeLocks[nodeID]
	if !ok {
		l = &sync.Mutex{}
		s.nodeLocks[nodeID] = l
	}
	return l
}

func remoteAddrFromContext(ctx context.Context) string {
	if p, ok := grpcpeer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// InitiateHandshake issues a fresh challenge, rejecting immediately if the
// peer's node_id or remote ip is already quarantined.
func (s *Service) InitiateHandshake(ctx context.Context, req *meshrpc.HandshakeRequest) (*meshrpc.Challenge, error) {
	remoteAddr := remoteAddrFromContext(ctx)

	if s.quar.IsQuarantined(req.NodeID, remoteAddr, req.ManifestHash) {
		return nil, blueflameerr.PolicyViolation(fmt.Errorf("node %s is quarantined", req.NodeID), "handshake rejected")
	}

	lock := s.lockFor(req.NodeID)
	lock.Lock()
	defer lock.Unlock()

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, blueflameerr.Fatal(err, "generate handshake nonce")
	}
	nonceHex := hex.EncodeToString(nonce)
	expiresAt := time.Now().Add(s.opts.NonceTTL)

	s.mu.Lock()
	s.pending[req.NodeID] = pendingChallenge{
		nonce:           nonceHex,
		expiresAt:       expiresAt,
		remoteAddress:   remoteAddr,
		softwareVersion: req.SoftwareVersion,
		manifestHash:    req.ManifestHash,
	}
	s.peers[req.NodeID] = Peer{
		NodeID:          req.NodeID,
		RemoteAddress:   remoteAddr,
		SoftwareVersion: req.SoftwareVersion,
		ManifestHash:    req.ManifestHash,
		Status:          StatusPending,
		LastSeen:        time.Now(),
	}
	s.mu.Unlock()

	return &meshrpc.Challenge{Nonce: nonceHex, ExpiresAt: expiresAt}, nil
}

// RespondToChallenge verifies the signature over the issued nonce and
// promotes or rejects the peer.
func (s *Service) RespondToChallenge(ctx context.Context, resp *meshrpc.ChallengeResponse) (*meshrpc.HandshakeComplete, error) {
	lock := s.lockFor(resp.NodeID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	pc, ok := s.pending[resp.NodeID]
	s.mu.RUnlock()

	if !ok {
		return s.reject(ctx, resp.NodeID, "", ReasonNonceMismatch)
	}
	if pc.nonce != resp.Nonce {
		return s.reject(ctx, resp.NodeID, pc.remoteAddress, ReasonNonceMismatch)
	}
	if time.Now().After(pc.expiresAt) {
		return s.reject(ctx, resp.NodeID, pc.remoteAddress, ReasonNonceExpired)
	}

	nonceBytes, _ := hex.DecodeString(pc.nonce)
	sig, err := hex.DecodeString(resp.Signature)
	if err != nil || !identity.Verify(resp.PublicKey, nonceBytes, sig) {
		return s.reject(ctx, resp.NodeID, pc.remoteAddress, ReasonSignatureInvalid)
	}

	if s.opts.RequireManifestAlignment && s.opts.LocalManifestHash != "" && pc.manifestHash != s.opts.LocalManifestHash {
		return s.reject(ctx, resp.NodeID, pc.remoteAddress, ReasonManifestMismatch)
	}

	if !s.opts.isCompatible(pc.softwareVersion) {
		return s.reject(ctx, resp.NodeID, pc.remoteAddress, ReasonSoftwareIncompatible)
	}

	s.mu.Lock()
	delete(s.pending, resp.NodeID)
	peer := s.peers[resp.NodeID]
	peer.Status = StatusVerified
	peer.LastSeen = time.Now()
	s.peers[resp.NodeID] = peer
	s.mu.Unlock()

	s.bus.Publish(bus.NewEvent(bus.EventPeerVerified, map[string]any{
		"node_id":          resp.NodeID,
		"software_version": pc.softwareVersion,
		"manifest_hash":    pc.manifestHash,
		"remote_address":   pc.remoteAddress,
	}))

	slog.Info("peer verified", "node_id", resp.NodeID, "remote_address", pc.remoteAddress)
	return &meshrpc.HandshakeComplete{Accepted: true}, nil
}

// reject marks the peer Rejected, quarantines it, and emits
// UnauthorizedNodeDetected. Rejected peers do not auto-retry.
func (s *Service) reject(ctx context.Context, nodeID, remoteAddr, reason string) (*meshrpc.HandshakeComplete, error) {
	s.mu.Lock()
	delete(s.pending, nodeID)
	peer := s.peers[nodeID]
	peer.Status = StatusRejected
	s.peers[nodeID] = peer
	s.mu.Unlock()

	entry := quarantine.Entry{
		NodeID:        nodeID,
		Reason:        reason,
		QuarantinedBy: "self",
	}
	if !s.quar.RequireRemoteAddress() || remoteAddr != "" {
		entry.IPAddress = remoteAddr
	}
	s.quar.Quarantine(ctx, entry)

	s.bus.Publish(bus.NewEvent(bus.EventUnauthorizedNode, map[string]any{
		"node_id":        nodeID,
		"reason":         reason,
		"remote_address": remoteAddr,
	}))

	slog.Warn("handshake rejected", "node_id", nodeID, "reason", reason)
	return &meshrpc.HandshakeComplete{Accepted: false, Reason: reason}, nil
}

// PropagateQuarantine is handled by delegating to the Immune Response's
// peer-quarantine path; wired at construction time by cmd/blueflame since
// pkg/mesh/immune depends on this package for GetVerifiedPeers, not the
// other way around (spec.md §9's cyclic-reference note).
type QuarantineHandler interface {
	HandlePeerQuarantine(ctx context.Context, manifestHash, agentID, quarantinedBy string, complianceScore float64)
}

// SetQuarantineHandler wires the Immune Response instance after both are
// constructed.
func (s *Service) SetQuarantineHandler(h QuarantineHandler) {
	s.quarantineHandler = h
}

func (s *Service) PropagateQuarantine(ctx context.Context, req *meshrpc.QuarantineNotice) (*meshrpc.Ack, error) {
	if err := s.AuthorizeCaller(req.QuarantinedBy); err != nil {
		return nil, err
	}
	if s.quarantineHandler == nil {
		return &meshrpc.Ack{Ok: false, Message: "quarantine handler not wired"}, nil
	}
	s.quarantineHandler.HandlePeerQuarantine(ctx, req.ManifestHash, req.AgentID, req.QuarantinedBy, req.ComplianceScore)
	return &meshrpc.Ack{Ok: true}, nil
}

// GetVerifiedPeers returns every currently Verified peer, used by Immune
// Response for quarantine fan-out and by the mesh health report.
func (s *Service) GetVerifiedPeers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		if p.Status == StatusVerified {
			out = append(out, p)
		}
	}
	return out
}

// IsVerified reports whether nodeID has completed a successful handshake.
func (s *Service) IsVerified(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[nodeID].Status == StatusVerified
}

// AuthorizeCaller implements the cross-cutting check spec.md §4.5 mandates
// for every inbound call other than handshake: the caller must be Verified
// and not quarantined.
func (s *Service) AuthorizeCaller(nodeID string) error {
	if s.quar.IsQuarantined(nodeID, "", "") {
		return blueflameerr.PolicyViolation(fmt.Errorf("node %s is quarantined", nodeID), "call refused")
	}
	if !s.IsVerified(nodeID) {
		return blueflameerr.PolicyViolation(fmt.Errorf("node %s is not verified", nodeID), "call refused")
	}
	return nil
}
