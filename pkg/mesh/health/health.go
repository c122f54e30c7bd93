// Package health implements the mesh-wide alignment report (original
// analytics/mesh_health.rs): a cached snapshot of how many verified peers
// share this node's manifest hash versus how many have drifted or been
// quarantined.
package health

import (
	"sync"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/mesh/handshake"
	"github.com/codeready-toolchain/tarsy/pkg/quarantine"
)

// cacheTTL is the report's staleness window before GetReport recomputes it.
const cacheTTL = 60 * time.Second

// Report is a point-in-time snapshot of mesh alignment.
type Report struct {
	TotalNodes             int
	AlignedNodes           int
	QuarantinedNodes       int
	AlignmentDriftPercent  float64
	LastUpdatedUTC         time.Time
}

// PeerLister supplies the verified peer set to audit for alignment.
type PeerLister interface {
	GetVerifiedPeers() []handshake.Peer
}

// Service computes and caches mesh health reports.
type Service struct {
	peers        PeerLister
	quar         *quarantine.Registry
	localHash    func() string

	mu     sync.RWMutex
	cached *Report
	at     time.Time
}

// New creates a Service. localHash returns this node's current manifest
// hash at call time, since it can change across rollbacks.
func New(peers PeerLister, quar *quarantine.Registry, localHash func() string) *Service {
	return &Service{peers: peers, quar: quar, localHash: localHash}
}

// GetReport returns the cached report if still fresh, otherwise recomputes.
func (s *Service) GetReport() Report {
	s.mu.RLock()
	if s.cached != nil && time.Since(s.at) < cacheTTL {
		r := *s.cached
		s.mu.RUnlock()
		return r
	}
	s.mu.RUnlock()
	return s.generateReport()
}

// InvalidateCache forces the next GetReport call to recompute.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

func (s *Service) generateReport() Report {
	local := s.localHash()
	peers := s.peers.GetVerifiedPeers()

	total := len(peers)
	aligned := 0
	quarantined := 0
	for _, p := range peers {
		if p.ManifestHash == local {
			aligned++
		}
		if s.quar.IsQuarantined(p.NodeID, p.RemoteAddress, p.ManifestHash) {
			quarantined++
		}
	}

	drift := 0.0
	if total > 0 {
		drift = float64(total-aligned) / float64(total) * 100
	}

	r := Report{
		TotalNodes:            total,
		AlignedNodes:          aligned,
		QuarantinedNodes:      quarantined,
		AlignmentDriftPercent: drift,
		LastUpdatedUTC:        time.Now().UTC(),
	}

	s.mu.Lock()
	s.cached = &r
	s.at = time.Now()
	s.mu.Unlock()

	return r
}
