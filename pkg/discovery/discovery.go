// Package discovery implements mDNS peer discovery (C4): announces this
// node on the local network and browses for peers, grounded on the
// original mdns_sd-based network/mdns.rs using grandcat/zeroconf as the Go
// equivalent.
package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
)

// DefaultServiceName is the mDNS service type announced and browsed, per
// spec.md §6.
const DefaultServiceName = "_blueflame._tcp"

// Peer is a discovered node, as reported over mDNS TXT records.
type Peer struct {
	NodeID          string
	SoftwareVersion string
	ManifestHash    string
	Address         string
	LastSeen        time.Time
}

// Options configures the discovery service.
type Options struct {
	ServiceName         string
	Port                int
	NodeID              string
	SoftwareVersion     string
	ManifestHash        string
	StaleDiscoveryAfter time.Duration
}

// Service announces this node and tracks peers discovered via mDNS. It
// never mutates handshake peer status directly — discovery only emits
// NodeDiscovered; the Handshake Service decides trust.
type Service struct {
	opts   Options
	bus    *bus.Bus
	server *zeroconf.Server

	mu    sync.RWMutex
	peers map[string]Peer
}

// New creates a Service.
func New(opts Options, b *bus.Bus) *Service {
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	return &Service{opts: opts, bus: b, peers: make(map[string]Peer)}
}

// Start registers this node's mDNS service record. The registration is
// kept alive for the process lifetime; callers should defer Stop.
func (s *Service) Start() error {
	txt := []string{
		"node_id=" + s.opts.NodeID,
		"software_version=" + s.opts.SoftwareVersion,
		"manifest_hash=" + s.opts.ManifestHash,
	}
	server, err := zeroconf.Register(s.opts.NodeID, s.opts.ServiceName, "local.", s.opts.Port, txt, nil)
	if err != nil {
		return err
	}
	s.server = server
	return nil
}

// Stop unregisters the mDNS service record.
func (s *Service) Stop() {
	if s.server != nil {
		s.server.Shutdown()
	}
}

// Browse runs until ctx is canceled, resolving peers and emitting
// NodeDiscovered on each new or updated entry.
func (s *Service) Browse(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			s.handleEntry(entry)
		}
	}()

	if err := resolver.Browse(ctx, s.opts.ServiceName, "local.", entries); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (s *Service) handleEntry(entry *zeroconf.ServiceEntry) {
	fields := parseTXT(entry.Text)
	nodeID := fields["node_id"]
	if nodeID == "" || nodeID == s.opts.NodeID {
		return
	}

	addr := ""
	if len(entry.AddrIPv4) > 0 {
		addr = entry.AddrIPv4[0].String()
	}

	peer := Peer{
		NodeID:          nodeID,
		SoftwareVersion: fields["software_version"],
		ManifestHash:    fields["manifest_hash"],
		Address:         addr,
		LastSeen:        time.Now(),
	}

	s.mu.Lock()
	s.peers[nodeID] = peer
	s.mu.Unlock()

	s.bus.Publish(bus.NewEvent(bus.EventNodeDiscovered, map[string]any{
		"node_id":          nodeID,
		"ip":               addr,
		"software_version": peer.SoftwareVersion,
		"manifest_hash":    peer.ManifestHash,
	}))

	slog.Debug("peer discovered", "node_id", nodeID, "address", addr)
}

// ListPeers returns every currently known peer not stale past
// StaleDiscoveryAfter.
func (s *Service) ListPeers() []Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-s.opts.StaleDiscoveryAfter)
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		if s.opts.StaleDiscoveryAfter > 0 && p.LastSeen.Before(cutoff) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		for i := 0; i < len(r); i++ {
			if r[i] == '=' {
				out[r[:i]] = r[i+1:]
				break
			}
		}
	}
	return out
}
