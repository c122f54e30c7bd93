package discovery

import (
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
)

func TestParseTXT_SplitsKeyValuePairs(t *testing.T) {
	fields := parseTXT([]string{"node_id=abc", "software_version=1.2.3", "manifest_hash=deadbeef"})
	assert.Equal(t, "abc", fields["node_id"])
	assert.Equal(t, "1.2.3", fields["software_version"])
	assert.Equal(t, "deadbeef", fields["manifest_hash"])
}

func TestListPeers_ExcludesStaleEntries(t *testing.T) {
	s := New(Options{NodeID: "self", StaleDiscoveryAfter: 50 * time.Millisecond}, bus.New())
	s.mu.Lock()
	s.peers["fresh"] = Peer{NodeID: "fresh", LastSeen: time.Now()}
	s.peers["stale"] = Peer{NodeID: "stale", LastSeen: time.Now().Add(-time.Hour)}
	s.mu.Unlock()

	peers := s.ListPeers()
	assert.Len(t, peers, 1)
	assert.Equal(t, "fresh", peers[0].NodeID)
}

func TestHandleEntry_IgnoresSelfAnnouncement(t *testing.T) {
	s := New(Options{NodeID: "self"}, bus.New())

	s.handleEntry(&zeroconf.ServiceEntry{Text: []string{"node_id=self", "software_version=1.2.3"}})

	s.mu.RLock()
	_, tracked := s.peers["self"]
	count := len(s.peers)
	s.mu.RUnlock()
	assert.False(t, tracked)
	assert.Equal(t, 0, count)
}
