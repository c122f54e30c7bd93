// Package quarantine implements the Quarantine Registry (C2): a durable set
// of banned node ids, ip addresses, and manifest hashes, with O(1) average
// lookups backed by in-memory indices rebuilt from the vector store at
// startup.
package quarantine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/tarsy/pkg/vectorstore"
)

// Collection is the vector-store collection quarantine entries persist to
// (spec.md §6's persistent state layout).
const Collection = "quarantine_list"

// quarantineVectorDim is the fixed payload-only vector size spec.md §6
// mandates for quarantine points.
const quarantineVectorDim = 128

// Entry is a single quarantine record. At least one of NodeID, IPAddress,
// or ManifestHash is set.
type Entry struct {
	ID            string    `json:"id"`
	NodeID        string    `json:"node_id,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	ManifestHash  string    `json:"manifest_hash,omitempty"`
	Reason        string    `json:"reason"`
	QuarantinedBy string    `json:"quarantined_by"`
	Timestamp     time.Time `json:"timestamp"`
}

// Registry is the in-memory, vector-store-backed quarantine set. Writes are
// append-only to the persistent store; re-integration removes the entry
// from every index and the store.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Entry
	byKey map[string]string // "node:<id>" | "ip:<addr>" | "manifest:<hash>" -> entry id

	store              vectorstore.Store
	requireRemoteAddr  bool
}

// New creates a Registry. requireRemoteAddr resolves the open question in
// spec.md §9 about whether remote_address is mandatory on an entry.
func New(store vectorstore.Store, requireRemoteAddr bool) *Registry {
	return &Registry{
		byID:              make(map[string]Entry),
		byKey:             make(map[string]string),
		store:             store,
		requireRemoteAddr: requireRemoteAddr,
	}
}

// Load rebuilds the in-memory indices from the persistent collection at
// startup.
func (r *Registry) Load(ctx context.Context) error {
	if err := r.store.EnsureCollection(ctx, Collection, quarantineVectorDim, vectorstore.DistanceCosine, vectorstore.HNSWParams{M: 16, EfConstruct: 100}); err != nil {
		return err
	}

	var offset string
	loaded := 0
	for {
		points, next, err := r.store.Scroll(ctx, Collection, vectorstore.Filter{}, 10000, offset)
		if err != nil {
			return err
		}
		for _, p := range points {
			entry := entryFromPayload(p.ID, p.Payload)
			r.index(entry)
			loaded++
		}
		if next == "" {
			break
		}
		offset = next
	}
	slog.Info("quarantine registry loaded", "entries", loaded)
	return nil
}

// Quarantine adds an entry, or updates it in place if NodeID, IPAddress, or
// ManifestHash already matches an existing entry (spec.md §8: quarantining
// the same identifier twice must leave exactly one entry, not a duplicate).
// Persistence failures are logged but never block the in-memory quarantine
// from taking effect — safety beats durability (spec.md §4.2).
func (r *Registry) Quarantine(ctx context.Context, e Entry) Entry {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	if e.ID == "" {
		if existing, ok := r.lookupExistingID(e); ok {
			e.ID = existing
		} else {
			e.ID = uuid.NewString()
		}
	}
	r.index(e)
	r.mu.Unlock()

	point := vectorstore.Point{
		ID:      e.ID,
		Vector:  make([]float32, quarantineVectorDim),
		Payload: entryToPayload(e),
	}
	if err := r.store.UpsertPoints(ctx, Collection, []vectorstore.Point{point}); err != nil {
		slog.Error("failed to persist quarantine entry; in-memory quarantine still active",
			"entry_id", e.ID, "node_id", e.NodeID, "error", err)
	}
	return e
}

// Reintegrate removes the entry matching nodeID from every index it is
// registered under (node, ip, manifest) and the store — unindex walks the
// entry's own fields, not just the nodeKey lookup, so a quarantine entry
// keyed by multiple identifiers leaves no orphaned key behind. A second
// call is a no-op.
func (r *Registry) Reintegrate(ctx context.Context, nodeID string) {
	r.mu.Lock()
	id, ok := r.byKey[nodeKey(nodeID)]
	if !ok {
		r.mu.Unlock()
		return
	}
	entry := r.byID[id]
	r.unindex(entry)
	r.mu.Unlock()

	if err := r.store.DeletePoints(ctx, Collection, []string{id}); err != nil {
		slog.Error("failed to remove quarantine entry from store", "entry_id", id, "error", err)
	}
}

// IsQuarantined reports whether any of nodeID, ip, or manifestHash (pass ""
// to skip a check) is currently quarantined.
func (r *Registry) IsQuarantined(nodeID, ip, manifestHash string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if nodeID != "" {
		if _, ok := r.byKey[nodeKey(nodeID)]; ok {
			return true
		}
	}
	if ip != "" {
		if _, ok := r.byKey[ipKey(ip)]; ok {
			return true
		}
	}
	if manifestHash != "" {
		if _, ok := r.byKey[manifestKey(manifestHash)]; ok {
			return true
		}
	}
	return false
}

// RequireRemoteAddress reports the configured policy for whether callers
// must populate Entry.IPAddress (spec.md §9 open question).
func (r *Registry) RequireRemoteAddress() bool { return r.requireRemoteAddr }

// GetEntry returns the quarantine entry for a node id, if any.
func (r *Registry) GetEntry(nodeID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[nodeKey(nodeID)]
	if !ok {
		return Entry{}, false
	}
	return r.byID[id], true
}

// List returns every current quarantine entry.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e)
	}
	return out
}

// lookupExistingID returns the entry id already registered under any of e's
// keys, if one exists. Callers must hold r.mu.
func (r *Registry) lookupExistingID(e Entry) (string, bool) {
	if e.NodeID != "" {
		if id, ok := r.byKey[nodeKey(e.NodeID)]; ok {
			return id, true
		}
	}
	if e.IPAddress != "" {
		if id, ok := r.byKey[ipKey(e.IPAddress)]; ok {
			return id, true
		}
	}
	if e.ManifestHash != "" {
		if id, ok := r.byKey[manifestKey(e.ManifestHash)]; ok {
			return id, true
		}
	}
	return "", false
}

func (r *Registry) index(e Entry) {
	r.byID[e.ID] = e
	if e.NodeID != "" {
		r.byKey[nodeKey(e.NodeID)] = e.ID
	}
	if e.IPAddress != "" {
		r.byKey[ipKey(e.IPAddress)] = e.ID
	}
	if e.ManifestHash != "" {
		r.byKey[manifestKey(e.ManifestHash)] = e.ID
	}
}

func (r *Registry) unindex(e Entry) {
	delete(r.byID, e.ID)
	if e.NodeID != "" {
		delete(r.byKey, nodeKey(e.NodeID))
	}
	if e.IPAddress != "" {
		delete(r.byKey, ipKey(e.IPAddress))
	}
	if e.ManifestHash != "" {
		delete(r.byKey, manifestKey(e.ManifestHash))
	}
}

func nodeKey(id string) string     { return "node:" + id }
func ipKey(ip string) string       { return "ip:" + ip }
func manifestKey(h string) string  { return "manifest:" + h }

func entryToPayload(e Entry) map[string]any {
	return map[string]any{
		"node_id":        e.NodeID,
		"ip_address":     e.IPAddress,
		"manifest_hash":  e.ManifestHash,
		"reason":         e.Reason,
		"quarantined_by": e.QuarantinedBy,
		"timestamp":      e.Timestamp.Format(time.RFC3339),
	}
}

func entryFromPayload(id string, p map[string]any) Entry {
	str := func(k string) string {
		if v, ok := p[k].(string); ok {
			return v
		}
		return ""
	}
	ts, _ := time.Parse(time.RFC3339, str("timestamp"))
	return Entry{
		ID:            id,
		NodeID:        str("node_id"),
		IPAddress:     str("ip_address"),
		ManifestHash:  str("manifest_hash"),
		Reason:        str("reason"),
		QuarantinedBy: str("quarantined_by"),
		Timestamp:     ts,
	}
}
