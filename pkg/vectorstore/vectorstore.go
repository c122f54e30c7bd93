// Package vectorstore implements the abstract vector-store API of
// spec.md §6 ("any backend satisfying these suffices"), backed by Qdrant
// (github.com/qdrant/go-client) in production and an in-memory store for
// tests — the {Real, Mock} capability-trait pattern spec.md §9 calls for.
package vectorstore

import "context"

// Distance is the vector similarity metric for a collection.
type Distance string

const (
	DistanceCosine Distance = "cosine"
	DistanceDot    Distance = "dot"
)

// HNSWParams tunes the HNSW index, mirroring the {m, ef_construct} shape
// spec.md §4.10's reindex step sends.
type HNSWParams struct {
	M           int
	EfConstruct int
}

// Point is a single vector-store record. Quarantine and persona collections
// store payload-only points (spec.md §6): Vector may be a fixed-size zero
// vector and the real information lives in Payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Filter narrows scroll/delete operations. Empty Filter matches everything.
// The concrete matching semantics (equality on Payload keys) are evaluated
// client-side by callers that need more than Qdrant's native filter
// expressions, mirroring original_source's vacuum.rs, which filters in
// application code after a broad scroll rather than relying on a
// server-side predicate for importance/timestamp logic.
type Filter struct {
	MatchPayload map[string]any
}

// Store is the abstract vector-store capability every collaborator in the
// core depends on instead of a concrete client.
type Store interface {
	EnsureCollection(ctx context.Context, name string, vectorDim int, distance Distance, hnsw HNSWParams) error
	UpsertPoints(ctx context.Context, collection string, points []Point) error
	Scroll(ctx context.Context, collection string, filter Filter, limit int, offset string) (points []Point, nextOffset string, err error)
	DeletePoints(ctx context.Context, collection string, ids []string) error
	UpdateCollection(ctx context.Context, collection string, hnsw HNSWParams) error
}
