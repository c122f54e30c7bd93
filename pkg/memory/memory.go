// Package memory implements the Memory Maintenance Engine (C10): a
// periodic Vacuum that prunes aged, non-essential vector-store points,
// followed unconditionally by an Optimizer HNSW reindex.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/meshrpc"
	"github.com/codeready-toolchain/tarsy/pkg/vectorstore"
)

// Options configures a maintenance run, mirroring config.MemoryConfig.
type Options struct {
	RetentionDays        int
	ImportanceThreshold  float64
	PruningInterval      time.Duration
	ScrollBatchSize      int
	PruneCollections     []string
	ReindexCollections   []string
	HNSWM                int
	HNSWEfConstruct      int
}

// Result reports one vacuum+optimize run's outcome.
type Result struct {
	DeletedByCollection map[string]int
	FailedCollections   []string
	StartedAt           time.Time
	FinishedAt          time.Time
}

// Engine runs vacuum and optimization cycles against a vector store.
type Engine struct {
	store vectorstore.Store
	bus   *bus.Bus
	opts  Options

	running sync.Mutex // one-slot semaphore: a single vacuum run at a time
}

// New creates an Engine.
func New(store vectorstore.Store, b *bus.Bus, opts Options) *Engine {
	return &Engine{store: store, bus: b, opts: opts}
}

// RunOnce executes one vacuum+optimize cycle. If a run is already in
// progress, RunOnce returns immediately with ok=false.
func (e *Engine) RunOnce(ctx context.Context) (Result, bool) {
	if !e.running.TryLock() {
		return Result{}, false
	}
	defer e.running.Unlock()

	result := Result{
		DeletedByCollection: make(map[string]int),
		StartedAt:           time.Now().UTC(),
	}

	e.bus.Publish(bus.NewEvent(bus.EventMaintenanceStarted, map[string]any{
		"collections": e.opts.PruneCollections,
	}))

	for _, collection := range e.opts.PruneCollections {
		deleted, err := e.vacuumCollection(ctx, collection)
		if err != nil {
			slog.Error("vacuum failed for collection", "collection", collection, "error", err)
			result.FailedCollections = append(result.FailedCollections, collection)
			continue
		}
		result.DeletedByCollection[collection] = deleted
		e.bus.Publish(bus.NewEvent(bus.EventMemoryPrune, map[string]any{
			"topic":         collection,
			"deleted_count": deleted,
		}))
	}

	for _, collection := range e.opts.ReindexCollections {
		if err := e.store.UpdateCollection(ctx, collection, vectorstore.HNSWParams{M: e.opts.HNSWM, EfConstruct: e.opts.HNSWEfConstruct}); err != nil {
			slog.Error("reindex failed for collection", "collection", collection, "error", err)
			result.FailedCollections = append(result.FailedCollections, collection)
		}
	}

	result.FinishedAt = time.Now().UTC()
	e.bus.Publish(bus.NewEvent(bus.EventIndexingComplete, map[string]any{
		"collections": e.opts.ReindexCollections,
	}))

	return result, true
}

// vacuumCollection scrolls collection in batches, deleting points that are
// aged past retention and not essential. Unparseable or missing timestamps
// always survive.
func (e *Engine) vacuumCollection(ctx context.Context, collection string) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -e.opts.RetentionDays)
	deleted := 0
	var offset string

	for {
		points, next, err := e.store.Scroll(ctx, collection, vectorstore.Filter{}, e.opts.ScrollBatchSize, offset)
		if err != nil {
			return deleted, err
		}

		var toDelete []string
		for _, p := range points {
			if e.shouldDelete(p, cutoff) {
				toDelete = append(toDelete, p.ID)
			}
		}
		if len(toDelete) > 0 {
			if err := e.store.DeletePoints(ctx, collection, toDelete); err != nil {
				return deleted, err
			}
			deleted += len(toDelete)
		}

		if next == "" {
			break
		}
		offset = next
	}
	return deleted, nil
}

// RunForever runs one cycle immediately, then on every PruningInterval
// tick, until ctx is canceled.
func (e *Engine) RunForever(ctx context.Context) {
	e.RunOnce(ctx)

	ticker := time.NewTicker(e.opts.PruningInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, ok := e.RunOnce(ctx); !ok {
				slog.Warn("skipped maintenance tick: a run is already in progress")
			}
		}
	}
}

// RequestFragments implements meshrpc.MemoryExchangeServer's sketch-only
// protocol: every point in req.Namespace whose topic payload field matches
// req.Topic is streamed back as a Fragment.
func (e *Engine) RequestFragments(req *meshrpc.FragmentRequest, stream meshrpc.MemoryExchange_RequestFragmentsServer) error {
	var offset string
	for {
		points, next, err := e.store.Scroll(stream.Context(), req.Namespace, vectorstore.Filter{}, e.opts.ScrollBatchSize, offset)
		if err != nil {
			return err
		}
		for _, p := range points {
			if topic, _ := p.Payload["topic"].(string); topic != req.Topic {
				continue
			}
			if err := stream.Send(&meshrpc.Fragment{ID: p.ID, Topic: req.Topic, Payload: p.Payload}); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		offset = next
	}
}

func (e *Engine) shouldDelete(p vectorstore.Point, cutoff time.Time) bool {
	rawTS, ok := p.Payload["timestamp"].(string)
	if !ok {
		return false
	}
	ts, err := time.Parse(time.RFC3339, rawTS)
	if err != nil {
		return false
	}
	if !ts.Before(cutoff) {
		return false
	}

	importance, _ := p.Payload["importance_score"].(float64)
	status, _ := p.Payload["status"].(string)
	if importance > e.opts.ImportanceThreshold && status == "essential" {
		return false
	}
	return true
}
