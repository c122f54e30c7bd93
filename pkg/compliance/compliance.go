// Package compliance implements the Compliance Monitor & Auto-Rollback
// (C8): scores each test run, tracks a per-agent rolling window of results,
// and triggers a Git rollback when an agent's recent failures cross the
// configured threshold.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/codeready-toolchain/tarsy/pkg/blueflameerr"
	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/gitstore"
)

// Outcome is the boolean result of the three fixed compliance checks.
type Outcome struct {
	Privacy    bool
	Efficiency bool
	Tone       bool
}

// Score computes (passed_count / 3) * 100.
func (o Outcome) Score() float64 {
	passed := 0
	if o.Privacy {
		passed++
	}
	if o.Efficiency {
		passed++
	}
	if o.Tone {
		passed++
	}
	return float64(passed) / 3.0 * 100.0
}

// TestRecord is one compliance test run, kept in a per-agent rolling
// window.
type TestRecord struct {
	AgentID    string
	CommitHash string
	Outcome    Outcome
	Score      float64
	Timestamp  time.Time
	RolledBack bool
}

// Options configures the monitor, mirroring config.ComplianceConfig.
type Options struct {
	Enabled     bool
	Threshold   float64
	MinFailures int
	WindowSize  int
}

// ImmuneResponder is implemented by pkg/mesh/immune.Response.
type ImmuneResponder interface {
	HandleComplianceAlert(ctx context.Context, agentID, manifestHash string, score float64)
}

// ManifestHasher computes the manifest hash for an agent after rollback.
type ManifestHasher func(agentDir string) (string, error)

// Monitor tracks compliance history and drives auto-rollback.
type Monitor struct {
	mu      sync.Mutex
	history map[string][]TestRecord // agent_id -> records, newest last

	opts    Options
	store   *gitstore.Store
	immune  ImmuneResponder
	bus     *bus.Bus
	hashFn  ManifestHasher
	repoDir string
}

// New creates a Monitor.
func New(opts Options, store *gitstore.Store, immune ImmuneResponder, b *bus.Bus, hashFn ManifestHasher, repoDir string) *Monitor {
	return &Monitor{
		history: make(map[string][]TestRecord),
		opts:    opts,
		store:   store,
		immune:  immune,
		bus:     b,
		hashFn:  hashFn,
		repoDir: repoDir,
	}
}

// RecordTest appends a new test outcome for agentID and, if it falls below
// threshold, evaluates whether to trigger a rollback.
func (m *Monitor) RecordTest(ctx context.Context, agentID, commitHash string, outcome Outcome) TestRecord {
	rec := TestRecord{
		AgentID:    agentID,
		CommitHash: commitHash,
		Outcome:    outcome,
		Score:      outcome.Score(),
		Timestamp:  time.Now().UTC(),
	}

	m.mu.Lock()
	m.history[agentID] = append(m.history[agentID], rec)
	records := m.history[agentID]
	m.mu.Unlock()

	if !m.opts.Enabled || rec.Score >= m.opts.Threshold {
		return rec
	}

	window := lastN(records, m.opts.WindowSize)
	failures := 0
	for _, r := range window {
		if r.Score < m.opts.Threshold {
			failures++
		}
	}
	if failures < m.opts.MinFailures {
		return rec
	}

	updated, err := m.rollback(ctx, agentID, rec)
	if err != nil {
		slog.Error("auto-rollback failed; compliance alert suppressed", "agent_id", agentID, "error", err)
		return rec
	}
	return updated
}

// rollback walks history newest-to-oldest for the last commit this agent
// passed compliance on, checks its subtree out over the current one, and
// commits the result with an [AUTO-ROLLBACK] message. A Git failure is
// fatal and surfaced: the triggering record is kept, rolled_back stays
// false, and no compliance alert is broadcast (spec.md §4.8).
func (m *Monitor) rollback(ctx context.Context, agentID string, triggering TestRecord) (TestRecord, error) {
	m.mu.Lock()
	records := append([]TestRecord(nil), m.history[agentID]...)
	m.mu.Unlock()

	target, err := m.findLastPassingCommit(records)
	if err != nil {
		return triggering, err
	}
	if target == "" {
		head, herr := m.store.HeadCommit()
		if herr != nil {
			return triggering, herr
		}
		if len(head.ParentHashes) == 0 {
			return triggering, blueflameerr.Fatal(fmt.Errorf("no parent commit available for rollback"), "rollback agent %s", agentID)
		}
		target = head.ParentHashes[0].String()
	}

	targetCommit, err := m.store.FindCommit(target)
	if err != nil {
		return triggering, err
	}

	agentSubpath := agentID
	files, err := m.store.CheckoutSubtree(targetCommit, agentSubpath)
	if err != nil {
		return triggering, err
	}

	head, err := m.store.HeadCommit()
	if err != nil {
		return triggering, err
	}

	message := fmt.Sprintf("[AUTO-ROLLBACK] revert %s to %s after compliance failure", agentID, targetCommit.Hash.String()[:12])
	author := object.Signature{Name: "blueflame-compliance-monitor", When: time.Now()}
	newCommit, err := m.store.CommitSubtree(agentSubpath, message, head, files, author)
	if err != nil {
		return triggering, err
	}

	triggering.RolledBack = true
	m.mu.Lock()
	recs := m.history[agentID]
	recs[len(recs)-1] = triggering
	m.mu.Unlock()

	var newHash string
	if m.hashFn != nil {
		newHash, _ = m.hashFn(filepath.Join(m.repoDir, agentSubpath))
	}

	m.bus.Publish(bus.NewEvent(bus.EventComplianceAlert, map[string]any{
		"agent_id":    agentID,
		"score":       triggering.Score,
		"commit_hash": triggering.CommitHash,
		"privacy":     triggering.Outcome.Privacy,
		"efficiency":  triggering.Outcome.Efficiency,
		"tone":        triggering.Outcome.Tone,
		"rolled_back": true,
		"new_commit":  newCommit.Hash.String(),
	}))

	if m.immune != nil {
		m.immune.HandleComplianceAlert(ctx, agentID, newHash, triggering.Score)
	}

	return triggering, nil
}

// findLastPassingCommit walks the agent's Git history newest-to-oldest
// (spec.md §4.8) looking for the most recent commit recorded as passing
// threshold. Git commits carry no compliance score of their own, so the
// recorded TestRecords supply the pass/fail verdict per commit hash; the
// walk order itself comes from the repository, not record-append order,
// so a replayed or reordered test run can't pick the wrong commit. Empty
// string means none found; the caller falls back to HEAD~1.
func (m *Monitor) findLastPassingCommit(records []TestRecord) (string, error) {
	passing := make(map[string]bool, len(records))
	for _, r := range records {
		passing[r.CommitHash] = r.Score >= m.opts.Threshold
	}

	var target string
	err := m.store.WalkHistory(func(c *object.Commit) bool {
		hash := c.Hash.String()
		if passed, seen := passing[hash]; seen && passed {
			target = hash
			return false
		}
		return true
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

// Stats summarizes an agent's compliance history (supplemental reporting).
type Stats struct {
	AgentID       string
	TotalRecords  int
	PassCount     int
	FailCount     int
	RollbackCount int
	AverageScore  float64
}

// GetStats computes Stats for agentID from its full recorded history.
func (m *Monitor) GetStats(agentID string) Stats {
	m.mu.Lock()
	records := append([]TestRecord(nil), m.history[agentID]...)
	m.mu.Unlock()

	s := Stats{AgentID: agentID, TotalRecords: len(records)}
	var sum float64
	for _, r := range records {
		sum += r.Score
		if r.Score >= m.opts.Threshold {
			s.PassCount++
		} else {
			s.FailCount++
		}
		if r.RolledBack {
			s.RollbackCount++
		}
	}
	if len(records) > 0 {
		s.AverageScore = sum / float64(len(records))
	}
	return s
}

// AgentIDs returns every agent with at least one recorded test, sorted.
func (m *Monitor) AgentIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.history))
	for id := range m.history {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Threshold returns the configured passing score, used by callers (such as
// the Consensus Engine's self-vote scorer) that need to judge compliance
// standing without duplicating the configured cutoff.
func (m *Monitor) Threshold() float64 {
	return m.opts.Threshold
}

func lastN(records []TestRecord, n int) []TestRecord {
	if n <= 0 || len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}
