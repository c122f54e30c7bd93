package compliance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/gitstore"
)

func TestOutcome_ScoreIsPassedFractionOfThree(t *testing.T) {
	assert.InDelta(t, 100.0, Outcome{true, true, true}.Score(), 0.001)
	assert.InDelta(t, 66.666, Outcome{true, true, false}.Score(), 0.01)
	assert.InDelta(t, 0.0, Outcome{false, false, false}.Score(), 0.001)
}

type fakeImmune struct {
	called   bool
	agentID  string
	manifest string
	score    float64
}

func (f *fakeImmune) HandleComplianceAlert(ctx context.Context, agentID, manifestHash string, score float64) {
	f.called = true
	f.agentID = agentID
	f.manifest = manifestHash
	f.score = score
}

// initRepoWithAgent creates a single-commit repository with agentID's files
// and returns the store plus that commit's real hash, since
// findLastPassingCommit now walks actual Git history rather than matching
// arbitrary caller-supplied commit labels.
func initRepoWithAgent(t *testing.T, agentID string) (*gitstore.Store, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)

	agentPath := filepath.Join(dir, agentID)
	require.NoError(t, os.MkdirAll(agentPath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(agentPath, "manifest.yaml"), []byte("v1"), 0o644))
	_, err = wt.Add(agentID)
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{Author: &object.Signature{Name: "test", When: time.Now()}})
	require.NoError(t, err)

	store, err := gitstore.Open(dir)
	require.NoError(t, err)
	return store, hash.String()
}

func TestRecordTest_NoRollbackWhenScoreAboveThreshold(t *testing.T) {
	store, head := initRepoWithAgent(t, "agent-a")
	im := &fakeImmune{}
	m := New(Options{Enabled: true, Threshold: 70.0, MinFailures: 1, WindowSize: 10}, store, im, bus.New(), nil, "")

	rec := m.RecordTest(context.Background(), "agent-a", head, Outcome{true, true, true})
	assert.False(t, rec.RolledBack)
	assert.False(t, im.called)
}

func TestRecordTest_TriggersRollbackOnFailure(t *testing.T) {
	store, firstHash := initRepoWithAgent(t, "agent-a")
	im := &fakeImmune{}
	m := New(Options{Enabled: true, Threshold: 70.0, MinFailures: 1, WindowSize: 10}, store, im, bus.New(), nil, "")

	// first commit passed compliance
	m.RecordTest(context.Background(), "agent-a", firstHash, Outcome{true, true, true})

	head, err := store.HeadCommit()
	require.NoError(t, err)
	second, err := store.CommitSubtree("agent-a", "second revision", head,
		map[string][]byte{"manifest.yaml": []byte("v2")},
		object.Signature{Name: "test", When: time.Now()})
	require.NoError(t, err)

	// second commit (HEAD) fails compliance, so rollback must walk Git
	// history back to firstHash, the last commit that passed.
	rec := m.RecordTest(context.Background(), "agent-a", second.Hash.String(), Outcome{false, false, false})
	assert.True(t, rec.RolledBack)
	assert.True(t, im.called)
	assert.Equal(t, "agent-a", im.agentID)
}

func TestRecordTest_DisabledMonitorNeverRollsBack(t *testing.T) {
	store, head := initRepoWithAgent(t, "agent-a")
	im := &fakeImmune{}
	m := New(Options{Enabled: false, Threshold: 70.0, MinFailures: 1, WindowSize: 10}, store, im, bus.New(), nil, "")

	rec := m.RecordTest(context.Background(), "agent-a", head, Outcome{false, false, false})
	assert.False(t, rec.RolledBack)
	assert.False(t, im.called)
}

func TestGetStats_AggregatesHistory(t *testing.T) {
	store, head := initRepoWithAgent(t, "agent-a")
	m := New(Options{Enabled: false, Threshold: 70.0, MinFailures: 1, WindowSize: 10}, store, nil, bus.New(), nil, "")
	m.RecordTest(context.Background(), "agent-a", head, Outcome{true, true, true})
	m.RecordTest(context.Background(), "agent-a", head, Outcome{false, false, false})

	s := m.GetStats("agent-a")
	assert.Equal(t, 2, s.TotalRecords)
	assert.Equal(t, 1, s.PassCount)
	assert.Equal(t, 1, s.FailCount)
}
