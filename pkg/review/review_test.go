package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/review/personastore"
	"github.com/codeready-toolchain/tarsy/pkg/vectorstore"
)

func newEngine(t *testing.T, personas []personastore.Persona) *Engine {
	t.Helper()
	vs := vectorstore.NewMemStore()
	ps := personastore.New(vs)
	require.NoError(t, ps.EnsureCollection(context.Background()))
	for _, p := range personas {
		require.NoError(t, ps.Upsert(context.Background(), p))
	}
	return New(ps, bus.New())
}

func TestScoreReview_SkepticAmplifiesLowReliabilityObjection(t *testing.T) {
	p := personastore.Persona{AgentID: "a1", Callsign: "skeptic-01", Bias: personastore.Bias{Cautiousness: 0.5}}
	resp := scoreReview(p, ToolProposal{ToolReliability: 0.5})
	// base = clamp(0.5,0,1)=0.5; skeptic*1.3=0.65; += 0.5*0.5*0.2=0.05 -> 0.70
	assert.InDelta(t, 0.70, resp.ObjectProbability, 0.001)
	assert.Equal(t, DecisionObject, resp.Decision)
}

func TestScoreReview_ArchitectPenalizesManyDependencies(t *testing.T) {
	p := personastore.Persona{AgentID: "a2", Callsign: "architect-01", Bias: personastore.Bias{Cautiousness: 0}}
	resp := scoreReview(p, ToolProposal{ToolReliability: 1.0, Dependencies: 10})
	// base = clamp(0,0,1)=0; += 0; architect deps>5 -> +0.15
	assert.InDelta(t, 0.15, resp.ObjectProbability, 0.001)
	assert.Equal(t, DecisionConcur, resp.Decision)
}

func TestReview_ApprovedWhenStrictMajorityConcurs(t *testing.T) {
	personas := []personastore.Persona{
		{AgentID: "a1", Callsign: "builder", Bias: personastore.Bias{}},
		{AgentID: "a2", Callsign: "builder", Bias: personastore.Bias{}},
		{AgentID: "a3", Callsign: "builder", Bias: personastore.Bias{}},
	}
	e := newEngine(t, personas)
	// High reliability, low cautiousness -> low base -> concur for all.
	c, err := e.Review(context.Background(), ToolProposal{ID: "p1", ToolReliability: 0.99, Dependencies: 3})
	require.NoError(t, err)
	assert.True(t, c.Approved)
}

func TestReview_ExactTieRejects(t *testing.T) {
	personas := []personastore.Persona{
		{AgentID: "a1", Callsign: "skeptic", Bias: personastore.Bias{Cautiousness: 1}},
		{AgentID: "a2", Callsign: "builder", Bias: personastore.Bias{}},
	}
	e := newEngine(t, personas)
	c, err := e.Review(context.Background(), ToolProposal{ID: "p2", ToolReliability: 0.5, Dependencies: 3})
	require.NoError(t, err)
	// a1 (skeptic, cautiousness 1) objects at base=0.75; a2 (builder, cautiousness 0) concurs at base=0.5
	// exactly -> 1 of 2 concur -> not a strict majority -> reject
	assert.False(t, c.Approved)
}
