package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_RecordAndGetConsensusRound(t *testing.T) {
	client := newTestClient(t)
	ledger := NewLedger(client)
	ctx := context.Background()

	round := ConsensusRound{
		CommitHash:  "abc123",
		Initiator:   "node-a",
		Status:      "pending",
		ApprovalPct: 0,
		AvgScore:    0,
		Deadline:    time.Now().Add(10 * time.Second).UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, ledger.RecordConsensusRound(ctx, round))

	got, err := ledger.GetConsensusRound(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "node-a", got.Initiator)
	assert.Equal(t, "pending", got.Status)

	round.Status = "approved"
	round.ApprovalPct = 0.8
	round.AvgScore = 92.5
	require.NoError(t, ledger.RecordConsensusRound(ctx, round))

	got, err = ledger.GetConsensusRound(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "approved", got.Status)
	assert.InDelta(t, 0.8, got.ApprovalPct, 0.0001)
	assert.InDelta(t, 92.5, got.AvgScore, 0.0001)
}

func TestLedger_RecordAndListComplianceTests(t *testing.T) {
	client := newTestClient(t)
	ledger := NewLedger(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, ledger.RecordComplianceTest(ctx, ComplianceTestRecord{
			AgentID:          "agent-1",
			CommitHash:       "commit-" + string(rune('a'+i)),
			PrivacyPassed:    true,
			EfficiencyPassed: i != 1,
			TonePassed:       true,
			Score:            float64(60 + i*10),
			RolledBack:       i == 1,
		}))
	}

	records, err := ledger.ListComplianceTests(ctx, "agent-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "commit-c", records[0].CommitHash) // newest first
}
