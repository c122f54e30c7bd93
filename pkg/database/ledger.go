package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ConsensusRound is a row in the consensus_rounds recovery table, recorded
// once a round closes so the approval/rollback trail survives a node
// restart.
type ConsensusRound struct {
	CommitHash  string
	Initiator   string
	Status      string
	Reason      string
	ApprovalPct float64
	AvgScore    float64
	Deadline    time.Time
	CreatedAt   time.Time
}

// ComplianceTestRecord is a row in the compliance_test_records table.
type ComplianceTestRecord struct {
	AgentID          string
	CommitHash       string
	PrivacyPassed    bool
	EfficiencyPassed bool
	TonePassed       bool
	Score            float64
	RolledBack       bool
	RecordedAt       time.Time
}

// Ledger persists consensus and compliance history for recovery and
// auditing. It has no opinion on the domain types pkg/mesh/consensus and
// pkg/compliance use internally; callers translate at the boundary.
type Ledger struct {
	db *sql.DB
}

// NewLedger wraps an open Client's connection pool as a Ledger.
func NewLedger(c *Client) *Ledger {
	return &Ledger{db: c.DB()}
}

// RecordConsensusRound upserts a round's outcome, keyed by commit hash: a
// round can be recorded once while still open (status "pending") and
// again once it closes.
func (l *Ledger) RecordConsensusRound(ctx context.Context, r ConsensusRound) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO consensus_rounds (commit_hash, initiator, status, reason, approval_pct, avg_score, deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (commit_hash) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			approval_pct = EXCLUDED.approval_pct,
			avg_score = EXCLUDED.avg_score
	`, r.CommitHash, r.Initiator, r.Status, r.Reason, r.ApprovalPct, r.AvgScore, r.Deadline)
	if err != nil {
		return fmt.Errorf("record consensus round %s: %w", r.CommitHash, err)
	}
	return nil
}

// GetConsensusRound looks up a recorded round by commit hash.
func (l *Ledger) GetConsensusRound(ctx context.Context, commitHash string) (ConsensusRound, error) {
	var r ConsensusRound
	err := l.db.QueryRowContext(ctx, `
		SELECT commit_hash, initiator, status, reason, approval_pct, avg_score, deadline, created_at
		FROM consensus_rounds WHERE commit_hash = $1
	`, commitHash).Scan(&r.CommitHash, &r.Initiator, &r.Status, &r.Reason, &r.ApprovalPct, &r.AvgScore, &r.Deadline, &r.CreatedAt)
	if err != nil {
		return ConsensusRound{}, fmt.Errorf("get consensus round %s: %w", commitHash, err)
	}
	return r, nil
}

// RecordComplianceTest inserts one compliance test outcome.
func (l *Ledger) RecordComplianceTest(ctx context.Context, r ComplianceTestRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO compliance_test_records
			(agent_id, commit_hash, privacy_passed, efficiency_passed, tone_passed, score, rolled_back)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.AgentID, r.CommitHash, r.PrivacyPassed, r.EfficiencyPassed, r.TonePassed, r.Score, r.RolledBack)
	if err != nil {
		return fmt.Errorf("record compliance test for agent %s: %w", r.AgentID, err)
	}
	return nil
}

// ListComplianceTests returns an agent's most recent test records, newest
// first, limited to limit rows.
func (l *Ledger) ListComplianceTests(ctx context.Context, agentID string, limit int) ([]ComplianceTestRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT agent_id, commit_hash, privacy_passed, efficiency_passed, tone_passed, score, rolled_back, recorded_at
		FROM compliance_test_records
		WHERE agent_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list compliance tests for agent %s: %w", agentID, err)
	}
	defer rows.Close()

	var out []ComplianceTestRecord
	for rows.Next() {
		var r ComplianceTestRecord
		if err := rows.Scan(&r.AgentID, &r.CommitHash, &r.PrivacyPassed, &r.EfficiencyPassed, &r.TonePassed, &r.Score, &r.RolledBack, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan compliance test record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
