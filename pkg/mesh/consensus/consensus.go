// Package consensus implements the Consensus Engine (C7): one vote round
// per proposed commit hash, closing on a deadline or full response, and
// deciding Approved/Rejected by the AND of approval percentage and average
// score (spec.md §4.7, resolving the source's two-formula ambiguity by
// checking both).
package consensus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/mesh/handshake"
	"github.com/codeready-toolchain/tarsy/pkg/meshrpc"
)

// Status is a round's lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ReasonInsufficientQuorum is the rejection reason when fewer than MinVotes
// votes were cast by the deadline.
const ReasonInsufficientQuorum = "insufficient quorum"

// Vote is one peer's judgment of a proposed commit.
type Vote struct {
	Score    float64
	Approved bool
}

// Round is a single consensus vote cycle on one commit hash.
type Round struct {
	CommitHash string
	Initiator  string
	Votes      map[string]Vote
	Deadline   time.Time
	Status     Status
	Reason     string
	ApprovalPct float64
	AvgScore    float64

	total int // expected voters at open time, for early-close detection
}

// Scorer re-runs local compliance checks against a proposed commit and
// returns this node's vote.
type Scorer func(ctx context.Context, commitHash string) (score float64, approved bool)

// PeerLister supplies the verified peer set a round is broadcast to.
type PeerLister interface {
	GetVerifiedPeers() []handshake.Peer
}

// Dialer establishes a client connection to a peer's mesh address.
type Dialer func(ctx context.Context, address string) (*grpc.ClientConn, error)

// Engine manages all in-flight and completed rounds.
type Engine struct {
	mu     sync.Mutex
	rounds map[string]*Round

	selfID            string
	approvalThreshold float64
	scoreThreshold    float64
	roundDeadline     time.Duration
	minVotes          int

	scorer Scorer
	peers  PeerLister
	dial   Dialer
	bus    *bus.Bus
}

// Options configures Engine thresholds, mirroring config.ConsensusConfig.
type Options struct {
	ApprovalThreshold float64
	ScoreThreshold    float64
	RoundDeadline     time.Duration
	MinVotes          int
}

// New creates an Engine.
func New(selfID string, opts Options, scorer Scorer, peers PeerLister, dial Dialer, b *bus.Bus) *Engine {
	return &Engine{
		rounds:            make(map[string]*Round),
		selfID:            selfID,
		approvalThreshold: opts.ApprovalThreshold,
		scoreThreshold:    opts.ScoreThreshold,
		roundDeadline:     opts.RoundDeadline,
		minVotes:          opts.MinVotes,
		scorer:            scorer,
		peers:             peers,
		dial:              dial,
		bus:               b,
	}
}

// ProposeCommit is the entry point for a new commit needing consensus. If a
// round for commitHash already exists, its cached result is returned
// immediately without starting a new round.
func (e *Engine) ProposeCommit(ctx context.Context, commitHash string) *Round {
	e.mu.Lock()
	if r, ok := e.rounds[commitHash]; ok {
		e.mu.Unlock()
		return r
	}
	peerList := e.peerList()
	r := &Round{
		CommitHash: commitHash,
		Initiator:  e.selfID,
		Votes:      make(map[string]Vote),
		Deadline:   time.Now().Add(e.roundDeadline),
		Status:     StatusOpen,
		total:      len(peerList) + 1, // peers + self
	}
	e.rounds[commitHash] = r
	e.mu.Unlock()

	e.bus.Publish(bus.NewEvent(bus.EventConsensusRequest, map[string]any{
		"commit_hash": commitHash,
		"initiator":   e.selfID,
	}))

	e.castOwnVote(ctx, r)
	e.broadcastRequest(ctx, commitHash, peerList)
	e.scheduleClose(commitHash)

	return r
}

func (e *Engine) peerList() []handshake.Peer {
	if e.peers == nil {
		return nil
	}
	return e.peers.GetVerifiedPeers()
}

func (e *Engine) castOwnVote(ctx context.Context, r *Round) {
	if e.scorer == nil {
		return
	}
	score, approved := e.scorer(ctx, r.CommitHash)
	e.SubmitVote(r.CommitHash, e.selfID, score, approved)
}

func (e *Engine) broadcastRequest(_ context.Context, commitHash string, peers []handshake.Peer) {
	if e.dial == nil {
		return
	}
	for _, p := range peers {
		go func(addr, nodeID string) {
			cctx, cancel := context.WithTimeout(context.Background(), e.roundDeadline)
			defer cancel()
			conn, err := e.dial(cctx, addr)
			if err != nil {
				slog.Warn("consensus: dial failed", "peer", nodeID, "error", err)
				return
			}
			defer conn.Close()
			client := meshrpc.NewConsensusClient(conn)
			if _, err := client.ProposeCommit(cctx, &meshrpc.ConsensusRequestMsg{CommitHash: commitHash, Initiator: e.selfID}); err != nil {
				slog.Warn("consensus: propose rpc failed", "peer", nodeID, "error", err)
			}
		}(p.RemoteAddress, p.NodeID)
	}
}

// SubmitVote records voter's vote for commitHash. If every expected voter
// has responded, the round closes immediately rather than waiting for the
// deadline (spec.md §4.7 step 3).
func (e *Engine) SubmitVote(commitHash, voter string, score float64, approved bool) {
	e.mu.Lock()
	r, ok := e.rounds[commitHash]
	if !ok || r.Status != StatusOpen {
		e.mu.Unlock()
		return
	}
	r.Votes[voter] = Vote{Score: score, Approved: approved}
	complete := len(r.Votes) >= r.total
	e.mu.Unlock()

	e.bus.Publish(bus.NewEvent(bus.EventConsensusVote, map[string]any{
		"commit_hash": commitHash,
		"voter":       voter,
		"score":       score,
		"approved":    approved,
	}))

	if complete {
		e.close(commitHash)
	}
}

func (e *Engine) scheduleClose(commitHash string) {
	go func() {
		e.mu.Lock()
		r, ok := e.rounds[commitHash]
		e.mu.Unlock()
		if !ok {
			return
		}
		delay := time.Until(r.Deadline)
		if delay > 0 {
			time.Sleep(delay)
		}
		e.close(commitHash)
	}()
}

// close finalizes a round exactly once. Missing votes at the deadline are
// abstentions, excluded from the denominator.
func (e *Engine) close(commitHash string) {
	e.mu.Lock()
	r, ok := e.rounds[commitHash]
	if !ok || r.Status != StatusOpen {
		e.mu.Unlock()
		return
	}

	n := len(r.Votes)
	if n < e.minVotes {
		r.Status = StatusRejected
		r.Reason = ReasonInsufficientQuorum
		e.mu.Unlock()
		e.publishResult(r)
		return
	}

	approvedCount := 0
	var scoreSum float64
	for _, v := range r.Votes {
		if v.Approved {
			approvedCount++
		}
		scoreSum += v.Score
	}
	r.ApprovalPct = float64(approvedCount) / float64(n)
	r.AvgScore = scoreSum / float64(n)

	// An approval share exactly at the threshold counts as rejected.
	if r.ApprovalPct > e.approvalThreshold && r.AvgScore >= e.scoreThreshold {
		r.Status = StatusApproved
	} else {
		r.Status = StatusRejected
		r.Reason = "approval or score threshold not met"
	}
	e.mu.Unlock()
	e.publishResult(r)
}

func (e *Engine) publishResult(r *Round) {
	voters := make([]string, 0, len(r.Votes))
	for v := range r.Votes {
		voters = append(voters, v)
	}
	sort.Strings(voters)

	e.bus.Publish(bus.NewEvent(bus.EventConsensusResult, map[string]any{
		"commit_hash":  r.CommitHash,
		"initiator":    r.Initiator,
		"status":       string(r.Status),
		"reason":       r.Reason,
		"approval_pct": r.ApprovalPct,
		"avg_score":    r.AvgScore,
		"deadline":     r.Deadline,
		"voters":       voters,
	}))
}

// GetRound returns the round for commitHash, if one exists.
func (e *Engine) GetRound(commitHash string) (*Round, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rounds[commitHash]
	return r, ok
}

// handleProposeCommit and handleSubmitVote serve inbound peer traffic; the
// Server adapter below exposes them as meshrpc.ConsensusServer.

func (e *Engine) handleProposeCommit(ctx context.Context, req *meshrpc.ConsensusRequestMsg) (*meshrpc.Ack, error) {
	e.ProposeCommit(ctx, req.CommitHash)
	return &meshrpc.Ack{Ok: true}, nil
}

func (e *Engine) handleSubmitVote(_ context.Context, req *meshrpc.ConsensusVoteMsg) (*meshrpc.Ack, error) {
	e.SubmitVote(req.CommitHash, req.Voter, req.Score, req.Approved)
	return &meshrpc.Ack{Ok: true}, nil
}

// Server adapts Engine to meshrpc.ConsensusServer.
type Server struct{ Engine *Engine }

func (s Server) ProposeCommit(ctx context.Context, req *meshrpc.ConsensusRequestMsg) (*meshrpc.Ack, error) {
	return s.Engine.handleProposeCommit(ctx, req)
}

func (s Server) SubmitVote(ctx context.Context, req *meshrpc.ConsensusVoteMsg) (*meshrpc.Ack, error) {
	return s.Engine.handleSubmitVote(ctx, req)
}
