// Package review implements the Peer-Review Engine (C11): persona-weighted
// scoring of a proposed tool installation, closing on a majority-concur
// consensus rule.
package review

import (
	"context"
	"strings"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/review/personastore"
)

// Decision is one reviewer's verdict.
type Decision string

const (
	DecisionConcur Decision = "concur"
	DecisionObject Decision = "object"
)

// ToolProposal is the subject of a review round.
type ToolProposal struct {
	ID              string
	ToolName        string
	ToolReliability float64
	Dependencies    int
}

// ReviewResponse is one persona's scored verdict on a proposal.
type ReviewResponse struct {
	AgentID            string
	ObjectProbability  float64
	Decision           Decision
}

// Consensus is the finalized outcome of a review round.
type Consensus struct {
	ProposalID string
	Approved   bool
	Responses  []ReviewResponse
}

// Engine runs peer-review rounds against a fixed panel of personas.
type Engine struct {
	personas *personastore.Store
	bus      *bus.Bus
}

// New creates an Engine.
func New(personas *personastore.Store, b *bus.Bus) *Engine {
	return &Engine{personas: personas, bus: b}
}

// Review scores proposal against every registered persona and returns the
// finalized consensus. A proposal never executes on Approved alone — a
// human-in-the-loop confirmation outside this package is still required
// (spec.md §4.11).
func (e *Engine) Review(ctx context.Context, proposal ToolProposal) (Consensus, error) {
	personas, err := e.personas.List(ctx)
	if err != nil {
		return Consensus{}, err
	}

	e.bus.Publish(bus.NewEvent(bus.EventToolProposalCreated, map[string]any{
		"proposal_id": proposal.ID,
		"tool_name":   proposal.ToolName,
	}))

	responses := make([]ReviewResponse, 0, len(personas))
	concurCount := 0
	for _, p := range personas {
		e.bus.Publish(bus.NewEvent(bus.EventPeerReviewRequest, map[string]any{
			"proposal_id": proposal.ID,
			"agent_id":    p.AgentID,
		}))

		resp := scoreReview(p, proposal)
		responses = append(responses, resp)
		if resp.Decision == DecisionConcur {
			concurCount++
		}

		e.bus.Publish(bus.NewEvent(bus.EventPeerReviewResponse, map[string]any{
			"proposal_id":        proposal.ID,
			"agent_id":           resp.AgentID,
			"object_probability": resp.ObjectProbability,
			"decision":           string(resp.Decision),
		}))
	}

	// Strictly more than half must concur; an exact tie rejects.
	approved := len(responses) > 0 && concurCount*2 > len(responses)

	result := Consensus{ProposalID: proposal.ID, Approved: approved, Responses: responses}

	eventType := bus.EventToolProposalRejected
	if approved {
		eventType = bus.EventToolProposalApproved
	}
	e.bus.Publish(bus.NewEvent(eventType, map[string]any{
		"proposal_id": proposal.ID,
		"approved":    approved,
	}))
	e.bus.Publish(bus.NewEvent(bus.EventPeerReviewConsensus, map[string]any{
		"proposal_id": proposal.ID,
		"approved":    approved,
		"concur":      concurCount,
		"total":       len(responses),
	}))

	if !approved {
		e.bus.Publish(bus.NewEvent(bus.EventPostMortemRetrospective, map[string]any{
			"proposal_id": proposal.ID,
			"tool_name":   proposal.ToolName,
		}))
	}

	return result, nil
}

// scoreReview applies the object-probability formula of spec.md §4.11 for
// one persona against one proposal.
func scoreReview(p personastore.Persona, proposal ToolProposal) ReviewResponse {
	reliability := proposal.ToolReliability
	base := clamp(1-reliability, 0, 1)

	callsign := strings.ToLower(p.Callsign)
	if strings.Contains(callsign, "skeptic") && reliability < 0.9 {
		base *= 1.3
	}

	base += (1 - reliability) * p.Bias.Cautiousness * 0.2

	if strings.Contains(callsign, "architect") {
		if proposal.Dependencies > 5 {
			base += 0.15
		} else if proposal.Dependencies < 2 {
			base -= 0.10
		}
	}

	if p.Bias.DetailOrientation > 0.7 && reliability > 0.85 && reliability < 0.95 {
		base += 0.10
	}

	decision := DecisionConcur
	if base > 0.5 {
		decision = DecisionObject
	}

	return ReviewResponse{AgentID: p.AgentID, ObjectProbability: base, Decision: decision}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
