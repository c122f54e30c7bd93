// Package bus implements the Message Bus (C3): an in-process,
// multi-subscriber broadcast of governance events. Fan-out is best-effort
// with a bounded buffer of 1000 events per subscriber; slow consumers drop
// the oldest. Ordering is preserved per subscriber but not across
// subscribers, exactly as spec.md §4.3 requires.
package bus

import "time"

// EventType is the closed set of governance events this node can emit.
// This enumerates the full original PhoenixEvent set (original_source
// bus/mod.rs), not only the operationally load-bearing subset spec.md §4.3
// names, so the bus stays a faithful superset for any future producer.
type EventType string

const (
	EventTaskUpdate             EventType = "task_update"
	EventResourceWarning        EventType = "resource_warning"
	EventAgentHandshake         EventType = "agent_handshake"
	EventBroadcastDiscovery     EventType = "broadcast_discovery"
	EventMaintenanceStarted     EventType = "maintenance_started"
	EventIndexingComplete       EventType = "indexing_complete"
	EventUnauthorizedNode       EventType = "unauthorized_node_detected"
	EventNodeIsolated           EventType = "node_isolated"
	EventNodeReintegrated       EventType = "node_reintegrated"
	EventPeerVerified           EventType = "peer_verified"
	EventNodeDiscovered         EventType = "node_discovered"
	EventComplianceAlert        EventType = "compliance_alert"
	EventConsensusRequest       EventType = "consensus_request"
	EventConsensusVote          EventType = "consensus_vote"
	EventConsensusResult        EventType = "consensus_result"
	EventMemoryExchangeRequest  EventType = "memory_exchange_request"
	EventMemoryTransfer         EventType = "memory_transfer"
	EventMemoryTransferReceipt  EventType = "memory_transfer_receipt"
	EventQuarantineAlert        EventType = "quarantine_alert"
	EventMemoryPrune            EventType = "memory_prune"
	EventUpdateConfig           EventType = "update_config"
	EventToolProposalCreated    EventType = "tool_proposal_created"
	EventToolProposalApproved   EventType = "tool_proposal_approved"
	EventToolProposalRejected   EventType = "tool_proposal_rejected"
	EventPeerReviewRequest      EventType = "peer_review_request"
	EventPeerReviewResponse     EventType = "peer_review_response"
	EventPeerReviewConsensus    EventType = "peer_review_consensus"
	EventPostMortemRetrospective EventType = "post_mortem_retrospective"
)

// Event is a single governance event published to the bus. Payload carries
// the event-specific fields as a map so producers don't need a generated
// union type, matching the JSON-over-the-wire shape used by pkg/meshrpc.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// NewEvent builds an Event with the current time and the given payload
// fields.
func NewEvent(t EventType, payload map[string]any) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), Payload: payload}
}
