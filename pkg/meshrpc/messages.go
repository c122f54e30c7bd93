package meshrpc

import "time"

// Wire messages for the NodeHandshake service (spec.md §6, §4.5).

type HandshakeRequest struct {
	NodeID          string `json:"node_id"`
	SoftwareVersion string `json:"software_version"`
	ManifestHash    string `json:"manifest_hash"`
}

type Challenge struct {
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ChallengeResponse struct {
	Nonce        string `json:"nonce"`
	Signature    string `json:"signature"` // hex-encoded
	PublicKey    string `json:"public_key"`
	NodeID       string `json:"node_id"`
}

type HandshakeComplete struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type QuarantineNotice struct {
	ManifestHash     string  `json:"manifest_hash"`
	AgentID          string  `json:"agent_id"`
	ComplianceScore  float64 `json:"compliance_score"`
	QuarantinedBy    string  `json:"quarantined_by"`
}

type Ack struct {
	Ok      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Wire messages for the Consensus service (spec.md §6, §4.7).

type ConsensusRequestMsg struct {
	CommitHash string `json:"commit_hash"`
	Initiator  string `json:"initiator"`
}

type ConsensusVoteMsg struct {
	CommitHash string  `json:"commit_hash"`
	Voter      string  `json:"voter"`
	Score      float64 `json:"score"`
	Approved   bool    `json:"approved"`
}

// Wire messages for the MemoryExchange service (spec.md §6, sketch only).

type FragmentRequest struct {
	Topic     string `json:"topic"`
	Namespace string `json:"namespace"`
}

type Fragment struct {
	ID      string         `json:"id"`
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload"`
}
