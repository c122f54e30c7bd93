// Package config loads and validates the Blue Flame control plane's
// configuration: node paths, mesh ports, and the tunable thresholds for
// consensus, compliance, and memory maintenance.
package config

import "time"

// Config is the fully resolved, validated configuration for a single node.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Mesh       MeshConfig       `yaml:"mesh"`
	Consensus  ConsensusConfig  `yaml:"consensus"`
	Compliance ComplianceConfig `yaml:"compliance"`
	Memory     MemoryConfig     `yaml:"memory"`
	Quarantine QuarantineConfig `yaml:"quarantine"`
	VectorDB   VectorDBConfig   `yaml:"vector_db"`
	Ledger     LedgerConfig     `yaml:"ledger"`
}

// NodeConfig locates this node's durable identity and the agent repository
// it governs.
type NodeConfig struct {
	IdentityPath  string `yaml:"identity_path" validate:"required"`
	AgentRepoPath string `yaml:"agent_repo_path" validate:"required"`
}

// MeshConfig controls the P2P governance mesh: discovery, handshake, and
// the per-call timeouts of §5.
type MeshConfig struct {
	HandshakePort              int           `yaml:"handshake_port" validate:"required,min=1,max=65535"`
	NonceTTL                   time.Duration `yaml:"nonce_ttl" validate:"required"`
	HandshakeTimeout           time.Duration `yaml:"handshake_timeout" validate:"required"`
	PropagateQuarantineTimeout time.Duration `yaml:"propagate_quarantine_timeout" validate:"required"`
	ConsensusVoteTimeout       time.Duration `yaml:"consensus_vote_timeout" validate:"required"`
	RequireManifestAlignment   bool          `yaml:"require_manifest_alignment"`
	ServiceName                string        `yaml:"service_name" validate:"required"`
	StaleDiscoveryAfter        time.Duration `yaml:"stale_discovery_after" validate:"required"`
	// CompatibleSoftwareVersions is the set of peer software_version strings
	// this node accepts during handshake. Empty disables the check (any
	// version is accepted), matching RequireManifestAlignment's opt-in shape.
	CompatibleSoftwareVersions []string `yaml:"compatible_software_versions"`
}

// ConsensusConfig tunes the vote-quorum decision of C7.
type ConsensusConfig struct {
	ApprovalThreshold float64       `yaml:"approval_threshold" validate:"min=0,max=1"`
	ScoreThreshold    float64       `yaml:"score_threshold" validate:"min=0,max=100"`
	RoundDeadline     time.Duration `yaml:"round_deadline" validate:"required"`
	MinVotes          int           `yaml:"min_votes" validate:"min=1"`
}

// ComplianceConfig tunes C8's rollback trigger.
type ComplianceConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Threshold   float64 `yaml:"threshold" validate:"min=0,max=100"`
	MinFailures int     `yaml:"min_failures" validate:"min=1"`
	WindowSize  int     `yaml:"window_size" validate:"min=1"`
}

// MemoryConfig tunes C10's vacuum and reindex cadence.
type MemoryConfig struct {
	RetentionDays       int           `yaml:"retention_days" validate:"min=1"`
	ImportanceThreshold float64       `yaml:"importance_threshold" validate:"min=0,max=1"`
	PruningInterval     time.Duration `yaml:"pruning_interval" validate:"required"`
	ScrollBatchSize     int           `yaml:"scroll_batch_size" validate:"min=1"`
	PruneCollections    []string      `yaml:"prune_collections" validate:"min=1"`
	ReindexCollections  []string      `yaml:"reindex_collections" validate:"min=1"`
	HNSWM               int           `yaml:"hnsw_m" validate:"min=1"`
	HNSWEfConstruct     int           `yaml:"hnsw_ef_construct" validate:"min=1"`
}

// QuarantineConfig resolves the open question in spec.md §9 about whether
// remote_address is required on a QuarantineEntry.
type QuarantineConfig struct {
	RequireRemoteAddress bool `yaml:"require_remote_address"`
}

// VectorDBConfig locates the Qdrant-compatible vector store backing C2, C10,
// and C11's persona collection.
type VectorDBConfig struct {
	URL string `yaml:"url" validate:"required"`
}

// LedgerConfig locates the PostgreSQL recovery store holding consensus
// round and compliance test history. It is supplemental: when Enabled is
// false the node runs entirely off in-memory state, as it would against a
// fresh checkout with no database provisioned.
type LedgerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}
