package config

import "time"

// Defaults returns the built-in configuration, matching every default named
// in spec.md §6's environment variable table and §5's timeout table.
func Defaults() *Config {
	return &Config{
		Node: NodeConfig{
			IdentityPath:  "./identity",
			AgentRepoPath: "./agents",
		},
		Mesh: MeshConfig{
			HandshakePort:              8285,
			NonceTTL:                   30 * time.Second,
			HandshakeTimeout:           5 * time.Second,
			PropagateQuarantineTimeout: 3 * time.Second,
			ConsensusVoteTimeout:       10 * time.Second,
			RequireManifestAlignment:   true,
			ServiceName:                "_blueflame._tcp",
			StaleDiscoveryAfter:        5 * time.Minute,
			CompatibleSoftwareVersions: nil,
		},
		Consensus: ConsensusConfig{
			ApprovalThreshold: 0.5,
			ScoreThreshold:    70.0,
			RoundDeadline:     10 * time.Second,
			MinVotes:          3,
		},
		Compliance: ComplianceConfig{
			Enabled:     true,
			Threshold:   70.0,
			MinFailures: 1,
			WindowSize:  10,
		},
		Memory: MemoryConfig{
			RetentionDays:       30,
			ImportanceThreshold: 0.8,
			PruningInterval:     24 * time.Hour,
			ScrollBatchSize:     10000,
			PruneCollections:    []string{"agent_logs", "telemetry", "episodic_memory"},
			ReindexCollections:  []string{"agent_logs", "long_term_memory"},
			HNSWM:               16,
			HNSWEfConstruct:     100,
		},
		Quarantine: QuarantineConfig{
			RequireRemoteAddress: false,
		},
		VectorDB: VectorDBConfig{
			URL: "http://localhost:6334",
		},
		Ledger: LedgerConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			User:            "blueflame",
			Database:        "blueflame",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 15 * time.Minute,
		},
	}
}
