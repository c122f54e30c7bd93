package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, overrides, and validates configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML from configPath, if present
//  2. Expand environment variables
//  3. Parse YAML into a Config
//  4. Merge built-in defaults into unset fields
//  5. Apply explicit environment variable overrides (spec.md §6)
//  6. Validate
func Initialize(ctx context.Context, configPath string) (*Config, error) {
	log := slog.With("config_path", configPath)
	log.Info("initializing configuration")

	cfg, err := load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := mergo.Merge(cfg, Defaults()); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration initialized",
		"handshake_port", cfg.Mesh.HandshakePort,
		"vector_db_url", cfg.VectorDB.URL)
	return cfg, nil
}

var validate = validator.New()

func load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("config file not found, using defaults and environment", "path", configPath)
			return cfg, nil
		}
		return nil, NewLoadError(configPath, err)
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewLoadError(configPath, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	return cfg, nil
}

// applyEnvOverrides applies the environment variables spec.md §6 names as
// recognized by the core. These take precedence over both the YAML file and
// the built-in defaults.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NODE_ID_PATH"); v != "" {
		cfg.Node.IdentityPath = v
	}
	if v := os.Getenv("AGENT_REPO_PATH"); v != "" {
		cfg.Node.AgentRepoPath = v
	}
	if v := os.Getenv("VECTOR_STORE_URL"); v != "" {
		cfg.VectorDB.URL = v
	}
	if v := envInt("HANDSHAKE_PORT"); v != nil {
		cfg.Mesh.HandshakePort = *v
	}
	if v := envInt("MEMORY_RETENTION_DAYS"); v != nil {
		cfg.Memory.RetentionDays = *v
	}
	if v := envFloat("MEMORY_IMPORTANCE_THRESHOLD"); v != nil {
		cfg.Memory.ImportanceThreshold = *v
	}
	if v := envInt("MEMORY_PRUNING_INTERVAL_SECS"); v != nil {
		cfg.Memory.PruningInterval = time.Duration(*v) * time.Second
	}
	if v := envFloat("CONSENSUS_APPROVAL_THRESHOLD"); v != nil {
		cfg.Consensus.ApprovalThreshold = *v
	}
	if v := envFloat("CONSENSUS_SCORE_THRESHOLD"); v != nil {
		cfg.Consensus.ScoreThreshold = *v
	}
	if v := envFloat("COMPLIANCE_THRESHOLD"); v != nil {
		cfg.Compliance.Threshold = *v
	}
	if v := envInt("COMPLIANCE_MIN_FAILURES"); v != nil {
		cfg.Compliance.MinFailures = *v
	}
	if v := os.Getenv("LEDGER_ENABLED"); v != "" {
		cfg.Ledger.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("LEDGER_HOST"); v != "" {
		cfg.Ledger.Host = v
	}
	if v := envInt("LEDGER_PORT"); v != nil {
		cfg.Ledger.Port = *v
	}
	if v := os.Getenv("LEDGER_USER"); v != "" {
		cfg.Ledger.User = v
	}
	if v := os.Getenv("LEDGER_PASSWORD"); v != "" {
		cfg.Ledger.Password = v
	}
	if v := os.Getenv("LEDGER_DATABASE"); v != "" {
		cfg.Ledger.Database = v
	}
}

func envInt(name string) *int {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed integer environment variable", "name", name, "value", v)
		return nil
	}
	return &n
}

func envFloat(name string) *float64 {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring malformed float environment variable", "name", name, "value", v)
		return nil
	}
	return &f
}
