package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Initialize(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 8285, cfg.Mesh.HandshakePort)
	assert.Equal(t, 70.0, cfg.Compliance.Threshold)
	assert.Equal(t, 1, cfg.Compliance.MinFailures)
	assert.Equal(t, 30, cfg.Memory.RetentionDays)
}

func TestInitialize_EnvOverridesWinOverDefaults(t *testing.T) {
	t.Setenv("COMPLIANCE_THRESHOLD", "55")
	t.Setenv("HANDSHAKE_PORT", "9001")

	cfg, err := Initialize(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 55.0, cfg.Compliance.Threshold)
	assert.Equal(t, 9001, cfg.Mesh.HandshakePort)
}

func TestInitialize_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), "/nonexistent/blueflame.yaml")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Node.AgentRepoPath, cfg.Node.AgentRepoPath)
}

func TestInitialize_MalformedEnvFloatIsIgnored(t *testing.T) {
	t.Setenv("COMPLIANCE_THRESHOLD", "not-a-number")

	cfg, err := Initialize(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, Defaults().Compliance.Threshold, cfg.Compliance.Threshold)
}
