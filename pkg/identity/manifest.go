package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ComputeAgentManifestHash hashes a single agent's manifest.yaml concatenated
// with prompt.txt (in that order, no separator), per spec.md §6's file
// format definition.
func ComputeAgentManifestHash(agentDir string) (string, error) {
	manifest, err := os.ReadFile(filepath.Join(agentDir, "manifest.yaml"))
	if err != nil {
		return "", fmt.Errorf("read manifest.yaml: %w", err)
	}
	prompt, err := os.ReadFile(filepath.Join(agentDir, "prompt.txt"))
	if err != nil {
		return "", fmt.Errorf("read prompt.txt: %w", err)
	}

	h := sha256.New()
	h.Write(manifest)
	h.Write(prompt)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeNodeManifestHash hashes every agent's manifest under repoPath in
// stable (lexically sorted by agent id) order, yielding the digest stored
// in NodeIdentity.manifest_hash — the fingerprint of "the currently active
// agent configuration" as a whole (spec.md §3).
func ComputeNodeManifestHash(repoPath string) (string, error) {
	entries, err := os.ReadDir(repoPath)
	if err != nil {
		return "", fmt.Errorf("read agent repo: %w", err)
	}

	var agentIDs []string
	for _, e := range entries {
		if e.IsDir() {
			agentIDs = append(agentIDs, e.Name())
		}
	}
	sort.Strings(agentIDs)

	h := sha256.New()
	for _, agentID := range agentIDs {
		agentDir := filepath.Join(repoPath, agentID)
		manifest, err := os.ReadFile(filepath.Join(agentDir, "manifest.yaml"))
		if err != nil {
			continue // agent without a manifest does not contribute to node alignment
		}
		prompt, err := os.ReadFile(filepath.Join(agentDir, "prompt.txt"))
		if err != nil {
			continue
		}
		h.Write(manifest)
		h.Write(prompt)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
