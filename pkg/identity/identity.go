// Package identity implements Node Identity (C1): a stable node id and a
// long-lived Ed25519 signing keypair used to attest handshake challenges.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	nodeIDFile  = "node_id"
	privKeyFile = "signing.key"
	pubKeyFile  = "signing.pub"
)

// Identity is a node's persisted cryptographic identity. The signing key
// never leaves the process; only sign() and PublicKey() are exposed.
//
// No ecosystem signing library appears anywhere in the retrieved example
// pack, so this is the one component grounded directly on the standard
// library (crypto/ed25519) rather than a third-party dependency — see
// DESIGN.md.
type Identity struct {
	nodeID  string
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	path    string
	created bool
}

// Load reads an existing identity from path, or generates and persists a
// new one if none exists. Identity is created once at install time and
// persisted thereafter.
func Load(path string) (*Identity, error) {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("create identity directory: %w", err)
	}

	idPath := filepath.Join(path, nodeIDFile)
	privPath := filepath.Join(path, privKeyFile)

	idBytes, errID := os.ReadFile(idPath)
	privBytes, errPriv := os.ReadFile(privPath)

	if errID == nil && errPriv == nil {
		if len(privBytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("identity: corrupt signing key at %s", privPath)
		}
		priv := ed25519.PrivateKey(privBytes)
		id := &Identity{
			nodeID: string(idBytes),
			priv:   priv,
			pub:    priv.Public().(ed25519.PublicKey),
			path:   path,
		}
		slog.Info("loaded existing node identity", "node_id", id.nodeID)
		return id, nil
	}

	if !os.IsNotExist(errID) && errID != nil {
		return nil, fmt.Errorf("identity: read node id: %w", errID)
	}
	if !os.IsNotExist(errPriv) && errPriv != nil {
		return nil, fmt.Errorf("identity: read signing key: %w", errPriv)
	}

	return generate(path)
}

func generate(path string) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing keypair: %w", err)
	}
	nodeID := uuid.NewString()

	if err := os.WriteFile(filepath.Join(path, nodeIDFile), []byte(nodeID), 0o600); err != nil {
		return nil, fmt.Errorf("identity: persist node id: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, privKeyFile), priv, 0o600); err != nil {
		return nil, fmt.Errorf("identity: persist signing key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, pubKeyFile), pub, 0o644); err != nil {
		return nil, fmt.Errorf("identity: persist public key: %w", err)
	}

	slog.Info("generated new node identity", "node_id", nodeID)
	return &Identity{nodeID: nodeID, priv: priv, pub: pub, path: path, created: true}, nil
}

// NodeID returns the stable node identifier.
func (id *Identity) NodeID() string { return id.nodeID }

// PublicKey returns the node's Ed25519 public key.
func (id *Identity) PublicKey() ed25519.PublicKey { return id.pub }

// PublicKeyHex returns the hex-encoded public key, the wire form used in
// ChallengeResponse messages.
func (id *Identity) PublicKeyHex() string { return hex.EncodeToString(id.pub) }

// Sign signs a nonce with the node's private key.
func (id *Identity) Sign(nonce []byte) []byte {
	return ed25519.Sign(id.priv, nonce)
}

// Verify checks a signature over a nonce against a hex-encoded public key,
// used by the Handshake Service to validate a peer's ChallengeResponse.
func Verify(publicKeyHex string, nonce, signature []byte) bool {
	pubBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), nonce, signature)
}
