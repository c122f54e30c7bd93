// Package handshake implements the Handshake Service (C5): four-step
// challenge-response attestation of peer identity, software version, and
// manifest hash.
package handshake

import "time"

// Status is a peer's position in the handshake state machine:
// Unknown → Pending (challenge issued) → {Verified | Rejected}.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// Peer is a remote node's handshake state, owned exclusively by the
// Handshake Service.
type Peer struct {
	NodeID          string
	RemoteAddress   string
	SoftwareVersion string
	ManifestHash    string
	Status          Status
	LastSeen        time.Time
}

// Rejection reason codes, matching the closed set spec.md §4.5 and
// original_source's UnauthorizedNodeDetected.reason enumerate.
const (
	ReasonSignatureInvalid    = "signature_invalid"
	ReasonNonceExpired        = "nonce_expired"
	ReasonNonceMismatch       = "nonce_mismatch"
	ReasonManifestMismatch    = "manifest_mismatch"
	ReasonSoftwareIncompatible = "software_incompatible"
)
