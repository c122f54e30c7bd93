package handshake

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/pkg/bus"
	"github.com/codeready-toolchain/tarsy/pkg/identity"
	"github.com/codeready-toolchain/tarsy/pkg/meshrpc"
	"github.com/codeready-toolchain/tarsy/pkg/quarantine"
	"github.com/codeready-toolchain/tarsy/pkg/vectorstore"
)

func newTestService(t *testing.T, opts Options) (*Service, *identity.Identity) {
	t.Helper()
	id, err := identity.Load(t.TempDir())
	require.NoError(t, err)
	reg := quarantine.New(vectorstore.NewMemStore(), false)
	b := bus.New()
	if opts.NonceTTL == 0 {
		opts.NonceTTL = 30 * time.Second
	}
	return New(id, reg, b, opts), id
}

func TestHandshake_FullRoundTripVerifies(t *testing.T) {
	svc, remoteID := newTestService(t, Options{})

	challenge, err := svc.InitiateHandshake(context.Background(), &meshrpc.HandshakeRequest{
		NodeID:          remoteID.NodeID(),
		SoftwareVersion: "1.0.0",
		ManifestHash:    "abc123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, challenge.Nonce)

	nonceBytes, err := hex.DecodeString(challenge.Nonce)
	require.NoError(t, err)
	sig := remoteID.Sign(nonceBytes)

	resp, err := svc.RespondToChallenge(context.Background(), &meshrpc.ChallengeResponse{
		NodeID:    remoteID.NodeID(),
		Nonce:     challenge.Nonce,
		Signature: hex.EncodeToString(sig),
		PublicKey: remoteID.PublicKeyHex(),
	})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.True(t, svc.IsVerified(remoteID.NodeID()))
}

func TestHandshake_BadSignatureQuarantinesPeer(t *testing.T) {
	svc, remoteID := newTestService(t, Options{})
	other, _ := identity.Load(t.TempDir())

	challenge, err := svc.InitiateHandshake(context.Background(), &meshrpc.HandshakeRequest{NodeID: remoteID.NodeID()})
	require.NoError(t, err)

	nonceBytes, _ := hex.DecodeString(challenge.Nonce)
	wrongSig := other.Sign(nonceBytes)

	resp, err := svc.RespondToChallenge(context.Background(), &meshrpc.ChallengeResponse{
		NodeID:    remoteID.NodeID(),
		Nonce:     challenge.Nonce,
		Signature: hex.EncodeToString(wrongSig),
		PublicKey: remoteID.PublicKeyHex(),
	})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, ReasonSignatureInvalid, resp.Reason)
	assert.False(t, svc.IsVerified(remoteID.NodeID()))
	assert.True(t, svc.quar.IsQuarantined(remoteID.NodeID(), "", ""))
}

func TestHandshake_ExpiredNonceRejected(t *testing.T) {
	svc, remoteID := newTestService(t, Options{NonceTTL: 1 * time.Millisecond})

	challenge, err := svc.InitiateHandshake(context.Background(), &meshrpc.HandshakeRequest{NodeID: remoteID.NodeID()})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	nonceBytes, _ := hex.DecodeString(challenge.Nonce)
	sig := remoteID.Sign(nonceBytes)

	resp, err := svc.RespondToChallenge(context.Background(), &meshrpc.ChallengeResponse{
		NodeID:    remoteID.NodeID(),
		Nonce:     challenge.Nonce,
		Signature: hex.EncodeToString(sig),
		PublicKey: remoteID.PublicKeyHex(),
	})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, ReasonNonceExpired, resp.Reason)
}

func TestHandshake_QuarantinedPeerNeverIssuedChallenge(t *testing.T) {
	svc, remoteID := newTestService(t, Options{})
	svc.quar.Quarantine(context.Background(), quarantine.Entry{NodeID: remoteID.NodeID(), Reason: "prior offense"})

	_, err := svc.InitiateHandshake(context.Background(), &meshrpc.HandshakeRequest{NodeID: remoteID.NodeID()})
	require.Error(t, err)
}

func TestHandshake_ManifestMismatchRejectedWhenAlignmentRequired(t *testing.T) {
	svc, remoteID := newTestService(t, Options{RequireManifestAlignment: true, LocalManifestHash: "local-hash"})

	challenge, err := svc.InitiateHandshake(context.Background(), &meshrpc.HandshakeRequest{
		NodeID:       remoteID.NodeID(),
		ManifestHash: "different-hash",
	})
	require.NoError(t, err)

	nonceBytes, _ := hex.DecodeString(challenge.Nonce)
	sig := remoteID.Sign(nonceBytes)

	resp, err := svc.RespondToChallenge(context.Background(), &meshrpc.ChallengeResponse{
		NodeID:    remoteID.NodeID(),
		Nonce:     challenge.Nonce,
		Signature: hex.EncodeToString(sig),
		PublicKey: remoteID.PublicKeyHex(),
	})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, ReasonManifestMismatch, resp.Reason)
}

func TestHandshake_IncompatibleSoftwareVersionRejectedAndQuarantined(t *testing.T) {
	svc, remoteID := newTestService(t, Options{CompatibleSoftwareVersions: []string{"blueflame/abcdef01"}})

	challenge, err := svc.InitiateHandshake(context.Background(), &meshrpc.HandshakeRequest{
		NodeID:          remoteID.NodeID(),
		SoftwareVersion: "blueflame/deadbeef",
	})
	require.NoError(t, err)

	nonceBytes, _ := hex.DecodeString(challenge.Nonce)
	sig := remoteID.Sign(nonceBytes)

	resp, err := svc.RespondToChallenge(context.Background(), &meshrpc.ChallengeResponse{
		NodeID:    remoteID.NodeID(),
		Nonce:     challenge.Nonce,
		Signature: hex.EncodeToString(sig),
		PublicKey: remoteID.PublicKeyHex(),
	})
	require.NoError(t, err)
	assert.False(t, resp.Accepted)
	assert.Equal(t, ReasonSoftwareIncompatible, resp.Reason)
	assert.False(t, svc.IsVerified(remoteID.NodeID()))
	assert.True(t, svc.quar.IsQuarantined(remoteID.NodeID(), "", ""))
}
