package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEd25519SignerSignAndVerify(t *testing.T) {
	s, err := NewEd25519Signer("peerA")
	require.NoError(t, err)

	payload := []byte("propose insert u1")
	sig := s.Sign(payload)

	assert.True(t, s.Verify("peerA", payload, sig))
}

func TestEd25519SignerRejectsTamperedPayload(t *testing.T) {
	s, err := NewEd25519Signer("peerA")
	require.NoError(t, err)

	sig := s.Sign([]byte("original"))
	assert.False(t, s.Verify("peerA", []byte("tampered"), sig))
}

func TestEd25519SignerVerifiesOtherPeers(t *testing.T) {
	a, err := NewEd25519Signer("peerA")
	require.NoError(t, err)
	b, err := NewEd25519Signer("peerB")
	require.NoError(t, err)

	a.RegisterPeerKey("peerB", b.PublicKey())

	payload := []byte("vote accept")
	sig := b.Sign(payload)
	assert.True(t, a.Verify("peerB", payload, sig))
}

func TestEd25519SignerUnknownPeerFailsVerification(t *testing.T) {
	a, err := NewEd25519Signer("peerA")
	require.NoError(t, err)
	assert.False(t, a.Verify("stranger", []byte("x"), []byte("y")))
}
