package consensus

import (
	"crypto/ed25519"
	"sync"
)

// Ed25519Signer signs outgoing messages with this peer's private key and
// verifies incoming ones against whichever public keys have been registered
// for other peers. Message signing needs a lightweight, per-message
// signature rather than a certificate chain, so this core uses stdlib
// Ed25519 directly instead of the teacher's RSA/x509 certificate authority
// (pkg/security), which is built for TLS peer identity, not for signing
// individual proposal/vote payloads.
type Ed25519Signer struct {
	selfID  string
	priv    ed25519.PrivateKey
	mu      sync.RWMutex
	peerKeys map[string]ed25519.PublicKey
}

// NewEd25519Signer generates a fresh keypair for selfID. The caller is
// responsible for distributing PublicKey() to other peers out of band (or
// via the cluster membership protocol) and registering theirs with
// RegisterPeerKey.
func NewEd25519Signer(selfID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	s := &Ed25519Signer{
		selfID:   selfID,
		priv:     priv,
		peerKeys: make(map[string]ed25519.PublicKey),
	}
	s.peerKeys[selfID] = pub
	return s, nil
}

// PublicKey returns this signer's public key for distribution to peers.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerKeys[s.selfID]
}

// RegisterPeerKey records the public key used to verify signatures from
// peerID.
func (s *Ed25519Signer) RegisterPeerKey(peerID string, pub ed25519.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerKeys[peerID] = pub
}

func (s *Ed25519Signer) Sign(payload []byte) []byte {
	return ed25519.Sign(s.priv, payload)
}

func (s *Ed25519Signer) Verify(peerID string, payload, signature []byte) bool {
	s.mu.RLock()
	pub, ok := s.peerKeys[peerID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return ed25519.Verify(pub, payload, signature)
}
