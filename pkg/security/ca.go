package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/cuemby/aerolithdb/pkg/storage"
)

// caShard and caKey are the fixed KVTier coordinates the CA's own material
// is persisted under — the CA is cluster-global bookkeeping, not a
// per-document record, so it gets a reserved shard rather than one derived
// from a (collection, doc_id) pair.
const caShard = "_security"
const caKey = "ca"

// CertAuthority issues and verifies mTLS certificates for peers and
// administrative clients, rooted at a CA persisted in a storage tier.
// pkg/transport's in-process Bus neither presents nor checks these
// certificates.
type CertAuthority struct {
	rootCert  *x509.Certificate
	rootKey   *rsa.PrivateKey
	store     storage.KVTier
	certCache map[string]*CachedCert
	mu        sync.RWMutex
}

// CachedCert is a previously-issued certificate and its private key, kept
// in memory for lookup via GetCachedCert. Every Issue* call signs a new
// certificate and replaces the cached one for that id.
type CachedCert struct {
	Cert      *x509.Certificate
	Key       *rsa.PrivateKey
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// caData is the serialized CA material persisted to store.
type caData struct {
	RootCertDER []byte
	RootKeyDER  []byte
}

const (
	// Root CA validity: 10 years.
	rootCAValidity = 10 * 365 * 24 * time.Hour
	// Peer certificate validity: 90 days.
	peerCertValidity = 90 * 24 * time.Hour
	// Root CA key size: 4096 bits (long-lived, high security).
	rootKeySize = 4096
	// Peer key size: 2048 bits (shorter-lived, faster).
	peerKeySize = 2048
)

// NewCertAuthority constructs a CA that persists its root material through
// store (typically the Warm tier's KVTier, under a reserved shard).
func NewCertAuthority(store storage.KVTier) *CertAuthority {
	return &CertAuthority{
		store:     store,
		certCache: make(map[string]*CachedCert),
	}
}

// Initialize generates a fresh root CA certificate and key.
func (ca *CertAuthority) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("generate root key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"AerolithDB Cluster"},
			CommonName:   "AerolithDB Root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("create root certificate: %w", err)
	}
	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// LoadFromStore loads previously-persisted CA material from store.
func (ca *CertAuthority) LoadFromStore() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	raw, found, err := ca.store.Get(caShard, caKey)
	if err != nil {
		return fmt.Errorf("get CA from store: %w", err)
	}
	if !found {
		return fmt.Errorf("no CA material persisted yet")
	}

	var data caData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("unmarshal CA data: %w", err)
	}

	decryptedKey, err := Decrypt(data.RootKeyDER)
	if err != nil {
		return fmt.Errorf("decrypt root key: %w", err)
	}

	rootCert, err := x509.ParseCertificate(data.RootCertDER)
	if err != nil {
		return fmt.Errorf("parse root certificate: %w", err)
	}
	rootKey, err := x509.ParsePKCS1PrivateKey(decryptedKey)
	if err != nil {
		return fmt.Errorf("parse root key: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// SaveToStore persists the CA's root material.
func (ca *CertAuthority) SaveToStore() error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return fmt.Errorf("CA not initialized")
	}

	rootKeyDER := x509.MarshalPKCS1PrivateKey(ca.rootKey)
	encryptedKey, err := Encrypt(rootKeyDER)
	if err != nil {
		return fmt.Errorf("encrypt root key: %w", err)
	}

	data := caData{
		RootCertDER: ca.rootCert.Raw,
		RootKeyDER:  encryptedKey,
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal CA data: %w", err)
	}

	if err := ca.store.Put(caShard, caKey, raw); err != nil {
		return fmt.Errorf("save CA to store: %w", err)
	}
	return nil
}

// IssuePeerCertificate issues an mTLS certificate for peerID's gRPC
// transport endpoint, valid as both client and server (every peer dials
// and is dialed by every other peer).
func (ca *CertAuthority) IssuePeerCertificate(peerID string, dnsNames []string, ipAddresses []net.IP) (*tls.Certificate, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("CA not initialized")
	}

	peerKey, err := rsa.GenerateKey(rand.Reader, peerKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate peer key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"AerolithDB Cluster"},
			CommonName:   fmt.Sprintf("peer-%s", peerID),
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(peerCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:    dnsNames,
		IPAddresses: ipAddresses,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &peerKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("create peer certificate: %w", err)
	}
	peerCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse peer certificate: %w", err)
	}

	tlsCert := &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  peerKey,
		Leaf:        peerCert,
	}
	ca.cacheCertificate(peerID, peerCert, peerKey)
	return tlsCert, nil
}

// IssueClientCertificate issues a certificate for an administrative client
// (e.g. the out-of-scope CLI/gateway layer) that only needs to authenticate
// outbound to a peer, never accept inbound connections.
func (ca *CertAuthority) IssueClientCertificate(clientID string) (*tls.Certificate, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("CA not initialized")
	}

	clientKey, err := rsa.GenerateKey(rand.Reader, peerKeySize)
	if err != nil {
		return nil, fmt.Errorf("generate client key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"AerolithDB Cluster"},
			CommonName:   fmt.Sprintf("client-%s", clientID),
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(peerCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &clientKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("create client certificate: %w", err)
	}
	clientCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parse client certificate: %w", err)
	}

	tlsCert := &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  clientKey,
		Leaf:        clientCert,
	}
	ca.cacheCertificate(clientID, clientCert, clientKey)
	return tlsCert, nil
}

// VerifyCertificate verifies cert chains to this CA's root. No transport in
// this module calls it.
func (ca *CertAuthority) VerifyCertificate(cert *x509.Certificate) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return fmt.Errorf("CA not initialized")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca.rootCert)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

// GetRootCACert returns the root CA certificate in DER format, distributed
// to peers so they can populate their trust pool.
func (ca *CertAuthority) GetRootCACert() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.rootCert == nil {
		return nil
	}
	return ca.rootCert.Raw
}

// IsInitialized reports whether the CA has root material loaded.
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert != nil && ca.rootKey != nil
}

func (ca *CertAuthority) cacheCertificate(id string, cert *x509.Certificate, key *rsa.PrivateKey) {
	ca.certCache[id] = &CachedCert{
		Cert:      cert,
		Key:       key,
		IssuedAt:  cert.NotBefore,
		ExpiresAt: cert.NotAfter,
	}
}

// GetCachedCert retrieves a previously-issued certificate by id.
func (ca *CertAuthority) GetCachedCert(id string) (*CachedCert, bool) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	cert, exists := ca.certCache[id]
	return cert, exists
}
