/*
Package security provides AerolithDB's two cryptographic concerns: a
Certificate Authority for peer mTLS material, and an AES-256-GCM
SecretsManager for encryption-at-rest.

These two concerns are independent and are wired into pkg/coordinator
separately:

  - CertAuthority roots a peer's certificate in a cluster-wide key derived
    from Config.ClusterID (see coordinator.New). Each peer persists its CA
    state (root cert/key and issued-certificate cache) to its own BoltTier
    under <data_dir>/security, loads it on restart via LoadFromStore, and
    falls back to Initialize + SaveToStore on first boot. coordinator.New
    then issues this peer its own certificate with IssuePeerCertificate.
    This material has no consumer yet on the wire: pkg/transport's Bus is
    an in-process registry, not a socket, so nothing currently terminates
    TLS with these certificates. They are issued and persisted ahead of a
    real network transport that will present them, not exercised by one
    today (see pkg/transport's own doc comment for the planned swap-in).

  - SecretsManager, constructed from NewSecretsManagerFromPassword(ClusterID)
    when Config.EncryptionAtRest is set, encrypts a document's payload in
    Coordinator.applyWrite immediately before storage.Engine.Put and
    decrypts it immediately after storage.Engine.Get (pkg/coordinator/
    documents.go), so ciphertext is what every storage tier and the codec
    actually see - conflict resolution in applyWrite still operates on the
    decrypted plaintext, since siblings must be compared/merged before
    encryption, not after.

# Certificate Authority

NewCertAuthority wraps a storage.KVTier (any tier implementation; the
coordinator gives it a dedicated BoltTier) and issues:

  - A self-signed RSA-4096 root certificate (Initialize), 10-year validity,
    KeyUsage CertSign|CRLSign.
  - Per-peer RSA-2048 leaf certificates (IssuePeerCertificate), 90-day
    validity, ExtKeyUsage ServerAuth|ClientAuth, subject CN=peer-{peerID}.
  - Per-client RSA-2048 leaf certificates (IssueClientCertificate), subject
    CN=client-{clientID}, for administrative tooling above the coordinator.

The root private key is stored encrypted under the package-level cluster
encryption key (SetClusterEncryptionKey, set once per process from
DeriveKeyFromClusterID(ClusterID)); the root certificate itself is stored
in the clear, since it is public material. Issued certificates are cached
in memory (GetCachedCert) to avoid re-signing on every lookup.

VerifyCertificate checks a presented certificate against the root,
expiry, and key usage - the building block a real transport would call
from its TLS verification callback.

# Secrets Encryption

SecretsManager encrypts arbitrary byte payloads with AES-256-GCM: a random
12-byte nonce is generated per call, prepended to the ciphertext+tag, and
the combined bytes are what callers store. DecryptSecret reverses this and
fails closed (wrong key, truncated input, or a tampered tag all return an
error, never a garbage plaintext). NewSecretsManagerFromPassword derives
the 32-byte key via DeriveKeyFromClusterID (SHA-256 of the cluster id), so
every peer sharing the same ClusterID decrypts every other peer's
encrypted documents without a separate key-exchange step.

# What this package does not cover

No key rotation, no revocation list, no certificate renewal loop - a peer
issues its own certificate once at startup and the CA's cache holds it for
the process lifetime. These are left to whatever deploys a real peer
transport on top of pkg/transport's Bus seam; this package only prepares
the cryptographic material a production deployment would need.
*/
package security
