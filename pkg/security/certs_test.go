package security

import (
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveLoadCertToFile(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("initialize CA: %v", err)
	}

	tmpCertDir, err := os.MkdirTemp("", "aerolithdb-cert-test-*")
	if err != nil {
		t.Fatalf("create temp cert dir: %v", err)
	}
	defer os.RemoveAll(tmpCertDir)

	cert, err := ca.IssuePeerCertificate("test-peer", []string{}, []net.IP{})
	if err != nil {
		t.Fatalf("issue certificate: %v", err)
	}

	if err := SaveCertToFile(cert, tmpCertDir); err != nil {
		t.Fatalf("save certificate: %v", err)
	}

	certPath := filepath.Join(tmpCertDir, "peer.crt")
	keyPath := filepath.Join(tmpCertDir, "peer.key")
	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		t.Error("certificate file should exist")
	}
	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		t.Error("key file should exist")
	}

	loadedCert, err := LoadCertFromFile(tmpCertDir)
	if err != nil {
		t.Fatalf("load certificate: %v", err)
	}
	if loadedCert.Leaf.Subject.CommonName != cert.Leaf.Subject.CommonName {
		t.Errorf("loaded cert CN mismatch: expected %s, got %s",
			cert.Leaf.Subject.CommonName, loadedCert.Leaf.Subject.CommonName)
	}
}

func TestSaveLoadCACertToFile(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("initialize CA: %v", err)
	}

	tmpCertDir, err := os.MkdirTemp("", "aerolithdb-cert-test-*")
	if err != nil {
		t.Fatalf("create temp cert dir: %v", err)
	}
	defer os.RemoveAll(tmpCertDir)

	caCertDER := ca.GetRootCACert()
	if err := SaveCACertToFile(caCertDER, tmpCertDir); err != nil {
		t.Fatalf("save CA certificate: %v", err)
	}

	caPath := filepath.Join(tmpCertDir, "ca.crt")
	if _, err := os.Stat(caPath); os.IsNotExist(err) {
		t.Error("CA certificate file should exist")
	}

	loadedCACert, err := LoadCACertFromFile(tmpCertDir)
	if err != nil {
		t.Fatalf("load CA certificate: %v", err)
	}
	if !loadedCACert.Equal(ca.rootCert) {
		t.Error("loaded CA cert should match original")
	}
}

func TestCertExists(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "aerolithdb-cert-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	if CertExists(tmpDir) {
		t.Error("certificate should not exist initially")
	}

	certPath := filepath.Join(tmpDir, "peer.crt")
	keyPath := filepath.Join(tmpDir, "peer.key")
	caPath := filepath.Join(tmpDir, "ca.crt")

	_ = os.WriteFile(certPath, []byte("cert"), 0600)
	_ = os.WriteFile(keyPath, []byte("key"), 0600)
	_ = os.WriteFile(caPath, []byte("ca"), 0600)

	if !CertExists(tmpDir) {
		t.Error("certificate should exist after creating files")
	}

	os.Remove(keyPath)
	if CertExists(tmpDir) {
		t.Error("certificate should not exist with missing key file")
	}
}

func TestCertNeedsRotation(t *testing.T) {
	tests := []struct {
		name     string
		notAfter time.Time
		needsRot bool
	}{
		{"expiring in 1 day", time.Now().Add(24 * time.Hour), true},
		{"expiring in 29 days", time.Now().Add(29 * 24 * time.Hour), true},
		{"expiring in 31 days", time.Now().Add(31 * 24 * time.Hour), false},
		{"expiring in 60 days", time.Now().Add(60 * 24 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cert := &x509.Certificate{NotAfter: tt.notAfter}
			if got := CertNeedsRotation(cert); got != tt.needsRot {
				t.Errorf("expected needsRotation=%v, got %v", tt.needsRot, got)
			}
		})
	}

	if !CertNeedsRotation(nil) {
		t.Error("nil certificate should need rotation")
	}
}

func TestGetCertExpiry(t *testing.T) {
	expectedExpiry := time.Now().Add(90 * 24 * time.Hour)
	cert := &x509.Certificate{NotAfter: expectedExpiry}

	if expiry := GetCertExpiry(cert); !expiry.Equal(expectedExpiry) {
		t.Errorf("expected expiry %v, got %v", expectedExpiry, expiry)
	}
	if nilExpiry := GetCertExpiry(nil); !nilExpiry.IsZero() {
		t.Error("nil certificate should return zero time")
	}
}

func TestGetCertTimeRemaining(t *testing.T) {
	expectedRemaining := 45 * 24 * time.Hour
	cert := &x509.Certificate{NotAfter: time.Now().Add(expectedRemaining)}

	remaining := GetCertTimeRemaining(cert)
	diff := remaining - expectedRemaining
	if diff < -time.Second || diff > time.Second {
		t.Errorf("expected remaining ~%v, got %v (diff: %v)", expectedRemaining, remaining, diff)
	}
	if nilRemaining := GetCertTimeRemaining(nil); nilRemaining != 0 {
		t.Error("nil certificate should return zero duration")
	}
}

func TestValidateCertChain(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("initialize CA: %v", err)
	}

	cert, err := ca.IssuePeerCertificate("test-peer", []string{}, []net.IP{})
	if err != nil {
		t.Fatalf("issue certificate: %v", err)
	}

	if err := ValidateCertChain(cert.Leaf, ca.rootCert); err != nil {
		t.Errorf("certificate chain validation failed: %v", err)
	}
	if err := ValidateCertChain(nil, ca.rootCert); err == nil {
		t.Error("validation should fail with nil certificate")
	}
	if err := ValidateCertChain(cert.Leaf, nil); err == nil {
		t.Error("validation should fail with nil CA")
	}
}

func TestGetCertInfo(t *testing.T) {
	ca := newTestCA(t)
	if err := ca.Initialize(); err != nil {
		t.Fatalf("initialize CA: %v", err)
	}

	cert, err := ca.IssuePeerCertificate("test-peer", []string{}, []net.IP{})
	if err != nil {
		t.Fatalf("issue certificate: %v", err)
	}

	info := GetCertInfo(cert.Leaf)
	if info["subject"] != "peer-test-peer" {
		t.Errorf("expected subject 'peer-test-peer', got %v", info["subject"])
	}
	if info["issuer"] != "AerolithDB Root CA" {
		t.Errorf("expected issuer 'AerolithDB Root CA', got %v", info["issuer"])
	}
	if info["is_ca"] != false {
		t.Error("peer certificate should not be a CA")
	}

	nilInfo := GetCertInfo(nil)
	if _, hasError := nilInfo["error"]; !hasError {
		t.Error("info for nil certificate should contain error")
	}
}

func TestGetCertDir(t *testing.T) {
	tests := []struct {
		peerType string
		peerID   string
	}{
		{"coordinator", "peer1"},
		{"replica", "peer2"},
	}

	baseDir := "/var/lib/aerolithdb/peer1"
	for _, tt := range tests {
		t.Run(tt.peerType+"-"+tt.peerID, func(t *testing.T) {
			certDir := GetCertDir(baseDir, tt.peerType, tt.peerID)
			expected := tt.peerType + "-" + tt.peerID
			if filepath.Base(certDir) != expected {
				t.Errorf("expected cert dir to end with %s, got %s", expected, certDir)
			}
			if !strings.HasPrefix(certDir, baseDir) {
				t.Errorf("expected cert dir %s to be rooted at data dir %s, not the home directory", certDir, baseDir)
			}
		})
	}
}

func TestGetCLICertDir(t *testing.T) {
	baseDir := "/var/lib/aerolithdb/peer1"
	certDir := GetCLICertDir(baseDir)
	if filepath.Base(certDir) != "cli" {
		t.Errorf("expected cert dir to end with 'cli', got %s", filepath.Base(certDir))
	}
	if !strings.HasPrefix(certDir, baseDir) {
		t.Errorf("expected cert dir %s to be rooted at data dir %s, not the home directory", certDir, baseDir)
	}
}

func TestRemoveCerts(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "aerolithdb-cert-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	_ = os.WriteFile(filepath.Join(tmpDir, "peer.crt"), []byte("cert"), 0600)
	_ = os.WriteFile(filepath.Join(tmpDir, "peer.key"), []byte("key"), 0600)

	if err := RemoveCerts(tmpDir); err != nil {
		t.Fatalf("remove certificates: %v", err)
	}
	if _, err := os.Stat(tmpDir); !os.IsNotExist(err) {
		t.Error("certificate directory should not exist after removal")
	}
}
