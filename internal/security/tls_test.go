package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateSelfSignedCert(t *testing.T, commonName string) (certFile, keyFile string) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     []string{commonName},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "server.crt")
	keyFile = filepath.Join(dir, "server.key")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o600))

	keyDER, err := x509.MarshalPKCS8PrivateKey(privateKey)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o600))

	return certFile, keyFile
}

func TestVerifyTLSFilesExists(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t, "localhost")
	assert.NoError(t, VerifyTLSFiles(certFile, keyFile))
}

func TestVerifyTLSFilesMissing(t *testing.T) {
	err := VerifyTLSFiles(filepath.Join(t.TempDir(), "missing.crt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TLS file not found")
}

func TestVerifyTLSFilesEmpty(t *testing.T) {
	certFile, _ := generateSelfSignedCert(t, "localhost")
	assert.Error(t, VerifyTLSFiles(certFile, ""))
}

func TestLoadServerTLSConfig(t *testing.T) {
	certFile, keyFile := generateSelfSignedCert(t, "localhost")

	cfg, err := LoadServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}

func TestLoadServerTLSConfigMismatchedPair(t *testing.T) {
	certFile, _ := generateSelfSignedCert(t, "localhost")
	_, otherKey := generateSelfSignedCert(t, "localhost")

	_, err := LoadServerTLSConfig(TLSConfig{CertFile: certFile, KeyFile: otherKey})
	assert.Error(t, err)
}

func TestTLSConfigEnabled(t *testing.T) {
	assert.False(t, TLSConfig{}.Enabled())
	assert.False(t, TLSConfig{CertFile: "a"}.Enabled())
	assert.True(t, TLSConfig{CertFile: "a", KeyFile: "b"}.Enabled())
}
