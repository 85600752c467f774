package certs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	require.NotEmpty(t, cert.Certificate)
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return parsed
}

func TestFileManager_GetOrCreateCertificate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	m := NewFileManager(dir)

	exists, err := m.CertificateExists()
	require.NoError(t, err)
	assert.False(t, exists)

	first, err := m.GetOrCreateCertificate()
	require.NoError(t, err)

	exists, err = m.CertificateExists()
	require.NoError(t, err)
	assert.True(t, exists)

	info, err := os.Stat(filepath.Join(dir, "localhost.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := m.GetOrCreateCertificate()
	require.NoError(t, err)
	assert.Equal(t, leaf(t, first).SerialNumber, leaf(t, second).SerialNumber, "valid certificate is reused")
}

func TestFileManager_RegeneratesInvalid(t *testing.T) {
	t.Run("corrupt files", func(t *testing.T) {
		dir := t.TempDir()
		m := NewFileManager(dir)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "localhost.crt"), []byte("junk"), 0600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "localhost.key"), []byte("junk"), 0600))

		cert, err := m.GetOrCreateCertificate()
		require.NoError(t, err)
		assert.NoError(t, leaf(t, cert).VerifyHostname("localhost"))
	})

	t.Run("expired", func(t *testing.T) {
		dir := t.TempDir()
		m := NewFileManager(dir)
		old, err := m.GetOrCreateCertificate()
		require.NoError(t, err)

		m.now = func() time.Time { return time.Now().Add(2 * validity) }
		fresh, err := m.GetOrCreateCertificate()
		require.NoError(t, err)
		assert.NotEqual(t, leaf(t, old).SerialNumber, leaf(t, fresh).SerialNumber)
	})
}

func TestCertificateProperties(t *testing.T) {
	m := NewFileManager(t.TempDir())
	cert, err := m.GetOrCreateCertificate()
	require.NoError(t, err)

	c := leaf(t, cert)
	assert.NoError(t, c.VerifyHostname("localhost"))
	assert.NoError(t, c.VerifyHostname("127.0.0.1"))
	assert.Contains(t, c.ExtKeyUsage, x509.ExtKeyUsageServerAuth)
	assert.Equal(t, []string{"chargemap"}, c.Subject.Organization)
	assert.WithinDuration(t, time.Now().Add(validity), c.NotAfter, time.Hour)
}

type stubSource struct {
	err error
}

func (s stubSource) GetOrCreateCertificate() (tls.Certificate, error) {
	return tls.Certificate{Certificate: [][]byte{{1}}}, s.err
}

func TestServerTLSConfig(t *testing.T) {
	cfg, err := ServerTLSConfig(stubSource{})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	_, err = ServerTLSConfig(stubSource{err: errors.New("disk gone")})
	assert.ErrorContains(t, err, "disk gone")
}
