package certs

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	require.Len(t, cert.Certificate, 1)
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return parsed
}

func TestFileManager_GetOrCreateCertificate(t *testing.T) {
	tests := []struct {
		setup         func(t *testing.T, certDir string)
		check         func(t *testing.T, cert *x509.Certificate)
		name          string
		errorContains string
		opts          []Option
	}{
		{
			name: "creates certificate for loopback hosts",
			check: func(t *testing.T, cert *x509.Certificate) {
				t.Helper()
				assert.Equal(t, []string{"recur"}, cert.Subject.Organization)
				assert.Contains(t, cert.DNSNames, "localhost")
				require.Len(t, cert.IPAddresses, 2)
				assert.NoError(t, cert.VerifyHostname("127.0.0.1"))
				assert.True(t, cert.NotAfter.After(time.Now().Add(364*24*time.Hour)))
			},
		},
		{
			name: "custom hosts",
			opts: []Option{WithHosts("recur.home.arpa", "10.0.0.5")},
			check: func(t *testing.T, cert *x509.Certificate) {
				t.Helper()
				assert.Equal(t, "recur.home.arpa", cert.Subject.CommonName)
				assert.NoError(t, cert.VerifyHostname("10.0.0.5"))
				assert.Error(t, cert.VerifyHostname("localhost"))
			},
		},
		{
			name: "replaces unreadable files",
			setup: func(t *testing.T, certDir string) {
				t.Helper()
				require.NoError(t, os.MkdirAll(certDir, 0o700))
				require.NoError(t, os.WriteFile(filepath.Join(certDir, "recur.crt"), []byte("garbage"), 0o600))
				require.NoError(t, os.WriteFile(filepath.Join(certDir, "recur.key"), []byte("garbage"), 0o600))
			},
			check: func(t *testing.T, cert *x509.Certificate) {
				t.Helper()
				assert.Contains(t, cert.DNSNames, "localhost")
			},
		},
		{
			name: "directory path is a file",
			setup: func(t *testing.T, certDir string) {
				t.Helper()
				require.NoError(t, os.WriteFile(certDir, []byte("not a directory"), 0o600))
			},
			errorContains: "failed to check",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certDir := filepath.Join(t.TempDir(), "certs")
			if tt.setup != nil {
				tt.setup(t, certDir)
			}

			m := NewFileManager(certDir, tt.opts...)
			cert, err := m.GetOrCreateCertificate()
			if tt.errorContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}
			require.NoError(t, err)
			tt.check(t, leaf(t, cert))

			for _, name := range []string{"recur.crt", "recur.key"} {
				info, err := os.Stat(filepath.Join(certDir, name))
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), name)
			}
		})
	}
}

func TestFileManager_ReusesValidCertificate(t *testing.T) {
	certDir := t.TempDir()
	m := NewFileManager(certDir)

	first, err := m.GetOrCreateCertificate()
	require.NoError(t, err)
	second, err := NewFileManager(certDir).GetOrCreateCertificate()
	require.NoError(t, err)

	assert.Equal(t, leaf(t, first).SerialNumber, leaf(t, second).SerialNumber)
	assert.Equal(t, filepath.Join(certDir, "recur.crt"), m.CertFile())
}

func TestFileManager_RenewsNearExpiry(t *testing.T) {
	certDir := t.TempDir()
	first, err := NewFileManager(certDir, WithValidity(3*24*time.Hour)).GetOrCreateCertificate()
	require.NoError(t, err)

	second, err := NewFileManager(certDir).GetOrCreateCertificate()
	require.NoError(t, err)
	assert.NotEqual(t, leaf(t, first).SerialNumber, leaf(t, second).SerialNumber)
	assert.True(t, leaf(t, second).NotAfter.After(time.Now().Add(300*24*time.Hour)))
}

func TestFileManager_RegeneratesForNewHosts(t *testing.T) {
	certDir := t.TempDir()
	_, err := NewFileManager(certDir).GetOrCreateCertificate()
	require.NoError(t, err)

	cert, err := NewFileManager(certDir, WithHosts("recur.local")).GetOrCreateCertificate()
	require.NoError(t, err)
	assert.Equal(t, []string{"recur.local"}, leaf(t, cert).DNSNames)
}

func TestFileManager_CertificateExists(t *testing.T) {
	certDir := t.TempDir()
	m := NewFileManager(certDir)

	exists, err := m.CertificateExists()
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, os.WriteFile(filepath.Join(certDir, "recur.crt"), []byte("x"), 0o600))
	exists, err = m.CertificateExists()
	require.NoError(t, err)
	assert.False(t, exists, "key file still missing")

	_, err = m.GetOrCreateCertificate()
	require.NoError(t, err)
	exists, err = m.CertificateExists()
	require.NoError(t, err)
	assert.True(t, exists)
}
