package trust

import (
	"crypto/x509"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeystoreRoundTrip(t *testing.T) {
	first := testCert(t, "first")
	second := testCert(t, "second")
	path := filepath.Join(t.TempDir(), "certificates")
	keystore := NewFileKeystore(path)

	assert.False(t, keystore.Exists())

	require.NoError(t, keystore.Store([]*x509.Certificate{first, second}, "hunter2"))
	assert.True(t, keystore.Exists())

	certs, err := keystore.Load("hunter2")
	require.NoError(t, err)
	require.Len(t, certs, 2)
	assert.True(t, certs[0].Equal(first))
	assert.True(t, certs[1].Equal(second))
}

func TestFileKeystoreWrongPassword(t *testing.T) {
	cert := testCert(t, "first")
	path := filepath.Join(t.TempDir(), "certificates")
	keystore := NewFileKeystore(path)
	require.NoError(t, keystore.Store([]*x509.Certificate{cert}, "correct"))

	_, err := keystore.Load("wrong")
	assert.Error(t, err)
}

func TestFileKeystoreRewrite(t *testing.T) {
	first := testCert(t, "first")
	second := testCert(t, "second")
	path := filepath.Join(t.TempDir(), "certificates")
	keystore := NewFileKeystore(path)

	require.NoError(t, keystore.Store([]*x509.Certificate{first}, "pw"))
	require.NoError(t, keystore.Store([]*x509.Certificate{first, second}, "pw"))

	certs, err := keystore.Load("pw")
	require.NoError(t, err)
	assert.Len(t, certs, 2)
}

func TestFileKeystoreMissingFile(t *testing.T) {
	keystore := NewFileKeystore(filepath.Join(t.TempDir(), "nope"))
	_, err := keystore.Load("pw")
	assert.Error(t, err)
}
