package trust

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// Keystore persists operator-accepted certificates as an opaque
// password-protected blob. Implementations must tolerate being asked to
// load a store that was written with a different certificate count; the
// blob is rewritten wholesale on every change.
type Keystore interface {
	// Exists reports whether a persisted store is present.
	Exists() bool

	// Load decrypts the store and returns every certificate in it.
	Load(password string) ([]*x509.Certificate, error)

	// Store encrypts and writes the full certificate set, replacing any
	// previous contents.
	Store(certs []*x509.Certificate, password string) error
}

// FileKeystore stores certificates as an age-encrypted PEM bundle in a
// single file, by default "certificates" in the working directory.
type FileKeystore struct {
	path string
}

// DefaultKeystorePath is where the client keeps its trusted certificates.
const DefaultKeystorePath = "certificates"

// NewFileKeystore creates a keystore backed by the given file path.
func NewFileKeystore(path string) *FileKeystore {
	if path == "" {
		path = DefaultKeystorePath
	}
	return &FileKeystore{path: path}
}

// Exists reports whether the keystore file is present on disk.
func (k *FileKeystore) Exists() bool {
	_, err := os.Stat(k.path)
	return err == nil
}

// Load decrypts the keystore file and parses the PEM bundle inside it.
func (k *FileKeystore) Load(password string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(k.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}

	identity, err := age.NewScryptIdentity(password)
	if err != nil {
		return nil, err
	}
	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore: %w", err)
	}
	pemData, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore: %w", err)
	}

	var certs []*x509.Certificate
	for len(pemData) > 0 {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("keystore contains an invalid certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// Store writes the certificate set as a PEM bundle encrypted with a
// password-derived scrypt recipient. The file is written atomically via a
// temporary file so a crash cannot leave a truncated store behind.
func (k *FileKeystore) Store(certs []*x509.Certificate, password string) error {
	recipient, err := age.NewScryptRecipient(password)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return fmt.Errorf("failed to encrypt keystore: %w", err)
	}
	for _, cert := range certs {
		if err := pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to encrypt keystore: %w", err)
	}

	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	return nil
}
