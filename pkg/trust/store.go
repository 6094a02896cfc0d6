// Package trust implements trust-on-first-use certificate verification for
// client connections. Certificates that fail normal chain verification are
// presented to the operator by SHA-256 fingerprint; an accepted certificate
// is remembered in a password-protected store across restarts.
package trust

import (
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	// ErrCertificateRejected is returned when the operator declines to
	// trust an unknown certificate. The connection attempt must be
	// aborted before any application data is exchanged.
	ErrCertificateRejected = errors.New("certificate rejected")

	// ErrEmptyChain is returned when the peer presented no certificates.
	ErrEmptyChain = errors.New("peer presented an empty certificate chain")
)

// Prompter asks the operator whether to trust an unknown certificate. It
// is an injected capability so the trust decision logic stays testable
// without a display.
type Prompter interface {
	// ConfirmCertificate presents the colon-separated SHA-256
	// fingerprint of the unknown certificate and returns true if the
	// operator accepts it.
	ConfirmCertificate(fingerprint string) bool
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(fingerprint string) bool

// ConfirmCertificate calls f.
func (f PrompterFunc) ConfirmCertificate(fingerprint string) bool { return f(fingerprint) }

// PasswordFunc supplies the keystore password. It is called at most once
// to load an existing store and at most once to establish a password for
// a store that does not exist yet.
type PasswordFunc func() (string, error)

// Store holds the set of accepted issuers: the platform's root
// certificates plus every certificate the operator has explicitly trusted.
type Store struct {
	roots    *x509.CertPool
	keystore Keystore
	prompter Prompter
	askPass  PasswordFunc

	mu       sync.Mutex
	accepted []*x509.Certificate
	password string
	havePass bool
}

// NewStore creates a trust store seeded from the system root pool and, if
// the keystore already exists, from the certificates persisted in it. The
// password function is invoked immediately when there is an existing
// keystore to unlock.
func NewStore(keystore Keystore, prompter Prompter, askPass PasswordFunc) (*Store, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		// No platform roots available; TOFU decisions still work.
		roots = x509.NewCertPool()
	}

	s := &Store{
		roots:    roots,
		keystore: keystore,
		prompter: prompter,
		askPass:  askPass,
	}

	if keystore != nil && keystore.Exists() {
		if askPass == nil {
			return nil, errors.New("keystore exists but no password source configured")
		}
		password, err := askPass()
		if err != nil {
			return nil, fmt.Errorf("failed to read keystore password: %w", err)
		}
		certs, err := keystore.Load(password)
		if err != nil {
			return nil, fmt.Errorf("failed to load keystore: %w", err)
		}
		s.accepted = certs
		s.password = password
		s.havePass = true
	}

	return s, nil
}

// VerifyChain verifies the leaf-most certificate of the peer's chain.
// A chain that validates against the system roots, or a leaf previously
// accepted by the operator (or signed by an accepted certificate),
// succeeds silently. Anything else triggers the one-time operator prompt:
// reject fails with ErrCertificateRejected, accept adds the leaf to the
// in-memory set, persists it, and succeeds.
func (s *Store) VerifyChain(chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return ErrEmptyChain
	}
	leaf := chain[0]

	opts := x509.VerifyOptions{
		Roots:         s.roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range chain[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if _, err := leaf.Verify(opts); err == nil {
		return nil
	}

	s.mu.Lock()
	for _, cert := range s.accepted {
		if cert.Equal(leaf) || leaf.CheckSignatureFrom(cert) == nil {
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()

	if s.prompter == nil || !s.prompter.ConfirmCertificate(Fingerprint(leaf)) {
		return ErrCertificateRejected
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = append(s.accepted, leaf)
	if s.keystore == nil {
		return nil
	}
	if !s.havePass {
		if s.askPass == nil {
			return errors.New("no password source configured for new keystore")
		}
		password, err := s.askPass()
		if err != nil {
			return fmt.Errorf("failed to read keystore password: %w", err)
		}
		s.password = password
		s.havePass = true
	}
	if err := s.keystore.Store(s.accepted, s.password); err != nil {
		return fmt.Errorf("failed to persist trusted certificate: %w", err)
	}
	return nil
}

// AcceptedCount returns the number of operator-accepted certificates.
func (s *Store) AcceptedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accepted)
}

// Fingerprint returns the SHA-256 digest of the certificate as an
// uppercase colon-separated hex string for out-of-band verification.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}
