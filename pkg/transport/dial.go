package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"

	"github.com/parleychat/parley/pkg/trust"
)

// DefaultPort is the port the chat protocol listens on.
const DefaultPort = 7777

// cipherSuites is the fixed TLS 1.2 suite list: forward-secret key
// exchange with AEAD or CBC-SHA2 record protection, nothing older.
var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
}

// Dial opens a plain TCP session.
func Dial(addr string) (*Session, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}
	return NewSession(conn), nil
}

// DialTLS opens a TLS 1.2 session. Chain verification is delegated to the
// trust store (which may consult the operator on first use), and the
// negotiated peer certificate is checked against the dialed host name
// before the session is handed to the caller.
func DialTLS(addr string, store *trust.Store) (*Session, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		addr = net.JoinHostPort(addr, fmt.Sprintf("%d", DefaultPort))
	}

	config := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
		CipherSuites: cipherSuites,
		// Platform verification is replaced wholesale by the trust
		// store's TOFU decision; hostname checking happens below.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			chain := make([]*x509.Certificate, 0, len(rawCerts))
			for _, raw := range rawCerts {
				cert, err := x509.ParseCertificate(raw)
				if err != nil {
					return fmt.Errorf("failed to parse peer certificate: %w", err)
				}
				chain = append(chain, cert)
			}
			return store.VerifyChain(chain)
		},
	}

	conn, err := tls.Dial("tcp", addr, config)
	if err != nil {
		return nil, err
	}

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		conn.Close()
		return nil, trust.ErrEmptyChain
	}
	if err := trust.VerifyHostname(host, peerCerts[0]); err != nil {
		conn.Close()
		return nil, err
	}

	return NewSession(conn), nil
}
