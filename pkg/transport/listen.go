package transport

import (
	"crypto/tls"
	"fmt"
	"net"
)

// Listen opens a plain TCP listener.
func Listen(addr string) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return listener, nil
}

// ListenTLS opens a TLS listener with the same protocol and cipher
// restrictions the client dials with. Clients are not asked for
// certificates.
func ListenTLS(addr string, cert tls.Certificate) (net.Listener, error) {
	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS12,
		CipherSuites: cipherSuites,
	}

	listener, err := tls.Listen("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return listener, nil
}
