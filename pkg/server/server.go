package server

import (
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleychat/parley/pkg/transport"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Port is the chat listener port.
	Port int

	// MetricsPort serves Prometheus metrics over HTTP when non-zero.
	MetricsPort int

	// TLSCertFile and TLSKeyFile enable TLS when both are set. The
	// listener then only accepts TLS 1.2 with forward-secret suites.
	TLSCertFile string
	TLSKeyFile  string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Port:        transport.DefaultPort,
		MetricsPort: 0,
	}
}

// Server accepts chat connections and hands each one to the session
// manager, which runs a read loop per connection.
type Server struct {
	config   ServerConfig
	sessions *SessionManager
	metrics  *Metrics

	listener      net.Listener
	metricsServer *http.Server
	shutdown      chan struct{}
	wg            sync.WaitGroup
}

// NewServer creates a server instance.
func NewServer(config ServerConfig) *Server {
	return &Server{
		config:   config,
		sessions: NewSessionManager(),
		shutdown: make(chan struct{}),
	}
}

// Sessions returns the server's session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Start opens the chat listener, plain or TLS depending on the config,
// and the metrics endpoint when one is configured.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	var (
		listener net.Listener
		err      error
	)
	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		listener, err = transport.ListenTLS(addr, cert)
	} else {
		listener, err = transport.Listen(addr)
	}
	if err != nil {
		return err
	}

	s.listener = listener
	log.Printf("chat server listening on %s", listener.Addr())

	if s.config.MetricsPort != 0 {
		s.startMetricsServer()
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// startMetricsServer registers the instruments and serves /metrics.
func (s *Server) startMetricsServer() {
	registry := prometheus.NewRegistry()
	s.metrics = NewMetrics(registry)
	s.sessions.SetMetrics(s.metrics)
	s.metrics.RecordLiveChannels(s.sessions.ChannelCount())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.metricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("metrics listening on %s", s.metricsServer.Addr)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
}

// Addr returns the chat listener address. Useful when the configured
// port is 0 and the kernel picked one.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listeners, waits for the accept loop and disconnects
// every session with a shutdown notice.
func (s *Server) Stop() error {
	close(s.shutdown)

	if s.listener != nil {
		s.listener.Close()
	}
	if s.metricsServer != nil {
		s.metricsServer.Close()
	}

	s.wg.Wait()

	s.sessions.CloseAll("server shutting down")
	return nil
}

// acceptLoop accepts incoming connections until the listener closes.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("accept error: %v", err)
				continue
			}
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		s.sessions.AddUser(transport.NewSession(conn))
	}
}
