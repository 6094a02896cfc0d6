package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/parleychat/parley/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "~/.parley/config.toml", "Path to config file")
	port := flag.Int("port", 0, "TCP port to listen on (overrides config)")
	metricsPort := flag.Int("metrics-port", 0, "Prometheus metrics port (overrides config)")
	tlsCert := flag.String("tls-cert", "", "TLS certificate file (overrides config)")
	tlsKey := flag.String("tls-key", "", "TLS key file (overrides config)")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Parley Server %s\n", Version)
		os.Exit(0)
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override the config file
	if *port != 0 {
		config.Server.Port = *port
	}
	if *metricsPort != 0 {
		config.Server.MetricsPort = *metricsPort
	}
	if *tlsCert != "" {
		config.TLS.CertFile = *tlsCert
	}
	if *tlsKey != "" {
		config.TLS.KeyFile = *tlsKey
	}

	serverConfig, err := config.ToServerConfig()
	if err != nil {
		log.Fatalf("Failed to resolve config: %v", err)
	}

	srv := server.NewServer(serverConfig)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
