package main

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/streamforge/mediasfu/internal/config"
	"github.com/streamforge/mediasfu/internal/engine"
	"github.com/streamforge/mediasfu/internal/httpapi"
	"github.com/streamforge/mediasfu/internal/logging"
	"github.com/streamforge/mediasfu/internal/registry"
)

func main() {
	fs := flag.NewFlagSet("mediaserver", flag.ExitOnError)
	logFlags := logging.RegisterFlags(fs)
	envPath := fs.String("config", ".env", "Path to the key=value configuration file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "WebRTC WHIP/WHEP selective-forwarding media server\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logging.SetDefault(log)

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log.Info("configuration loaded", "http_bind_addr", cfg.HTTPBindAddr, "udp_bind_addr", cfg.UDPBindAddr)

	cert, fingerprint, err := loadCertificate(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		log.Error("failed to load tls certificate", "error", err)
		os.Exit(1)
	}
	log.Info("certificate loaded", "fingerprint", fingerprint)

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.UDPBindAddr)
	if err != nil {
		log.Error("failed to resolve udp bind address", "error", err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Error("failed to bind udp socket", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	log.Info("udp socket bound", "addr", conn.LocalAddr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	reg := registry.New()
	go reg.Run(ctx)

	eng := engine.New(conn, reg, engine.Config{
		IdleLimit:      cfg.IdleLimit,
		ReplayCapacity: cfg.ReplayCacheCapacity,
		Fingerprint:    fingerprint,
		Cert:           cert,
	}, nil, nil, log.Logger)

	go eng.Start(ctx)
	log.Info("media engine started")

	httpServer := httpapi.NewServer(eng, cfg.WHIPToken, log.Logger)
	if err := httpServer.Start(cfg.HTTPBindAddr); err != nil {
		log.Error("failed to start http server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", "error", err)
	}

	log.Info("graceful shutdown complete")
}

// loadCertificate reads the PEM certificate/key pair and derives the
// SHA-256 fingerprint the SDP negotiator advertises (spec.md §4.3),
// formatted per RFC 8122 as colon-separated uppercase hex pairs.
func loadCertificate(certPath, keyPath string) (tls.Certificate, string, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("load x509 key pair: %w", err)
	}
	if len(cert.Certificate) == 0 {
		return tls.Certificate{}, "", fmt.Errorf("certificate chain is empty")
	}

	sum := sha256.Sum256(cert.Certificate[0])
	hexPairs := make([]string, len(sum))
	for i, b := range sum {
		hexPairs[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return cert, strings.Join(hexPairs, ":"), nil
}
