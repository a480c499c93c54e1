// Package config loads the small set of immutable settings the media
// server reads once at startup: bind addresses, the WHIP bearer token,
// and the TLS certificate used both for DTLS and for the SHA-256
// fingerprint advertised in SDP answers.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process configuration, immutable once loaded.
type Config struct {
	HTTPBindAddr string
	UDPBindAddr  string
	WHIPToken    string
	TLSCertPath  string
	TLSKeyPath   string

	// IdleLimit is the TTL window after which a session with no traffic
	// is evicted (spec.md §4.12, default 10s).
	IdleLimit time.Duration
	// ReplayCacheCapacity is the fixed ring-buffer size for each
	// viewer's outbound SRTP replay cache (spec.md §3, 512..2048).
	ReplayCacheCapacity int
}

// Defaults returns a Config with the spec-mandated defaults for every
// field not sourced from the environment file.
func Defaults() *Config {
	return &Config{
		HTTPBindAddr:        ":8080",
		UDPBindAddr:         ":9000",
		IdleLimit:           10 * time.Second,
		ReplayCacheCapacity: 1024,
	}
}

// Load reads key=value configuration lines from envPath, overlaying them
// onto Defaults(), and validates the result.
func Load(envPath string) (*Config, error) {
	cfg := Defaults()

	file, err := os.Open(envPath)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "http_bind_addr":
			cfg.HTTPBindAddr = value
		case "udp_bind_addr":
			cfg.UDPBindAddr = value
		case "whip_token":
			cfg.WHIPToken = value
		case "tls_cert_path":
			cfg.TLSCertPath = value
		case "tls_key_path":
			cfg.TLSKeyPath = value
		case "idle_limit_seconds":
			secs, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid idle_limit_seconds: %w", err)
			}
			cfg.IdleLimit = time.Duration(secs) * time.Second
		case "replay_cache_capacity":
			capacity, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid replay_cache_capacity: %w", err)
			}
			cfg.ReplayCacheCapacity = capacity
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields required for the server to bind sockets and
// authenticate ingest.
func (c *Config) Validate() error {
	if c.HTTPBindAddr == "" {
		return fmt.Errorf("missing http_bind_addr")
	}
	if c.UDPBindAddr == "" {
		return fmt.Errorf("missing udp_bind_addr")
	}
	if c.WHIPToken == "" {
		return fmt.Errorf("missing whip_token")
	}
	if c.TLSCertPath == "" {
		return fmt.Errorf("missing tls_cert_path")
	}
	if c.TLSKeyPath == "" {
		return fmt.Errorf("missing tls_key_path")
	}
	if c.ReplayCacheCapacity < 512 || c.ReplayCacheCapacity > 2048 {
		return fmt.Errorf("replay_cache_capacity must be between 512 and 2048, got %d", c.ReplayCacheCapacity)
	}
	return nil
}
