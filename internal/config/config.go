// Package config holds the connector's runtime configuration: the listen
// address, the origin allowlist, and the firmware floor, each overridable
// via environment variable per SPEC_FULL.md.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultListenAddr is the connector's fixed loopback address.
const DefaultListenAddr = "127.0.0.1:9876"

// Config is the connector's resolved runtime configuration.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	MinFirmware    string
	CertStorePath  string
}

// ParseOrigins splits a comma-separated ANAVA_CONNECTOR_ORIGINS value into a
// trimmed, non-empty origin list.
func ParseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DefaultCertStorePath resolves the platform-specific path for the TOFU
// certificate fingerprint store, mirroring the teacher's
// pkg/proxy.NewCertificateStore macOS/Linux split.
func DefaultCertStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	if _, err := os.Stat(filepath.Join(home, "Library")); err == nil {
		return filepath.Join(home, "Library", "Application Support", "Anava", "certificate-fingerprints.json"), nil
	}
	return filepath.Join(home, ".local", "share", "anava", "certificate-fingerprints.json"), nil
}

