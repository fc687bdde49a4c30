// Package certstore implements trust-on-first-use pinning of camera TLS
// leaf certificate fingerprints, persisted as JSON under the user profile
// directory.
package certstore

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrMismatch is returned when a host's observed leaf fingerprint disagrees
// with the one pinned on first contact.
type ErrMismatch struct {
	Host     string
	Pinned   string
	Observed string
}

func (e *ErrMismatch) Error() string {
	return fmt.Sprintf("cert-mismatch: host %s pinned %s, observed %s", e.Host, e.Pinned, e.Observed)
}

// Record is one pinned-certificate entry as persisted on disk.
type Record struct {
	Fingerprint string    `json:"fingerprint"`
	FirstSeen   time.Time `json:"first_seen"`
}

// Store is a mutex-guarded map of hostname -> pinned leaf fingerprint,
// backed by an atomically-rewritten JSON file.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]Record
	log     *zap.Logger
}

// Open loads (or creates) the certificate store at path. A missing file is
// treated as an empty map.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating cert store directory: %w", err)
	}

	s := &Store{path: path, records: make(map[string]Record), log: log}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading cert store: %w", err)
	}

	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("parsing cert store: %w", err)
	}
	log.Info("loaded certificate fingerprints", zap.Int("count", len(s.records)))
	return s, nil
}

// Lookup returns the pinned record for host, if any.
func (s *Store) Lookup(host string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[normalizeHost(host)]
	return r, ok
}

// pin records a new fingerprint for a host not seen before, persisting the
// update atomically (write-tmp + rename).
func (s *Store) pin(host, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[normalizeHost(host)] = Record{Fingerprint: fingerprint, FirstSeen: time.Now().UTC()}
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cert store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing cert store temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("renaming cert store temp file: %w", err)
	}
	return nil
}

func normalizeHost(host string) string {
	host = strings.ToLower(host)
	// only strip a trailing port, not an IPv6 literal's colons: a bare IPv6
	// literal fails SplitHostPort and is kept whole
	if h, port, err := net.SplitHostPort(host); err == nil {
		if _, err := fmt.Sscanf(port, "%d", new(int)); err == nil {
			host = h
		}
	}
	return host
}

// LeafFingerprint returns the hex SHA-256 of the leaf certificate's DER
// encoding.
func LeafFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

// VerifyConnection returns a tls.Config.VerifyConnection callback that
// enforces TOFU pinning against this store: first contact pins and
// accepts, a matching fingerprint accepts, a mismatch rejects with
// ErrMismatch without updating the store.
func (s *Store) VerifyConnection(cs tls.ConnectionState) error {
	if len(cs.PeerCertificates) == 0 {
		return fmt.Errorf("cert-mismatch: no peer certificates presented")
	}

	leaf := cs.PeerCertificates[0]
	host := cs.ServerName
	observed := LeafFingerprint(leaf)

	if rec, ok := s.Lookup(host); ok {
		if rec.Fingerprint != observed {
			s.log.Warn("certificate fingerprint mismatch",
				zap.String("host", host),
				zap.String("pinned", rec.Fingerprint),
				zap.String("observed", observed))
			return &ErrMismatch{Host: host, Pinned: rec.Fingerprint, Observed: observed}
		}
		return nil
	}

	s.log.Info("pinning certificate for new host", zap.String("host", host), zap.String("fingerprint", observed))
	return s.pin(host, observed)
}
