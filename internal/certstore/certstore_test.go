package certstore

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(store *Store) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
				VerifyConnection:   store.VerifyConnection,
			},
		},
	}
}

// TestTOFU_PinsOnFirstContact reproduces spec.md §8 property 3 and §6/S6:
// the first successful handshake pins a fingerprint.
func TestTOFU_PinsOnFirstContact(t *testing.T) {
	srv := newTestServer(t)
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "fingerprints.json"), nil)
	require.NoError(t, err)

	client := newClient(store)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	// httptest dials an IP literal, so ServerName/SNI is typically empty;
	// reload the persisted file rather than guessing the pinned key.
	reloaded, err := Open(filepath.Join(dir, "fingerprints.json"), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, reloaded.records, "expected a pinned fingerprint after first contact")
}

// TestTOFU_MismatchRejectsAndDoesNotOverwrite reproduces S6: replacing the
// leaf certificate after pinning must fail closed and must not update the
// stored fingerprint.
func TestTOFU_MismatchRejectsAndDoesNotOverwrite(t *testing.T) {
	srv := newTestServer(t)
	leaf := srv.Certificate()

	dir := t.TempDir()
	path := filepath.Join(dir, "fingerprints.json")
	store, err := Open(path, nil)
	require.NoError(t, err)

	const host = "192.168.50.156"
	require.NoError(t, store.pin(host, "deadbeef"))

	err = store.VerifyConnection(tls.ConnectionState{
		ServerName:       host,
		PeerCertificates: []*x509.Certificate{leaf},
	})
	var mismatch *ErrMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "deadbeef", mismatch.Pinned)

	rec, ok := store.Lookup(host)
	require.True(t, ok)
	assert.Equal(t, "deadbeef", rec.Fingerprint, "mismatch must not overwrite the pinned fingerprint")
}

func TestLookup_UnknownHost(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "fingerprints.json"), nil)
	require.NoError(t, err)

	_, ok := store.Lookup("nowhere.example")
	assert.False(t, ok)
}
