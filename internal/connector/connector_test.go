package connector

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anava/connector/internal/certstore"
	"github.com/anava/connector/internal/classifier"
)

func newTestServer(t *testing.T, origins []string) *Server {
	t.Helper()
	certs, err := certstore.Open(filepath.Join(t.TempDir(), "fingerprints.json"), zap.NewNop())
	require.NoError(t, err)
	cls, err := classifier.New(classifier.DefaultMinFirmware)
	require.NoError(t, err)

	return New(Config{
		ListenAddr:     "127.0.0.1:0",
		AllowedOrigins: origins,
		Certs:          certs,
		Classifier:     cls,
		Log:            zap.NewNop(),
	})
}

func TestHandleHealth_OK(t *testing.T) {
	srv := newTestServer(t, nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.RemoteAddr = "127.0.0.1:54321"

	srv.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestOriginGate_DisallowedOriginRejected(t *testing.T) {
	srv := newTestServer(t, []string{"https://app.example.com"})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.RemoteAddr = "127.0.0.1:54321"
	r.Header.Set("Origin", "https://evil.example.com")

	srv.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOriginGate_AllowedOriginPasses(t *testing.T) {
	srv := newTestServer(t, []string{"https://app.example.com"})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.RemoteAddr = "127.0.0.1:54321"
	r.Header.Set("Origin", "https://app.example.com")

	srv.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginGate_AbsentOriginAllowedOnlyFromLoopback(t *testing.T) {
	srv := newTestServer(t, []string{"https://app.example.com"})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.RemoteAddr = "10.0.0.5:54321"
	srv.Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/health", nil)
	r.RemoteAddr = "127.0.0.1:54321"
	srv.Router().ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleProxy_HappyPath(t *testing.T) {
	cam := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"propertyList":{"Brand":"AXIS","ProdNbr":"M3215"}}`))
	}))
	defer cam.Close()

	srv := newTestServer(t, nil)
	reqBody, _ := json.Marshal(map[string]interface{}{
		"url":      cam.URL,
		"method":   http.MethodGet,
		"username": "root",
		"password": "pass",
	})
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/proxy", bytes.NewReader(reqBody))
	r.RemoteAddr = "127.0.0.1:54321"

	srv.Router().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.EqualValues(t, http.StatusOK, out["status"])
}

func TestHandleProxy_ParseErrorOnInvalidJSON(t *testing.T) {
	srv := newTestServer(t, nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/proxy", bytes.NewReader([]byte("{not json")))
	r.RemoteAddr = "127.0.0.1:54321"

	srv.Router().ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var out map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "parse-error", out["error"])
}

func TestHandleScanLifecycle_StartThenCancel(t *testing.T) {
	srv := newTestServer(t, nil)
	testSrv := httptest.NewServer(srv.Router())
	defer testSrv.Close()
	srv.listenAddr = testSrv.Listener.Addr().String()

	startBody, _ := json.Marshal(map[string]interface{}{
		"cidr":      "203.0.113.0/30",
		"username":  "root",
		"password":  "pass",
		"intensity": "conservative",
	})
	resp, err := http.Post(testSrv.URL+"/scan", "application/json", bytes.NewReader(startBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	sessionID, _ := started["sessionId"].(string)
	require.NotEmpty(t, sessionID)

	cancelBody, _ := json.Marshal(map[string]string{"sessionId": sessionID})
	cancelResp, err := http.Post(testSrv.URL+"/scan/cancel", "application/json", bytes.NewReader(cancelBody))
	require.NoError(t, err)
	defer cancelResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, cancelResp.StatusCode)
}

func TestHandleScanWS_UnknownSessionReturns404(t *testing.T) {
	srv := newTestServer(t, nil)
	testSrv := httptest.NewServer(srv.Router())
	defer testSrv.Close()

	wsURL := "ws" + testSrv.URL[len("http"):] + "/scan/ws?sessionId=does-not-exist"
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	_, resp, err := dialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
