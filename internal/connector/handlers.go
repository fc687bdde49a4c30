package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/anava/connector/internal/camclient"
	"github.com/anava/connector/internal/scanner"
	"github.com/anava/connector/internal/upload"
	"github.com/anava/connector/internal/wsrelay"
)

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.setCORSHeaders(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// proxyRequestBody is the wire shape of POST /proxy and the url/username/
// password/body fields shared by the upload endpoints.
type proxyRequestBody struct {
	URL      string                 `json:"url"`
	Method   string                 `json:"method"`
	Username string                 `json:"username"`
	Password string                 `json:"password"`
	Body     map[string]interface{} `json:"body,omitempty"`
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if !s.setCORSHeaders(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var body proxyRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "parse-error", err)
		return
	}

	s.log.Info("proxying camera request",
		zap.String("url", body.URL),
		zap.String("method", body.Method),
		zap.String("username", maskCredential(body.Username)),
		zap.Int("body_bytes", jsonSize(body.Body)))

	resp, err := s.standardClient.Do(r.Context(), &camclient.Request{
		URL: body.URL, Method: body.Method, Username: body.Username, Password: body.Password, Body: body.Body,
	})
	if err != nil {
		writeTransportError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": resp.Status,
		"data":   resp.Data,
	})
}

type uploadACAPBody struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	AcapURL  string `json:"acapUrl"`
}

func (s *Server) handleUploadACAP(w http.ResponseWriter, r *http.Request) {
	if !s.setCORSHeaders(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var body uploadACAPBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "parse-error", err)
		return
	}

	s.log.Info("uploading ACAP", zap.String("source", body.AcapURL), zap.String("target", body.URL))

	acapResp, err := http.Get(body.AcapURL)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "transport", err)
		return
	}
	defer acapResp.Body.Close()
	if acapResp.StatusCode != http.StatusOK {
		writeJSONError(w, http.StatusBadGateway, "transport", fmt.Errorf("source returned HTTP %d", acapResp.StatusCode))
		return
	}

	multipartBody, contentType, err := upload.BuildMultipart(upload.ACAPFieldName, acapFilename(body.AcapURL), upload.ACAPContentType, acapResp.Body)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "transport", err)
		return
	}

	s.doUpload(w, r, body.URL, body.Username, body.Password, multipartBody, contentType)
}

func acapFilename(sourceURL string) string {
	if idx := strings.LastIndex(sourceURL, "/"); idx != -1 && idx+1 < len(sourceURL) {
		return sourceURL[idx+1:]
	}
	return "application.eap"
}

type uploadLicenseBody struct {
	URL        string `json:"url"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	LicenseXML string `json:"licenseXML"`
}

func (s *Server) handleUploadLicense(w http.ResponseWriter, r *http.Request) {
	if !s.setCORSHeaders(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var body uploadLicenseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "parse-error", err)
		return
	}

	s.log.Info("uploading license", zap.String("target", body.URL), zap.Int("xml_bytes", len(body.LicenseXML)))

	multipartBody, contentType, err := upload.BuildMultipart(
		upload.LicenseFieldName, upload.LicenseFilename, upload.LicenseContentType, strings.NewReader(body.LicenseXML))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "transport", err)
		return
	}

	s.doUpload(w, r, body.URL, body.Username, body.Password, multipartBody, contentType)
}

func (s *Server) doUpload(w http.ResponseWriter, r *http.Request, url, username, password string, multipartBody []byte, contentType string) {
	resp, err := s.uploadClient.Do(r.Context(), &camclient.Request{
		URL:            url,
		Method:         http.MethodPost,
		Username:       username,
		Password:       password,
		RawBody:        multipartBody,
		RawContentType: contentType,
	})
	if err != nil {
		writeTransportError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status >= 400 {
		w.WriteHeader(resp.Status)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": resp.Status,
		"data":   resp.Data,
	})
}

type scanStartBody struct {
	CIDR      string            `json:"cidr"`
	Username  string            `json:"username"`
	Password  string            `json:"password"`
	Intensity scanner.Intensity `json:"intensity"`
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	if !s.setCORSHeaders(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var body scanStartBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "parse-error", err)
		return
	}

	caller := scanner.NewHTTPProxyCaller(selfURL(s.listenAddr))
	sess, err := scanner.NewSession(scanner.Config{
		CIDR: body.CIDR, Username: body.Username, Password: body.Password, Intensity: body.Intensity,
	}, s.classifier, caller)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid-cidr", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := wsrelay.NewHub(s.log)

	s.mu.Lock()
	s.sessions[sess.ID] = &scanSession{session: sess, hub: hub, cancel: cancel}
	s.mu.Unlock()

	s.log.Info("starting scan session", zap.String("session_id", sess.ID), zap.String("cidr", body.CIDR), zap.Int("total_ips", sess.TotalIPs()))

	go func() {
		for p := range sess.Progress {
			hub.Broadcast(p)
		}
		hub.CloseAll()
	}()
	go sess.Run(ctx)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sessionId": sess.ID,
		"totalIPs":  sess.TotalIPs(),
	})
}

func (s *Server) handleScanWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "scan session not found", http.StatusNotFound)
		return
	}

	upgrader := wsrelay.NewUpgrader(s.isOriginAllowed)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sess.hub.Attach(conn)
}

type scanCancelBody struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	if !s.setCORSHeaders(w, r) {
		return
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var body scanCancelBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "parse-error", err)
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[body.SessionID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "scan session not found", http.StatusNotFound)
		return
	}

	sess.session.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSONError(w http.ResponseWriter, status int, kind string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": kind, "message": err.Error()})
}

func writeTransportError(w http.ResponseWriter, err error) {
	switch {
	case strings.HasPrefix(err.Error(), "timeout:"):
		writeJSONError(w, http.StatusGatewayTimeout, "timeout", err)
	case strings.HasPrefix(err.Error(), "cancelled:"):
		writeJSONError(w, http.StatusBadGateway, "cancelled", err)
	case strings.HasPrefix(err.Error(), "auth-rejected:"):
		writeJSONError(w, http.StatusUnauthorized, "auth-rejected", err)
	case strings.HasPrefix(err.Error(), "challenge-parse:"):
		writeJSONError(w, http.StatusBadGateway, "challenge-parse", err)
	case strings.Contains(err.Error(), "cert-mismatch"):
		writeJSONError(w, http.StatusBadGateway, "cert-mismatch", err)
	default:
		writeJSONError(w, http.StatusBadGateway, "transport", err)
	}
}

func maskCredential(cred string) string {
	switch len(cred) {
	case 0:
		return ""
	case 1:
		return "*"
	case 2:
		return string(cred[0]) + "*"
	default:
		return string(cred[0]) + strings.Repeat("*", len(cred)-2) + string(cred[len(cred)-1])
	}
}

func jsonSize(body map[string]interface{}) int {
	if body == nil {
		return 0
	}
	raw, _ := json.Marshal(body)
	return len(raw)
}

func selfURL(listenAddr string) string {
	return "http://" + listenAddr
}
