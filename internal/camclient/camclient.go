// Package camclient implements the two-phase authenticated HTTP client used
// to talk to Axis cameras: an unauthenticated probe followed by a
// protocol-ordered Basic/Digest retry, layered on top of a transport-error
// retry policy with a fixed backoff and a narrow error whitelist.
package camclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/anava/connector/internal/digestauth"
)

// StandardTimeout is the end-to-end deadline for ordinary proxied requests.
const StandardTimeout = 30 * time.Second

// UploadTimeout is the end-to-end deadline for ACAP/license uploads, which
// cameras process synchronously for up to two minutes.
const UploadTimeout = 180 * time.Second

const maxTransportRetries = 3

// transportRetryWhitelist lists the only transport-error substrings that
// trigger a retry. Anything else (DNS failure, TLS mismatch, context
// cancellation) surfaces immediately.
var transportRetryWhitelist = []string{
	"no route to host",
	"connection refused",
}

// Request is one proxied camera call. Exactly one of Body (marshaled to
// JSON) or RawBody (sent as-is, with RawContentType) is normally set; a
// multipart upload uses RawBody.
type Request struct {
	URL            string
	Method         string
	Username       string
	Password       string
	Body           map[string]interface{}
	RawBody        []byte
	RawContentType string
}

// Response is the normalized result of a proxied camera call.
type Response struct {
	Status int
	Data   map[string]interface{}
	Error  string
}

// Client performs two-phase authenticated requests to cameras.
type Client struct {
	rhttp *retryablehttp.Client
	http  *http.Client
}

// New builds a Client whose transport trusts certificates per verifyFn (see
// certstore.Store.VerifyConnection) and whose end-to-end timeout is budget.
// The retryablehttp client retries only transportRetryWhitelist errors,
// with a fixed 1s/2s/3s backoff, up to maxTransportRetries retries after
// the first attempt.
func New(budget time.Duration, verifyFn func(tls.ConnectionState) error) *Client {
	httpClient := &http.Client{
		Timeout: budget,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // fingerprint pinning happens in VerifyConnection
				VerifyConnection:   verifyFn,
			},
		},
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.RetryMax = maxTransportRetries
	rc.Logger = nil
	rc.CheckRetry = checkRetry
	rc.Backoff = fixedBackoff
	// The connector logs camera calls itself: the nil Logger above keeps the
	// library silent, and no request/response log hooks are installed.
	rc.RequestLogHook = nil
	rc.ResponseLogHook = nil

	return &Client{rhttp: rc, http: httpClient}
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil {
		return false, nil
	}
	msg := err.Error()
	for _, whitelisted := range transportRetryWhitelist {
		if strings.Contains(msg, whitelisted) {
			return true, nil
		}
	}
	return false, nil
}

// fixedBackoff ignores attemptNum-derived exponential growth in favor of the
// spec's fixed 1s/2s/3s schedule.
func fixedBackoff(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
	switch attemptNum {
	case 0:
		return 1 * time.Second
	case 1:
		return 2 * time.Second
	default:
		return 3 * time.Second
	}
}

// Do runs the two-phase algorithm: an unauthenticated probe, then on a 401 an
// authenticated retry using the protocol-ordered strategy (HTTPS: Basic then
// Digest; HTTP: Digest then Basic).
func (c *Client) Do(ctx context.Context, req *Request) (Response, error) {
	bodyBytes, err := requestBody(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request body: %w", err)
	}

	probeResp, probeErr := c.send(ctx, req, bodyBytes, "")
	if probeErr != nil {
		return Response{}, probeErr
	}
	if probeResp.Status != http.StatusUnauthorized {
		return probeResp, nil
	}

	strategies := authOrder(req.URL)
	var lastErr error
	var lastResp Response
	attempted := false
	for _, strategy := range strategies {
		authHeader, err := strategy.build(req, probeResp.challengeHeader)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := c.send(ctx, req, bodyBytes, authHeader)
		if err != nil {
			return Response{}, err
		}
		attempted = true
		lastResp = resp.Response
		if resp.Status == http.StatusUnauthorized {
			// A fresh challenge may have been issued (stale nonce); try the
			// next strategy with whatever challenge came back this time.
			probeResp = resp
			continue
		}
		return resp.Response, nil
	}

	if !attempted {
		if lastErr == nil {
			lastErr = fmt.Errorf("auth-rejected: no auth strategy available")
		}
		return Response{}, lastErr
	}

	// Every strategy was rejected by the upstream camera: this is a valid,
	// fully-formed 401 response, not a transport failure. The caller
	// (connector's /proxy handler) forwards it as HTTP 200 with
	// {status:401, data}, mirroring an ordinary proxied response.
	return lastResp, nil
}

// internalResponse carries the normalized Response plus whatever
// WWW-Authenticate header accompanied a 401, so the caller can feed it to
// the next auth strategy without re-requesting.
type internalResponse struct {
	Response
	challengeHeader string
}

func (c *Client) send(ctx context.Context, req *Request, body []byte, authHeader string) (internalResponse, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	rreq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return internalResponse{}, fmt.Errorf("build request: %w", err)
	}

	if body != nil {
		rreq.Header.Set("Content-Type", contentType(req))
		rreq.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	}
	rreq.Header.Set("User-Agent", "anava-connector/1.0")
	if authHeader != "" {
		rreq.Header.Set("Authorization", authHeader)
	}

	httpResp, err := c.rhttp.Do(rreq)
	if err != nil {
		return internalResponse{}, classifyTransportError(err)
	}
	defer httpResp.Body.Close()

	resp, err := parseResponse(httpResp)
	if err != nil {
		return internalResponse{}, err
	}
	return internalResponse{Response: resp, challengeHeader: httpResp.Header.Get("WWW-Authenticate")}, nil
}

func parseResponse(httpResp *http.Response) (Response, error) {
	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response body: %w", err)
	}

	resp := Response{Status: httpResp.StatusCode, Data: make(map[string]interface{})}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp.Data); err != nil {
			resp.Data["text"] = string(raw)
		}
	}
	if httpResp.StatusCode >= 400 {
		if msg, ok := resp.Data["error"].(string); ok {
			resp.Error = msg
		} else {
			resp.Error = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode, httpResp.Status)
		}
	}
	return resp, nil
}

func marshalBody(body map[string]interface{}) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	return json.Marshal(body)
}

// requestBody returns the bytes to send for req: RawBody verbatim if set,
// otherwise Body marshaled to JSON.
func requestBody(req *Request) ([]byte, error) {
	if req.RawBody != nil {
		return req.RawBody, nil
	}
	return marshalBody(req.Body)
}

// contentType returns the Content-Type header to send with req's body.
func contentType(req *Request) string {
	if req.RawBody != nil {
		return req.RawContentType
	}
	return "application/json"
}

// authStrategy builds an Authorization header for one auth scheme.
type authStrategy struct {
	name  string
	build func(req *Request, challengeHeader string) (string, error)
}

var basicStrategy = authStrategy{
	name: "basic",
	build: func(req *Request, _ string) (string, error) {
		return digestauth.BuildBasicHeader(req.Username, req.Password), nil
	},
}

var digestStrategy = authStrategy{
	name: "digest",
	build: func(req *Request, challengeHeader string) (string, error) {
		if challengeHeader == "" {
			return "", fmt.Errorf("challenge-parse: no WWW-Authenticate header present")
		}
		challenge, err := digestauth.ParseChallenge(challengeHeader)
		if err != nil {
			return "", err
		}
		bodyBytes, _ := requestBody(req)
		creds := digestauth.Credentials{
			Username: req.Username,
			Password: req.Password,
			Method:   req.Method,
			URI:      digestauth.RequestURI(req.URL),
			Body:     bodyBytes,
		}
		return digestauth.BuildDigestHeader(creds, challenge)
	},
}

// authOrder returns the auth strategies in the protocol-dependent order the
// spec mandates: HTTPS tries Basic first (widely accepted over the encrypted
// channel), HTTP tries Digest first (HTTP cameras typically challenge).
func authOrder(rawURL string) []authStrategy {
	if strings.HasPrefix(rawURL, "https://") {
		return []authStrategy{basicStrategy, digestStrategy}
	}
	return []authStrategy{digestStrategy, basicStrategy}
}

func classifyTransportError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "context deadline exceeded"), strings.Contains(msg, "Client.Timeout"):
		return fmt.Errorf("timeout: %w", err)
	case strings.Contains(msg, "context canceled"):
		return fmt.Errorf("cancelled: %w", err)
	default:
		return fmt.Errorf("transport: %w", err)
	}
}
