package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anava/connector/internal/classifier"
)

// ProxyCaller is the scanner's view of the connector's /proxy endpoint.
// Production code uses HTTPProxyCaller; tests substitute a fake.
type ProxyCaller interface {
	Proxy(ctx context.Context, req ProxyRequest) (ProxyResponse, error)
}

// ProxyRequest mirrors the JSON body the connector's POST /proxy expects.
type ProxyRequest struct {
	URL      string                 `json:"url"`
	Method   string                 `json:"method"`
	Username string                 `json:"username"`
	Password string                 `json:"password"`
	Body     map[string]interface{} `json:"body,omitempty"`
}

// ProxyResponse mirrors the connector's POST /proxy success body.
type ProxyResponse struct {
	Status int                    `json:"status"`
	Data   map[string]interface{} `json:"data"`
}

// HTTPProxyCaller calls a real connector instance over loopback HTTP, the
// same way an external orchestrator would.
type HTTPProxyCaller struct {
	baseURL string
	http    *http.Client
}

// NewHTTPProxyCaller builds a caller targeting the connector's /proxy
// endpoint at baseURL (e.g. "http://127.0.0.1:9876").
func NewHTTPProxyCaller(baseURL string) *HTTPProxyCaller {
	return &HTTPProxyCaller{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 35 * time.Second},
	}
}

func (c *HTTPProxyCaller) Proxy(ctx context.Context, req ProxyRequest) (ProxyResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return ProxyResponse{}, fmt.Errorf("marshal proxy request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/proxy", bytes.NewReader(payload))
	if err != nil {
		return ProxyResponse{}, fmt.Errorf("build proxy request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return ProxyResponse{}, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	var out ProxyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ProxyResponse{}, fmt.Errorf("decode proxy response: %w", err)
	}
	return out, nil
}

// Probe issues the fixed basicdeviceinfo.cgi getProperties call for one IP
// and, if the connector reports a 200 AXIS response, returns the parsed
// properties. Any other outcome (timeout, non-200, non-AXIS) means "no
// camera here" and ok is false.
func Probe(ctx context.Context, caller ProxyCaller, ip, username, password string) (classifier.Properties, bool) {
	req := ProxyRequest{
		URL:      fmt.Sprintf("https://%s/axis-cgi/basicdeviceinfo.cgi", ip),
		Method:   http.MethodPost,
		Username: username,
		Password: password,
		Body: map[string]interface{}{
			"apiVersion": "1.0",
			"method":     "getProperties",
			"params": map[string]interface{}{
				"propertyList": probeProperties,
			},
		},
	}

	resp, err := caller.Proxy(ctx, req)
	if err != nil || resp.Status != http.StatusOK {
		return classifier.Properties{}, false
	}

	data, _ := resp.Data["data"].(map[string]interface{})
	propertyList, _ := data["propertyList"].(map[string]interface{})
	if propertyList == nil {
		return classifier.Properties{}, false
	}

	brand, _ := propertyList["Brand"].(string)
	if brand != "AXIS" {
		return classifier.Properties{}, false
	}

	str := func(key string) string {
		v, _ := propertyList[key].(string)
		return v
	}
	return classifier.Properties{
		Brand:        brand,
		ProdType:     str("ProdType"),
		ProdNbr:      str("ProdNbr"),
		ProdFullName: str("ProdFullName"),
		SerialNumber: str("SerialNumber"),
		Version:      str("Version"),
	}, true
}
