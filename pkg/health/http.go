package health

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxBodyBytes bounds how much of a status response is read
const maxBodyBytes = 1 << 20

// HTTPChecker performs HTTP-based readiness checks. Certificates are not
// verified: trust between services is still being established at boot.
type HTTPChecker struct {
	// URL is the full URL to check (e.g., "https://localhost:7990/status")
	URL string

	// Method is the HTTP method to use (default: GET)
	Method string

	// Headers are custom HTTP headers to include in the request
	Headers map[string]string

	// ExpectedStatusMin is the minimum acceptable HTTP status code (default: 200)
	ExpectedStatusMin int

	// ExpectedStatusMax is the maximum acceptable HTTP status code (default: 399)
	ExpectedStatusMax int

	// FatalStatus lists status codes that will not change by waiting
	FatalStatus []int

	// JSONField is a dotted path into a JSON response body; empty disables
	// body inspection
	JSONField string

	// ReadyValues are the field values meaning ready; empty accepts any value
	ReadyValues []string

	// ErrorValues are the field values meaning the service failed to start
	ErrorValues []string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPChecker creates a new HTTP health checker
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:               url,
		Method:            "GET",
		Headers:           make(map[string]string),
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// Check performs the HTTP health check
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return unhealthy(start, true, "failed to create request: %v", err)
	}

	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return unhealthy(start, false, "request failed: %v", err)
	}
	defer resp.Body.Close()

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))

	for _, code := range h.FatalStatus {
		if resp.StatusCode == code {
			return unhealthy(start, true, "%s (fatal status)", message)
		}
	}

	if resp.StatusCode < h.ExpectedStatusMin || resp.StatusCode > h.ExpectedStatusMax {
		return unhealthy(start, false, "%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax)
	}

	if h.JSONField == "" {
		return Result{
			Healthy:   true,
			Message:   message,
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return unhealthy(start, false, "%s, reading body: %v", message, err)
	}

	value, err := lookupJSONField(body, h.JSONField)
	if err != nil {
		return unhealthy(start, true, "%s, malformed status body: %v", message, err)
	}

	if contains(h.ErrorValues, value) {
		return unhealthy(start, true, "%s, %s=%s", message, h.JSONField, value)
	}
	if len(h.ReadyValues) > 0 && !contains(h.ReadyValues, value) {
		return unhealthy(start, false, "%s, %s=%s", message, h.JSONField, value)
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%s, %s=%s", message, h.JSONField, value),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type
func (h *HTTPChecker) Type() CheckType {
	return CheckTypeHTTP
}

// WithMethod sets the HTTP method
func (h *HTTPChecker) WithMethod(method string) *HTTPChecker {
	h.Method = method
	return h
}

// WithHeader adds a custom HTTP header
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

// WithStatusRange sets the expected status code range
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.ExpectedStatusMin = min
	h.ExpectedStatusMax = max
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}

// WithJSONField enables body inspection of a JSON status document
func (h *HTTPChecker) WithJSONField(field string, ready, errored []string) *HTTPChecker {
	h.JSONField = field
	h.ReadyValues = ready
	h.ErrorValues = errored
	return h
}

func lookupJSONField(body []byte, path string) (string, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", err
	}

	cur := doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("field %q: not an object", path)
		}
		cur, ok = obj[key]
		if !ok {
			return "", fmt.Errorf("field %q missing", path)
		}
	}

	switch v := cur.(type) {
	case string:
		return v, nil
	case nil:
		return "null", nil
	default:
		return fmt.Sprint(v), nil
	}
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}
