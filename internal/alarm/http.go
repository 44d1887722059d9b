package alarm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultUserAgent = "aibox/1.0"

// HTTPAdapter posts alarm payloads to configured webhook endpoints.
// A delivery succeeds on any 2xx response and is never retried.
type HTTPAdapter struct {
	client *http.Client
}

// NewHTTPAdapter creates the webhook adapter. The per-delivery timeout
// comes from the request context, not the client.
func NewHTTPAdapter() *HTTPAdapter {
	return &HTTPAdapter{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Deliver sends the canonical payload to the configured URL.
func (a *HTTPAdapter) Deliver(ctx context.Context, p *Payload, cfg *Config) DeliveryResult {
	result := DeliveryResult{ConfigID: cfg.ID, Method: MethodHTTP}
	start := time.Now()

	body, err := p.Encode()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	method := http.MethodPost
	if cfg.HTTP.Method != "" {
		method = cfg.HTTP.Method
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.HTTP.URL, bytes.NewReader(body))
	if err != nil {
		result.Error = fmt.Sprintf("failed to build request: %v", err)
		return result
	}

	for k, v := range cfg.HTTP.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	resp, err := a.client.Do(req)
	result.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Error = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
		return result
	}

	result.Success = true
	return result
}
