// Package fhir is the engine's FHIR R4 client: it reads Dispense/Patient
// data and persists Observation/Patient-extension writes against an
// external FHIR server. The server itself (resource CRUD, search, indexing)
// is out of scope; this package only implements the client contract spec §6
// enumerates.
package fhir

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carepath/pdc-engine/internal/logging"
)

// RetryBudget is the bounded exponential backoff schedule for writes, per
// spec §5: 3 attempts, 200ms/1s/5s.
var RetryBudget = []time.Duration{200 * time.Millisecond, 1 * time.Second, 5 * time.Second}

// Client wraps net/http.Client with the base URL, timeout, and retry policy
// every FHIR-facing service shares.
type Client struct {
	BaseURL            string
	ExtensionBaseURL   string
	HTTP               *http.Client
	IndexedSearchCapable bool
}

// NewClient builds a Client with the given base URL and request timeout.
func NewClient(baseURL, extensionBaseURL string, timeout time.Duration, indexedSearchCapable bool) *Client {
	return &Client{
		BaseURL:              baseURL,
		ExtensionBaseURL:     extensionBaseURL,
		HTTP:                 &http.Client{Timeout: timeout},
		IndexedSearchCapable: indexedSearchCapable,
	}
}

// RetryableStatus reports whether a FHIR server response signals
// backpressure the caller should retry against (HTTP 429 or 5xx).
func RetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// doConditional is do with an optional If-Match header for FHIR's
// version-conditional update: a mismatched ETag signals a concurrency
// conflict (412 Precondition Failed, or 409 on servers that prefer it).
func (c *Client) doConditional(ctx context.Context, method, path string, body any, ifMatch string, into any) (int, error) {
	status, err := c.attemptConditional(ctx, method, path, body, ifMatch, into)
	if err != nil && (status == http.StatusPreconditionFailed || status == http.StatusConflict) {
		return status, err
	}
	if err == nil {
		return status, nil
	}

	for attempt := 0; attempt < len(RetryBudget); attempt++ {
		if !RetryableStatus(status) {
			break
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(RetryBudget[attempt]):
		}
		status, err = c.attemptConditional(ctx, method, path, body, ifMatch, into)
		if err == nil {
			return status, nil
		}
	}
	return status, err
}

func (c *Client) attemptConditional(ctx context.Context, method, path string, body any, ifMatch string, into any) (int, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode fhir request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("build fhir request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/fhir+json")
	}
	if ifMatch != "" {
		req.Header.Set("If-Match", `W/"`+ifMatch+`"`)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fhir request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read fhir response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("fhir server returned %d: %s", resp.StatusCode, string(respBody))
	}

	if into != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, into); err != nil {
			return resp.StatusCode, fmt.Errorf("decode fhir response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

// do performs one HTTP round trip with retry/backoff for retryable
// statuses. method/path/body describe the request; into, if non-nil,
// receives the decoded JSON response body.
func (c *Client) do(ctx context.Context, method, path string, body any, into any) (int, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= len(RetryBudget); attempt++ {
		status, err := c.attempt(ctx, method, path, body, into)
		if err == nil {
			return status, nil
		}
		lastErr = err
		lastStatus = status

		if attempt == len(RetryBudget) || !RetryableStatus(status) {
			break
		}

		logging.FHIRLogger().Warn("fhir request retrying",
			logging.WithComponent("fhir-client"),
			logging.WithError(err),
		)

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(RetryBudget[attempt]):
		}
	}

	return lastStatus, lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, body any, into any) (int, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode fhir request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("build fhir request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/fhir+json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fhir request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read fhir response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("fhir server returned %d: %s", resp.StatusCode, string(respBody))
	}

	if into != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, into); err != nil {
			return resp.StatusCode, fmt.Errorf("decode fhir response: %w", err)
		}
	}

	return resp.StatusCode, nil
}
