package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/randalmurphal/duragraph"
)

// DefaultTimeout is the default HTTP request timeout. Claim requests use
// long polling, so the default leaves the server room to hold the
// request open.
const DefaultTimeout = 60 * time.Second

// DefaultMaxRetries is the default number of retry attempts.
const DefaultMaxRetries = 3

// DefaultRetryWait is the default initial wait between retries.
const DefaultRetryWait = 1 * time.Second

// HTTPClient talks to the control plane over its JSON API.
type HTTPClient struct {
	client     *http.Client
	baseURL    string
	maxRetries int
	retryWait  time.Duration

	apiKey string
	tokens oauth2.TokenSource
}

// HTTPClientConfig holds configuration for HTTPClient.
type HTTPClientConfig struct {
	// BaseURL is the control plane's address, e.g. "http://localhost:8081".
	BaseURL string

	// Client overrides the underlying HTTP client.
	Client *http.Client

	MaxRetries int
	RetryWait  time.Duration

	// APIKey authenticates requests with a static bearer key.
	APIKey string

	// TokenSource authenticates requests with OAuth2 tokens. Takes
	// precedence over APIKey when both are set.
	TokenSource oauth2.TokenSource
}

// NewHTTPClient creates a control-plane client with the given configuration.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	c := &HTTPClient{
		client:     cfg.Client,
		baseURL:    cfg.BaseURL,
		maxRetries: cfg.MaxRetries,
		retryWait:  cfg.RetryWait,
		apiKey:     cfg.APIKey,
		tokens:     cfg.TokenSource,
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: DefaultTimeout}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.retryWait <= 0 {
		c.retryWait = DefaultRetryWait
	}
	return c
}

// RegisterWorker implements Client.
func (c *HTTPClient) RegisterWorker(ctx context.Context, reg WorkerRegistration) error {
	if err := c.post(ctx, "/api/v1/workers/register", reg, nil); err != nil {
		return &duragraph.TransportError{Op: "register", URL: c.baseURL, Err: err}
	}
	return nil
}

// ClaimRun implements Client. The server holds the request open until an
// assignment is available or its long-poll window closes; 204 means no
// work.
func (c *HTTPClient) ClaimRun(ctx context.Context, workerName string) (*duragraph.Assignment, error) {
	body := map[string]string{"workerName": workerName}

	resp, err := c.request(ctx, http.MethodPost, "/api/v1/runs/claim", body)
	if err != nil {
		return nil, &duragraph.TransportError{Op: "claim", URL: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		return nil, &duragraph.TransportError{Op: "claim", URL: c.baseURL, Err: c.parseError(resp, "/api/v1/runs/claim")}
	}

	var assignment duragraph.Assignment
	if err := json.NewDecoder(resp.Body).Decode(&assignment); err != nil {
		return nil, &duragraph.TransportError{Op: "claim", URL: c.baseURL, Err: fmt.Errorf("decode assignment: %w", err)}
	}
	return &assignment, nil
}

// ReportResult implements Client.
func (c *HTTPClient) ReportResult(ctx context.Context, result duragraph.Result) error {
	path := "/api/v1/runs/" + result.RunID + "/result"
	if err := c.post(ctx, path, result, nil); err != nil {
		return &duragraph.TransportError{Op: "report", URL: c.baseURL, Err: err}
	}
	return nil
}

// RunCancelled implements Client.
func (c *HTTPClient) RunCancelled(ctx context.Context, runID string) (bool, error) {
	var status struct {
		Status string `json:"status"`
	}
	if err := c.get(ctx, "/api/v1/runs/"+runID, &status); err != nil {
		return false, &duragraph.TransportError{Op: "status", URL: c.baseURL, Err: err}
	}
	return status.Status == string(duragraph.RunCancelled), nil
}

// =============================================================================
// Transport
// =============================================================================

// request executes an HTTP request with retries for transient errors.
func (c *HTTPClient) request(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = data
	}

	url := c.baseURL + path

	var lastErr error
	for attempt := range c.maxRetries {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if err := c.authorize(req); err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries-1 {
				wait := c.retryWait * time.Duration(1<<attempt) // Exponential backoff
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(wait):
					continue
				}
			}
			return nil, fmt.Errorf("control plane request failed: %w", err)
		}

		// Retry rate limits and server errors.
		if retryableStatus(resp.StatusCode) && attempt < c.maxRetries-1 {
			wait := c.retryAfter(resp, attempt)
			resp.Body.Close()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
				continue
			}
		}

		return resp, nil
	}

	return nil, lastErr
}

// authorize applies auth headers: an OAuth2 token source when configured,
// otherwise a static bearer key.
func (c *HTTPClient) authorize(req *http.Request) error {
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("fetch auth token: %w", err)
		}
		token.SetAuthHeader(req)
		return nil
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// retryAfter honors the Retry-After header when present, otherwise backs
// off exponentially.
func (c *HTTPClient) retryAfter(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.retryWait * time.Duration(1<<attempt)
}

// get performs a GET request and decodes the response into result.
func (c *HTTPClient) get(ctx context.Context, path string, result any) error {
	resp, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.handleResponse(resp, path, result)
}

// post performs a POST request and decodes the response into result.
func (c *HTTPClient) post(ctx context.Context, path string, body, result any) error {
	resp, err := c.request(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.handleResponse(resp, path, result)
}

// handleResponse checks status and decodes the response body.
func (c *HTTPClient) handleResponse(resp *http.Response, path string, result any) error {
	if resp.StatusCode >= 400 {
		return c.parseError(resp, path)
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode control plane response: %w", err)
	}
	return nil
}

// parseError parses an error response into an APIError.
func (c *HTTPClient) parseError(resp *http.Response, path string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Endpoint:   path,
		Message:    string(body),
	}

	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error != "" {
			apiErr.Message = parsed.Error
		} else if parsed.Message != "" {
			apiErr.Message = parsed.Message
		}
	}

	return apiErr
}
