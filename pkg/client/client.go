// Package client provides a Go client for the contraverify HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotVerified is returned by Verify when the run finished but at least
// one contract was not verified. The report is returned with it.
var ErrNotVerified = errors.New("contract not verified")

// Client is a contraverify API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new client. Verification runs can take several minutes, so
// the default HTTP client has a long timeout.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// VerifyRequest asks the server to verify a contract and its action contract
type VerifyRequest struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	ConstructorArgs string `json:"constructorArgs,omitempty"`
}

// Report is the result of one verification run
type Report struct {
	ID         string           `json:"id,omitempty"`
	ChainID    string           `json:"chainId"`
	Mode       string           `json:"mode"`
	Contracts  []ContractReport `json:"contracts"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
}

// ContractReport holds the per-backend results for one contract
type ContractReport struct {
	Name    string          `json:"name"`
	Address string          `json:"address"`
	Results []BackendResult `json:"results"`
	Success bool            `json:"success"`
	Reason  string          `json:"reason,omitempty"`
}

// BackendResult is one backend's outcome
type BackendResult struct {
	Backend  string        `json:"backend"`
	Kind     string        `json:"kind"`
	Status   string        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	URL      string        `json:"url,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ReportSummary is a stored report as listed by the server
type ReportSummary struct {
	ID         string `json:"id"`
	ChainID    string `json:"chainId"`
	Contract   string `json:"contract,omitempty"`
	Address    string `json:"address,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt"`
}

// ListOptions filters ListReports
type ListOptions struct {
	ChainID string
	Address string
	Success *bool
	Limit   int
	Cursor  string
}

// ListReportsResponse is the response for listing reports
type ListReportsResponse struct {
	Data       []ReportSummary `json:"data"`
	Pagination Pagination      `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// APIError represents an API error response
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Verify runs a verification and waits for its report.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*Report, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(req); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/verifications", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnprocessableEntity:
		var report Report
		if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
			return nil, fmt.Errorf("decoding report: %w", err)
		}
		if resp.StatusCode == http.StatusUnprocessableEntity {
			return &report, ErrNotVerified
		}
		return &report, nil
	}
	return nil, c.parseError(resp)
}

// ListReports lists stored reports, newest first
func (c *Client) ListReports(ctx context.Context, opts ListOptions) (*ListReportsResponse, error) {
	q := url.Values{}
	if opts.ChainID != "" {
		q.Set("chain_id", opts.ChainID)
	}
	if opts.Address != "" {
		q.Set("address", opts.Address)
	}
	if opts.Success != nil {
		q.Set("success", strconv.FormatBool(*opts.Success))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	path := "/api/v1/verifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListReportsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetReport gets a stored report by ID
func (c *Client) GetReport(ctx context.Context, id string) (*Report, error) {
	var resp Report
	if err := c.get(ctx, "/api/v1/verifications/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server health endpoint
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{StatusCode: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: resp.Status}
	}
	errResp.Error.StatusCode = resp.StatusCode
	return &errResp.Error
}
