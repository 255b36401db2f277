// Package etherscan verifies contracts through the Etherscan v2 API by
// submitting flattened source and polling the verification job.
package etherscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pendergraft/contraverify/internal/retry"
	"github.com/pendergraft/contraverify/internal/verification/explorer"
)

// DefaultAPIURL is the Etherscan v2 multichain endpoint.
const DefaultAPIURL = "https://api.etherscan.io/v2/api"

// ErrInvalidResponse is returned when the API answers with something that is not JSON.
var ErrInvalidResponse = errors.New("etherscan responded with invalid JSON")

// Response is the envelope of every Etherscan API answer.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// OK reports whether the API accepted the request.
func (r Response) OK() bool {
	return r.Status == "1" && r.Message == "OK"
}

// Client talks to the Etherscan API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	policy     retry.Policy
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit limits outgoing requests to rps per second. Zero disables it.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetryPolicy sets the policy applied to every request.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultAPIURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// free tier allows 5 calls per second
		limiter: rate.NewLimiter(rate.Limit(5), 1),
		policy:  retry.DefaultPolicy(),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.policy.Retryable == nil {
		c.policy.Retryable = explorer.IsRetryable
	}

	return c
}

// Submit sends a verifysourcecode request.
func (c *Client) Submit(ctx context.Context, chainID string, form url.Values) (Response, error) {
	form = cloneValues(form)
	form.Set("module", "contract")
	form.Set("action", "verifysourcecode")
	return c.post(ctx, chainID, form)
}

// CheckStatus asks for the state of a submitted verification job.
func (c *Client) CheckStatus(ctx context.Context, chainID, guid string) (Response, error) {
	form := url.Values{}
	form.Set("module", "contract")
	form.Set("action", "checkverifystatus")
	form.Set("guid", guid)
	return c.post(ctx, chainID, form)
}

func (c *Client) post(ctx context.Context, chainID string, form url.Values) (Response, error) {
	form.Set("apikey", c.apiKey)
	endpoint := c.baseURL + "?" + url.Values{"chainid": {chainID}}.Encode()
	body := form.Encode()

	return retry.Do(ctx, c.policy, c.logger, func(ctx context.Context) (Response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Response{}, retry.NonRetryable(err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
		if err != nil {
			return Response{}, retry.NonRetryable(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", explorer.UserAgent)

		return c.do(req)
	})
}

func (c *Client) do(req *http.Request) (Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, err
	}

	if resp.StatusCode >= 400 {
		return Response{}, &explorer.HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		c.logger.Debug("unparseable response", "body", string(data))
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return out, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
