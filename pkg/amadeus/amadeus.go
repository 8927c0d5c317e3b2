package amadeus

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://test.api.amadeus.com"

	tokenEndpoint  = "/v1/security/oauth2/token"
	offersEndpoint = "/v2/shopping/flight-offers"
	datesEndpoint  = "/v1/shopping/flight-dates"

	// 3 attempts total on HTTP 429, then the query is reported as
	// rate-limit exceeded and the run moves on.
	rateLimitRetries = 2

	defaultAdults     = 1
	defaultMaxResults = 10

	// The Amadeus test tier allows 10 transactions per second.
	requestsPerSecond = 10
)

// Client talks to the Amadeus flight-offer endpoints. It holds the token
// source and paces outgoing requests; it never writes files.
type Client struct {
	baseURL    string
	http       *retryablehttp.Client
	tokens     *TokenSource
	limiter    *rate.Limiter
	adults     int
	maxResults int
	maxPrice   float64
}

type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Adults       int
	MaxResults   int
	MaxPrice     float64 // 0 means no cap
	Proxy        string
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Adults == 0 {
		opts.Adults = defaultAdults
	}
	if opts.MaxResults == 0 {
		opts.MaxResults = defaultMaxResults
	}

	httpClient := newRetryClient()
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		httpClient.HTTPClient.Transport = &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		baseURL:    opts.BaseURL,
		http:       httpClient,
		tokens:     NewTokenSource(opts.BaseURL, opts.ClientID, opts.ClientSecret, httpClient),
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		adults:     opts.Adults,
		maxResults: opts.MaxResults,
		maxPrice:   opts.MaxPrice,
	}, nil
}

// newRetryClient builds an HTTP client that retries rate-limit answers with
// exponential backoff and nothing else. Transport failures and other remote
// errors surface immediately.
func newRetryClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = log.New(io.Discard, "", 0)
	client.RetryMax = rateLimitRetries
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 8 * time.Second
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return false, err
		}
		return resp.StatusCode == http.StatusTooManyRequests, nil
	}
	// Hand the last 429 back instead of the default "giving up" error, so
	// the caller can classify it.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}

// fetch runs one rate-paced, bearer-authenticated GET. A 401 triggers
// exactly one token refresh and retry; failing again is fatal. All other
// failures come back as the taxonomy errors from errors.go.
func (c *Client) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	status, body, err := c.get(ctx, path, params, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.tokens.Invalidate()
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		status, body, err = c.get(ctx, path, params, token)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &AuthError{Err: fmt.Errorf("search endpoint rejected a freshly issued token")}
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case status < 200 || status > 299:
		return nil, &RemoteError{StatusCode: status}
	}

	return body, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, token string) (int, []byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &NetworkError{Err: err}
	}
	return resp.StatusCode, body, nil
}
