package vehicledata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the production vehicledata API.
const DefaultBaseURL = "https://api.mercedes-benz.com/vehicledata/v2"

const requestTimeout = 30 * time.Second

// ErrQuotaExhausted reports that the vendor answered 429 for a container.
// The per-container quota resets on its own; callers skip and retry on a
// later scrape.
var ErrQuotaExhausted = errors.New("vehicle api quota exhausted")

// TokenProvider supplies access tokens for vehicle API calls. Invalidate
// feeds back a token the vendor rejected even though it still looked valid
// locally, so the next Token call refreshes instead of serving it again.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate(accessToken string)
}

// Measurement is one resource reading from a container response.
type Measurement struct {
	// Resource is the vendor's key, matching Resource.Name in the catalog.
	Resource string
	// Value is the reading as the vendor serialized it. A catalog
	// ValueMapper turns it into the exported number.
	Value string
	// Timestamp is when the vehicle measured the value.
	Timestamp time.Time
}

// Client fetches container readings from the vehicledata API.
type Client struct {
	baseURL string
	tokens  TokenProvider
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API host, for tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.http = httpClient }
}

// NewClient creates a Client drawing bearer tokens from tokens.
func NewClient(tokens TokenProvider, opts ...ClientOption) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("missing token provider")
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchContainer reads one container for the given vehicle. A 204 answer
// returns no measurements and no error: the vehicle reported nothing new. A
// 429 answer returns ErrQuotaExhausted.
//
// A 401 for a token that still looked valid locally (clock skew, early
// revocation) invalidates the token and retries exactly once with a fresh
// one; a second 401 is surfaced as an error.
func (c *Client) FetchContainer(ctx context.Context, vin, container string) ([]Measurement, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring access token: %w", err)
	}

	resp, err := c.get(ctx, token, vin, container)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		c.tokens.Invalidate(token)
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("reacquiring access token: %w", err)
		}
		resp, err = c.get(ctx, token, vin, container)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeMeasurements(resp.Body, container)
	case http.StatusNoContent:
		return nil, nil
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("container %s: %w", container, ErrQuotaExhausted)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("container %s: unexpected status %s: %s", container, resp.Status, body)
	}
}

func (c *Client) get(ctx context.Context, token, vin, container string) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s/vehicles/%s/containers/%s",
		c.baseURL, url.PathEscape(vin), url.PathEscape(container))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for container %s: %w", container, err)
	}
	req.Header.Set("Accept", "application/json;charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting container %s: %w", container, err)
	}
	return resp, nil
}

// decodeMeasurements parses the vendor's response shape: an array of
// single-key objects, the key naming the resource.
//
//	[{"soc": {"value": "80", "timestamp": 1668432180000}}, ...]
func decodeMeasurements(r io.Reader, container string) ([]Measurement, error) {
	var items []map[string]struct {
		Value     string `json:"value"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding container %s response: %w", container, err)
	}

	out := make([]Measurement, 0, len(items))
	for _, item := range items {
		for name, v := range item {
			out = append(out, Measurement{
				Resource:  name,
				Value:     v.Value,
				Timestamp: time.UnixMilli(v.Timestamp),
			})
		}
	}
	return out, nil
}

// discard releases a response we will not read, keeping the underlying
// connection reusable.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
