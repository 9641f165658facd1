package roommap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultFetchTimeout is the per-request timeout for robot calls.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMaxRetries is the number of attempts per telemetry fetch.
	DefaultMaxRetries = 2

	defaultBaseBackoff = 100 * time.Millisecond

	// maxResponseBytes caps robot responses at 1 MB.
	maxResponseBytes = 1 << 20
)

// FetchOption configures the robot HTTP clients.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

func buildFetchConfig(opts []FetchOption) (fetchConfig, *http.Client) {
	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 1 {
		cfg.maxRetries = 1
	}
	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}
	return cfg, client
}

// TelemetryClient pulls robot state from GET {baseURL}/state.
type TelemetryClient struct {
	baseURL string
	cfg     fetchConfig
	client  *http.Client
}

// NewTelemetryClient returns a client for the robot at baseURL.
func NewTelemetryClient(baseURL string, opts ...FetchOption) *TelemetryClient {
	cfg, client := buildFetchConfig(opts)
	return &TelemetryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		cfg:     cfg,
		client:  client,
	}
}

// Fetch implements TelemetrySource. Transport failures are retried with
// exponential backoff; a malformed body is not.
func (t *TelemetryClient) Fetch(ctx context.Context) (Telemetry, error) {
	if t.baseURL == "" {
		return Telemetry{}, fmt.Errorf("fetch telemetry: robot URL is empty")
	}
	url := t.baseURL + "/state"

	var lastErr error
	for attempt := range t.cfg.maxRetries {
		if attempt > 0 {
			backoff := t.cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return Telemetry{}, fmt.Errorf("fetch telemetry: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, err := doGet(ctx, t.client, url)
		if err != nil {
			lastErr = err
			continue
		}

		var frame Telemetry
		if err := json.Unmarshal(body, &frame); err != nil {
			return Telemetry{}, fmt.Errorf("fetch telemetry: decode state: %w", err)
		}
		if frame.Status == "" {
			return Telemetry{}, fmt.Errorf("fetch telemetry: state has no status")
		}
		return frame, nil
	}

	return Telemetry{}, fmt.Errorf("fetch telemetry: all %d attempts failed: %w", t.cfg.maxRetries, lastErr)
}

// Status fetches only the robot status; used by the idle status watch.
func (t *TelemetryClient) Status(ctx context.Context) (RobotStatus, error) {
	frame, err := t.Fetch(ctx)
	if err != nil {
		return "", err
	}
	return frame.Status, nil
}

// doGet performs a single HTTP GET and returns the response body.
func doGet(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, &HTTPStatusError{URL: url, Code: resp.StatusCode}
	}
	return body, nil
}

// HTTPStatusError reports a non-200 response from the robot.
type HTTPStatusError struct {
	URL  string
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP GET %s: status %d", e.URL, e.Code)
}
