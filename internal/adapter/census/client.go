// Package census is a client for the Census Bureau CPS basic monthly API.
package census

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/cps-immigrant-etl/internal/domain"
	"github.com/couchcryptid/cps-immigrant-etl/internal/observability"
)

// DefaultBaseURL is the root of the Census data API.
const DefaultBaseURL = "https://api.census.gov/data"

// ErrUnexpectedStatus matches every *StatusError.
var ErrUnexpectedStatus = errors.New("census API: unexpected status")

const maxRetryBackoff = 30 * time.Second

// StatusError is returned for a non-200 API response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("census API: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

func (e *StatusError) transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// surveyVariables are requested from the basic monthly endpoint, in order.
var surveyVariables = []string{domain.VarMetroCode, domain.VarWeight, domain.VarCountryCode}

// Options configures a Client.
type Options struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64 // requests per second

	MaxRetries   int
	RetryBackoff time.Duration
}

// Client fetches CPS survey rows and variable metadata from the Census API.
// Requests are throttled by a token bucket and issued one at a time by callers.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Census API client.
func NewClient(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	limit := rate.Limit(opts.RateLimit)
	if opts.RateLimit <= 0 {
		limit = rate.Inf
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: max(opts.MaxRetries, 0),
		backoff:    opts.RetryBackoff,
		metrics:    metrics,
		logger:     logger,
	}
}

// FetchSurveyRecords requests metro code, weight and mother's country of birth
// for every respondent in the given period. It never returns an error: any
// transport, status or decode failure yields an empty result carrying the cause.
func (c *Client) FetchSurveyRecords(ctx context.Context, year int, month string) domain.SurveyFetchResult {
	result := domain.SurveyFetchResult{Year: year, Month: month}

	u := fmt.Sprintf("%s/%d/cps/basic/%s?get=%s", c.baseURL, year, url.PathEscape(month), strings.Join(surveyVariables, ","))
	if c.apiKey != "" {
		u += "&key=" + url.QueryEscape(c.apiKey)
	}

	var raw [][]any
	if err := c.getJSON(ctx, u, "survey", &raw); err != nil {
		result.Err = fmt.Errorf("fetch survey %d/%s: %w", year, month, err)
		return result
	}

	rows, err := stringifyRows(raw)
	if err != nil {
		result.Err = fmt.Errorf("fetch survey %d/%s: %w", year, month, err)
		return result
	}
	result.Rows = rows
	return result
}

// FetchVariableMetadata returns the code-to-label mapping of a CPS variable
// for the given period.
func (c *Client) FetchVariableMetadata(ctx context.Context, year int, month, variable string) (map[string]string, error) {
	u := fmt.Sprintf("%s/%d/cps/basic/%s/variables/%s.json", c.baseURL, year, url.PathEscape(month), url.PathEscape(variable))
	if c.apiKey != "" {
		u += "?key=" + url.QueryEscape(c.apiKey)
	}

	var meta variableResponse
	if err := c.getJSON(ctx, u, "metadata", &meta); err != nil {
		return nil, fmt.Errorf("fetch %s metadata %d/%s: %w", variable, year, month, err)
	}
	if meta.Values.Item == nil {
		return nil, fmt.Errorf("fetch %s metadata %d/%s: response has no values.item", variable, year, month)
	}
	return meta.Values.Item, nil
}

// getJSON decodes the response at fullURL into v, retrying transport
// failures, 5xx and 429 responses up to maxRetries times.
func (c *Client) getJSON(ctx context.Context, fullURL, endpoint string, v any) error {
	backoff := c.backoff
	for attempt := 0; ; attempt++ {
		retry, err := c.doJSON(ctx, fullURL, endpoint, v)
		if err == nil || !retry || attempt >= c.maxRetries {
			return err
		}

		c.logger.Warn("census request failed, retrying",
			"endpoint", endpoint,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)
		if !sharedretry.SleepWithContext(ctx, backoff) {
			return fmt.Errorf("%w (retry aborted: %w)", err, ctx.Err())
		}
		backoff = sharedretry.NextBackoff(backoff, maxRetryBackoff)
	}
}

// doJSON performs a single request. retry reports whether the failure is
// worth another attempt.
func (c *Client) doJSON(ctx context.Context, fullURL, endpoint string, v any) (retry bool, err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.metrics.CensusRequests.WithLabelValues(endpoint, outcome).Inc()
		c.metrics.CensusRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}

	c.logger.Debug("census request", "endpoint", endpoint, "url", redactKey(fullURL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		se := &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		return se.transient(), se
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}

// stringifyRows normalizes the array-of-arrays payload. The API encodes every
// value as a string; numbers are accepted too and null becomes "".
func stringifyRows(raw [][]any) ([][]string, error) {
	rows := make([][]string, len(raw))
	for i, r := range raw {
		row := make([]string, len(r))
		for j, cell := range r {
			switch v := cell.(type) {
			case nil:
			case string:
				row[j] = v
			case float64:
				row[j] = strconv.FormatFloat(v, 'f', -1, 64)
			default:
				return nil, fmt.Errorf("row %d column %d: unexpected value %v", i, j, cell)
			}
		}
		rows[i] = row
	}
	return rows, nil
}

func redactKey(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := parsed.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}

// Census API response types.

type variableResponse struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Values struct {
		Item map[string]string `json:"item"`
	} `json:"values"`
}
