package labcom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://backend.labcom.cloud/graphql"

	defaultRequestTimeout    = 30 * time.Second
	defaultMinRequestSpacing = 60 * time.Second
	defaultRateLimitCooldown = 60 * time.Second
	defaultMaxAttempts       = 3
	initialBackoff           = time.Second
)

var (
	// ErrInvalidToken marks a 401/403 from upstream. Permanent for the
	// current credential; never retried.
	ErrInvalidToken = errors.New("labcom: invalid api token")

	// ErrRateLimited marks a 429. Retried after the configured cooldown
	// rather than the generic backoff schedule.
	ErrRateLimited = errors.New("labcom: rate limited")

	// ErrProtocol marks a well-formed 200 response carrying a GraphQL error
	// list. The server answered definitively, so it is not retried.
	ErrProtocol = errors.New("labcom: graphql error response")
)

// Options parameterise the LabCom client.
type Options struct {
	BaseURL           string
	Token             string
	RequestTimeout    time.Duration
	MinRequestSpacing time.Duration
	RateLimitCooldown time.Duration
	MaxAttempts       int
	UserAgent         string
}

// Client issues authenticated GraphQL queries against the LabCom Cloud API.
// All calls, across every device's refresh, are serialised through a single
// request gate and spaced by MinRequestSpacing so throttling accounting holds
// no matter how many coordinators share the client.
type Client struct {
	opts   Options
	logger zerolog.Logger
	client *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

// QueryOptions tune a single call.
type QueryOptions struct {
	// BypassThrottle skips the inter-request spacing wait. Used for the
	// latency-sensitive ActiveChlorine calculation.
	BypassThrottle bool
}

// NewClient constructs a LabCom client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MinRequestSpacing < 0 {
		opts.MinRequestSpacing = 0
	}
	if opts.RateLimitCooldown <= 0 {
		opts.RateLimitCooldown = defaultRateLimitCooldown
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "labcom_client").Logger(),
		client: &http.Client{Timeout: opts.RequestTimeout},
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Query executes a GraphQL query with throttling and retry. It returns the
// raw `data` payload on success. A non-nil error means no data was obtained
// this call; callers must not conflate that with an empty successful payload.
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, qopts QueryOptions) (json.RawMessage, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		// The throttle spaces logical queries, not attempts; retries are
		// already spaced by the backoff or cooldown sleep.
		data, err := c.attempt(ctx, body, qopts.BypassThrottle || attempt > 1)
		if err == nil {
			return data, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrProtocol):
			// The server answered definitively; retrying cannot help.
			return nil, err
		case errors.Is(err, ErrRateLimited):
			if attempt == c.opts.MaxAttempts {
				break
			}
			c.logger.Warn().
				Int("attempt", attempt).
				Dur("cooldown", c.opts.RateLimitCooldown).
				Msg("rate limited, waiting before retry")
			if err := sleepCtx(ctx, c.opts.RateLimitCooldown); err != nil {
				return nil, err
			}
		default:
			if attempt == c.opts.MaxAttempts {
				break
			}
			c.logger.Warn().Err(err).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("request failed, retrying")
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
		}

		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("labcom: %d attempts exhausted: %w", c.opts.MaxAttempts, lastErr)
}

// attempt performs one upstream call under the request gate. The gate covers
// exactly the throttle check and the network round trip; retry sleeps happen
// outside it so a cancelled caller can never starve subsequent calls. Only a
// query's first attempt pays the throttle wait.
func (c *Client) attempt(ctx context.Context, body []byte, bypassThrottle bool) (json.RawMessage, error) {
	for {
		c.mu.Lock()
		wait := c.throttleWait(bypassThrottle)
		if wait <= 0 {
			break
		}
		c.mu.Unlock()
		c.logger.Debug().Dur("wait", wait).Msg("throttling upstream request")
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
		// Re-check: another caller may have completed a request meanwhile.
	}
	defer c.mu.Unlock()

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	data, err := c.post(attemptCtx, body)
	// Spacing is measured from completions, not submissions, so a queued
	// burst spreads out correctly.
	c.lastRequest = time.Now()
	return data, err
}

func (c *Client) throttleWait(bypass bool) time.Duration {
	if bypass || c.lastRequest.IsZero() {
		return 0
	}
	return c.opts.MinRequestSpacing - time.Since(c.lastRequest)
}

func (c *Client) post(ctx context.Context, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "poolwatcher/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// Fall through to payload inspection.
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrInvalidToken
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var envelope graphqlEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			messages = append(messages, e.Message)
		}
		c.logger.Error().Strs("errors", messages).Msg("graphql error response")
		return nil, fmt.Errorf("%w: %s", ErrProtocol, strings.Join(messages, "; "))
	}

	return envelope.Data, nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr struct {
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("labcom api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Description != "" {
			return fmt.Errorf("labcom api error (%d): %s", status, apiErr.Description)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("labcom api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("labcom api error (%d)", status)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
