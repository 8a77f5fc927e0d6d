package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultRetryAttempts   = 3
	defaultRetryDelay      = 200 * time.Millisecond
	defaultFailureRatio    = 0.6
	defaultMinimumRequests = 5
	maxErrorBody           = 4096
)

var (
	// ErrServerError is returned when the host application answers with a 5xx status.
	ErrServerError = errors.New("host application server error")

	// ErrUnreachable is returned when the request could not be sent or answered.
	ErrUnreachable = errors.New("host application unreachable")

	// ErrUnexpectedStatus is returned for 4xx answers the adapter has no meaning for.
	ErrUnexpectedStatus = errors.New("unexpected status from host application")
)

// Config configures the connection to the host application's internal API.
type Config struct {
	BaseURL string
	Token   string // Sent as a bearer token when set
	Timeout time.Duration

	// RetryAttempts bounds attempts for idempotent GET requests. Writes are sent once.
	RetryAttempts int
	RetryDelay    time.Duration // A negative delay retries immediately

	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
	// BreakerInterval is the cyclic period the closed breaker clears its counts after.
	BreakerInterval time.Duration

	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultRetryAttempts
	}

	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	} else if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}

	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}

	if c.BreakerInterval <= 0 {
		c.BreakerInterval = time.Minute
	}

	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}

	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	return c
}

type response struct {
	status int
	body   []byte
}

// client sends JSON requests through a circuit breaker. Transport failures and 5xx answers count
// against the breaker; any other status is handed back to the caller.
type client struct {
	config  Config
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func newClient(logger *slog.Logger, config Config) *client {
	c := &client{config: config, logger: logger}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "caseflow-host",
		MaxRequests: 1,
		Interval:    config.BreakerInterval,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)

			return counts.Requests >= defaultMinimumRequests && ratio >= defaultFailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

func (c *client) get(ctx context.Context, path string) (*response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 1 {
			c.logger.DebugContext(ctx, "retrying host request", "path", path, "attempt", attempt, "error", lastErr)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		resp, err := c.do(ctx, http.MethodGet, path, nil)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

func (c *client) post(ctx context.Context, path string, body any) (*response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	return c.do(ctx, http.MethodPost, path, payload)
}

func (c *client) do(ctx context.Context, method, path string, payload []byte) (*response, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create http request: %w", err)
		}

		req.Header.Set("Accept", "application/json")

		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		if c.config.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.config.Token)
		}

		resp, err := c.config.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
		}

		defer func() {
			if err := resp.Body.Close(); err != nil {
				c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
			}
		}()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: %s %s returned %d: %s",
				ErrServerError, method, path, resp.StatusCode, truncate(data))
		}

		return &response{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*response), nil
}

// decode unmarshals a 2xx body into out and turns other statuses into ErrUnexpectedStatus.
func (r *response) decode(out any) error {
	if r.status < 200 || r.status > 299 {
		return fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, r.status, truncate(r.body))
	}

	if out == nil || len(r.body) == 0 {
		return nil
	}

	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}

	return nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	return strings.TrimSpace(string(body))
}
