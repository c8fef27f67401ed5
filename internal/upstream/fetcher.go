package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/marcogenualdo/redsktop-proxy/internal/apperr"
)

const (
	DefaultMaxRetries  = 3
	baseBackoff        = 200 * time.Millisecond
	defaultRetryAfter  = 1 * time.Second
	maxResponseBytes   = 16 << 20
	unavailableMessage = "Upstream service unavailable"
)

var errRateLimited = errors.New("upstream rate limited")

// StatusError is returned for a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded %d for %s", e.StatusCode, e.URL)
}

type Options struct {
	UserAgent  string
	MaxRetries int
	Timeout    time.Duration
	Client     *http.Client
	Logger     *slog.Logger
}

type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries int
	logger     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewFetcher(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Fetcher{
		client:     client,
		userAgent:  opts.UserAgent,
		maxRetries: maxRetries,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Fetch GETs url and decodes the JSON body, keeping numbers as json.Number.
// It makes at most maxRetries+1 attempts. A 429 waits for Retry-After
// seconds instead of the exponential schedule. Any final failure is an
// apperr Upstream error.
func (f *Fetcher) Fetch(ctx context.Context, url string) (any, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		data, retryAfter, err := f.do(ctx, url)
		if err == nil {
			return data, nil
		}

		if ctx.Err() != nil {
			return nil, apperr.Upstream(unavailableMessage, ctx.Err())
		}

		if errors.Is(err, errRateLimited) {
			lastErr = err
			f.logger.Warn("upstream rate limited",
				"url", url,
				"attempt", attempt,
				"retry_after", retryAfter.String(),
			)
			if err := f.sleep(ctx, retryAfter); err != nil {
				return nil, apperr.Upstream(unavailableMessage, err)
			}
			continue
		}

		lastErr = err
		if attempt == f.maxRetries {
			break
		}

		backoff := baseBackoff * time.Duration(1<<attempt)
		f.logger.Debug("upstream attempt failed",
			"url", url,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", err,
		)
		if err := f.sleep(ctx, backoff); err != nil {
			return nil, apperr.Upstream(unavailableMessage, err)
		}
	}

	if lastErr == nil {
		lastErr = errors.New("upstream fetch failed")
	}
	return nil, apperr.Upstream(unavailableMessage, lastErr)
}

func (f *Fetcher) do(ctx context.Context, url string) (any, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), errRateLimited
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, 0, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read body: %w", err)
	}

	data, err := DecodeJSON(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode body: %w", err)
	}

	return data, 0, nil
}

// DecodeJSON decodes a single JSON document, keeping numbers verbatim.
func DecodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

func parseRetryAfter(v string) time.Duration {
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
