package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcogenualdo/redsktop-proxy/internal/apperr"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestFetcher(t *testing.T, maxRetries int, handler http.HandlerFunc) (*Fetcher, *sleepRecorder, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := NewFetcher(Options{UserAgent: "test-agent/1.0", MaxRetries: maxRetries, Timeout: 5 * time.Second})
	rec := &sleepRecorder{}
	f.sleep = rec.sleep
	return f, rec, srv.URL
}

func TestFetchSendsHeadersAndDecodes(t *testing.T) {
	var gotHeaders http.Header
	f, rec, base := newTestFetcher(t, 3, func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"children":[],"dist":25}}`))
	})

	got, err := f.Fetch(context.Background(), base+"/r/test.json")
	require.NoError(t, err)
	require.Empty(t, rec.delays)
	require.Equal(t, "test-agent/1.0", gotHeaders.Get("User-Agent"))
	require.Equal(t, "application/json", gotHeaders.Get("Accept"))

	data := got.(map[string]any)["data"].(map[string]any)
	require.Equal(t, json.Number("25"), data["dist"])
}

func TestFetchRetriesWithExponentialBackoff(t *testing.T) {
	var calls atomic.Int32
	f, rec, base := newTestFetcher(t, 3, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := f.Fetch(context.Background(), base)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, rec.delays)
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	f, rec, base := newTestFetcher(t, 3, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := f.Fetch(context.Background(), base)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindUpstream))

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)

	require.Equal(t, int32(4), calls.Load())
	require.Equal(t, []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}, rec.delays)
}

func TestFetchHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	f, rec, base := newTestFetcher(t, 3, func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.Header().Set("Retry-After", "soon")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	})

	_, err := f.Fetch(context.Background(), base)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{2 * time.Second, time.Second}, rec.delays)
}

func TestFetchRetryAfterRealDelay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(Options{UserAgent: "test", MaxRetries: 3, Timeout: 5 * time.Second})

	start := time.Now()
	_, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestFetchRateLimitedOnEveryAttempt(t *testing.T) {
	f, rec, base := newTestFetcher(t, 2, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := f.Fetch(context.Background(), base)
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindUpstream))
	require.Len(t, rec.delays, 3)
}

func TestFetchTransportErrorIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	f := NewFetcher(Options{UserAgent: "test", MaxRetries: 1, Timeout: time.Second})
	rec := &sleepRecorder{}
	f.sleep = rec.sleep

	_, err := f.Fetch(context.Background(), base)
	require.Error(t, err)
	require.Equal(t, "Upstream service unavailable", apperr.Message(err))
	require.Equal(t, []time.Duration{200 * time.Millisecond}, rec.delays)
}

func TestFetchInvalidJSONIsRetried(t *testing.T) {
	var calls atomic.Int32
	f, _, base := newTestFetcher(t, 1, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`<html>`))
	})

	_, err := f.Fetch(context.Background(), base)
	require.Error(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestFetchStopsOnCancelledContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(Options{UserAgent: "test", MaxRetries: 3, Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	f.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int32(1), calls.Load())
}

func TestEndpoints(t *testing.T) {
	e := Endpoints{BaseURL: "https://www.reddit.com/"}

	require.Equal(t, "https://www.reddit.com/r/golang.json", e.Listing("golang", ""))
	require.Equal(t, "https://www.reddit.com/r/golang.json?after=t3_x", e.Listing("golang", "t3_x"))
	require.Equal(t, "https://www.reddit.com/comments/abc.json", e.Post("abc"))
	require.Equal(t, "https://www.reddit.com/search.json?q=go+lang%26more", e.Search("go lang&more"))
	require.Equal(t, "https://www.reddit.com/r/a%2Fb.json", e.Listing("a/b", ""))
}
