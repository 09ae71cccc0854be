package fetch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apartment_finder/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.FetchConfig {
	return config.FetchConfig{
		Timeout:    5 * time.Second,
		UserAgents: []string{"finder-test/1.0"},
		Retry: config.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	}
}

func TestHTTP_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "finder-test/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	h := NewHTTP(testConfig(), testLogger())
	defer h.Close()

	body, err := h.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html><body>ok</body></html>", body)
}

func TestHTTP_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("third time"))
	}))
	defer srv.Close()

	body, err := NewHTTP(testConfig(), testLogger()).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "third time", body)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTP_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewHTTP(testConfig(), testLogger()).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "unexpected status: 403")
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTP_CalculateBackoff(t *testing.T) {
	h := &HTTP{initialBackoff: time.Second, maxBackoff: 5 * time.Second}

	assert.Equal(t, time.Second, h.calculateBackoff(1))
	assert.Equal(t, 2*time.Second, h.calculateBackoff(2))
	assert.Equal(t, 4*time.Second, h.calculateBackoff(3))
	assert.Equal(t, 5*time.Second, h.calculateBackoff(4))
}

func TestPickUserAgent(t *testing.T) {
	assert.Empty(t, pickUserAgent(nil))
	assert.Equal(t, "only", pickUserAgent([]string{"only"}))

	agents := []string{"a", "b", "c"}
	for i := 0; i < 20; i++ {
		assert.Contains(t, agents, pickUserAgent(agents))
	}
}
