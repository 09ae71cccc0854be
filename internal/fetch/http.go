package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"apartment_finder/internal/config"
)

const maxBodyBytes = 16 << 20

// HTTP fetches search pages without a browser. It only sees server-rendered
// markup, which is enough for saved copies and cooperative mirrors.
type HTTP struct {
	httpClient     *http.Client
	userAgents     []string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

func NewHTTP(cfg config.FetchConfig, logger *slog.Logger) *HTTP {
	return &HTTP{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		userAgents:     cfg.UserAgents,
		maxAttempts:    max(cfg.Retry.MaxAttempts, 1),
		initialBackoff: cfg.Retry.InitialBackoff,
		maxBackoff:     cfg.Retry.MaxBackoff,
		logger:         logger.With("component", "http_fetcher"),
	}
}

func (h *HTTP) Fetch(ctx context.Context, url string) (string, error) {
	var body string
	var err error

	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		body, err = h.doRequest(ctx, url)
		if err == nil {
			return body, nil
		}

		if attempt == h.maxAttempts {
			break
		}

		backoff := h.calculateBackoff(attempt)
		h.logger.Warn("request failed, retrying",
			"url", url,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	return "", fmt.Errorf("after %d attempts: %w", h.maxAttempts, err)
}

func (h *HTTP) doRequest(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if ua := pickUserAgent(h.userAgents); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	return string(data), nil
}

func (h *HTTP) calculateBackoff(attempt int) time.Duration {
	backoff := h.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > h.maxBackoff {
		backoff = h.maxBackoff
	}
	return backoff
}

func (h *HTTP) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}
