package influx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBody caps how much of an error response is kept for logging.
const maxResponseBody = 4 << 10

// Poster sends a request body to a URL and returns the response status and body.
type Poster interface {
	Post(ctx context.Context, url string, body []byte) (status int, respBody []byte, err error)
}

// HTTPPoster is a Poster backed by an *http.Client.
type HTTPPoster struct {
	Client *http.Client
}

// NewHTTPPoster returns a Poster whose requests time out after timeout.
func NewHTTPPoster(timeout time.Duration) *HTTPPoster {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPPoster{Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPPoster) Post(ctx context.Context, url string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("influx: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("influx: read response: %w", err)
	}
	// Drain the rest so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, respBody, nil
}
