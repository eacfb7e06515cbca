package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gaia-project/gaia-core/internal/types"
)

// HTTPChecker performs HTTP-based health checks. Probes
// that time out are failures, 5xx are failures, 2xx/3xx are successes,
// and other 4xx count as successes (the endpoint is reachable).
type HTTPChecker struct {
	Target  string
	URL     string
	Method  string
	Headers map[string]string
	Client  *http.Client
}

// NewHTTPChecker creates an HTTP checker for target, dialing url.
func NewHTTPChecker(target, url string) *HTTPChecker {
	return &HTTPChecker{
		Target:  target,
		URL:     url,
		Method:  http.MethodGet,
		Headers: make(map[string]string),
		Client:  &http.Client{Timeout: 3 * time.Second},
	}
}

// WithTimeout sets the HTTP client's connect+request timeout.
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}

// Check performs the HTTP health check.
func (h *HTTPChecker) Check(ctx context.Context) types.HealthSnapshot {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return types.HealthSnapshot{
			Target:     h.Target,
			OK:         false,
			ErrorKind:  "request_build_failed",
			LatencyMS:  time.Since(start).Milliseconds(),
			ObservedAt: start,
		}
	}
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		kind := "connection_refused"
		if ctx.Err() != nil || isTimeout(err) {
			kind = "timeout"
		}
		return types.HealthSnapshot{
			Target:     h.Target,
			OK:         false,
			ErrorKind:  kind,
			LatencyMS:  time.Since(start).Milliseconds(),
			ObservedAt: start,
		}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode < 500

	return types.HealthSnapshot{
		Target:     h.Target,
		OK:         ok,
		HTTPCode:   resp.StatusCode,
		LatencyMS:  time.Since(start).Milliseconds(),
		ObservedAt: start,
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
