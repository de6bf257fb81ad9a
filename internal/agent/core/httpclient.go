package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/articleflow/internal/retry"
	"golang.org/x/time/rate"
)

// HTTPStatusError is returned for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type HTTPClient struct {
	client  *http.Client
	retry   retry.Policy
	limiter *rate.Limiter
}

// NewHTTPClient builds a JSON client. rps <= 0 disables throttling.
func NewHTTPClient(timeout time.Duration, policy retry.Policy, rps float64) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	c := &HTTPClient{client: &http.Client{Timeout: timeout}, retry: policy}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return c
}

// DoJSON sends body as JSON and decodes a 2xx response into out. Transport
// errors, 429 and 5xx are retried with the client's policy; other statuses
// fail immediately.
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	return c.retry.Do(ctx, method+" "+url, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return retry.Permanent(err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if payload != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Permanent(fmt.Errorf("decode response: %w", err))
			}
			return nil
		}
		// read response body (best-effort) to include in error
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(b)}
		if statusErr.Retryable() {
			return statusErr
		}
		return retry.Permanent(statusErr)
	})
}
