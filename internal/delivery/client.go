package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "webhook-gateway/1.0"

	// bytes of the response body read before the connection is released
	maxResponseDrain = 64 << 10
)

// Request is one signed POST to a webhook target.
type Request struct {
	URL        string
	Secret     string
	DeliveryID string
	EventID    string
	EventType  string
	Body       []byte
}

// Response describes what the target answered. StatusCode is zero when no
// response was received.
type Response struct {
	StatusCode int
	Latency    time.Duration
}

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Client posts signed envelopes. It never retries and never follows redirects.
type Client struct {
	client    *http.Client
	userAgent string
}

func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		userAgent: userAgent,
	}
}

// Send performs one attempt. A nil error means the target answered 2xx.
func (c *Client) Send(ctx context.Context, r Request) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return Response{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(SignatureHeader, Sign(r.Secret, r.Body))
	req.Header.Set("X-Webhook-Event", r.EventType)
	req.Header.Set("X-Webhook-Event-Id", r.EventID)
	req.Header.Set("X-Webhook-Delivery", r.DeliveryID)

	start := time.Now()
	res, err := c.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Response{Latency: latency}, describe(err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseDrain))

	out := Response{StatusCode: res.StatusCode, Latency: latency}
	if res.StatusCode/100 != 2 {
		return out, &StatusError{StatusCode: res.StatusCode}
	}
	return out, nil
}

// describe strips the method and URL that net/http prepends to transport errors.
func describe(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if uerr.Timeout() {
			return fmt.Errorf("timeout: %w", uerr.Err)
		}
		return uerr.Err
	}
	return err
}

// TargetKey identifies the breaker bucket for a URL.
func TargetKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}
