// Package opshook delivers operational alerts (crashes, shutdowns) to an
// external webhook. Delivery is best effort: a dead webhook must never
// take the match server down with it, so every path tolerates failure and
// a client built from an empty URL swallows all calls.
package opshook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Event is the JSON body posted to the webhook.
type Event struct {
	Kind    string    `json:"kind"`
	Origin  string    `json:"origin,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

const (
	KindCrash    = "crash"
	KindShutdown = "shutdown"
)

type Client struct {
	url      string
	http     *fasthttp.Client
	headers  map[string]string
	timeout  time.Duration
	retryMax int
	log      *zap.Logger
	now      func() time.Time
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithHeader adds a static header to every delivery, typically an auth token.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// NewClient builds a webhook client. An empty URL yields a disabled client
// whose Notify is a no-op.
func NewClient(url string, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		url:      strings.TrimSpace(url),
		http:     &fasthttp.Client{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, MaxConnsPerHost: 4},
		headers:  make(map[string]string),
		timeout:  5 * time.Second,
		retryMax: 3,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether a webhook URL is configured.
func (c *Client) Enabled() bool { return c != nil && c.url != "" }

// Notify posts the event. Errors are returned for the caller to log; the
// caller decides whether the failure matters.
func (c *Client) Notify(ctx context.Context, ev Event) error {
	if !c.Enabled() {
		return nil
	}
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return c.post(ctx, body)
}

// NotifyCrash reports a fatal panic with a bounded internal timeout. It is
// called on the way down, so it logs failures itself and never blocks for
// longer than the client timeout allows.
func (c *Client) NotifyCrash(origin string, message string) {
	if !c.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	ev := Event{Kind: KindCrash, Origin: origin, Message: message, At: c.now()}
	if err := c.Notify(ctx, ev); err != nil {
		c.log.Warn("opshook_delivery_failed", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

// NotifyShutdown reports an orderly shutdown.
func (c *Client) NotifyShutdown(ctx context.Context, reason string) {
	if !c.Enabled() {
		return
	}
	ev := Event{Kind: KindShutdown, Message: reason, At: c.now()}
	if err := c.Notify(ctx, ev); err != nil {
		c.log.Warn("opshook_delivery_failed", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.url)
	req.Header.SetContentType("application/json")
	for k, v := range c.headers {
		if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
			req.Header.Set(k, v)
		}
	}
	req.SetBody(body)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if status >= 200 && status < 300 {
				return nil
			}
			err = fmt.Errorf("webhook status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if !shouldRetryStatus(status) {
				return err
			}
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
