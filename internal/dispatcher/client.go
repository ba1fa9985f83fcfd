// Package dispatcher makes the outbound webhook POST and turns whatever
// happened into a status code and a human-readable detail string.
package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/jmehdipour/webhook-delivery/internal/metrics"
	"github.com/jmehdipour/webhook-delivery/internal/signature"
)

const (
	HeaderWebhookID = "X-Webhook-Id"
	HeaderAttempt   = "X-Webhook-Attempt"
	HeaderEvent     = "X-Webhook-Event"

	maxBodyChars = 500
	maxBodyRead  = 4 * maxBodyChars
)

type Request struct {
	URL       string
	Payload   []byte
	Secret    string
	WebhookID string
	Attempt   int
	EventType string
}

// Result of one POST. StatusCode is 0 when no response arrived.
type Result struct {
	StatusCode int
	Detail     string
	Duration   time.Duration
}

func (r Result) Succeeded() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

type Client struct {
	http      *http.Client
	timeout   time.Duration
	userAgent string
}

func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = "webhook-delivery"
	}
	return &Client{
		http:      &http.Client{Timeout: timeout},
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// Deliver never returns an error: every failure mode is folded into Result.
func (c *Client) Deliver(ctx context.Context, r Request) Result {
	start := time.Now()
	res := c.deliver(ctx, r)
	res.Duration = time.Since(start)
	metrics.DeliveryDuration.Observe(res.Duration.Seconds())
	return res
}

func (c *Client) deliver(ctx context.Context, r Request) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Payload))
	if err != nil {
		return Result{Detail: requestError(err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderWebhookID, r.WebhookID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(r.Attempt))
	if r.EventType != "" {
		req.Header.Set(HeaderEvent, r.EventType)
	}
	if r.Secret != "" {
		req.Header.Set(signature.Header, signature.Sign(r.Secret, r.Payload))
	}

	res, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{Detail: fmt.Sprintf("HTTP Timeout after %s seconds.",
				strconv.FormatFloat(c.timeout.Seconds(), 'f', -1, 64))}
		}
		return Result{Detail: requestError(err)}
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, maxBodyRead))
	_, _ = io.Copy(io.Discard, res.Body)

	out := Result{StatusCode: res.StatusCode}
	if !out.Succeeded() {
		out.Detail = statusDetail(res.StatusCode, body)
	}
	return out
}

func statusDetail(code int, body []byte) string {
	detail := fmt.Sprintf("HTTP Status Code: %d", code)
	if text := truncate(body, maxBodyChars); text != "" {
		detail += ", Response Body: " + text
	}
	return detail
}

// truncate keeps the first n characters, dropping a rune cut by the read
// limit.
func truncate(b []byte, n int) string {
	out := make([]rune, 0, n)
	for len(b) > 0 && len(out) < n {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 && !utf8.FullRune(b) {
			break
		}
		out = append(out, r)
		b = b[size:]
	}
	return string(out)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// requestError renders "Request Error: <kind> - <message>" where kind is the
// innermost transport error type.
func requestError(err error) string {
	cause := err
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		cause = ue.Err
	}
	kind := reflect.TypeOf(cause).String()
	return fmt.Sprintf("Request Error: %s - %s", kind, cause.Error())
}
