// Package gateway is the REST client of the checkout backend. It submits
// checkouts and answers settlement status polls.
package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kasir-checkout/internal/domain/checkout"
	"github.com/xenking/kasir-checkout/internal/domain/settlement"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Config configures a Client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// Transport is wrapped with OpenTelemetry instrumentation. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client talks to the checkout backend.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
	lg     *zap.Logger
}

var (
	_ checkout.Submitter       = (*Client)(nil)
	_ settlement.StatusQuerier = (*Client)(nil)
)

// New creates a Client for cfg.URL.
func New(cfg Config, lg *zap.Logger) (*Client, error) {
	raw := strings.TrimRight(cfg.URL, "/")
	if raw == "" {
		return nil, errors.New("gateway url is empty")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse gateway url")
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	rt := cfg.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	var otelOpts []otelhttp.Option
	if cfg.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   base,
		apiKey: cfg.APIKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(rt, otelOpts...),
		},
		lg: lg,
	}, nil
}

// Submit posts a checkout. A response with success=false or a non-2xx
// status is returned as *checkout.RemoteError.
func (c *Client) Submit(ctx context.Context, req checkout.Request) (*checkout.Response, error) {
	body := encodeCheckout(req)

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/checkout", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, remoteError(resp.StatusCode, data)
	}

	out, err := decodeCheckout(data)
	if err != nil {
		return nil, errors.Wrap(err, "decode checkout response")
	}
	if !out.success {
		return nil, &checkout.RemoteError{StatusCode: resp.StatusCode, Message: out.message}
	}
	return &checkout.Response{OrderID: out.orderID, QRCode: out.qrCode}, nil
}

// Status queries the payment status of orderID. A 429 answer is returned as
// *settlement.RetryAfterError.
func (c *Client) Status(ctx context.Context, orderID string) (settlement.Status, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/api/payments/"+url.PathEscape(orderID)+"/status", nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &settlement.RetryAfterError{After: retryAfter(resp.Header.Get("Retry-After"))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", remoteError(resp.StatusCode, data)
	}

	status, err := decodeStatus(data)
	if err != nil {
		return "", errors.Wrap(err, "decode status response")
	}
	return status, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

func remoteError(code int, body []byte) error {
	msg := decodeMessage(body)
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &checkout.RemoteError{StatusCode: code, Message: msg}
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date. Unparseable values yield zero.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
