package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBytes = 8 << 20

// Client sends one enveloped POST to a named endpoint. It never retries.
type Client interface {
	Post(ctx context.Context, endpoint string, body any) (Response, error)
}

// Options tunes the HTTP client.
type Options struct {
	Timeout time.Duration
	// BreakerFailures opens the breaker after this many consecutive
	// failures. Zero disables tripping.
	BreakerFailures  uint32
	BreakerOpenDelay time.Duration
	HTTPClient       *http.Client
	Logger           logrus.FieldLogger
}

// HTTPClient talks to the API gateway over HTTP/JSON.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
	log     logrus.FieldLogger
}

// rawResponse is what the breaker-protected call hands back.
type rawResponse struct {
	status int
	body   []byte
}

// NewHTTPClient builds a client rooted at baseURL.
func NewHTTPClient(baseURL string, opts Options) *HTTPClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tracer:  otel.Tracer("translate-rx/internal/transport"),
		log:     log,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "backend",
		Timeout: opts.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return opts.BreakerFailures > 0 && counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	})
	return c
}

// Post wraps body in the request envelope and decodes the response
// envelope. HTTP 5xx, 408, 429, connection failures and an open breaker
// surface as *Error; any other body without an envelope, such as a
// gateway 404 page, wraps ErrMalformedResponse.
func (c *HTTPClient) Post(ctx context.Context, endpoint string, body any) (Response, error) {
	url := c.resolve(endpoint)
	ctx, span := c.tracer.Start(ctx, "transport.Post",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", url)),
	)
	defer span.End()

	payload, err := json.Marshal(Request{HTTPMethod: http.MethodPost, Body: body})
	if err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, url, payload)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var transportErr *Error
		if errors.As(err, &transportErr) {
			return Response{}, transportErr
		}
		return Response{}, &Error{Endpoint: url, Err: err}
	}

	raw := out.(rawResponse)
	span.SetAttributes(attribute.Int("http.status_code", raw.status))

	var resp Response
	if err := json.Unmarshal(raw.body, &resp); err != nil {
		if retryableStatus(raw.status) {
			return Response{}, &Error{Endpoint: url, StatusCode: raw.status, Err: errors.New("response has no envelope")}
		}
		span.SetStatus(codes.Error, "malformed response")
		return Response{}, fmt.Errorf("%w: status %d: %v", ErrMalformedResponse, raw.status, err)
	}
	span.SetAttributes(attribute.Int("envelope.status_code", resp.StatusCode))
	return resp, nil
}

// retryableStatus reports client-side statuses worth retrying.
func retryableStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

func (c *HTTPClient) do(ctx context.Context, url string, payload []byte) (rawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return rawResponse{}, &Error{Endpoint: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	res, err := c.http.Do(req)
	if err != nil {
		return rawResponse{}, &Error{Endpoint: url, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return rawResponse{}, &Error{Endpoint: url, StatusCode: res.StatusCode, Err: err}
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return rawResponse{}, &Error{
			Endpoint:   url,
			StatusCode: res.StatusCode,
			Err:        fmt.Errorf("server error: %s", http.StatusText(res.StatusCode)),
		}
	}

	return rawResponse{status: res.StatusCode, body: body}, nil
}

// resolve joins relative endpoint names onto the base URL.
func (c *HTTPClient) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}
