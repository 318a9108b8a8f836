// Package httpclient implements the ProxyClient port on net/http.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/proxy"
)

// Config tunes the forwarder.
type Config struct {
	// RequestTimeout bounds each upstream round trip.
	RequestTimeout time.Duration
	// MaxResponseBytes caps how much of an upstream body is read.
	// Zero means no cap.
	MaxResponseBytes int64
	// MaxIdleConnsPerHost tunes the connection pool toward backends.
	MaxIdleConnsPerHost int
}

// SetDefaults fills zero-valued fields.
func (c *Config) SetDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxIdleConnsPerHost == 0 {
		c.MaxIdleConnsPerHost = 32
	}
}

// Forwarder sends prepared requests to backends. Redirects are not
// followed; the client sees them verbatim.
type Forwarder struct {
	client *http.Client
	cfg    Config
	tracer trace.Tracer
	logger *slog.Logger
}

var _ proxy.ProxyClient = (*Forwarder)(nil)

// NewForwarder creates a Forwarder.
func NewForwarder(cfg Config, logger *slog.Logger) *Forwarder {
	cfg.SetDefaults()
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	return &Forwarder{
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:    cfg,
		tracer: otel.Tracer("aussiegate/forwarder"),
		logger: logger.With("component", "forwarder"),
	}
}

// Forward executes the prepared request. Timeouts surface as
// proxy.ErrUpstreamTimeout so classification stays deterministic.
func (f *Forwarder) Forward(ctx context.Context, prepared *proxy.PreparedProxyRequest) (*proxy.ProxyResponse, error) {
	ctx, span := f.tracer.Start(ctx, "forward",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", prepared.Method),
			attribute.String("url.full", prepared.TargetURI),
		))
	defer span.End()

	var body io.Reader
	if len(prepared.Body) > 0 {
		body = bytes.NewReader(prepared.Body)
	}
	req, err := http.NewRequestWithContext(ctx, prepared.Method, prepared.TargetURI, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = prepared.Header.Clone()
	if host := prepared.Header.Get("Host"); host != "" {
		req.Host = host
		req.Header.Del("Host")
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream round trip failed")
		if ctx.Err() == context.DeadlineExceeded || isClientTimeout(err) {
			return nil, fmt.Errorf("%w: %v", proxy.ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("forward to %s: %w", prepared.TargetURI, err)
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if f.cfg.MaxResponseBytes > 0 {
		reader = io.LimitReader(resp.Body, f.cfg.MaxResponseBytes)
	}
	respBody, err := io.ReadAll(reader)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream body read failed")
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	f.logger.Debug("upstream round trip",
		"method", prepared.Method,
		"target", prepared.TargetURI,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	return &proxy.ProxyResponse{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   respBody,
	}, nil
}

// isClientTimeout detects the net/http client's own deadline firing.
func isClientTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeout); ok && t.Timeout() {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
