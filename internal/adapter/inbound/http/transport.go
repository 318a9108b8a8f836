package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transport is the inbound HTTP server: data path at the root, admin
// API under /admin/, plus /healthz and /metrics.
type Transport struct {
	gateway       http.Handler
	adminHandler  http.Handler
	healthChecker *HealthChecker
	metrics       *Metrics
	registry      *prometheus.Registry

	addr     string
	certFile string
	keyFile  string
	server   *http.Server
	logger   *slog.Logger
}

// Option is a functional option for configuring the Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *Transport) { t.addr = addr }
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(t *Transport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAdminHandler mounts the admin API under /admin/.
func WithAdminHandler(h http.Handler) Option {
	return func(t *Transport) { t.adminHandler = h }
}

// WithHealthChecker serves the given checker at /healthz.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *Transport) { t.healthChecker = hc }
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// NewTransport creates a Transport serving the given gateway handler.
// Metrics are registered on a private registry exposed at /metrics.
func NewTransport(gateway http.Handler, metrics *Metrics, registry *prometheus.Registry, opts ...Option) *Transport {
	t := &Transport{
		gateway:  gateway,
		metrics:  metrics,
		registry: registry,
		addr:     "127.0.0.1:8080",
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// DefaultRegistry builds a metrics registry with the standard process
// and runtime collectors.
func DefaultRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Start begins accepting connections and blocks until the context is
// cancelled or the listener fails. Shutdown drains in-flight requests.
func (t *Transport) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/healthz", t.healthChecker.Handler())
	}
	if t.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
	}
	if t.adminHandler != nil {
		mux.Handle("/admin/", t.adminHandler)
	}
	mux.Handle("/", t.gateway)

	var handler http.Handler = mux
	if t.metrics != nil {
		handler = MetricsMiddleware(t.metrics)(handler)
	}
	handler = RequestIDMiddleware(t.logger)(handler)

	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("https server listening", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("http server listening", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := t.server.Shutdown(shutdownCtx); err != nil {
			t.logger.Warn("shutdown did not drain cleanly", "error", err)
			return err
		}
		t.logger.Info("http server stopped")
		return nil
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}
}
