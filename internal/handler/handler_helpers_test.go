package handler

import (
	"io"
	"log/slog"
	"testing"

	"github.com/labstack/echo/v4"

	"signing-proxy-go/internal/client"
	"signing-proxy-go/internal/config"
	"signing-proxy-go/internal/gate"
	"signing-proxy-go/internal/metrics"
	"signing-proxy-go/internal/service"
)

const (
	upstreamSecret = "upstream-secret"
	externalSecret = "external-secret"
)

type testStack struct {
	cfg     *config.Config
	svc     *service.ProxyService
	proxy   *ProxyHandler
	health  *HealthHandler
	gate    *gate.Gate
	metrics *metrics.Metrics
	echo    *echo.Echo
}

// newTestStack builds the full handler stack for routes, the same way main does.
func newTestStack(t *testing.T, routes ...config.RouteConfig) *testStack {
	t.Helper()

	cfg := &config.Config{
		Signing: config.SigningConfig{Secret: upstreamSecret},
		Gate:    config.GateConfig{Secret: externalSecret},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Routes:  routes,
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	for i := range cfg.Routes {
		if cfg.Routes[i].Name == "" {
			cfg.Routes[i].Name = cfg.Routes[i].Prefix
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	uc := client.NewUpstreamClient(cfg, logger, m, nil)
	svc, err := service.NewProxyService(uc, cfg, logger)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}
	g, err := gate.New(cfg, logger, m)
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	s := &testStack{
		cfg:     cfg,
		svc:     svc,
		proxy:   NewProxyHandler(svc, logger),
		health:  NewHealthHandler(svc, "test"),
		gate:    g,
		metrics: m,
		echo:    echo.New(),
	}
	RegisterRoutes(s.echo, cfg, svc, s.proxy, s.health, g, m)
	return s
}
