package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signing-proxy-go/internal/config"
	"signing-proxy-go/internal/gate"
	"signing-proxy-go/internal/metrics"
	"signing-proxy-go/internal/middleware"
	"signing-proxy-go/internal/service"
)

// RouteRules returns the admission rules for rt: signed routes check the
// signature first, then the method.
func RouteRules(rt *service.Route) []gate.Rule {
	if rt.Signed {
		return []gate.Rule{gate.Signature(), gate.Methods(http.MethodGet)}
	}
	return []gate.Rule{gate.Methods(http.MethodGet)}
}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, svc *service.ProxyService, proxy *ProxyHandler, health *HealthHandler, g *gate.Gate, m *metrics.Metrics) {
	// Security headers apply to the proxy's own endpoints; relayed responses
	// are left as the upstream sent them.
	secure := middleware.SecurityHeaders()
	e.GET("/healthz", health.Healthz, secure)
	e.GET("/proxy/status", health.Status, secure)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})), secure)
	}

	for _, rt := range svc.Routes() {
		h := proxy.Handle(rt)
		mw := g.Middleware(rt.Name, RouteRules(rt)...)

		mount := rt.Mount()
		e.Any(mount+"/*", h, mw)
		if mount != "" {
			e.Any(mount, h, mw)
		}
	}
}
