package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"signing-proxy-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// routeStatus describes one configured route. Secrets are never included.
type routeStatus struct {
	Name              string `json:"name"`
	Prefix            string `json:"prefix"`
	Upstream          string `json:"upstream"`
	Signed            bool   `json:"signed"`
	ForwardHostHeader bool   `json:"forward_host_header"`
}

type statusResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Routes  []routeStatus `json:"routes"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	routes  []*service.Route
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(svc *service.ProxyService, v Version) *HealthHandler {
	return &HealthHandler{routes: svc.Routes(), version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the version and the mounted routes.
func (h *HealthHandler) Status(c echo.Context) error {
	resp := statusResponse{
		Status:  "ok",
		Version: string(h.version),
		Routes:  make([]routeStatus, 0, len(h.routes)),
	}
	for _, rt := range h.routes {
		resp.Routes = append(resp.Routes, routeStatus{
			Name:              rt.Name,
			Prefix:            rt.Prefix,
			Upstream:          rt.Upstream(),
			Signed:            rt.Signed,
			ForwardHostHeader: rt.ForwardHostHeader,
		})
	}
	return c.JSON(http.StatusOK, resp)
}
