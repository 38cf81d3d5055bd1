package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"signing-proxy-go/internal/config"
)

func TestHealthz(t *testing.T) {
	s := newTestStack(t, config.RouteConfig{Prefix: "/", Upstream: "http://api.example"})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := s.health.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	s := newTestStack(t,
		config.RouteConfig{Name: "admin", Prefix: "/admin/", Upstream: "http://api.example:8000/admin/", ForwardHostHeader: true},
		config.RouteConfig{Name: "external", Prefix: "/api/external/", Upstream: "https://api.example/external/", Signed: true},
	)
	s.health.version = "1.2.3"

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/proxy/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := s.health.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("body.status = %q, want %q", body.Status, "ok")
	}
	if body.Version != "1.2.3" {
		t.Errorf("body.version = %q, want %q", body.Version, "1.2.3")
	}
	if len(body.Routes) != 2 {
		t.Fatalf("len(body.routes) = %d, want 2", len(body.Routes))
	}
	if body.Routes[0].Upstream != "http://api.example:8000/admin/" || !body.Routes[0].ForwardHostHeader {
		t.Errorf("routes[0] = %+v", body.Routes[0])
	}
	if !body.Routes[1].Signed {
		t.Errorf("routes[1].signed = false, want true")
	}
	if strings.Contains(rec.Body.String(), upstreamSecret) || strings.Contains(rec.Body.String(), externalSecret) {
		t.Error("status response must not contain secrets")
	}
}
