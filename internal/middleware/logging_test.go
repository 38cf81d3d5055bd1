package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"signing-proxy-go/internal/signature"
)

func TestRequestLogger(t *testing.T) {
	tests := []struct {
		name      string
		handler   echo.HandlerFunc
		signature string
		wantLevel string
		wantCode  float64
		wantSig   bool
	}{
		{
			name:      "ok",
			handler:   func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
			wantLevel: "INFO",
			wantCode:  200,
		},
		{
			name:      "forbidden",
			handler:   func(echo.Context) error { return echo.NewHTTPError(http.StatusForbidden) },
			signature: "deadbeef",
			wantLevel: "WARN",
			wantCode:  403,
			wantSig:   true,
		},
		{
			name: "bad gateway",
			handler: func(c echo.Context) error {
				return c.JSON(http.StatusBadGateway, map[string]string{"error": "upstream request failed"})
			},
			wantLevel: "ERROR",
			wantCode:  502,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			e := echo.New()
			e.Use(RequestLogger(logger))
			e.GET("/test", tt.handler)

			req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
			if tt.signature != "" {
				req.Header.Set(signature.HeaderSignature, tt.signature)
			}
			e.ServeHTTP(httptest.NewRecorder(), req)

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("unmarshal log entry %q: %v", buf.String(), err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["status"] != tt.wantCode {
				t.Errorf("status = %v, want %v", entry["status"], tt.wantCode)
			}
			if entry["signed"] != tt.wantSig {
				t.Errorf("signed = %v, want %v", entry["signed"], tt.wantSig)
			}
			if tt.signature != "" && strings.Contains(buf.String(), tt.signature) {
				t.Error("signature value must not be logged")
			}
		})
	}
}
