package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"signing-proxy-go/internal/model"
	"signing-proxy-go/internal/service"
	"signing-proxy-go/internal/signature"
)

// ProxyHandler relays requests to a route's upstream.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle returns the handler for rt. It forwards the request and streams the
// upstream response back unmodified.
func (h *ProxyHandler) Handle(rt *service.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		body, err := io.ReadAll(req.Body)
		if err != nil {
			return err
		}

		pr := &model.ProxyRequest{
			Ctx:         req.Context(),
			Method:      req.Method,
			Path:        req.URL.Path,
			EscapedPath: req.URL.EscapedPath(),
			RawQuery:    req.URL.RawQuery,
			Host:        req.Host,
			Scheme:      c.Scheme(),
			Header:      req.Header,
			Body:        body,
		}

		resp, err := h.service.Forward(rt, pr)
		if err != nil {
			return h.mapError(c, err)
		}
		defer func() { _ = resp.Body.Close() }()

		for key, vals := range resp.Header {
			for _, v := range vals {
				c.Response().Header().Add(key, v)
			}
		}

		c.Response().WriteHeader(resp.StatusCode)

		// Once the status is written a failed copy can only truncate the body;
		// log it for observability.
		if _, err := io.Copy(c.Response(), resp.Body); err != nil {
			h.logger.Error("streaming response body",
				"err", err,
				"route", rt.Name,
				"path", req.URL.Path,
			)
		}

		return nil
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	if errors.Is(err, service.ErrMethodNotAllowed) {
		c.Response().Header().Set(echo.HeaderAllow, http.MethodGet)
		return echo.NewHTTPError(http.StatusMethodNotAllowed)
	}

	if errors.Is(err, signature.ErrInvalidPath) {
		h.logger.Warn("invalid request path", "err", err)
		return echo.NewHTTPError(http.StatusBadRequest)
	}

	h.logger.Error("proxy error",
		"err", err,
		"path", path,
	)

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
