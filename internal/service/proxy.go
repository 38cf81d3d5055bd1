// Package service implements the signed forwarding logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"signing-proxy-go/internal/client"
	"signing-proxy-go/internal/config"
	"signing-proxy-go/internal/model"
	"signing-proxy-go/internal/signature"
)

// ErrMethodNotAllowed is returned for any method other than GET.
var ErrMethodNotAllowed = errors.New("only GET requests are forwarded")

// Route is one upstream mounted under a path prefix.
type Route struct {
	Name              string
	Prefix            string
	Signed            bool
	ForwardHostHeader bool

	mount    string
	base     string // upstream URL without trailing slashes
	upstream *url.URL
}

// Mount returns the route prefix without its trailing slash.
func (r *Route) Mount() string { return r.mount }

// Upstream returns the configured upstream base URL.
func (r *Route) Upstream() string { return r.upstream.String() }

// TargetURL joins the upstream base with the part of escapedPath below the
// mount prefix and the raw query. Both are carried byte-for-byte.
func (r *Route) TargetURL(escapedPath, rawQuery string) string {
	rest := strings.TrimPrefix(escapedPath, r.mount)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	target := r.base + rest
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// ProxyService signs requests and forwards them to their route's upstream.
type ProxyService struct {
	client *client.UpstreamClient
	signer *signature.Signer
	logger *slog.Logger
	routes []*Route
}

// NewProxyService creates a ProxyService. It fails if the signing secret is
// empty or a route's upstream cannot be parsed.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	signer, err := signature.NewSigner(cfg.Signing.Secret)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}

	routes := make([]*Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		u, err := url.Parse(rc.Upstream)
		if err != nil {
			return nil, fmt.Errorf("route %q: parse upstream: %w", rc.Name, err)
		}
		routes = append(routes, &Route{
			Name:              rc.Name,
			Prefix:            rc.Prefix,
			Signed:            rc.Signed,
			ForwardHostHeader: rc.ForwardHostHeader,
			mount:             rc.Mount(),
			base:              strings.TrimRight(rc.Upstream, "/"),
			upstream:          u,
		})
	}

	return &ProxyService{
		client: c,
		signer: signer,
		logger: logger.With("component", "proxy_service"),
		routes: routes,
	}, nil
}

// Routes returns the configured routes in config order.
func (s *ProxyService) Routes() []*Route {
	return s.routes
}

// Forward signs pr and sends it to rt's upstream, returning the response.
// The caller is responsible for closing the response body. Upstream 4xx and
// 5xx responses are returned as responses, not errors.
func (s *ProxyService) Forward(rt *Route, pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	if pr.Method != http.MethodGet {
		return nil, ErrMethodNotAllowed
	}
	if err := signature.ValidatePath(pr.Path); err != nil {
		return nil, err
	}

	target := rt.TargetURL(pr.EscapedPath, pr.RawQuery)
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", signature.ErrInvalidPath, err)
	}

	header := s.buildRequestHeaders(rt, pr)
	s.signer.Attach(header, u.Path, u.RawQuery, pr.Body)

	s.logger.Debug("forwarding request",
		"route", rt.Name,
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, rt.Name, pr.Method, target, header, pr.Body)
	if err != nil {
		s.logger.Error("upstream transport failure",
			"route", rt.Name,
			"target", target,
			"err", err,
		)
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	model.StripHopByHop(resp.Header)
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); loc != "" {
			resp.Header.Set("Location", rewriteLocation(loc, rt.upstream, pr.Scheme, pr.Host))
		}
	}
	return resp, nil
}

// buildRequestHeaders copies the inbound headers for the upstream request.
// Cookie is kept but emptied so the upstream sees it was withheld.
func (s *ProxyService) buildRequestHeaders(rt *Route, pr *model.ProxyRequest) http.Header {
	dst := pr.Header.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	model.StripHopByHop(dst)
	dst.Del("Content-Length")
	dst.Set("Cookie", "")
	if rt.ForwardHostHeader {
		dst.Set("X-Forwarded-Host", pr.Host)
	}
	dst.Del(signature.HeaderSignature)
	return dst
}

// rewriteLocation points absolute redirects at the upstream host back to the
// public host. Relative and foreign locations are returned unchanged.
func rewriteLocation(loc string, upstream *url.URL, scheme, host string) string {
	u, err := url.Parse(loc)
	if err != nil || !u.IsAbs() || host == "" {
		return loc
	}
	if !strings.EqualFold(u.Host, upstream.Host) {
		return loc
	}
	if scheme != "" {
		u.Scheme = scheme
	}
	u.Host = host
	return u.String()
}
