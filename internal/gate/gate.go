// Package gate admits or rejects requests on signed routes before any
// handler runs.
//
// A route carries an ordered list of rules. Rules are evaluated in order and
// the first one that fails decides the response; the handler only runs when
// every rule passes.
package gate

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"signing-proxy-go/internal/config"
	"signing-proxy-go/internal/metrics"
	"signing-proxy-go/internal/signature"
)

// Kind identifies a rule variant.
type Kind int

const (
	// RequireSignature rejects requests without a valid X-Signature (403).
	RequireSignature Kind = iota
	// RequireMethods rejects methods outside Rule.Methods (405).
	RequireMethods
)

func (k Kind) String() string {
	switch k {
	case RequireSignature:
		return "require_signature"
	case RequireMethods:
		return "require_methods"
	default:
		return "unknown"
	}
}

// Rule is one admission check.
type Rule struct {
	Kind    Kind
	Methods []string // RequireMethods only
}

// Signature returns a RequireSignature rule.
func Signature() Rule {
	return Rule{Kind: RequireSignature}
}

// Methods returns a RequireMethods rule allowing only the given methods.
func Methods(methods ...string) Rule {
	return Rule{Kind: RequireMethods, Methods: methods}
}

// Gate verifies inbound signatures with the external secret.
type Gate struct {
	signer  *signature.Signer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Gate from cfg.Gate. When no route is signed the secret may be
// empty; a Gate without a secret rejects every signature. m is optional.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Gate, error) {
	g := &Gate{
		logger:  logger.With("component", "signature_gate"),
		metrics: m,
	}
	if cfg.Gate.Secret == "" && !cfg.HasSignedRoutes() {
		return g, nil
	}
	signer, err := signature.NewSigner(cfg.Gate.Secret)
	if err != nil {
		return nil, err
	}
	g.signer = signer
	return g, nil
}

// TestSignature reports whether req carries a valid signature over its path
// (as seen by the server), raw query and body.
func (g *Gate) TestSignature(req *http.Request, body []byte) bool {
	if g.signer == nil {
		return false
	}
	return g.signer.VerifyRequest(req, body)
}

// Middleware enforces rules for the named route.
func (g *Gate) Middleware(route string, rules ...Rule) echo.MiddlewareFunc {
	needsBody := slices.ContainsFunc(rules, func(r Rule) bool { return r.Kind == RequireSignature })

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			var body []byte
			if needsBody {
				var err error
				body, err = io.ReadAll(req.Body)
				if err != nil {
					return err
				}
				_ = req.Body.Close()
				req.Body = io.NopCloser(bytes.NewReader(body))
			}

			for _, rule := range rules {
				if err := g.check(c, rule, body); err != nil {
					return g.reject(c, route, rule, err)
				}
			}

			g.record(route, metrics.GateAllowed)
			return next(c)
		}
	}
}

func (g *Gate) check(c echo.Context, rule Rule, body []byte) *echo.HTTPError {
	req := c.Request()
	switch rule.Kind {
	case RequireSignature:
		if signature.ValidatePath(req.URL.Path) != nil {
			return echo.NewHTTPError(http.StatusBadRequest)
		}
		if !g.TestSignature(req, body) {
			return echo.NewHTTPError(http.StatusForbidden)
		}
	case RequireMethods:
		if !slices.Contains(rule.Methods, req.Method) {
			c.Response().Header().Set(echo.HeaderAllow, strings.Join(rule.Methods, ", "))
			return echo.NewHTTPError(http.StatusMethodNotAllowed)
		}
	}
	return nil
}

func (g *Gate) reject(c echo.Context, route string, rule Rule, he *echo.HTTPError) error {
	result := metrics.GateBadSignature
	switch he.Code {
	case http.StatusMethodNotAllowed:
		result = metrics.GateMethodNotAllowed
	case http.StatusBadRequest:
		result = metrics.GateInvalidPath
	}
	g.record(route, result)

	// Never log the presented signature.
	g.logger.Warn("request rejected",
		"route", route,
		"rule", rule.Kind.String(),
		"status", he.Code,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
		"remote_ip", c.RealIP(),
	)
	return he
}

func (g *Gate) record(route, result string) {
	if g.metrics != nil {
		g.metrics.GateDecisions.WithLabelValues(route, result).Inc()
	}
}
