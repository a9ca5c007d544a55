package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/logging"
	"github.com/fyrsmithlabs/mediasearch/internal/ratelimit"
	"github.com/fyrsmithlabs/mediasearch/internal/tenant"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// HeaderTenantSlug selects the tenant of a request.
const HeaderTenantSlug = "X-Tenant-Slug"

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			// Render now so the logged status is the one sent.
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_ip", c.RealIP()),
		)
		return nil
	}
}

// rateLimit admits requests under p, keyed by client IP and the tenant slug
// header. A failing limiter store admits the request.
func (s *Server) rateLimit(p ratelimit.Policy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if s.deps.Limiter == nil {
			return next
		}
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			d, err := s.deps.Limiter.Allow(ctx, p, c.RealIP(), c.Request().Header.Get(HeaderTenantSlug))
			if err != nil {
				s.logger.Warn(ctx, "rate limiter unavailable, admitting request",
					zap.String("operation", p.Name), zap.Error(err))
				return next(c)
			}
			d.SetHeaders(c.Response().Header())
			if !d.Allowed {
				return c.JSON(http.StatusTooManyRequests, d.Rejection())
			}
			return next(c)
		}
	}
}

// authenticate resolves the bearer token and tenant selector into a
// tenant.Context attached to the request.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := req.Context()
		slug := req.Header.Get(HeaderTenantSlug)

		tc, err := s.deps.Resolver.Resolve(ctx, req.Header.Get(echo.HeaderAuthorization), slug)
		if err != nil {
			status, body := authFailure(err)
			if status >= http.StatusInternalServerError {
				s.logger.Error(ctx, "tenant resolution failed", zap.Error(err))
			} else {
				s.logger.Security(ctx, "request rejected",
					zap.String("path", c.Path()),
					zap.String("remote_ip", c.RealIP()),
					zap.String("tenant_slug", slug),
					zap.Int("status", status),
					zap.Error(err),
				)
			}
			return c.JSON(status, body)
		}

		ctx = tenant.WithContext(ctx, tc)
		ctx = logging.WithRequest(ctx, logging.Request{
			TenantID:   tc.TenantID,
			TenantSlug: tc.TenantSlug,
			CallerID:   tc.UserID,
			Role:       string(tc.Role),
		})
		c.SetRequest(req.WithContext(ctx))
		return next(c)
	}
}

// requireRole rejects callers ranking below role. It must run after
// authenticate.
func (s *Server) requireRole(role tenant.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tc := callerOf(c)
			if tc == nil || !tc.Role.AtLeast(role) {
				s.logger.Security(c.Request().Context(), "insufficient role",
					zap.String("path", c.Path()),
					zap.String("required", string(role)),
				)
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "Forbidden",
					Message: "Insufficient permissions",
				})
			}
			return next(c)
		}
	}
}

func authFailure(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, tenant.ErrMissingToken):
		return http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized", Message: "Authentication required"}
	case errors.Is(err, tenant.ErrInvalidToken), errors.Is(err, tenant.ErrGuestToken):
		return http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized", Message: "Invalid or expired token"}
	case errors.Is(err, tenant.ErrUnknownTenant):
		return http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized: Invalid tenant"}
	case errors.Is(err, tenant.ErrTenantMismatch):
		return http.StatusForbidden, ErrorResponse{Error: "Forbidden", Message: "Tenant does not match token"}
	case errors.Is(err, tenant.ErrTenantRequired):
		return http.StatusBadRequest, ErrorResponse{Error: "Tenant selection required", Message: "Set the " + HeaderTenantSlug + " header"}
	default:
		return http.StatusServiceUnavailable, ErrorResponse{Error: "Tenant lookup unavailable"}
	}
}

// callerOf returns the authenticated caller, or nil on public routes.
func callerOf(c echo.Context) *tenant.Context {
	tc, _ := tenant.FromContext(c.Request().Context())
	return tc
}
