package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/morrigan-server/morrigan/internal/identity"
	morrigan_middleware "github.com/morrigan-server/morrigan/internal/middleware"
	"github.com/morrigan-server/morrigan/internal/utils"
)

// AuthenticatedClientKey is the echo context key under which RequireFunction
// stores the verified client descriptor.
const AuthenticatedClientKey = "authenticated-client"

// RequireFunction verifies the Authorization identity token and rejects the
// request unless the resolved client descriptor carries the named function.
func RequireFunction(provider identity.Provider, function string) echo.MiddlewareFunc {
	log := logrus.WithField("prefix", "RequireFunction")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := c.Request().Header.Get("Authorization")
			if token == "" {
				return c.JSON(utils.StateResError("requestError", "No token provided.", http.StatusBadRequest))
			}
			verification, err := provider.VerifyIdentity(c.Request().Context(), token)
			if err != nil {
				log.Errorf("identity provider failed: %v", err)
				return c.JSON(utils.StateResError("providerError", "Identity verification unavailable.", http.StatusInternalServerError))
			}
			if !verification.OK {
				log.Debugf("identity token %q rejected: %v", token, verification.Reason)
				return c.JSON(http.StatusForbidden, utils.StateRes{State: verification.State, Reason: verification.Reason})
			}
			client, err := provider.GetClient(c.Request().Context(), verification.ClientID)
			if err != nil {
				log.Errorf("client lookup failed for %v: %v", verification.ClientID, err)
				return c.JSON(utils.StateResError("providerError", "Identity verification unavailable.", http.StatusInternalServerError))
			}
			if !client.HasFunction(function) {
				return c.JSON(utils.StateResError("authError", fmt.Sprintf("Function '%v' is not available to client '%v'.", function, client.ID), http.StatusForbidden))
			}
			c.Set(AuthenticatedClientKey, client)
			return next(c)
		}
	}
}

// ConnectionsLimitMiddleware creates middleware for limiting concurrent connections
func ConnectionsLimitMiddleware(counter *morrigan_middleware.ConnectionsLimiter, skipper func(c echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}
			release, err := counter.LeaseConnection(c.Request())
			if err != nil {
				return c.JSON(utils.HttpResError(err.Error(), http.StatusTooManyRequests))
			}
			defer release()
			return next(c)
		}
	}
}

// LogrusLoggerMiddleware creates a middleware that logs HTTP requests using logrus
// This ensures the Echo framework logs match the same format as the server logger
func LogrusLoggerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			res := c.Response()

			err := next(c)

			stop := time.Now()

			fields := logrus.Fields{
				"remote_ip":  c.RealIP(),
				"host":       req.Host,
				"method":     req.Method,
				"uri":        req.RequestURI,
				"status":     res.Status,
				"latency":    stop.Sub(start).String(),
				"latency_ms": stop.Sub(start).Milliseconds(),
				"bytes_in":   req.Header.Get("Content-Length"),
				"bytes_out":  res.Size,
			}

			if ua := req.UserAgent(); ua != "" {
				fields["user_agent"] = ua
			}

			if referer := req.Referer(); referer != "" {
				fields["referer"] = referer
			}

			if id := req.Header.Get(echo.HeaderXRequestID); id != "" {
				fields["request_id"] = id
			}

			logrus.WithFields(fields).Info()

			return err
		}
	}
}
