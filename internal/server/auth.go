package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"genpipe/internal/credentials"
)

const callbackPath = "/api/auth/openrouter/callback"

func (s *Server) publicURL(c echo.Context) string {
	if s.cfg.Server.PublicURL != "" {
		return strings.TrimRight(s.cfg.Server.PublicURL, "/")
	}
	return c.Scheme() + "://" + c.Request().Host
}

func (s *Server) handleConnect(c echo.Context) error {
	redirect, err := s.deps.Handshake.Begin(c.Request().Context(), s.publicURL(c)+callbackPath)
	if err != nil {
		s.logger.Error("begin authorization failed", "error", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "failed to start authorization",
			Type:    "server_error",
		}
	}
	return c.Redirect(http.StatusFound, redirect)
}

// handleCallback always redirects back to the site; failures are reported through ?ai_error=.
func (s *Server) handleCallback(c echo.Context) error {
	base := s.publicURL(c) + "/"
	if err := s.deps.Handshake.Complete(c.Request().Context(), c.QueryParam("code")); err != nil {
		s.logger.Warn("authorization callback failed", "error", err)
		return c.Redirect(http.StatusFound, base+"?ai_error="+callbackErrorCode(err))
	}
	s.logger.Info("primary provider connected")
	return c.Redirect(http.StatusFound, base+"?ai_connected=true")
}

func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, credentials.ErrMissingCode):
		return "no_code"
	case errors.Is(err, credentials.ErrNoPendingHandshake):
		return "no_verifier"
	case errors.Is(err, credentials.ErrExchangeFailed):
		return "exchange_failed"
	case errors.Is(err, credentials.ErrNoKey):
		return "no_key"
	default:
		return "callback_failed"
	}
}

func (s *Server) handleStatus(c echo.Context) error {
	status, err := s.deps.Credentials.Status(c.Request().Context())
	if err != nil {
		s.logger.Error("read credential status failed", "error", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "failed to read connection status",
			Type:    "server_error",
		}
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleDisconnect(c echo.Context) error {
	if !s.authorized(c) {
		return errUnauthorized
	}
	if err := s.deps.Credentials.Reset(c.Request().Context()); err != nil {
		s.logger.Error("disconnect failed", "error", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "failed to disconnect",
			Type:    "server_error",
		}
	}
	s.logger.Info("primary provider disconnected")
	return c.JSON(http.StatusOK, chatResponse{Success: true, Message: "AI disconnected"})
}
