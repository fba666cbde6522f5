package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"genpipe/internal/rewriter"
)

type rewriteRequest struct {
	KnownSlugs []string `json:"knownSlugs"`
}

type rewriteResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Result  *rewriter.Result `json:"result,omitempty"`
}

func (s *Server) handleRewrite(c echo.Context) error {
	if !s.authorized(c) {
		return errUnauthorized
	}

	var req rewriteRequest
	if err := decodeOptionalBody(c, &req); err != nil {
		return err
	}

	result, err := s.deps.Rewriter.Run(c.Request().Context(), req.KnownSlugs)
	switch {
	case errors.Is(err, rewriter.ErrNoCandidates):
		return c.JSON(http.StatusOK, rewriteResponse{Message: "No articles found from RSS feeds"})
	case errors.Is(err, rewriter.ErrNoFreshCandidates):
		return c.JSON(http.StatusOK, rewriteResponse{Message: "All articles already exist"})
	case err != nil:
		s.logger.Error("rewrite failed", "error", err)
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "rewrite failed",
			Type:    "server_error",
		}
	}

	s.logger.Info("post generated", "slug", result.Slug, "score", result.Score, "provider", result.Provider, "fallback", result.FromFallback)
	return c.JSON(http.StatusOK, rewriteResponse{
		Success: true,
		Message: "Blog post generated: " + result.Post.Title,
		Result:  &result,
	})
}
