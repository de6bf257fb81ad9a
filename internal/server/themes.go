package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/articleflow/internal/agent/theme"
)

func (s *Server) proposeThemes(c echo.Context) error {
	if s.themes == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "theme proposals are not configured")
	}
	var req theme.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := s.themes.Propose(c.Request().Context(), req)
	switch {
	case errors.Is(err, theme.ErrKeywordRequired):
		return echo.NewHTTPError(http.StatusBadRequest, "keyword is required")
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, res)
}
