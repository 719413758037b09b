package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maestro-sh/maestro/pkg/models"
)

// createPatternHandler handles POST /api/v1/patterns.
func (s *Server) createPatternHandler(c *echo.Context) error {
	var req models.CreatePatternRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	pattern, err := s.workflowService.CreatePattern(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, pattern)
}

// listPatternsHandler handles GET /api/v1/patterns.
func (s *Server) listPatternsHandler(c *echo.Context) error {
	limit, offset, err := parsePaging(c)
	if err != nil {
		return err
	}
	filters := models.PatternFilters{
		Status: c.QueryParam("status"),
		Limit:  limit,
		Offset: offset,
	}

	patterns, err := s.workflowService.ListPatterns(c.Request().Context(), filters)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, patterns)
}

// getPatternHandler handles GET /api/v1/patterns/:id.
func (s *Server) getPatternHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pattern id is required")
	}

	pattern, err := s.workflowService.GetPattern(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, pattern)
}

// updatePatternHandler handles PUT /api/v1/patterns/:id.
func (s *Server) updatePatternHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pattern id is required")
	}
	var req models.UpdatePatternRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	pattern, err := s.workflowService.UpdatePattern(c.Request().Context(), id, req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, pattern)
}

// deletePatternHandler handles DELETE /api/v1/patterns/:id. The force query
// flag aborts the pattern's active workflow executions first.
func (s *Server) deletePatternHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pattern id is required")
	}
	force, err := parseForce(c)
	if err != nil {
		return err
	}

	if err := s.workflowService.DeletePattern(c.Request().Context(), id, force); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &DeleteResponse{ID: id, Message: "pattern deleted"})
}

// executePatternHandler handles POST /api/v1/patterns/:id/execute. Returns
// the freshly created workflow execution; the run proceeds in the background.
func (s *Server) executePatternHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pattern id is required")
	}
	var req models.ExecuteWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	run, err := s.workflowService.ExecutePattern(c.Request().Context(), id, req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, run)
}
