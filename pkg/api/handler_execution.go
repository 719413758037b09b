package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maestro-sh/maestro/pkg/models"
)

// startExecutionHandler handles POST /api/v1/executions. The response
// acknowledges scheduling; the run itself proceeds in the background and
// streams progress over /ws.
func (s *Server) startExecutionHandler(c *echo.Context) error {
	var req models.StartExecutionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.TaskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task_id is required")
	}

	resp, err := s.executionService.StartExecution(c.Request().Context(), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// listExecutionsHandler handles GET /api/v1/executions.
func (s *Server) listExecutionsHandler(c *echo.Context) error {
	limit, offset, err := parsePaging(c)
	if err != nil {
		return err
	}

	execs, err := s.executionService.ListExecutions(c.Request().Context(), c.QueryParam("status"), c.QueryParam("task_id"), limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, execs)
}

// getExecutionHandler handles GET /api/v1/executions/:id.
func (s *Server) getExecutionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution id is required")
	}

	exec, err := s.executionService.GetExecution(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, exec)
}

// pauseExecutionHandler handles POST /api/v1/executions/:id/pause.
func (s *Server) pauseExecutionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution id is required")
	}

	exec, err := s.executionService.PauseExecution(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, exec)
}

// resumeExecutionHandler handles POST /api/v1/executions/:id/resume.
func (s *Server) resumeExecutionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution id is required")
	}

	exec, err := s.executionService.ResumeExecution(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, exec)
}

// abortExecutionHandler handles POST /api/v1/executions/:id/abort.
func (s *Server) abortExecutionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution id is required")
	}

	if err := s.executionService.AbortExecution(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{ID: id, Message: "execution abort requested"})
}

// deleteExecutionHandler handles DELETE /api/v1/executions/:id.
// Non-terminal executions are rejected with a conflict.
func (s *Server) deleteExecutionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "execution id is required")
	}

	if err := s.executionService.DeleteExecution(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &DeleteResponse{ID: id, Message: "execution deleted"})
}
