package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listWorkflowExecutionsHandler handles GET /api/v1/workflow-executions.
func (s *Server) listWorkflowExecutionsHandler(c *echo.Context) error {
	limit, offset, err := parsePaging(c)
	if err != nil {
		return err
	}

	runs, err := s.workflowService.ListWorkflowExecutions(c.Request().Context(), c.QueryParam("pattern_id"), c.QueryParam("status"), limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, runs)
}

// getWorkflowExecutionHandler handles GET /api/v1/workflow-executions/:id.
func (s *Server) getWorkflowExecutionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow execution id is required")
	}

	run, err := s.workflowService.GetWorkflowExecution(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, run)
}

// abortWorkflowExecutionHandler handles POST /api/v1/workflow-executions/:id/abort.
func (s *Server) abortWorkflowExecutionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow execution id is required")
	}

	if err := s.workflowService.AbortWorkflowExecution(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{ID: id, Message: "workflow abort requested"})
}

// deleteWorkflowExecutionHandler handles DELETE /api/v1/workflow-executions/:id.
func (s *Server) deleteWorkflowExecutionHandler(c *echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "workflow execution id is required")
	}

	if err := s.workflowService.DeleteWorkflowExecution(c.Request().Context(), id); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &DeleteResponse{ID: id, Message: "workflow execution deleted"})
}

// analyzeWorkflowHandler handles POST /api/v1/analyze. Pure recommendation,
// nothing is persisted or started.
func (s *Server) analyzeWorkflowHandler(c *echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.AgentIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_ids is required")
	}
	if len(req.TaskIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "task_ids is required")
	}

	rec, err := s.workflowService.AnalyzeWorkflow(c.Request().Context(), req.AgentIDs, req.TaskIDs, req.Objective)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, rec)
}
