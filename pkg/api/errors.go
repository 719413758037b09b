package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maestro-sh/maestro/pkg/services"
)

// mapServiceError maps service-layer errors to HTTP error responses.
// Conflict and internal errors carry structured payloads so clients can
// act on suggestions and correlate error ids with server logs.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	var notFound *services.NotFoundError
	if errors.As(err, &notFound) {
		return echo.NewHTTPError(http.StatusNotFound, notFound.Error())
	}
	var conflict *services.ConflictError
	if errors.As(err, &conflict) {
		body := map[string]any{"error": conflict.Message}
		if conflict.Suggestion != "" {
			body["suggestion"] = conflict.Suggestion
		}
		if len(conflict.BlockingAgents) > 0 {
			body["blocking_agents"] = conflict.BlockingAgents
		}
		if len(conflict.BlockingExecutions) > 0 {
			body["blocking_executions"] = conflict.BlockingExecutions
		}
		return echo.NewHTTPError(http.StatusConflict, body)
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrConflict) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if errors.Is(err, services.ErrInvariant) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, services.ErrTimeout) {
		return echo.NewHTTPError(http.StatusGatewayTimeout, "operation timed out")
	}
	var internal *services.InternalError
	if errors.As(err, &internal) {
		slog.Error("Unexpected service error", "error_id", internal.ErrorID, "error", errors.Unwrap(internal))
		return echo.NewHTTPError(http.StatusInternalServerError, map[string]any{
			"error":    "internal server error",
			"error_id": internal.ErrorID,
		})
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
