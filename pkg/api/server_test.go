package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-sh/maestro/pkg/config"
	"github.com/maestro-sh/maestro/pkg/database"
	"github.com/maestro-sh/maestro/pkg/engine"
	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/orchestrator"
	"github.com/maestro-sh/maestro/pkg/runner"
	"github.com/maestro-sh/maestro/pkg/services"
	"github.com/maestro-sh/maestro/pkg/store"
)

// idleStrategy parks until cancelled. Route tests never let executions finish.
type idleStrategy struct{}

func (idleStrategy) Execute(ctx context.Context, agent *models.Agent, task *models.Task, workDir string) (*runner.Result, error) {
	<-ctx.Done()
	return nil, runner.ErrTimeout
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.InMemory())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)

	engCfg := config.DefaultEngineConfig()
	engCfg.ExecutionRoot = t.TempDir()
	eng := engine.New(st, bus, idleStrategy{}, idleStrategy{}, engCfg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})

	core := orchestrator.New(st, bus, eng, config.DefaultOrchestratorConfig(), nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = core.Shutdown(ctx)
	})

	return NewServer(Config{
		Agents:     services.NewAgentService(st, bus, eng, nil),
		Tasks:      services.NewTaskService(st, bus, nil),
		Executions: services.NewExecutionService(st, bus, eng, nil),
		Workflows:  services.NewWorkflowService(st, bus, core, nil),
		System:     services.NewSystemService(st, bus, nil, eng, core, client, nil),
		DBClient:   client,
	})
}

func TestAgentRoutes(t *testing.T) {
	s := newTestServer(t)
	e := s.Handler()

	// Create.
	body := `{"name":"reviewer","role":"code reviewer","system_prompt":"You review code."}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var agent models.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))
	assert.Equal(t, "reviewer", agent.Name)
	assert.NotEmpty(t, agent.ID)

	// Get by id.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents/"+agent.ID, nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// List.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var agents []*models.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	assert.Len(t, agents, 1)

	// Unknown id is a 404.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/agents/nope", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Duplicate name is a 409.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/agents", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Delete.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/agents/"+agent.ID, nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidationErrorsSurfaceAs400(t *testing.T) {
	s := newTestServer(t)
	e := s.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", strings.NewReader(`{"role":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "name")
}

func TestHealthzReportsDatabase(t *testing.T) {
	s := newTestServer(t)
	e := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, healthStatusHealthy, resp.Status)
	assert.Equal(t, healthStatusHealthy, resp.Checks["database"].Status)
}

func TestSystemStatusRoute(t *testing.T) {
	s := newTestServer(t)
	e := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/system/status", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status services.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Zero(t, status.InFlight)
	assert.NotNil(t, status.Database)
}
