package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-sh/maestro/pkg/config"
	"github.com/maestro-sh/maestro/pkg/database"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/store"
)

func newFixture(t *testing.T) (*store.Store, *Reconciler) {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.InMemory())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())
	rec := NewReconciler(st, config.DefaultRetentionConfig(), nil)
	return st, rec
}

func seedAgentTask(t *testing.T, st *store.Store) (*models.Agent, *models.Task) {
	t.Helper()
	ctx := context.Background()
	agent, err := st.CreateAgent(ctx, st.DB(), models.CreateAgentRequest{
		Name: "sweeper-agent", SystemPrompt: "p",
	})
	require.NoError(t, err)
	task, err := st.CreateTask(ctx, st.DB(), models.CreateTaskRequest{
		Title: "swept", Description: "d",
	})
	require.NoError(t, err)
	return agent, task
}

func TestStartupSweep(t *testing.T) {
	st, rec := newFixture(t)
	ctx := context.Background()
	agent, task := seedAgentTask(t, st)

	// An execution interrupted mid-run, with its agent still marked busy.
	interrupted := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		AgentID:   agent.ID,
		Status:    models.ExecutionStatusRunning,
		StartTime: time.Now().UTC(),
	}
	require.NoError(t, st.CreateExecution(ctx, st.DB(), interrupted))
	require.NoError(t, st.SetAgentStatus(ctx, st.DB(), agent.ID, models.AgentStatusExecuting, nil))

	// A row that lost its task reference.
	_, err := st.DB().ExecContext(ctx, `
		INSERT INTO executions (id, task_id, agent_id, status, start_time, logs)
		VALUES (?, NULL, ?, 'completed', ?, '[]')`,
		uuid.New().String(), agent.ID, time.Now().UTC())
	require.NoError(t, err)

	// One stale non-terminal run, one aged terminal run, one fresh run.
	old := time.Now().UTC().Add(-2 * time.Hour)
	staleRun := &models.WorkflowExecution{
		ID: uuid.New().String(), PatternID: "p", Status: models.WorkflowStatusRunning, StartTime: old,
	}
	require.NoError(t, st.CreateWorkflowRun(ctx, st.DB(), staleRun))

	agedRun := &models.WorkflowExecution{
		ID: uuid.New().String(), PatternID: "p", Status: models.WorkflowStatusCompleted, StartTime: old,
	}
	require.NoError(t, st.CreateWorkflowRun(ctx, st.DB(), agedRun))
	agedRun.EndTime = &old
	require.NoError(t, st.SaveWorkflowRun(ctx, st.DB(), agedRun))

	freshRun := &models.WorkflowExecution{
		ID: uuid.New().String(), PatternID: "p", Status: models.WorkflowStatusRunning, StartTime: time.Now().UTC(),
	}
	require.NoError(t, st.CreateWorkflowRun(ctx, st.DB(), freshRun))

	require.NoError(t, rec.StartupSweep(ctx))

	t.Run("interrupted execution cancelled with sweep log", func(t *testing.T) {
		got, err := st.GetExecution(ctx, st.DB(), interrupted.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCancelled, got.Status)
		require.NotEmpty(t, got.Logs)
		assert.Equal(t, "system restart cleanup", got.Logs[len(got.Logs)-1].Message)
	})

	t.Run("busy agent released", func(t *testing.T) {
		got, err := st.GetAgent(ctx, st.DB(), agent.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AgentStatusIdle, got.Status)
	})

	t.Run("corrupt execution removed", func(t *testing.T) {
		execs, err := st.ListExecutions(ctx, st.DB(), "", "", 0, 0)
		require.NoError(t, err)
		assert.Len(t, execs, 1)
	})

	t.Run("stale run aborted, aged run pruned, fresh run untouched", func(t *testing.T) {
		got, err := st.GetWorkflowRun(ctx, st.DB(), staleRun.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusAborted, got.Status)

		_, err = st.GetWorkflowRun(ctx, st.DB(), agedRun.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		got, err = st.GetWorkflowRun(ctx, st.DB(), freshRun.ID)
		require.NoError(t, err)
		assert.Equal(t, models.WorkflowStatusRunning, got.Status)
	})
}

func TestStartupSweepIsIdempotent(t *testing.T) {
	st, rec := newFixture(t)
	ctx := context.Background()
	agent, task := seedAgentTask(t, st)

	interrupted := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		AgentID:   agent.ID,
		Status:    models.ExecutionStatusStarting,
		StartTime: time.Now().UTC(),
	}
	require.NoError(t, st.CreateExecution(ctx, st.DB(), interrupted))

	require.NoError(t, rec.StartupSweep(ctx))

	first, err := st.GetExecution(ctx, st.DB(), interrupted.ID)
	require.NoError(t, err)
	logCount := len(first.Logs)

	require.NoError(t, rec.StartupSweep(ctx))

	second, err := st.GetExecution(ctx, st.DB(), interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, second.Status)
	assert.Len(t, second.Logs, logCount, "second sweep must not append more logs")
}
