package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-sh/maestro/pkg/database"
	"github.com/maestro-sh/maestro/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.InMemory())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return New(client.DB())
}

func createTestAgent(t *testing.T, s *Store, name string) *models.Agent {
	t.Helper()
	agent, err := s.CreateAgent(context.Background(), s.DB(), models.CreateAgentRequest{
		Name:         name,
		Role:         "backend developer",
		SystemPrompt: "You are a backend developer.",
		Capabilities: []string{"go", "sql"},
	})
	require.NoError(t, err)
	return agent
}

func createTestTask(t *testing.T, s *Store, title string) *models.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), s.DB(), models.CreateTaskRequest{
		Title:       title,
		Description: "Implement the endpoint",
	})
	require.NoError(t, err)
	return task
}

func TestAgentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, s, "builder")
	assert.NotEmpty(t, agent.ID)
	assert.Equal(t, models.AgentStatusIdle, agent.Status)

	t.Run("get round-trips json fields", func(t *testing.T) {
		got, err := s.GetAgent(ctx, s.DB(), agent.ID)
		require.NoError(t, err)
		assert.Equal(t, agent.Name, got.Name)
		assert.Equal(t, []string{"go", "sql"}, got.Capabilities)
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		_, err := s.CreateAgent(ctx, s.DB(), models.CreateAgentRequest{
			Name:         "builder",
			SystemPrompt: "p",
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("status transition records last_active", func(t *testing.T) {
		now := time.Now().UTC()
		err := s.SetAgentStatus(ctx, s.DB(), agent.ID, models.AgentStatusExecuting, &now)
		require.NoError(t, err)

		got, err := s.GetAgent(ctx, s.DB(), agent.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AgentStatusExecuting, got.Status)
		require.NotNil(t, got.LastActive)
	})

	t.Run("status transition preserves last_active when nil", func(t *testing.T) {
		err := s.SetAgentStatus(ctx, s.DB(), agent.ID, models.AgentStatusIdle, nil)
		require.NoError(t, err)

		got, err := s.GetAgent(ctx, s.DB(), agent.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.LastActive)
	})

	t.Run("delete then get returns not found", func(t *testing.T) {
		require.NoError(t, s.DeleteAgent(ctx, s.DB(), agent.ID))
		_, err := s.GetAgent(ctx, s.DB(), agent.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete missing agent returns not found", func(t *testing.T) {
		err := s.DeleteAgent(ctx, s.DB(), uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTaskDurationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		minutes *int
	}{
		{name: "set duration", minutes: intPtr(45)},
		{name: "no duration", minutes: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, err := s.CreateTask(ctx, s.DB(), models.CreateTaskRequest{
				Title:             "task-" + tt.name,
				Description:       "d",
				EstimatedDuration: tt.minutes,
			})
			require.NoError(t, err)

			got, err := s.GetTask(ctx, s.DB(), task.ID)
			require.NoError(t, err)
			if tt.minutes == nil {
				assert.Nil(t, got.EstimatedDuration)
			} else {
				require.NotNil(t, got.EstimatedDuration)
				assert.Equal(t, *tt.minutes, *got.EstimatedDuration)
			}
		})
	}
}

func TestTaskAssignments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a1 := createTestAgent(t, s, "first")
	a2 := createTestAgent(t, s, "second")
	task := createTestTask(t, s, "shared work")

	require.NoError(t, s.ReplaceTaskAssignments(ctx, s.DB(), task.ID, []string{a1.ID, a2.ID}))

	got, err := s.GetTask(ctx, s.DB(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID, a2.ID}, got.AssignedAgentIDs)

	assignments, err := s.ListTaskAssignments(ctx, s.DB(), task.ID)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.Equal(t, models.RolePrimary, assignments[0].RoleInTask)
	assert.Equal(t, models.RoleCollaborator, assignments[1].RoleInTask)

	t.Run("reassign replaces prior rows", func(t *testing.T) {
		require.NoError(t, s.ReplaceTaskAssignments(ctx, s.DB(), task.ID, []string{a2.ID}))
		got, err := s.GetTask(ctx, s.DB(), task.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{a2.ID}, got.AssignedAgentIDs)
	})

	t.Run("deleting agent cascades assignments", func(t *testing.T) {
		require.NoError(t, s.DeleteAgent(ctx, s.DB(), a2.ID))
		got, err := s.GetTask(ctx, s.DB(), task.ID)
		require.NoError(t, err)
		assert.Empty(t, got.AssignedAgentIDs)
	})
}

func TestSetTaskStatusTimestamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := createTestTask(t, s, "timestamped")

	require.NoError(t, s.SetTaskStatus(ctx, s.DB(), task.ID, models.TaskStatusInProgress, ""))
	got, err := s.GetTask(ctx, s.DB(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
	firstStart := *got.StartedAt

	// A second in_progress transition must not reset started_at.
	require.NoError(t, s.SetTaskStatus(ctx, s.DB(), task.ID, models.TaskStatusInProgress, ""))
	got, err = s.GetTask(ctx, s.DB(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, firstStart, *got.StartedAt)

	require.NoError(t, s.SetTaskStatus(ctx, s.DB(), task.ID, models.TaskStatusCompleted, ""))
	got, err = s.GetTask(ctx, s.DB(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestExecutionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, s, "runner")
	task := createTestTask(t, s, "execute me")

	exec := &models.Execution{
		ID:            uuid.New().String(),
		TaskID:        task.ID,
		AgentID:       agent.ID,
		Status:        models.ExecutionStatusStarting,
		StartTime:     time.Now().UTC(),
		WorkDirectory: "/tmp/work",
	}
	require.NoError(t, s.CreateExecution(ctx, s.DB(), exec))

	t.Run("append log preserves order", func(t *testing.T) {
		for _, msg := range []string{"first", "second"} {
			err := s.AppendExecutionLog(ctx, s.DB(), exec.ID, models.LogEntry{
				Timestamp: time.Now().UTC(),
				Level:     models.LogLevelInfo,
				Message:   msg,
			})
			require.NoError(t, err)
		}
		got, err := s.GetExecution(ctx, s.DB(), exec.ID)
		require.NoError(t, err)
		require.Len(t, got.Logs, 2)
		assert.Equal(t, "first", got.Logs[0].Message)
		assert.Equal(t, "second", got.Logs[1].Message)
	})

	t.Run("non-terminal listing by task", func(t *testing.T) {
		active, err := s.ListNonTerminalExecutionsForTask(ctx, s.DB(), task.ID)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, exec.ID, active[0].ID)
	})

	t.Run("save with error details round-trips", func(t *testing.T) {
		end := time.Now().UTC()
		exec.Status = models.ExecutionStatusFailed
		exec.EndTime = &end
		exec.ErrorDetails = &models.ErrorDetails{
			Kind:           "timeout",
			Message:        "execution timed out",
			TimeoutSeconds: 300,
		}
		require.NoError(t, s.SaveExecution(ctx, s.DB(), exec))

		got, err := s.GetExecution(ctx, s.DB(), exec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, got.Status)
		require.NotNil(t, got.ErrorDetails)
		assert.Equal(t, "timeout", got.ErrorDetails.Kind)
		assert.Equal(t, 300, got.ErrorDetails.TimeoutSeconds)

		active, err := s.ListNonTerminalExecutionsForTask(ctx, s.DB(), task.ID)
		require.NoError(t, err)
		assert.Empty(t, active)
	})
}

func TestDeleteCorruptExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := createTestAgent(t, s, "survivor")
	task := createTestTask(t, s, "healthy")

	healthy := &models.Execution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		AgentID:   agent.ID,
		Status:    models.ExecutionStatusCompleted,
		StartTime: time.Now().UTC(),
	}
	require.NoError(t, s.CreateExecution(ctx, s.DB(), healthy))

	// Simulate a row that lost its task reference.
	_, err := s.DB().ExecContext(ctx, `
		INSERT INTO executions (id, task_id, agent_id, status, start_time, logs)
		VALUES (?, NULL, ?, 'running', ?, '[]')`,
		uuid.New().String(), agent.ID, time.Now().UTC())
	require.NoError(t, err)

	removed, err := s.DeleteCorruptExecutions(ctx, s.DB())
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	// The sweep is idempotent.
	removed, err = s.DeleteCorruptExecutions(ctx, s.DB())
	require.NoError(t, err)
	assert.Empty(t, removed)

	_, err = s.GetExecution(ctx, s.DB(), healthy.ID)
	assert.NoError(t, err)
}

func TestPatternConfigDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pattern := &models.WorkflowPattern{
		Name:         "review pipeline",
		WorkflowType: models.WorkflowSequential,
		AgentIDs:     []string{"a1"},
		TaskIDs:      []string{"t1"},
		Config:       models.DefaultWorkflowConfig(),
		Status:       models.PatternStatusActive,
	}
	require.NoError(t, s.CreatePattern(ctx, s.DB(), pattern))

	got, err := s.GetPattern(ctx, s.DB(), pattern.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Config.MaxIterations)
	assert.Equal(t, 0.85, got.Config.SuccessThreshold)
	assert.True(t, got.Config.EnableAgentCommunication)

	t.Run("duplicate name rejected", func(t *testing.T) {
		dup := &models.WorkflowPattern{
			Name:         "review pipeline",
			WorkflowType: models.WorkflowParallel,
			Status:       models.PatternStatusActive,
		}
		err := s.CreatePattern(ctx, s.DB(), dup)
		assert.ErrorIs(t, err, ErrDuplicate)
	})
}

func TestWorkflowRunRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	recent := time.Now().UTC()

	stale := &models.WorkflowExecution{
		ID:        uuid.New().String(),
		PatternID: "p1",
		Status:    models.WorkflowStatusRunning,
		StartTime: old,
	}
	require.NoError(t, s.CreateWorkflowRun(ctx, s.DB(), stale))

	fresh := &models.WorkflowExecution{
		ID:        uuid.New().String(),
		PatternID: "p1",
		Status:    models.WorkflowStatusRunning,
		StartTime: recent,
	}
	require.NoError(t, s.CreateWorkflowRun(ctx, s.DB(), fresh))

	finished := &models.WorkflowExecution{
		ID:        uuid.New().String(),
		PatternID: "p1",
		Status:    models.WorkflowStatusCompleted,
		StartTime: old,
		EndTime:   &old,
	}
	require.NoError(t, s.CreateWorkflowRun(ctx, s.DB(), finished))
	finished.Status = models.WorkflowStatusCompleted
	require.NoError(t, s.SaveWorkflowRun(ctx, s.DB(), finished))

	cutoff := time.Now().UTC().Add(-time.Hour)

	staleRuns, err := s.ListStaleWorkflowRuns(ctx, s.DB(), cutoff)
	require.NoError(t, err)
	require.Len(t, staleRuns, 1)
	assert.Equal(t, stale.ID, staleRuns[0].ID)

	pruned, err := s.PruneTerminalWorkflowRuns(ctx, s.DB(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	_, err = s.GetWorkflowRun(ctx, s.DB(), finished.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetWorkflowRun(ctx, s.DB(), fresh.ID)
	assert.NoError(t, err)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := s.CreateAgent(ctx, tx, models.CreateAgentRequest{
			Name:         "ghost",
			SystemPrompt: "p",
		})
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	agents, err := s.ListAgents(ctx, s.DB(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func intPtr(v int) *int { return &v }
