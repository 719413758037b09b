package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-sh/maestro/pkg/config"
	"github.com/maestro-sh/maestro/pkg/database"
	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/runner"
	"github.com/maestro-sh/maestro/pkg/store"
)

// fakeStrategy scripts a runner outcome for engine tests.
type fakeStrategy struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context) (*runner.Result, error)
}

func (f *fakeStrategy) Execute(ctx context.Context, agent *models.Agent, task *models.Task, workDir string) (*runner.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx)
}

func (f *fakeStrategy) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func succeedWith(method string) *fakeStrategy {
	return &fakeStrategy{fn: func(ctx context.Context) (*runner.Result, error) {
		return &runner.Result{
			Response:        "done",
			MessagesCount:   3,
			WorkDirectory:   "/tmp/w",
			ExecutionMethod: method,
		}, nil
	}}
}

func failWith(err error) *fakeStrategy {
	return &fakeStrategy{fn: func(ctx context.Context) (*runner.Result, error) {
		return nil, err
	}}
}

// blockUntilCancelled parks until the context ends, as a hung subprocess
// would.
func blockUntilCancelled() *fakeStrategy {
	return &fakeStrategy{fn: func(ctx context.Context) (*runner.Result, error) {
		<-ctx.Done()
		return nil, runner.ErrTimeout
	}}
}

type engineFixture struct {
	store  *store.Store
	bus    *events.Bus
	engine *Engine
}

func newEngineFixture(t *testing.T, primary, fallback runner.Strategy, cfg *config.EngineConfig) *engineFixture {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.InMemory())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)

	if cfg == nil {
		cfg = config.DefaultEngineConfig()
		cfg.ExecutionRoot = t.TempDir()
	}
	eng := New(st, bus, primary, fallback, cfg, nil)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(shutdownCtx)
	})
	return &engineFixture{store: st, bus: bus, engine: eng}
}

func (f *engineFixture) seedAgentTask(t *testing.T) (*models.Agent, *models.Task) {
	t.Helper()
	ctx := context.Background()
	agent, err := f.store.CreateAgent(ctx, f.store.DB(), models.CreateAgentRequest{
		Name:         "worker-" + t.Name(),
		Role:         "backend developer",
		SystemPrompt: "p",
	})
	require.NoError(t, err)
	task, err := f.store.CreateTask(ctx, f.store.DB(), models.CreateTaskRequest{
		Title:       "build feature",
		Description: "d",
	})
	require.NoError(t, err)
	require.NoError(t, f.store.ReplaceTaskAssignments(ctx, f.store.DB(), task.ID, []string{agent.ID}))
	return agent, task
}

func (f *engineFixture) waitForStatus(t *testing.T, executionID string, want models.ExecutionStatus) *models.Execution {
	t.Helper()
	var exec *models.Execution
	require.Eventually(t, func() bool {
		var err error
		exec, err = f.store.GetExecution(context.Background(), f.store.DB(), executionID)
		return err == nil && exec.Status == want
	}, 5*time.Second, 10*time.Millisecond, "execution never reached %s", want)
	return exec
}

func TestStartExecutionCompletesViaPrimary(t *testing.T) {
	f := newEngineFixture(t, succeedWith("subprocess"), succeedWith("fallback"), nil)
	agent, task := f.seedAgentTask(t)
	ctx := context.Background()

	sub := f.bus.Subscribe(events.TopicExecution)
	defer sub.Close()

	resp, err := f.engine.StartTaskExecution(ctx, models.StartExecutionRequest{TaskID: task.ID})
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusStarting, resp.Status)
	assert.Equal(t, task.ID, resp.TaskID)

	exec := f.waitForStatus(t, resp.ExecutionID, models.ExecutionStatusCompleted)
	assert.Equal(t, "subprocess", exec.Output["execution_method"])
	assert.Equal(t, "done", exec.AgentResponse)
	require.NotNil(t, exec.EndTime)

	gotAgent, err := f.store.GetAgent(ctx, f.store.DB(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusIdle, gotAgent.Status)
	assert.NotNil(t, gotAgent.LastActive)

	gotTask, err := f.store.GetTask(ctx, f.store.DB(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, gotTask.Status)
	assert.Equal(t, "subprocess", gotTask.Results["execution_method"])

	evt := <-sub.Events()
	assert.Equal(t, events.EventTypeStarted, evt.EventType)
}

func TestFallbackOnSubprocessFailure(t *testing.T) {
	f := newEngineFixture(t, failWith(runner.ErrSubprocess), succeedWith("fallback"), nil)
	_, task := f.seedAgentTask(t)

	resp, err := f.engine.StartTaskExecution(context.Background(), models.StartExecutionRequest{TaskID: task.ID})
	require.NoError(t, err)

	exec := f.waitForStatus(t, resp.ExecutionID, models.ExecutionStatusCompleted)
	assert.Equal(t, "fallback", exec.Output["execution_method"])

	var sawWarning bool
	for _, entry := range exec.Logs {
		if entry.Level == models.LogLevelWarning {
			sawWarning = true
			assert.Contains(t, entry.Message, "using fallback")
		}
	}
	assert.True(t, sawWarning, "expected a fallback warning log")
}

func TestOuterTimeoutIsTerminal(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.DefaultTimeout = 60 * time.Millisecond
	cfg.SubprocessAttempt = 20 * time.Millisecond
	cfg.ExecutionRoot = t.TempDir()

	f := newEngineFixture(t, blockUntilCancelled(), blockUntilCancelled(), cfg)
	agent, task := f.seedAgentTask(t)

	resp, err := f.engine.StartTaskExecution(context.Background(), models.StartExecutionRequest{TaskID: task.ID})
	require.NoError(t, err)

	exec := f.waitForStatus(t, resp.ExecutionID, models.ExecutionStatusFailed)
	require.NotNil(t, exec.ErrorDetails)
	assert.Equal(t, "timeout", exec.ErrorDetails.Kind)

	gotTask, err := f.store.GetTask(context.Background(), f.store.DB(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, gotTask.Status)

	gotAgent, err := f.store.GetAgent(context.Background(), f.store.DB(), agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusIdle, gotAgent.Status)
}

func TestStartRejectsBusyAgentWithoutForce(t *testing.T) {
	f := newEngineFixture(t, blockUntilCancelled(), blockUntilCancelled(), nil)
	agent, task := f.seedAgentTask(t)
	ctx := context.Background()

	first, err := f.engine.StartTaskExecution(ctx, models.StartExecutionRequest{TaskID: task.ID})
	require.NoError(t, err)
	f.waitForStatus(t, first.ExecutionID, models.ExecutionStatusRunning)

	_, err = f.engine.StartTaskExecution(ctx, models.StartExecutionRequest{TaskID: task.ID})
	var busy *BusyError
	require.ErrorAs(t, err, &busy)
	assert.Contains(t, busy.AgentNames, agent.Name)
	assert.Contains(t, busy.ExecutionIDs, first.ExecutionID)

	t.Run("force restart aborts the conflicting execution", func(t *testing.T) {
		second, err := f.engine.StartTaskExecution(ctx, models.StartExecutionRequest{
			TaskID:       task.ID,
			ForceRestart: true,
		})
		require.NoError(t, err)

		aborted, err := f.store.GetExecution(ctx, f.store.DB(), first.ExecutionID)
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusCancelled, aborted.Status)

		f.waitForStatus(t, second.ExecutionID, models.ExecutionStatusRunning)
	})
}

func TestStartWithoutAgentsRejected(t *testing.T) {
	f := newEngineFixture(t, succeedWith("subprocess"), succeedWith("fallback"), nil)
	task, err := f.store.CreateTask(context.Background(), f.store.DB(), models.CreateTaskRequest{
		Title: "orphan", Description: "d",
	})
	require.NoError(t, err)

	_, err = f.engine.StartTaskExecution(context.Background(), models.StartExecutionRequest{TaskID: task.ID})
	assert.ErrorIs(t, err, ErrNoAgents)
}

func TestPauseResumeLifecycle(t *testing.T) {
	f := newEngineFixture(t, blockUntilCancelled(), blockUntilCancelled(), nil)
	_, task := f.seedAgentTask(t)
	ctx := context.Background()

	resp, err := f.engine.StartTaskExecution(ctx, models.StartExecutionRequest{TaskID: task.ID})
	require.NoError(t, err)
	f.waitForStatus(t, resp.ExecutionID, models.ExecutionStatusRunning)

	paused, err := f.engine.PauseExecution(ctx, resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPaused, paused.Status)
	require.NotNil(t, paused.PausedAt)

	t.Run("pause from paused rejected", func(t *testing.T) {
		_, err := f.engine.PauseExecution(ctx, resp.ExecutionID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	resumed, err := f.engine.ResumeExecution(ctx, resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, resumed.Status)
	assert.Nil(t, resumed.PausedAt)
	f.waitForStatus(t, resp.ExecutionID, models.ExecutionStatusRunning)
}

func TestAbortWinsOverPause(t *testing.T) {
	f := newEngineFixture(t, blockUntilCancelled(), blockUntilCancelled(), nil)
	_, task := f.seedAgentTask(t)
	ctx := context.Background()

	resp, err := f.engine.StartTaskExecution(ctx, models.StartExecutionRequest{TaskID: task.ID})
	require.NoError(t, err)
	f.waitForStatus(t, resp.ExecutionID, models.ExecutionStatusRunning)

	_, err = f.engine.PauseExecution(ctx, resp.ExecutionID)
	require.NoError(t, err)

	require.NoError(t, f.engine.AbortExecution(ctx, resp.ExecutionID))

	exec, err := f.store.GetExecution(ctx, f.store.DB(), resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCancelled, exec.Status)
	require.NotNil(t, exec.EndTime)

	t.Run("resume after abort rejected", func(t *testing.T) {
		_, err := f.engine.ResumeExecution(ctx, resp.ExecutionID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("abort is not repeatable", func(t *testing.T) {
		err := f.engine.AbortExecution(ctx, resp.ExecutionID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestDeadlineLadder(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	eng := &Engine{cfg: cfg}

	tests := []struct {
		name    string
		minutes *int
		want    time.Duration
	}{
		{name: "default when unset", minutes: nil, want: 300 * time.Second},
		{name: "estimate scales to seconds", minutes: intPtr(4), want: 240 * time.Second},
		{name: "ceiling applies", minutes: intPtr(30), want: 600 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &models.Task{EstimatedDuration: tt.minutes}
			assert.Equal(t, tt.want, eng.deadlineFor(task))
		})
	}
}

func intPtr(v int) *int { return &v }
