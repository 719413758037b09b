package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-sh/maestro/pkg/config"
	"github.com/maestro-sh/maestro/pkg/database"
	"github.com/maestro-sh/maestro/pkg/engine"
	"github.com/maestro-sh/maestro/pkg/events"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/runner"
	"github.com/maestro-sh/maestro/pkg/store"
)

// scriptedStrategy completes instantly except for task titles it is told to
// fail or block on.
type scriptedStrategy struct {
	failTitles  map[string]bool
	blockTitles map[string]bool
}

func (s *scriptedStrategy) Execute(ctx context.Context, agent *models.Agent, task *models.Task, workDir string) (*runner.Result, error) {
	if s.blockTitles[task.Title] {
		<-ctx.Done()
		return nil, runner.ErrTimeout
	}
	if s.failTitles[task.Title] {
		return nil, errors.New("scripted failure")
	}
	return &runner.Result{
		Response:        "done: " + task.Title,
		MessagesCount:   1,
		WorkDirectory:   workDir,
		ExecutionMethod: "fallback",
	}, nil
}

type orchestratorFixture struct {
	store *store.Store
	bus   *events.Bus
	core  *Core
}

func newOrchestratorFixture(t *testing.T, strategy runner.Strategy) *orchestratorFixture {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.InMemory())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)

	engCfg := config.DefaultEngineConfig()
	engCfg.ExecutionRoot = t.TempDir()
	eng := engine.New(st, bus, strategy, strategy, engCfg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})

	cfg := &config.OrchestratorConfig{
		ChildWait:          5 * time.Second,
		IterationChildWait: 5 * time.Second,
		PollInterval:       10 * time.Millisecond,
		RoundDelay:         5 * time.Millisecond,
	}
	core := New(st, bus, eng, cfg, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = core.Shutdown(ctx)
	})
	return &orchestratorFixture{store: st, bus: bus, core: core}
}

func (f *orchestratorFixture) seedAgents(t *testing.T, names ...string) []*models.Agent {
	t.Helper()
	agents := make([]*models.Agent, 0, len(names))
	for _, name := range names {
		agent, err := f.store.CreateAgent(context.Background(), f.store.DB(), models.CreateAgentRequest{
			Name:         name,
			Role:         "generalist",
			SystemPrompt: "p",
		})
		require.NoError(t, err)
		agents = append(agents, agent)
	}
	return agents
}

func (f *orchestratorFixture) seedTasks(t *testing.T, titles ...string) []*models.Task {
	t.Helper()
	tasks := make([]*models.Task, 0, len(titles))
	for _, title := range titles {
		task, err := f.store.CreateTask(context.Background(), f.store.DB(), models.CreateTaskRequest{
			Title:       title,
			Description: "work on " + title,
		})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	return tasks
}

func (f *orchestratorFixture) seedPattern(t *testing.T, workflowType models.WorkflowType, agents []*models.Agent, tasks []*models.Task, mutate func(*models.WorkflowPattern)) *models.WorkflowPattern {
	t.Helper()
	pattern := &models.WorkflowPattern{
		Name:         "pattern-" + uuid.New().String()[:8],
		WorkflowType: workflowType,
		Config:       models.DefaultWorkflowConfig(),
		Status:       models.PatternStatusActive,
	}
	for _, a := range agents {
		pattern.AgentIDs = append(pattern.AgentIDs, a.ID)
	}
	for _, task := range tasks {
		pattern.TaskIDs = append(pattern.TaskIDs, task.ID)
	}
	if mutate != nil {
		mutate(pattern)
	}
	require.NoError(t, f.store.CreatePattern(context.Background(), f.store.DB(), pattern))
	return pattern
}

func (f *orchestratorFixture) waitForRun(t *testing.T, runID string, want models.WorkflowStatus) *models.WorkflowExecution {
	t.Helper()
	var run *models.WorkflowExecution
	require.Eventually(t, func() bool {
		var err error
		run, err = f.store.GetWorkflowRun(context.Background(), f.store.DB(), runID)
		return err == nil && run.Status == want
	}, 10*time.Second, 10*time.Millisecond, "workflow run never reached %s", want)
	return run
}

func (f *orchestratorFixture) countExecutions(t *testing.T) int {
	t.Helper()
	execs, err := f.store.ListExecutions(context.Background(), f.store.DB(), "", "", 1000, 0)
	require.NoError(t, err)
	return len(execs)
}

func TestSequentialWorkflowCompletes(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedStrategy{})
	agents := f.seedAgents(t, "alpha", "beta")
	tasks := f.seedTasks(t, "first", "second", "third")
	pattern := f.seedPattern(t, models.WorkflowSequential, agents, tasks, nil)

	run, err := f.core.ExecuteWorkflow(context.Background(), pattern.ID, models.ExecuteWorkflowRequest{})
	require.NoError(t, err)

	done := f.waitForRun(t, run.ID, models.WorkflowStatusCompleted)
	assert.Equal(t, 1.0, done.Progress)
	require.NotNil(t, done.EndTime)

	assert.EqualValues(t, 3, done.Results["steps_completed"])
	assert.EqualValues(t, 3, done.Results["total_steps"])
	assert.InDelta(t, 1.0, done.Results["success_rate"], 1e-9)

	order, ok := done.Results["execution_order"].([]any)
	require.True(t, ok)
	require.Len(t, order, 3)
	assert.Contains(t, order[0], "1. first")

	assert.NotEmpty(t, done.AgentCommunications, "expected coordination messages")
	assert.Equal(t, 3, f.countExecutions(t))
}

func TestSequentialStopsOnChildFailure(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedStrategy{failTitles: map[string]bool{"second": true}})
	agents := f.seedAgents(t, "alpha")
	tasks := f.seedTasks(t, "first", "second", "third")
	pattern := f.seedPattern(t, models.WorkflowSequential, agents, tasks, nil)

	run, err := f.core.ExecuteWorkflow(context.Background(), pattern.ID, models.ExecuteWorkflowRequest{})
	require.NoError(t, err)

	done := f.waitForRun(t, run.ID, models.WorkflowStatusCompleted)
	assert.EqualValues(t, 1, done.Results["steps_completed"])
	assert.InDelta(t, 1.0/3.0, done.Results["success_rate"], 1e-9)

	order, ok := done.Results["execution_order"].([]any)
	require.True(t, ok)
	assert.Len(t, order, 2, "third task must never start")
	assert.Equal(t, 2, f.countExecutions(t))
}

func TestParallelWorkflowSurvivesFailures(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedStrategy{failTitles: map[string]bool{"second": true}})
	agents := f.seedAgents(t, "alpha", "beta", "gamma")
	tasks := f.seedTasks(t, "first", "second", "third")
	pattern := f.seedPattern(t, models.WorkflowParallel, agents, tasks, nil)

	run, err := f.core.ExecuteWorkflow(context.Background(), pattern.ID, models.ExecuteWorkflowRequest{})
	require.NoError(t, err)

	done := f.waitForRun(t, run.ID, models.WorkflowStatusCompleted)
	assert.EqualValues(t, 2, done.Results["successful_tasks"])
	assert.EqualValues(t, 3, done.Results["total_tasks"])
	assert.EqualValues(t, 3, done.Results["concurrency_achieved"])
	assert.Equal(t, 3, f.countExecutions(t), "every task starts despite one failure")
}

func TestRouterScoring(t *testing.T) {
	gatherer := &models.Agent{Name: "scout", Role: "research analyst"}
	writer := &models.Agent{Name: "report writer", Role: "documentation"}
	generic := &models.Agent{Name: "generic", Role: "helper"}

	tests := []struct {
		name  string
		task  *models.Task
		want  *models.Agent
		score int
	}{
		{
			name:  "category keyword in title and role",
			task:  &models.Task{Title: "gather market data"},
			want:  gatherer,
			score: 11,
		},
		{
			name:  "title word in agent name",
			task:  &models.Task{Title: "write report summary"},
			want:  writer,
			score: 16,
		},
		{
			name:  "baseline falls to list order",
			task:  &models.Task{Title: "misc chores"},
			want:  gatherer,
			score: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent, score, reason := bestAgentFor(tt.task, []*models.Agent{gatherer, writer, generic})
			assert.Equal(t, tt.want.Name, agent.Name)
			assert.Equal(t, tt.score, score)
			assert.NotEmpty(t, reason)
		})
	}
}

func TestRouterWorkflowRecordsDecisions(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedStrategy{})
	agents := f.seedAgents(t, "researcher", "writer")
	tasks := f.seedTasks(t, "gather requirements", "write summary")
	pattern := f.seedPattern(t, models.WorkflowRouter, agents, tasks, nil)

	run, err := f.core.ExecuteWorkflow(context.Background(), pattern.ID, models.ExecuteWorkflowRequest{})
	require.NoError(t, err)

	done := f.waitForRun(t, run.ID, models.WorkflowStatusCompleted)
	decisions, ok := done.Results["routing_decisions"].([]any)
	require.True(t, ok)
	assert.Len(t, decisions, 2)
	assert.EqualValues(t, 2, done.Results["total_tasks"])
}

func TestRouterMatchesRoleNouns(t *testing.T) {
	// Role nouns like "analyst" must land in their category even though the
	// title keyword is the verb form ("analyze").
	research := &models.Agent{Name: "agent-a", Role: "research"}
	writer := &models.Agent{Name: "agent-b", Role: "writer"}
	analyst := &models.Agent{Name: "agent-c", Role: "analyst"}
	agents := []*models.Agent{research, writer, analyst}

	tests := []struct {
		title string
		want  string
	}{
		{title: "gather facts", want: "agent-a"},
		{title: "write report", want: "agent-b"},
		{title: "analyze data", want: "agent-c"},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			agent, score, _ := bestAgentFor(&models.Task{Title: tt.title}, agents)
			assert.Equal(t, tt.want, agent.Name)
			assert.Equal(t, 11, score)
		})
	}
}

func TestRouterUtilizesEverySuitedAgent(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedStrategy{})

	roles := map[string]string{"agent-a": "research", "agent-b": "writer", "agent-c": "analyst"}
	agents := make([]*models.Agent, 0, len(roles))
	for _, name := range []string{"agent-a", "agent-b", "agent-c"} {
		agent, err := f.store.CreateAgent(context.Background(), f.store.DB(), models.CreateAgentRequest{
			Name:         name,
			Role:         roles[name],
			SystemPrompt: "p",
		})
		require.NoError(t, err)
		agents = append(agents, agent)
	}
	tasks := f.seedTasks(t, "gather facts", "write report", "analyze data")
	pattern := f.seedPattern(t, models.WorkflowRouter, agents, tasks, nil)

	run, err := f.core.ExecuteWorkflow(context.Background(), pattern.ID, models.ExecuteWorkflowRequest{})
	require.NoError(t, err)

	done := f.waitForRun(t, run.ID, models.WorkflowStatusCompleted)
	assert.EqualValues(t, 3, done.Results["agents_utilized"])
	assert.Equal(t, 3, f.countExecutions(t))

	decisions, ok := done.Results["routing_decisions"].([]any)
	require.True(t, ok)
	require.Len(t, decisions, 3)
	want := map[string]string{
		"gather facts": "agent-a",
		"write report": "agent-b",
		"analyze data": "agent-c",
	}
	for _, raw := range decisions {
		decision, ok := raw.(map[string]any)
		require.True(t, ok)
		title, _ := decision["task_title"].(string)
		assert.Equal(t, want[title], decision["agent_name"], "task %q routed to the wrong agent", title)
	}
}

func TestEvaluatorOptimizerStopsAtThreshold(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedStrategy{})
	agents := f.seedAgents(t, "alpha", "beta")
	tasks := f.seedTasks(t, "first", "second")
	pattern := f.seedPattern(t, models.WorkflowEvaluatorOptimizer, agents, tasks, nil)

	run, err := f.core.ExecuteWorkflow(context.Background(), pattern.ID, models.ExecuteWorkflowRequest{})
	require.NoError(t, err)

	done := f.waitForRun(t, run.ID, models.WorkflowStatusCompleted)

	// Mean quality walks 0.625 → 0.775 → 0.925 and clears the 0.85
	// threshold on the third pass.
	assert.EqualValues(t, 3, done.Results["iterations_completed"])
	assert.Equal(t, true, done.Results["threshold_achieved"])
	assert.InDelta(t, 0.625, done.Results["initial_quality"], 1e-9)
	assert.InDelta(t, 0.925, done.Results["final_quality"], 1e-9)
	assert.InDelta(t, 0.30, done.Results["quality_improvement"], 1e-9)
	assert.Equal(t, 6, f.countExecutions(t), "three iterations over two tasks")
}

func TestSyntheticQuality(t *testing.T) {
	assert.InDelta(t, 0.60, syntheticQuality(1, 0), 1e-9)
	assert.InDelta(t, 0.65, syntheticQuality(1, 1), 1e-9)
	assert.InDelta(t, 0.75, syntheticQuality(2, 0), 1e-9)
	assert.InDelta(t, 0.95, syntheticQuality(4, 5), 1e-9, "capped at 0.95")
}

func TestSwarmCollaborationCounts(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedStrategy{})
	agents := f.seedAgents(t, "alpha", "beta")
	tasks := f.seedTasks(t, "first", "second")
	pattern := f.seedPattern(t, models.WorkflowSwarm, agents, tasks, nil)

	run, err := f.core.ExecuteWorkflow(context.Background(), pattern.ID, models.ExecuteWorkflowRequest{})
	require.NoError(t, err)

	done := f.waitForRun(t, run.ID, models.WorkflowStatusCompleted)

	// 2 rounds x 2 tasks x 2 agents per task.
	assert.EqualValues(t, 8, done.Results["total_collaborations"])
	assert.EqualValues(t, 4, done.Results["unique_combinations"])
	assert.EqualValues(t, 8, done.Results["emergent_behavior_count"])
}

func TestOrchestratedHonorsExplicitAssignment(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedStrategy{})
	agents := f.seedAgents(t, "alpha", "beta", "gamma")
	tasks := f.seedTasks(t, "first", "second")
	ctx := context.Background()

	// Round-robin would give "first" to alpha; pin it to gamma instead.
	require.NoError(t, f.store.ReplaceTaskAssignments(ctx, f.store.DB(), tasks[0].ID, []string{agents[2].ID}))
	pattern := f.seedPattern(t, models.WorkflowOrchestrator, agents, tasks, nil)

	run, err := f.core.ExecuteWorkflow(ctx, pattern.ID, models.ExecuteWorkflowRequest{})
	require.NoError(t, err)

	done := f.waitForRun(t, run.ID, models.WorkflowStatusCompleted)
	assert.EqualValues(t, 2, done.Results["tasks_managed"])
	assert.InDelta(t, 0.95, done.Results["coordination_efficiency"], 1e-9)

	execs, err := f.store.ListExecutions(ctx, f.store.DB(), "", tasks[0].ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, agents[2].ID, execs[0].AgentID)
}

func TestAdaptiveStrategySelection(t *testing.T) {
	shortTask := func(n int) []*models.Task {
		tasks := make([]*models.Task, n)
		for i := range tasks {
			tasks[i] = &models.Task{Title: fmt.Sprintf("t%d", i), Description: "short"}
		}
		return tasks
	}
	agentSet := func(n int) []*models.Agent {
		agents := make([]*models.Agent, n)
		for i := range agents {
			agents[i] = &models.Agent{Name: fmt.Sprintf("a%d", i)}
		}
		return agents
	}

	tests := []struct {
		name   string
		agents []*models.Agent
		tasks  []*models.Task
		want   string
	}{
		{name: "agent surplus with short tasks", agents: agentSet(4), tasks: shortTask(2), want: "parallel_adaptive"},
		{name: "deep task backlog", agents: agentSet(2), tasks: shortTask(5), want: "sequential_adaptive"},
		{name: "balanced workload", agents: agentSet(3), tasks: shortTask(3), want: "router_adaptive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, chooseAdaptiveStrategy(tt.agents, tt.tasks))
		})
	}

	t.Run("long descriptions block the parallel route", func(t *testing.T) {
		tasks := shortTask(2)
		for _, task := range tasks {
			for len(task.Description) < 150 {
				task.Description += " very detailed requirements"
			}
		}
		assert.Equal(t, "router_adaptive", chooseAdaptiveStrategy(agentSet(4), tasks))
	})
}

func TestAdaptiveWorkflowReportsChosenStrategy(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedStrategy{})
	agents := f.seedAgents(t, "alpha")
	tasks := f.seedTasks(t, "t1", "t2", "t3")
	pattern := f.seedPattern(t, models.WorkflowAdaptive, agents, tasks, nil)

	run, err := f.core.ExecuteWorkflow(context.Background(), pattern.ID, models.ExecuteWorkflowRequest{})
	require.NoError(t, err)

	done := f.waitForRun(t, run.ID, models.WorkflowStatusCompleted)
	assert.Equal(t, "sequential_adaptive", done.Results["chosen_strategy"])
	assert.InDelta(t, 1.0, done.Results["adaptation_efficiency"], 1e-9)
	assert.InDelta(t, 0.92, done.Results["adaptive_intelligence_score"], 1e-9)
}

func TestExecuteWorkflowValidation(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedStrategy{})
	agents := f.seedAgents(t, "alpha")
	tasks := f.seedTasks(t, "first")
	ctx := context.Background()

	t.Run("inactive pattern rejected", func(t *testing.T) {
		pattern := f.seedPattern(t, models.WorkflowSequential, agents, tasks, func(p *models.WorkflowPattern) {
			p.Status = models.PatternStatusInactive
		})
		_, err := f.core.ExecuteWorkflow(ctx, pattern.ID, models.ExecuteWorkflowRequest{})
		assert.ErrorIs(t, err, ErrPatternNotActive)
	})

	t.Run("empty pattern rejected", func(t *testing.T) {
		pattern := f.seedPattern(t, models.WorkflowSequential, agents, nil, nil)
		_, err := f.core.ExecuteWorkflow(ctx, pattern.ID, models.ExecuteWorkflowRequest{})
		assert.ErrorIs(t, err, ErrEmptyPattern)
	})

	t.Run("dangling task reference rejected", func(t *testing.T) {
		pattern := f.seedPattern(t, models.WorkflowSequential, agents, tasks, func(p *models.WorkflowPattern) {
			p.TaskIDs = []string{uuid.New().String()}
		})
		_, err := f.core.ExecuteWorkflow(ctx, pattern.ID, models.ExecuteWorkflowRequest{})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("unknown pattern rejected", func(t *testing.T) {
		_, err := f.core.ExecuteWorkflow(ctx, uuid.New().String(), models.ExecuteWorkflowRequest{})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestAbortWorkflowExecution(t *testing.T) {
	f := newOrchestratorFixture(t, &scriptedStrategy{blockTitles: map[string]bool{"first": true, "second": true}})
	agents := f.seedAgents(t, "alpha", "beta")
	tasks := f.seedTasks(t, "first", "second")
	pattern := f.seedPattern(t, models.WorkflowParallel, agents, tasks, nil)
	ctx := context.Background()

	run, err := f.core.ExecuteWorkflow(ctx, pattern.ID, models.ExecuteWorkflowRequest{})
	require.NoError(t, err)
	f.waitForRun(t, run.ID, models.WorkflowStatusRunning)
	require.Equal(t, 1, f.core.ActiveRuns())

	require.NoError(t, f.core.AbortWorkflowExecution(ctx, run.ID, ""))

	aborted, err := f.store.GetWorkflowRun(ctx, f.store.DB(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCancelled, aborted.Status)
	require.NotNil(t, aborted.EndTime)

	last := aborted.ExecutionLogs[len(aborted.ExecutionLogs)-1]
	assert.Equal(t, AbortReasonUser, last.Message)

	require.Eventually(t, func() bool {
		return f.core.ActiveRuns() == 0
	}, 5*time.Second, 10*time.Millisecond)

	t.Run("abort of terminal run rejected", func(t *testing.T) {
		err := f.core.AbortWorkflowExecution(ctx, run.ID, "")
		assert.ErrorIs(t, err, ErrRunTerminal)
	})

	t.Run("in-flight children are not auto-aborted", func(t *testing.T) {
		execs, err := f.store.ListExecutions(ctx, f.store.DB(), "", "", 0, 0)
		require.NoError(t, err)
		for _, exec := range execs {
			assert.False(t, exec.Status.Terminal(),
				"child %s should still be in flight", exec.ID)
		}
	})
}
