// Package analyzer recommends a workflow pattern for a set of agents and
// tasks. The analyzer is pure: no I/O, no side effects, identical output
// for identical input.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/maestro-sh/maestro/pkg/models"
)

// Recommendation is the analyzer's advice for composing a workflow.
type Recommendation struct {
	RecommendedPattern models.WorkflowType `json:"recommended_pattern"`
	Confidence         float64             `json:"confidence"`
	Reasoning          []string            `json:"reasoning"`
	TaskComplexity     map[string]float64  `json:"task_complexity"`
	Risks              []string            `json:"risks"`
	Suggestions        []string            `json:"suggestions"`
	AgentCount         int                 `json:"agent_count"`
	TaskCount          int                 `json:"task_count"`
}

// objectiveKeywords map objective phrasing to the pattern it implies.
var objectiveKeywords = []struct {
	pattern  models.WorkflowType
	keywords []string
}{
	{models.WorkflowEvaluatorOptimizer, []string{"review", "optimize", "iterate"}},
	{models.WorkflowRouter, []string{"route", "assign", "distribute"}},
	{models.WorkflowSwarm, []string{"collaborate", "swarm", "emergent"}},
	{models.WorkflowParallel, []string{"parallel", "concurrent"}},
	{models.WorkflowSequential, []string{"sequential", "step", "order"}},
}

var complexityKeywords = []string{"complex", "analyze", "optimize", "coordinate", "integrate"}

// coordinationKeywords mark a task as needing cross-agent coordination.
var coordinationKeywords = []string{"coordinate", "integrate", "collaborate"}

// TaskComplexity scores one task in [0, 1] from its description length and
// complexity-keyword density. Tasks without a description score 0.5.
func TaskComplexity(task *models.Task) float64 {
	if task.Description == "" {
		return 0.5
	}
	desc := strings.ToLower(task.Description)
	matches := 0
	for _, kw := range complexityKeywords {
		if strings.Contains(desc, kw) {
			matches++
		}
	}
	score := float64(len(task.Description))/200.0 + float64(matches)/10.0
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func needsCoordination(task *models.Task) bool {
	desc := strings.ToLower(task.Description)
	for _, kw := range coordinationKeywords {
		if strings.Contains(desc, kw) {
			return true
		}
	}
	return len(task.Dependencies) > 0
}

// Analyze recommends a workflow pattern for the given agents and tasks. The
// objective, when present, dominates; otherwise the workload shape decides.
func Analyze(agents []*models.Agent, tasks []*models.Task, objective string) *Recommendation {
	rec := &Recommendation{
		TaskComplexity: make(map[string]float64, len(tasks)),
		AgentCount:     len(agents),
		TaskCount:      len(tasks),
	}
	for _, task := range tasks {
		rec.TaskComplexity[task.ID] = TaskComplexity(task)
	}

	pattern, hits, reasoning := patternFromObjective(objective)
	if pattern == "" {
		pattern, reasoning = patternFromCounts(agents, tasks, rec.TaskComplexity)
	}
	rec.RecommendedPattern = pattern
	rec.Reasoning = reasoning
	rec.Confidence = confidence(pattern, hits, agents, tasks)
	rec.Risks = risks(agents, tasks, rec.TaskComplexity)
	rec.Suggestions = suggestions(pattern, agents, tasks)
	return rec
}

// patternFromObjective returns the pattern implied by the objective and the
// number of keyword hits supporting it, or "" when nothing matched.
func patternFromObjective(objective string) (models.WorkflowType, int, []string) {
	if objective == "" {
		return "", 0, nil
	}
	obj := strings.ToLower(objective)
	for _, entry := range objectiveKeywords {
		hits := 0
		var matched []string
		for _, kw := range entry.keywords {
			if strings.Contains(obj, kw) {
				hits++
				matched = append(matched, kw)
			}
		}
		if hits > 0 {
			reason := fmt.Sprintf("objective mentions %s, suggesting the %s pattern",
				strings.Join(matched, ", "), entry.pattern)
			return entry.pattern, hits, []string{reason}
		}
	}
	return "", 0, nil
}

func patternFromCounts(agents []*models.Agent, tasks []*models.Task, complexity map[string]float64) (models.WorkflowType, []string) {
	numAgents, numTasks := len(agents), len(tasks)

	switch {
	case numAgents == 1:
		return models.WorkflowSequential,
			[]string{"a single agent can only work through tasks in order"}
	case numAgents > 5 && numTasks > 5:
		return models.WorkflowOrchestrator,
			[]string{"large agent pool and task set benefit from central coordination"}
	case numTasks > 2*numAgents:
		return models.WorkflowRouter,
			[]string{"task count far exceeds agents; routing balances the load"}
	case numAgents > 3 && allComplex(tasks, complexity):
		return models.WorkflowSwarm,
			[]string{"many agents and uniformly complex tasks favor swarm collaboration"}
	case noneNeedCoordination(tasks):
		return models.WorkflowParallel,
			[]string{"independent tasks can run concurrently"}
	default:
		return models.WorkflowOrchestrator,
			[]string{"mixed workload defaults to orchestrated delegation"}
	}
}

func allComplex(tasks []*models.Task, complexity map[string]float64) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, task := range tasks {
		if complexity[task.ID] <= 0.7 {
			return false
		}
	}
	return true
}

func noneNeedCoordination(tasks []*models.Task) bool {
	for _, task := range tasks {
		if needsCoordination(task) {
			return false
		}
	}
	return true
}

func confidence(pattern models.WorkflowType, objectiveHits int, agents []*models.Agent, tasks []*models.Task) float64 {
	c := 0.7 + 0.1*float64(objectiveHits)
	if pattern == models.WorkflowOrchestrator && len(agents) > 3 {
		c += 0.1
	}
	if pattern == models.WorkflowParallel && len(tasks) <= len(agents) {
		c += 0.1
	}
	if c > 1 {
		c = 1
	}
	return c
}

func risks(agents []*models.Agent, tasks []*models.Task, complexity map[string]float64) []string {
	var out []string
	if len(agents) > 5 {
		out = append(out, fmt.Sprintf("coordinating %d agents adds communication overhead", len(agents)))
	}
	if len(tasks) > 10 {
		out = append(out, fmt.Sprintf("%d tasks may exceed practical workflow capacity", len(tasks)))
	}
	highComplexity := 0
	for _, score := range complexity {
		if score > 0.7 {
			highComplexity++
		}
	}
	if highComplexity > 3 {
		out = append(out, fmt.Sprintf("%d high-complexity tasks may need decomposition", highComplexity))
	}
	if len(agents) == 1 && len(tasks) > 5 {
		out = append(out, "single agent is a bottleneck for this task volume")
	}
	return out
}

func suggestions(pattern models.WorkflowType, agents []*models.Agent, tasks []*models.Task) []string {
	var out []string
	switch pattern {
	case models.WorkflowOrchestrator:
		out = append(out, "consider priority queues to sequence delegated tasks")
	case models.WorkflowParallel:
		if len(agents) < len(tasks) {
			out = append(out, "a larger agent pool would increase effective concurrency")
		}
	case models.WorkflowSwarm:
		out = append(out, "consensus mechanisms help reconcile overlapping swarm output")
	case models.WorkflowSequential:
		out = append(out, "order tasks so later steps can build on earlier results")
	case models.WorkflowRouter:
		out = append(out, "clear agent role descriptions improve routing accuracy")
	case models.WorkflowEvaluatorOptimizer:
		out = append(out, "define measurable quality gates to anchor each iteration")
	}
	return out
}
