package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/maestro-sh/maestro/pkg/models"
)

// routingCategories pair task-title keywords with the agent roles suited to
// them. A hit in both sides of the same category is a strong match. Role
// keywords are stems so the natural role nouns (researcher, writer, analyst)
// land in their category.
var routingCategories = []struct {
	name          string
	titleKeywords []string
	roleKeywords  []string
}{
	{name: "data_gathering", titleKeywords: []string{"gather", "collect", "research"}, roleKeywords: []string{"gather", "collect", "research"}},
	{name: "reporting", titleKeywords: []string{"report", "write", "document"}, roleKeywords: []string{"report", "writ", "document"}},
	{name: "analysis", titleKeywords: []string{"analyze", "process"}, roleKeywords: []string{"analy", "process"}},
}

// routeScore rates an agent for a task. Higher wins; the caller breaks ties
// by list order.
func routeScore(task *models.Task, agent *models.Agent) (int, string) {
	score := 1
	reasons := []string{"baseline"}

	title := strings.ToLower(task.Title)
	role := strings.ToLower(agent.Role)

	for _, cat := range routingCategories {
		titleHit := containsAny(title, cat.titleKeywords)
		roleHit := containsAny(role, cat.roleKeywords)
		if titleHit && roleHit {
			score += 10
			reasons = append(reasons, "category match: "+cat.name)
			break
		}
	}

	name := strings.ToLower(agent.Name)
	for _, word := range strings.Fields(title) {
		if strings.Contains(name, word) {
			score += 5
			reasons = append(reasons, "name mentions task word: "+word)
			break
		}
	}

	return score, strings.Join(reasons, ", ")
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// bestAgentFor picks the highest-scoring agent with a stable tie-break on
// list order.
func bestAgentFor(task *models.Task, agents []*models.Agent) (*models.Agent, int, string) {
	best := agents[0]
	bestScore, bestReason := routeScore(task, best)
	for _, agent := range agents[1:] {
		score, reason := routeScore(task, agent)
		if score > bestScore {
			best, bestScore, bestReason = agent, score, reason
		}
	}
	return best, bestScore, bestReason
}

// runRouter scores every agent per task and fires each child at the winner
// without waiting.
func (c *Core) runRouter(ctx context.Context, w *workflowRun) (map[string]any, error) {
	total := len(w.tasks)
	results := make([]childResult, 0, total)
	decisions := make([]any, 0, total)
	utilized := make(map[string]bool)

	for i, task := range w.tasks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.setStep(
			fmt.Sprintf("routing task %d/%d: %s", i+1, total, task.Title),
			0.1+0.8*float64(i)/float64(total),
		)

		agent, score, reason := bestAgentFor(task, w.agents)
		decisions = append(decisions, map[string]any{
			"task_id":    task.ID,
			"task_title": task.Title,
			"agent_id":   agent.ID,
			"agent_name": agent.Name,
			"score":      score,
			"reason":     reason,
		})

		res := w.startChild(ctx, agent, task)
		results = append(results, res)
		if started(res) {
			utilized[agent.ID] = true
		}
	}

	routed := countStarted(results)
	w.setStep("routing complete", 0.9)

	return map[string]any{
		"pattern":            "router",
		"routing_decisions":  decisions,
		"successful_routing": routed,
		"total_tasks":        total,
		"routing_efficiency": float64(routed) / float64(total),
		"agents_utilized":    len(utilized),
		"results":            asAnySlice(results),
	}, nil
}
