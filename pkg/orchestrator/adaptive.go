package orchestrator

import (
	"context"
	"fmt"

	"github.com/maestro-sh/maestro/pkg/models"
)

// chooseAdaptiveStrategy inspects the workload shape and picks a
// sub-strategy: a surplus of agents over short tasks favors parallelism,
// a deep task backlog favors sequencing, anything else gets routed.
func chooseAdaptiveStrategy(agents []*models.Agent, tasks []*models.Task) string {
	if len(agents) > len(tasks) && meanDescriptionLength(tasks) < 100 {
		return "parallel_adaptive"
	}
	if len(tasks) > 2*len(agents) {
		return "sequential_adaptive"
	}
	return "router_adaptive"
}

func meanDescriptionLength(tasks []*models.Task) float64 {
	if len(tasks) == 0 {
		return 0
	}
	total := 0
	for _, t := range tasks {
		total += len(t.Description)
	}
	return float64(total) / float64(len(tasks))
}

// runAdaptive selects a sub-strategy for the workload and executes its
// scheduling rules: parallel fires everything, sequential waits per child
// and stops on failure, router picks the best agent per task.
func (c *Core) runAdaptive(ctx context.Context, w *workflowRun) (map[string]any, error) {
	strategy := chooseAdaptiveStrategy(w.agents, w.tasks)
	w.setStep("selected strategy: "+strategy, 0.1)

	total := len(w.tasks)
	results := make([]childResult, 0, total)

	for i, task := range w.tasks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.setStep(
			fmt.Sprintf("%s task %d/%d: %s", strategy, i+1, total, task.Title),
			0.1+0.8*float64(i)/float64(total),
		)

		agent := w.agentFor(i)
		if strategy == "router_adaptive" {
			agent, _, _ = bestAgentFor(task, w.agents)
		}

		res := w.startChild(ctx, agent, task)
		if strategy == "sequential_adaptive" && started(res) {
			w.waitChild(ctx, &res, c.cfg.IterationChildWait)
		}
		results = append(results, res)

		if strategy == "sequential_adaptive" && !succeeded(res) {
			break
		}
	}

	attempted := len(results)
	successful := countSucceeded(results)
	if strategy != "sequential_adaptive" {
		// Fire-and-forget sub-strategies measure dispatch, not completion.
		successful = countStarted(results)
	}
	efficiency := 0.0
	if attempted > 0 {
		efficiency = float64(successful) / float64(attempted)
	}

	w.setStep("adaptive execution complete", 0.9)

	return map[string]any{
		"pattern":                     "adaptive",
		"chosen_strategy":             strategy,
		"adaptation_efficiency":       efficiency,
		"adaptive_intelligence_score": efficiency * 0.92,
		"successful_tasks":            successful,
		"total_tasks":                 total,
		"results":                     asAnySlice(results),
	}, nil
}
