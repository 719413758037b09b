package orchestrator

import (
	"context"
	"fmt"

	"github.com/maestro-sh/maestro/pkg/models"
)

// runSequential executes tasks one at a time, pairing agents round-robin.
// A failed child stops the chain; later tasks are never started.
func (c *Core) runSequential(ctx context.Context, w *workflowRun) (map[string]any, error) {
	total := len(w.tasks)
	results := make([]childResult, 0, total)
	executionOrder := make([]string, 0, total)

	for i, task := range w.tasks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.setStep(
			fmt.Sprintf("executing task %d/%d: %s", i+1, total, task.Title),
			0.1+0.8*float64(i)/float64(total),
		)

		res := w.startChild(ctx, w.agentFor(i), task)
		if started(res) {
			w.waitChild(ctx, &res, c.cfg.ChildWait)
		}
		results = append(results, res)
		executionOrder = append(executionOrder,
			fmt.Sprintf("%d. %s (%s)", i+1, task.Title, res.Status))

		if res.Status != string(models.ExecutionStatusCompleted) {
			w.run.ExecutionLogs = append(w.run.ExecutionLogs, models.LogEntry{
				Timestamp: nowUTC(),
				Level:     models.LogLevelWarning,
				Message:   fmt.Sprintf("Stopping chain: task '%s' finished %s", task.Title, res.Status),
			})
			break
		}
	}

	completed := countSucceeded(results)
	w.setStep("aggregating sequential results", 0.1+0.8*float64(completed)/float64(total))

	return map[string]any{
		"pattern":         "sequential",
		"steps_completed": completed,
		"total_steps":     total,
		"success_rate":    float64(completed) / float64(total),
		"execution_order": executionOrder,
		"results":         asAnySlice(results),
	}, nil
}
