package orchestrator

import (
	"context"
	"time"

	"github.com/maestro-sh/maestro/pkg/models"
)

// runParallel fires every child at once, then polls until all have reached
// a terminal status. Individual failures never terminate the run early.
func (c *Core) runParallel(ctx context.Context, w *workflowRun) (map[string]any, error) {
	total := len(w.tasks)
	w.setStep("dispatching parallel tasks", 0.1)

	results := make([]childResult, total)
	for i, task := range w.tasks {
		results[i] = w.startChild(ctx, w.agentFor(i), task)
	}

	w.setStep("waiting for parallel completions", 0.3)

	pending := countStarted(results)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for pending > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		pending = 0
		done := 0
		for i := range results {
			r := &results[i]
			if !started(*r) {
				continue
			}
			if isTerminal(r.Status) {
				done++
				continue
			}
			exec, err := c.store.GetExecution(ctx, c.store.DB(), r.ExecutionID)
			if err != nil {
				continue
			}
			if exec.Status.Terminal() {
				r.Status = string(exec.Status)
				if exec.ErrorDetails != nil {
					r.Error = exec.ErrorDetails.Message
				}
				msgType := "task_completed"
				if exec.Status != models.ExecutionStatusCompleted {
					msgType = "task_failed"
				}
				w.addMessage(r.AgentName, "orchestrator", msgType,
					"Task '"+r.TaskTitle+"' finished with status "+string(exec.Status))
				done++
				continue
			}
			pending++
		}

		// Progress walks 0.3 → 0.9 proportional to completions.
		w.setStep("waiting for parallel completions",
			0.3+0.6*float64(done)/float64(total))
	}

	successful := countSucceeded(results)
	return map[string]any{
		"pattern":              "parallel",
		"parallel_results":     asAnySlice(results),
		"successful_tasks":     successful,
		"total_tasks":          total,
		"concurrency_achieved": len(w.agents),
		"parallel_efficiency":  float64(successful) / float64(total),
	}, nil
}

func isTerminal(status string) bool {
	return models.ExecutionStatus(status).Terminal()
}
