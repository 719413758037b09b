package orchestrator

import (
	"context"
	"fmt"
)

// syntheticQuality models quality improving with each iteration and later
// task positions scoring slightly higher, capped below the progress ceiling.
func syntheticQuality(iteration, taskIndex int) float64 {
	q := 0.60 + 0.15*float64(iteration-1) + 0.05*float64(taskIndex)
	if q > 0.95 {
		q = 0.95
	}
	return q
}

// runEvaluatorOptimizer iterates the full task set, scoring each pass and
// stopping early once the mean quality clears the success threshold.
func (c *Core) runEvaluatorOptimizer(ctx context.Context, w *workflowRun) (map[string]any, error) {
	maxIterations := w.config.MaxIterations
	threshold := w.config.SuccessThreshold

	var (
		initialQuality    float64
		finalQuality      float64
		iterations        int
		thresholdAchieved bool
		results           []childResult
	)

	for k := 1; k <= maxIterations; k++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.setStep(
			fmt.Sprintf("optimization iteration %d/%d", k, maxIterations),
			0.1+0.8*float64(k-1)/float64(maxIterations),
		)

		var qualitySum float64
		for ti, task := range w.tasks {
			res := w.startChild(ctx, w.agentFor(ti), task)
			if started(res) {
				w.waitChild(ctx, &res, c.cfg.IterationChildWait)
			}
			results = append(results, res)

			quality := syntheticQuality(k, ti)
			qualitySum += quality
			w.addMessage("evaluator", res.AgentName, "quality_assessment",
				fmt.Sprintf("Iteration %d task '%s' scored %.2f", k, task.Title, quality))
		}

		mean := qualitySum / float64(len(w.tasks))
		if k == 1 {
			initialQuality = mean
		}
		finalQuality = mean
		iterations = k

		if mean >= threshold {
			thresholdAchieved = true
			break
		}
	}

	w.setStep("optimization complete", 0.9)

	return map[string]any{
		"pattern":              "evaluator_optimizer",
		"initial_quality":      initialQuality,
		"final_quality":        finalQuality,
		"quality_improvement":  finalQuality - initialQuality,
		"iterations_completed": iterations,
		"threshold_achieved":   thresholdAchieved,
		"success_threshold":    threshold,
		"results":              asAnySlice(results),
	}, nil
}
