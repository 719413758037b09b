// Package cleanup reconciles persisted state after an unclean shutdown and
// prunes aged workflow runs on a retention schedule.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maestro-sh/maestro/pkg/config"
	"github.com/maestro-sh/maestro/pkg/models"
	"github.com/maestro-sh/maestro/pkg/store"
)

const restartCleanupReason = "system restart cleanup"

// Reconciler sweeps orphaned state at boot and runs the periodic retention
// loop.
type Reconciler struct {
	store  *store.Store
	cfg    *config.RetentionConfig
	logger *slog.Logger
}

// NewReconciler creates a reconciler over the store.
func NewReconciler(st *store.Store, cfg *config.RetentionConfig, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:  st,
		cfg:    cfg,
		logger: logger.With("component", "cleanup"),
	}
}

// StartupSweep runs the full boot reconciliation. Idempotent: a second run
// against the same state changes nothing.
func (r *Reconciler) StartupSweep(ctx context.Context) error {
	if err := r.sweepCorruptExecutions(ctx); err != nil {
		return err
	}
	if err := r.cancelInterruptedExecutions(ctx); err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-r.cfg.StaleThreshold)
	if err := r.abortStaleWorkflowRuns(ctx, cutoff); err != nil {
		return err
	}
	return r.pruneAgedWorkflowRuns(ctx, cutoff)
}

// Run executes the periodic retention loop until ctx ends. The startup
// sweep must have run first; this loop only re-applies the age-based rules.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-r.cfg.StaleThreshold)
			if err := r.abortStaleWorkflowRuns(ctx, cutoff); err != nil {
				r.logger.Error("Retention sweep failed", "error", err)
				continue
			}
			if err := r.pruneAgedWorkflowRuns(ctx, cutoff); err != nil {
				r.logger.Error("Retention prune failed", "error", err)
			}
		}
	}
}

// sweepCorruptExecutions deletes execution rows that lost their task or
// agent reference.
func (r *Reconciler) sweepCorruptExecutions(ctx context.Context) error {
	removed, err := r.store.DeleteCorruptExecutions(ctx, r.store.DB())
	if err != nil {
		return fmt.Errorf("corrupt execution sweep: %w", err)
	}
	if len(removed) > 0 {
		r.logger.Warn("Removed executions with missing references",
			"count", len(removed), "execution_ids", removed)
	}
	return nil
}

// cancelInterruptedExecutions marks executions left in starting or running
// as cancelled. The process that owned them is gone.
func (r *Reconciler) cancelInterruptedExecutions(ctx context.Context) error {
	interrupted, err := r.store.ListInterruptedExecutions(ctx, r.store.DB())
	if err != nil {
		return fmt.Errorf("interrupted execution sweep: %w", err)
	}
	now := time.Now().UTC()
	for _, exec := range interrupted {
		exec.Status = models.ExecutionStatusCancelled
		exec.EndTime = &now
		exec.Logs = append(exec.Logs, models.LogEntry{
			Timestamp: now,
			Level:     models.LogLevelWarning,
			Message:   restartCleanupReason,
		})
		if err := r.store.SaveExecution(ctx, r.store.DB(), exec); err != nil {
			return fmt.Errorf("cancel interrupted execution %s: %w", exec.ID, err)
		}
		// Release the agent if it survived the restart still marked busy.
		if exec.AgentID != "" {
			if err := r.store.SetAgentStatus(ctx, r.store.DB(), exec.AgentID, models.AgentStatusIdle, nil); err != nil && !errors.Is(err, store.ErrNotFound) {
				r.logger.Warn("Failed to release agent during sweep",
					"agent_id", exec.AgentID, "error", err)
			}
		}
	}
	if len(interrupted) > 0 {
		r.logger.Info("Cancelled interrupted executions", "count", len(interrupted))
	}
	return nil
}

// abortStaleWorkflowRuns aborts non-terminal workflow runs older than the
// cutoff.
func (r *Reconciler) abortStaleWorkflowRuns(ctx context.Context, cutoff time.Time) error {
	stale, err := r.store.ListStaleWorkflowRuns(ctx, r.store.DB(), cutoff)
	if err != nil {
		return fmt.Errorf("stale workflow sweep: %w", err)
	}
	now := time.Now().UTC()
	for _, run := range stale {
		run.Status = models.WorkflowStatusAborted
		run.EndTime = &now
		run.ExecutionLogs = append(run.ExecutionLogs, models.LogEntry{
			Timestamp: now,
			Level:     models.LogLevelWarning,
			Message:   restartCleanupReason,
		})
		if err := r.store.SaveWorkflowRun(ctx, r.store.DB(), run); err != nil {
			return fmt.Errorf("abort stale workflow run %s: %w", run.ID, err)
		}
	}
	if len(stale) > 0 {
		r.logger.Info("Aborted stale workflow runs", "count", len(stale))
	}
	return nil
}

// pruneAgedWorkflowRuns deletes terminal workflow runs past retention.
func (r *Reconciler) pruneAgedWorkflowRuns(ctx context.Context, cutoff time.Time) error {
	pruned, err := r.store.PruneTerminalWorkflowRuns(ctx, r.store.DB(), cutoff)
	if err != nil {
		return fmt.Errorf("workflow run prune: %w", err)
	}
	if pruned > 0 {
		r.logger.Info("Pruned aged workflow runs", "count", pruned)
	}
	return nil
}
