package tasks

import (
	"context"
	"fmt"
	"time"
)

// newSQLMaintenanceTask prunes the message log of non-session chats past the
// retention window, then vacuums the database.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")

	return func(ctx context.Context) error {
		startTime := time.Now()

		cutoff := deps.Clock.Now().Add(-deps.Config.Database.Retention)
		pruned, err := deps.Store.PruneMessages(ctx, cutoff)
		if err != nil {
			log.ErrorContext(ctx, "Message pruning failed", "error", err)
			return fmt.Errorf("sql maintenance failed: %w", err)
		}
		log.InfoContext(ctx, "Pruned old messages", "count", pruned, "cutoff", cutoff)

		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			log.ErrorContext(ctx, "SQL maintenance task failed", "error", err, "duration", time.Since(startTime))
			return fmt.Errorf("sql maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Scheduled SQL maintenance task completed successfully", "duration", time.Since(startTime))
		return nil
	}
}
