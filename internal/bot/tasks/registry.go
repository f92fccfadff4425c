// Package tasks implements the periodic maintenance jobs run by the scheduler.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/database"
)

// ScheduledTaskFunc is the signature of every task. The context is cancelled
// when the scheduler stops.
type ScheduledTaskFunc func(ctx context.Context) error

// Sweeper drops stale conversation state. *responder.Manager implements it.
type Sweeper interface {
	Sweep(now time.Time) int
}

// TaskDeps contains the dependencies of the scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	// Store is nil when no platform needs the database.
	Store    database.Store
	Sweepers []Sweeper
	Clock    clockwork.Clock
	Config   *config.Config
}

// RegisterAllTasks returns the available tasks keyed by the name used in
// the scheduler configuration.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	if deps.Store != nil {
		tasks["sql_maintenance"] = newSQLMaintenanceTask(deps)
	}
	tasks["responder_sweep"] = newResponderSweepTask(deps)

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}
