package tasks

import "context"

// newResponderSweepTask drops idle responder buffers on every platform.
func newResponderSweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "responder_sweep")

	return func(ctx context.Context) error {
		now := deps.Clock.Now()
		dropped := 0
		for _, s := range deps.Sweepers {
			if err := ctx.Err(); err != nil {
				return err
			}
			dropped += s.Sweep(now)
		}
		log.DebugContext(ctx, "Responder sweep completed", "dropped", dropped)
		return nil
	}
}
