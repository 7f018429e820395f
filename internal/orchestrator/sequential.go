package orchestrator

import (
	"context"
)

// runSequential runs tasks one at a time in declared order. The first
// failure stops the run; later tasks are never started.
func (o *Orchestrator) runSequential(ctx context.Context, r *run) error {
	for _, t := range r.tasks {
		if err := ctx.Err(); err != nil {
			return cancelled("sequential", err)
		}

		o.begin(t)
		out, err := o.runTask(ctx, r, t, t.AgentID, 0)
		o.settle(t, out, err)
		if err != nil {
			return err
		}
	}
	return nil
}
