package commands

import (
	"context"
	"errors"
)

type WorkerCmd struct{}

// Run consumes the notification queue until interrupted. The in-process
// queue is invisible to other processes, so a standalone worker needs Redis.
func (c *WorkerCmd) Run(ctx context.Context, globals *Globals) error {
	a, err := bootstrap(ctx, globals)
	if err != nil {
		return err
	}
	defer a.close()

	if a.redis == nil {
		return errors.New("worker requires REDIS_URL")
	}
	w, err := a.newWorker()
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
