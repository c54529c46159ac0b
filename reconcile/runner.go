package reconcile

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// TickInterval is how often derived alarm state is recomputed
const TickInterval = time.Second

// Runner drives a device: the push channel loop and the alarm tick run side
// by side, and either one failing stops both.
type Runner struct {
	Engine     *Engine
	Connection *Connection

	// OnTick receives the derived state after every tick
	OnTick func(now time.Time, d Derived)
}

// Run loads the engine and blocks until ctx ends or the device is kicked
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Engine.Load(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.Connection.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				d := r.Engine.Tick(now)
				if r.OnTick != nil {
					r.OnTick(now, d)
				}
			}
		}
	})

	return g.Wait()
}
