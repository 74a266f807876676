package maintenance

import (
	"context"
	"hash/fnv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
)

// Run consumes events until the channel is closed or ctx is cancelled. Events
// are partitioned by item id over Options.Workers lanes, so events for one id
// are applied in arrival order while different ids proceed in parallel. The
// repair and tombstone pruning loops run alongside.
func (c *Coordinator) Run(ctx context.Context, events <-chan model.Event) error {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if c.opts.EventsPerSecond > 0 {
		burst := max(1, int(c.opts.EventsPerSecond))
		limiter = rate.NewLimiter(rate.Limit(c.opts.EventsPerSecond), burst)
	}

	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()
	loopsDone := make(chan struct{})
	go func() {
		defer close(loopsDone)
		c.backgroundLoop(loopCtx)
	}()

	c.logger.Info("maintenance coordinator started",
		"workers", c.opts.Workers,
		"queue_size", c.opts.QueueSize,
		"events_per_second", c.opts.EventsPerSecond,
	)

	laneSize := max(1, c.opts.QueueSize/c.opts.Workers)
	lanes := make([]chan model.Event, c.opts.Workers)
	var g errgroup.Group
	for i := range lanes {
		lane := make(chan model.Event, laneSize)
		lanes[i] = lane
		g.Go(func() error {
			for ev := range lane {
				// Failures are logged and queued for repair by Apply.
				_ = c.Apply(ctx, ev)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if err := limiter.Wait(ctx); err != nil {
					return nil
				}
				select {
				case lanes[partition(ev.ItemID, len(lanes))] <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})

	_ = g.Wait()
	stopLoops()
	<-loopsDone
	c.logger.Info("maintenance coordinator stopped", "pending_repairs", c.repair.len())
	return ctx.Err()
}

func (c *Coordinator) backgroundLoop(ctx context.Context) {
	repair := time.NewTicker(c.opts.RepairInterval)
	defer repair.Stop()
	prune := time.NewTicker(c.opts.TombstoneTTL)
	defer prune.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-repair.C:
			c.Repair(ctx)
		case <-prune.C:
			if n := c.versions.prune(c.opts.TombstoneTTL); n > 0 {
				c.logger.Debug("tombstones pruned", "count", n)
			}
		}
	}
}

// partition maps an item id onto one of n lanes.
func partition(id string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}
