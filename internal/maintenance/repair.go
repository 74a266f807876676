package maintenance

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
)

// repairQueue holds failed events keyed by item id. Only the newest event per
// id is kept since replaying an older one would be dropped as stale anyway.
type repairQueue struct {
	mu      sync.Mutex
	pending map[string]model.Event
	limit   int
}

func newRepairQueue(limit int) *repairQueue {
	return &repairQueue{pending: make(map[string]model.Event), limit: limit}
}

// push reports false when the queue is full and ev was dropped.
func (q *repairQueue) push(ev model.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.pending[ev.ItemID]; ok {
		if !ev.ModifiedAt.Before(cur.ModifiedAt) {
			q.pending[ev.ItemID] = ev
		}
		return true
	}
	if len(q.pending) >= q.limit {
		return false
	}
	q.pending[ev.ItemID] = ev
	return true
}

// drain empties the queue and returns its events oldest first.
func (q *repairQueue) drain() []model.Event {
	q.mu.Lock()
	events := make([]model.Event, 0, len(q.pending))
	for _, ev := range q.pending {
		events = append(events, ev)
	}
	q.pending = make(map[string]model.Event)
	q.mu.Unlock()

	slices.SortFunc(events, func(a, b model.Event) int {
		if c := a.ModifiedAt.Compare(b.ModifiedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ItemID, b.ItemID)
	})
	return events
}

func (q *repairQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Repair replays every queued event once. Events that fail again go back on
// the queue. It returns how many were applied.
func (c *Coordinator) Repair(ctx context.Context) int {
	events := c.repair.drain()
	if len(events) == 0 {
		return 0
	}
	repaired := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			c.repair.push(ev)
			continue
		}
		if err := c.apply(ctx, ev); err != nil {
			if ctx.Err() != nil {
				c.repair.push(ev)
			}
			continue
		}
		c.metrics.Event(string(ev.Type), "repaired")
		repaired++
	}
	c.metrics.SetRepairQueueDepth(c.repair.len())
	c.logger.Info("repair pass finished",
		"attempted", len(events),
		"repaired", repaired,
		"pending", c.repair.len(),
	)
	return repaired
}
