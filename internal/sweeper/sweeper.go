// Package sweeper evicts cached translations for work items that have
// not been opened within the retention horizon.
package sweeper

import (
	"context"

	"streamsub/internal/persistence"
	"streamsub/pkg/days"
	"streamsub/pkg/log"
)

const defaultMaxAgeDays = 30

// Store is the durable-cache surface the sweeper needs.
// persistence.SQLiteStore satisfies it.
type Store interface {
	ListAllMetadata(ctx context.Context) ([]persistence.WorkItemMetadata, error)
	ClearUnits(ctx context.Context, workItemID string) (int64, error)
	DeleteMetadata(ctx context.Context, workItemID string) error
}

type Sweeper struct {
	store      Store
	maxAgeDays int
}

func New(store Store, maxAgeDays int) *Sweeper {
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}
	return &Sweeper{store: store, maxAgeDays: maxAgeDays}
}

// Sweep deletes units and metadata for every work item last accessed
// before the retention cutoff and returns how many items were evicted.
// Individual failures are logged and skipped; one bad record must not
// abort the sweep. Runs once per session, at startup.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	all, err := s.store.ListAllMetadata(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := days.Today() - s.maxAgeDays
	evicted := 0
	for _, meta := range all {
		if meta.LastAccessedDays >= cutoff {
			continue
		}
		cleared, err := s.store.ClearUnits(ctx, meta.WorkItemID)
		if err != nil {
			// Metadata stays so the next sweep retries this item.
			log.Error("Sweep: failed to clear units for %q: %v", meta.WorkItemID, err)
			continue
		}
		if err := s.store.DeleteMetadata(ctx, meta.WorkItemID); err != nil {
			log.Error("Sweep: failed to delete metadata for %q: %v", meta.WorkItemID, err)
			continue
		}
		log.Info("Sweep: evicted %q (%d units, idle for %d days)",
			meta.WorkItemID, cleared, days.Today()-meta.LastAccessedDays)
		evicted++
	}
	return evicted, nil
}
