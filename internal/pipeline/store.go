package pipeline

import (
	"context"

	"streamsub/internal/persistence"
)

// Store is the durable-cache surface the pipeline depends on.
// persistence.SQLiteStore satisfies it.
type Store interface {
	LoadUnits(ctx context.Context, workItemID, sourceLang, targetLang string) ([]persistence.TranslationUnit, error)
	SaveUnitsBatch(ctx context.Context, units []persistence.TranslationUnit) (int, error)
	ClearUnits(ctx context.Context, workItemID string) (int64, error)
	UpsertMetadata(ctx context.Context, workItemID string, lastAccessedDays int) error
}
