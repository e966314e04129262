// Package pipeline coalesces subtitle-cue translation requests into
// bounded batches, serializes outbound translation traffic, and routes
// results into the in-memory and durable caches.
package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"streamsub/internal/normalize"
	"streamsub/internal/persistence"
	"streamsub/pkg/days"
	"streamsub/pkg/log"
)

const defaultBatchMax = 7

// Config carries the per-session pipeline settings.
type Config struct {
	SourceLang string
	TargetLang string
	BatchMax   int
}

// Pipeline owns the pending batch list and the session-lifetime success
// and error caches. Construct one per session; all state is explicit, no
// package-level globals.
type Pipeline struct {
	translator Translator
	store      Store
	sourceLang string
	targetLang string
	targetISO  string
	batchMax   int

	mu         sync.Mutex
	workItemID string
	pending    []string          // raw cue texts, FIFO
	queued     map[string]bool   // normalized keys currently pending
	success    map[string]string // normalized key → translated text
	echoes     map[string]bool   // success entries that are self-translations
	errs       map[string]string // normalized key → last error message
	draining   bool
	enabled    bool

	prewarm   singleflight.Group
	persistWG sync.WaitGroup
}

func New(cfg Config, translator Translator, store Store) *Pipeline {
	batchMax := cfg.BatchMax
	if batchMax <= 0 {
		batchMax = defaultBatchMax
	}
	return &Pipeline{
		translator: translator,
		store:      store,
		sourceLang: cfg.SourceLang,
		targetLang: cfg.TargetLang,
		targetISO:  normalize.ISO639Base(cfg.TargetLang),
		batchMax:   batchMax,
		queued:     make(map[string]bool),
		success:    make(map[string]string),
		echoes:     make(map[string]bool),
		errs:       make(map[string]string),
		enabled:    true,
	}
}

// Lookup resolves a raw cue against the in-memory caches, enqueueing it
// on a miss. The success cache takes precedence over the error cache.
func (p *Pipeline) Lookup(rawText string) Result {
	key := normalize.Key(rawText)
	if key == "" {
		return Result{State: StateEcho, Text: rawText}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if translated, ok := p.success[key]; ok {
		if p.echoes[key] {
			return Result{State: StateEcho, Text: translated}
		}
		return Result{State: StateHit, Text: translated}
	}
	if msg, ok := p.errs[key]; ok {
		return Result{State: StateFailed, Text: msg}
	}
	if normalize.Triage(rawText, p.targetISO) == normalize.Echo {
		// Self-translations are cached in memory only; re-deriving them
		// costs nothing, so they never reach the durable store.
		p.success[key] = rawText
		p.echoes[key] = true
		return Result{State: StateEcho, Text: rawText}
	}
	p.enqueueLocked(rawText, key)
	return Result{State: StatePending}
}

// Enqueue appends a raw cue to the pending list. Keys already cached,
// erred, or pending are never enqueued twice.
func (p *Pipeline) Enqueue(rawText string) {
	key := normalize.Key(rawText)
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueueLocked(rawText, key)
}

func (p *Pipeline) enqueueLocked(rawText, key string) {
	if p.queued[key] {
		return
	}
	if _, ok := p.success[key]; ok {
		return
	}
	if _, ok := p.errs[key]; ok {
		return
	}
	p.queued[key] = true
	p.pending = append(p.pending, rawText)
}

// SetEnabled toggles the drain loop. Disabling does not drop queued
// items; they stay pending until the next enabled drain.
func (p *Pipeline) SetEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}

// PendingCount reports how many cues await translation.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// DrainAndProcess drains the pending list in batches of at most BatchMax,
// one in-flight batch at a time. A call while a drain is active is a
// no-op; the in-progress guard is the primary rate-limit defense.
func (p *Pipeline) DrainAndProcess(ctx context.Context) {
	p.mu.Lock()
	if p.draining || !p.enabled {
		p.mu.Unlock()
		return
	}
	p.draining = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.draining = false
		p.mu.Unlock()
	}()

	for {
		p.mu.Lock()
		if !p.enabled || len(p.pending) == 0 {
			p.mu.Unlock()
			return
		}
		n := min(p.batchMax, len(p.pending))
		batch := make([]string, n)
		copy(batch, p.pending[:n])
		p.pending = p.pending[n:]
		workItemID := p.workItemID
		p.mu.Unlock()

		translations, err := p.translator.TranslateBatch(ctx, batch, p.sourceLang, p.targetLang)
		if err == nil && len(translations) != len(batch) {
			err = fmt.Errorf("translation count mismatch: sent %d, got %d", len(batch), len(translations))
		}
		if err != nil {
			p.recordBatchFailure(batch, err)
			continue
		}
		p.recordBatchSuccess(workItemID, batch, translations)
	}
}

// recordBatchSuccess maps results to inputs by position, fills the
// success cache, and dispatches the durable write without blocking the
// drain loop.
func (p *Pipeline) recordBatchSuccess(workItemID string, batch, translations []string) {
	units := make([]persistence.TranslationUnit, 0, len(batch))

	p.mu.Lock()
	for i, rawText := range batch {
		key := normalize.Key(rawText)
		p.success[key] = translations[i]
		delete(p.queued, key)
		units = append(units, persistence.TranslationUnit{
			WorkItemID:     workItemID,
			SourceLang:     p.sourceLang,
			TargetLang:     p.targetLang,
			OriginalText:   key,
			TranslatedText: translations[i],
		})
	}
	p.mu.Unlock()

	p.persistWG.Add(1)
	go func() {
		defer p.persistWG.Done()
		if _, err := p.store.SaveUnitsBatch(context.Background(), units); err != nil {
			// Persistence failures never reach the translation caller;
			// the in-memory cache stays authoritative for the session.
			log.Error("Failed to persist %d translation units for %q: %v", len(units), workItemID, err)
		}
	}()
}

func (p *Pipeline) recordBatchFailure(batch []string, err error) {
	message := fmt.Sprintf("translation failed: %v", err)
	log.Warn("Batch of %d cues failed: %v", len(batch), err)

	p.mu.Lock()
	for _, rawText := range batch {
		key := normalize.Key(rawText)
		p.errs[key] = message
		delete(p.queued, key)
	}
	p.mu.Unlock()
}

// UseWorkItem switches the pipeline to a work item: session caches are
// reset, the success cache is pre-warmed from the durable store, and the
// item's recency metadata is bumped. Concurrent opens of the same item
// coalesce into one store read.
func (p *Pipeline) UseWorkItem(ctx context.Context, workItemID string) error {
	_, err, _ := p.prewarm.Do(workItemID, func() (any, error) {
		units, err := p.store.LoadUnits(ctx, workItemID, p.sourceLang, p.targetLang)
		if err != nil {
			return nil, fmt.Errorf("load cached units for %q: %w", workItemID, err)
		}

		p.mu.Lock()
		p.workItemID = workItemID
		p.pending = nil
		p.queued = make(map[string]bool)
		p.success = make(map[string]string)
		p.echoes = make(map[string]bool)
		p.errs = make(map[string]string)
		for _, unit := range units {
			p.success[unit.OriginalText] = unit.TranslatedText
		}
		p.mu.Unlock()
		log.Info("Pre-warmed %d cached translations for %q", len(units), workItemID)

		// Recency is best-effort; a failed bump must not block playback.
		if err := p.store.UpsertMetadata(ctx, workItemID, days.Today()); err != nil {
			log.Error("Failed to update recency for %q: %v", workItemID, err)
		}
		return nil, nil
	})
	return err
}

// ClearWorkItem drops the current work item's durable units and resets
// the session caches, typically before a forced re-fetch.
func (p *Pipeline) ClearWorkItem(ctx context.Context) (int64, error) {
	p.mu.Lock()
	workItemID := p.workItemID
	p.pending = nil
	p.queued = make(map[string]bool)
	p.success = make(map[string]string)
	p.echoes = make(map[string]bool)
	p.errs = make(map[string]string)
	p.mu.Unlock()

	if workItemID == "" {
		return 0, nil
	}
	return p.store.ClearUnits(ctx, workItemID)
}

// Wait blocks until all dispatched persistence writes have finished.
func (p *Pipeline) Wait() {
	p.persistWG.Wait()
}
