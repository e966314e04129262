package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamsub/internal/persistence"
)

type fakeTranslator struct {
	mu      sync.Mutex
	calls   [][]string
	fn      func(texts []string) ([]string, error)
	release chan struct{} // when set, TranslateBatch blocks until closed
}

func (f *fakeTranslator) TranslateBatch(_ context.Context, texts []string, _, _ string) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	if f.fn != nil {
		return f.fn(texts)
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = "tr:" + strings.ToLower(t)
	}
	return out, nil
}

func (f *fakeTranslator) callSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, len(f.calls))
	for i, c := range f.calls {
		sizes[i] = len(c)
	}
	return sizes
}

type fakeStore struct {
	mu          sync.Mutex
	saved       []persistence.TranslationUnit
	preloaded   []persistence.TranslationUnit
	meta        map[string]int
	saveErr     error
	cleared     []string
	loadCalls   int
	loadEntered chan struct{} // when set, receives once per LoadUnits call
	loadRelease chan struct{} // when set, LoadUnits blocks until closed
}

func newFakeStore() *fakeStore {
	return &fakeStore{meta: make(map[string]int)}
}

func (s *fakeStore) LoadUnits(_ context.Context, workItemID, sourceLang, targetLang string) ([]persistence.TranslationUnit, error) {
	s.mu.Lock()
	s.loadCalls++
	entered := s.loadEntered
	release := s.loadRelease
	ret := make([]persistence.TranslationUnit, 0)
	for _, u := range s.preloaded {
		if u.WorkItemID == workItemID && u.SourceLang == sourceLang && u.TargetLang == targetLang {
			ret = append(ret, u)
		}
	}
	s.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if release != nil {
		<-release
	}
	return ret, nil
}

func (s *fakeStore) SaveUnitsBatch(_ context.Context, units []persistence.TranslationUnit) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	s.saved = append(s.saved, units...)
	return len(units), nil
}

func (s *fakeStore) ClearUnits(_ context.Context, workItemID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, workItemID)
	return 2, nil
}

func (s *fakeStore) UpsertMetadata(_ context.Context, workItemID string, lastAccessedDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[workItemID] = lastAccessedDays
	return nil
}

func (s *fakeStore) savedUnits() []persistence.TranslationUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]persistence.TranslationUnit(nil), s.saved...)
}

func newTestPipeline(translator Translator, store Store) *Pipeline {
	return New(Config{SourceLang: "NO", TargetLang: "EN-US", BatchMax: 7}, translator, store)
}

func TestLookup_MissThenHitAfterDrain(t *testing.T) {
	trans := &fakeTranslator{}
	pipe := newTestPipeline(trans, newFakeStore())

	got := pipe.Lookup("Hei på deg")
	assert.Equal(t, StatePending, got.State)

	pipe.DrainAndProcess(context.Background())
	pipe.Wait()

	got = pipe.Lookup("Hei på deg")
	assert.Equal(t, StateHit, got.State)
	assert.Equal(t, "tr:hei på deg", got.Text)
}

func TestLookup_NormalizedDuplicatesEnqueueOnce(t *testing.T) {
	trans := &fakeTranslator{}
	pipe := newTestPipeline(trans, newFakeStore())

	pipe.Lookup("Hei verden")
	pipe.Lookup("hei\nverden")
	pipe.Lookup("  HEI   VERDEN  ")

	assert.Equal(t, 1, pipe.PendingCount())
}

func TestDrain_SplitsIntoBoundedBatches(t *testing.T) {
	trans := &fakeTranslator{}
	pipe := newTestPipeline(trans, newFakeStore())

	for i := 0; i < 10; i++ {
		pipe.Enqueue(fmt.Sprintf("setning nummer %d", i))
	}
	pipe.DrainAndProcess(context.Background())
	pipe.Wait()

	assert.Equal(t, []int{7, 3}, trans.callSizes())
	assert.Zero(t, pipe.PendingCount())
}

func TestDrain_PreservesFIFOAndPositions(t *testing.T) {
	trans := &fakeTranslator{}
	pipe := newTestPipeline(trans, newFakeStore())

	texts := []string{"Første setning her", "Andre setning her", "Tredje setning her"}
	for _, txt := range texts {
		pipe.Enqueue(txt)
	}
	pipe.DrainAndProcess(context.Background())
	pipe.Wait()

	require.Len(t, trans.calls, 1)
	assert.Equal(t, texts, trans.calls[0])
	for _, txt := range texts {
		got := pipe.Lookup(txt)
		require.Equal(t, StateHit, got.State)
		assert.Equal(t, "tr:"+strings.ToLower(txt), got.Text)
	}
}

func TestDrain_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	trans := &fakeTranslator{release: release}
	pipe := newTestPipeline(trans, newFakeStore())

	pipe.Enqueue("Hei på deg")

	done := make(chan struct{})
	go func() {
		pipe.DrainAndProcess(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		trans.mu.Lock()
		defer trans.mu.Unlock()
		return len(trans.calls) == 1
	}, time.Second, 5*time.Millisecond)

	// A concurrent trigger while a drain is in flight must be a no-op.
	pipe.Enqueue("Ha det bra da")
	pipe.DrainAndProcess(context.Background())

	trans.mu.Lock()
	assert.Len(t, trans.calls, 1)
	trans.release = nil
	trans.mu.Unlock()

	close(release)
	<-done

	// The first drain loop picks up the second cue itself.
	pipe.Wait()
	assert.Zero(t, pipe.PendingCount())
	assert.GreaterOrEqual(t, len(trans.callSizes()), 2)
}

func TestDrain_FailureMarksEveryCue(t *testing.T) {
	trans := &fakeTranslator{fn: func(_ []string) ([]string, error) {
		return nil, fmt.Errorf("retries exhausted after 3 attempts")
	}}
	pipe := newTestPipeline(trans, newFakeStore())

	pipe.Enqueue("Hei på deg")
	pipe.Enqueue("Ha det bra da")
	pipe.DrainAndProcess(context.Background())

	for _, txt := range []string{"Hei på deg", "Ha det bra da"} {
		got := pipe.Lookup(txt)
		assert.Equal(t, StateFailed, got.State)
		assert.Contains(t, got.Text, "retries exhausted")
	}
	// Error-cached cues are not re-enqueued within the session.
	assert.Zero(t, pipe.PendingCount())
	assert.Len(t, trans.calls, 1)
}

func TestDrain_CountMismatchIsFailure(t *testing.T) {
	trans := &fakeTranslator{fn: func(texts []string) ([]string, error) {
		return make([]string, len(texts)-1), nil
	}}
	pipe := newTestPipeline(trans, newFakeStore())

	pipe.Enqueue("Hei på deg")
	pipe.Enqueue("Ha det bra da")
	pipe.DrainAndProcess(context.Background())

	got := pipe.Lookup("Hei på deg")
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.Text, "count mismatch")
}

func TestLookup_EchoesNonTranslatableCues(t *testing.T) {
	trans := &fakeTranslator{}
	store := newFakeStore()
	pipe := newTestPipeline(trans, store)

	for _, txt := range []string{"42", "...", "♪ ♪"} {
		got := pipe.Lookup(txt)
		assert.Equal(t, StateEcho, got.State)
		assert.Equal(t, txt, got.Text)
	}
	assert.Zero(t, pipe.PendingCount())

	// Repeat lookups resolve from the session cache but keep the echo
	// state rather than collapsing into a hit.
	for _, txt := range []string{"42", "...", "♪ ♪"} {
		got := pipe.Lookup(txt)
		assert.Equal(t, StateEcho, got.State)
		assert.Equal(t, txt, got.Text)
	}

	pipe.DrainAndProcess(context.Background())
	pipe.Wait()
	assert.Empty(t, trans.calls, "echo cues never reach the provider")
	assert.Empty(t, store.savedUnits(), "echo cues are never persisted")
}

func TestSetEnabled_PausesAndResumesWithoutLoss(t *testing.T) {
	trans := &fakeTranslator{}
	pipe := newTestPipeline(trans, newFakeStore())

	pipe.SetEnabled(false)
	pipe.Enqueue("Hei på deg")
	pipe.DrainAndProcess(context.Background())

	assert.Empty(t, trans.calls)
	assert.Equal(t, 1, pipe.PendingCount(), "disabled drain must not drop queued items")

	pipe.SetEnabled(true)
	pipe.DrainAndProcess(context.Background())
	pipe.Wait()

	assert.Len(t, trans.calls, 1)
	assert.Zero(t, pipe.PendingCount())
}

func TestDrain_PersistsUnitsTaggedWithWorkItem(t *testing.T) {
	trans := &fakeTranslator{}
	store := newFakeStore()
	pipe := newTestPipeline(trans, store)

	require.NoError(t, pipe.UseWorkItem(context.Background(), "Movie A"))
	pipe.Enqueue("Hei på deg")
	pipe.DrainAndProcess(context.Background())
	pipe.Wait()

	units := store.savedUnits()
	require.Len(t, units, 1)
	assert.Equal(t, "Movie A", units[0].WorkItemID)
	assert.Equal(t, "NO", units[0].SourceLang)
	assert.Equal(t, "EN-US", units[0].TargetLang)
	assert.Equal(t, "hei på deg", units[0].OriginalText, "persisted key must be normalized")
	assert.Equal(t, "tr:hei på deg", units[0].TranslatedText)
}

func TestDrain_PersistenceFailureDoesNotReachCaller(t *testing.T) {
	trans := &fakeTranslator{}
	store := newFakeStore()
	store.saveErr = fmt.Errorf("disk full")
	pipe := newTestPipeline(trans, store)

	pipe.Enqueue("Hei på deg")
	pipe.DrainAndProcess(context.Background())
	pipe.Wait()

	got := pipe.Lookup("Hei på deg")
	assert.Equal(t, StateHit, got.State, "in-memory cache stays authoritative when persistence fails")
}

func TestUseWorkItem_PrewarmsAndBumpsRecency(t *testing.T) {
	trans := &fakeTranslator{}
	store := newFakeStore()
	store.preloaded = []persistence.TranslationUnit{
		{WorkItemID: "Movie A", SourceLang: "NO", TargetLang: "EN-US", OriginalText: "hei på deg", TranslatedText: "hi there"},
	}
	pipe := newTestPipeline(trans, store)

	require.NoError(t, pipe.UseWorkItem(context.Background(), "Movie A"))

	got := pipe.Lookup("Hei\npå deg")
	assert.Equal(t, StateHit, got.State)
	assert.Equal(t, "hi there", got.Text)
	assert.Empty(t, trans.calls)

	store.mu.Lock()
	_, bumped := store.meta["Movie A"]
	store.mu.Unlock()
	assert.True(t, bumped)
}

func TestUseWorkItem_ConcurrentOpensCoalesce(t *testing.T) {
	store := newFakeStore()
	store.loadEntered = make(chan struct{}, 2)
	store.loadRelease = make(chan struct{})
	pipe := newTestPipeline(&fakeTranslator{}, store)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = pipe.UseWorkItem(context.Background(), "Movie A")
	}()
	<-store.loadEntered

	// Open the same item again while the first load is in flight.
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = pipe.UseWorkItem(context.Background(), "Movie A")
	}()
	time.Sleep(50 * time.Millisecond)
	close(store.loadRelease)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.loadCalls, "concurrent opens of one work item share a single store read")
}

func TestUseWorkItem_SwitchResetsSessionCaches(t *testing.T) {
	trans := &fakeTranslator{}
	pipe := newTestPipeline(trans, newFakeStore())

	require.NoError(t, pipe.UseWorkItem(context.Background(), "Movie A"))
	pipe.Enqueue("Hei på deg")
	pipe.DrainAndProcess(context.Background())
	pipe.Wait()
	require.Equal(t, StateHit, pipe.Lookup("Hei på deg").State)

	require.NoError(t, pipe.UseWorkItem(context.Background(), "Movie B"))
	assert.Equal(t, StatePending, pipe.Lookup("Hei på deg").State)
}

func TestClearWorkItem(t *testing.T) {
	trans := &fakeTranslator{}
	store := newFakeStore()
	pipe := newTestPipeline(trans, store)

	require.NoError(t, pipe.UseWorkItem(context.Background(), "Movie A"))
	pipe.Enqueue("Hei på deg")
	pipe.DrainAndProcess(context.Background())
	pipe.Wait()

	cleared, err := pipe.ClearWorkItem(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), cleared)
	assert.Equal(t, []string{"Movie A"}, store.cleared)
	assert.Equal(t, StatePending, pipe.Lookup("Hei på deg").State)
}

func TestPipeline_SQLiteIntegration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := persistence.NewSQLiteStore(filepath.Join(dir, "streamsub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	trans := &fakeTranslator{}
	pipe := newTestPipeline(trans, store)
	ctx := context.Background()

	require.NoError(t, pipe.UseWorkItem(ctx, "Movie A"))
	pipe.Enqueue("Hei på deg")
	pipe.DrainAndProcess(ctx)
	pipe.Wait()

	// A fresh pipeline over the same store must be pre-warmed from disk.
	fresh := newTestPipeline(&fakeTranslator{}, store)
	require.NoError(t, fresh.UseWorkItem(ctx, "Movie A"))
	got := fresh.Lookup("hei PÅ deg")
	assert.Equal(t, StateHit, got.State)
	assert.Equal(t, "tr:hei på deg", got.Text)
}
