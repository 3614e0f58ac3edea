package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deltaq/core/domain"
	"github.com/custodia-labs/deltaq/core/ports/driven"
	"github.com/custodia-labs/deltaq/storage/memory"
)

// scriptedFetcher replays a fixed sequence of page responses and records the
// requests it receives.
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []fetchStep
	calls []domain.PageRequest
}

type fetchStep struct {
	page *domain.Page
	err  error
}

func (f *scriptedFetcher) FetchPage(_ context.Context, req domain.PageRequest) (*domain.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if len(f.steps) == 0 {
		return nil, fmt.Errorf("%w: unexpected page request %d for %s",
			domain.ErrFatal, len(f.calls), req.Resource)
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	return step.page, step.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *scriptedFetcher) call(i int) domain.PageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

// fetcherFunc adapts a function to driven.PageFetcher.
type fetcherFunc func(ctx context.Context, req domain.PageRequest) (*domain.Page, error)

func (f fetcherFunc) FetchPage(ctx context.Context, req domain.PageRequest) (*domain.Page, error) {
	return f(ctx, req)
}

// flakyStore wraps the in-memory store with injectable failures.
type flakyStore struct {
	*memory.Store
	getErr error
	setErr error
}

func (s *flakyStore) Get(ctx context.Context, resource string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	return s.Store.Get(ctx, resource)
}

func (s *flakyStore) Set(ctx context.Context, resource, deltaLink string, metadata map[string]any) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, resource, deltaLink, metadata)
}

func recs(ids ...string) []domain.Record {
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Record{"id": id})
	}
	return out
}

func removed(id, reason string) domain.Record {
	return domain.Record{"id": id, "@removed": map[string]any{"reason": reason}}
}

func testOrchestrator(fetcher driven.PageFetcher, store driven.TokenStore) *Orchestrator {
	return NewOrchestrator(fetcher, store, Config{RetryBaseDelay: time.Millisecond})
}

// drainStream consumes a stream to completion and returns the yielded pages
// and the terminating error (completion sentinel included).
func drainStream(pages <-chan domain.PageResult, errs <-chan error) ([]domain.PageResult, error) {
	var out []domain.PageResult
	for p := range pages {
		out = append(out, p)
	}
	return out, <-errs
}

func TestSync_FullSyncStoresDeltaLink(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{Records: recs("u1", "u2"), NextLink: "https://example.test/users/delta?$skiptoken=P1"}},
		{page: &domain.Page{Records: recs("u3", "u4"), DeltaLink: "https://example.test/users/delta?$deltatoken=D1"}},
	}}
	store := memory.NewStore()
	orch := testOrchestrator(fetcher, store)

	result, err := orch.Sync(context.Background(), "users", domain.QueryOptions{})
	require.NoError(t, err)

	assert.Len(t, result.Records, 4)
	assert.Equal(t, "https://example.test/users/delta?$deltatoken=D1", result.DeltaLink)
	assert.Equal(t, 4, result.Summary.Total())
	assert.Equal(t, 4, result.Summary.NewOrUpdated)
	assert.True(t, result.Summary.FullSync)
	assert.True(t, result.Summary.TokenPersisted)
	assert.Equal(t, 2, result.Summary.Pages)

	require.Equal(t, 2, fetcher.callCount())
	assert.False(t, fetcher.call(0).HasToken())
	assert.Equal(t, "https://example.test/users/delta?$skiptoken=P1", fetcher.call(1).NextLink)

	stored, err := store.Get(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/users/delta?$deltatoken=D1", stored)

	state, err := store.GetMetadata(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, result.Summary.RunID, state.Metadata["run_id"])
}

func TestSync_IncrementalFromStoredToken(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Set(ctx, "groups", "https://example.test/groups/delta?$deltatoken=T0", nil))

	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{Records: recs("g1"), DeltaLink: "https://example.test/groups/delta?$deltatoken=T1"}},
	}}
	orch := testOrchestrator(fetcher, store)

	result, err := orch.Sync(ctx, "groups", domain.QueryOptions{})
	require.NoError(t, err)

	assert.False(t, result.Summary.FullSync)
	assert.False(t, result.Summary.SinceTimestamp.IsZero())
	require.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, "https://example.test/groups/delta?$deltatoken=T0", fetcher.call(0).DeltaLink)

	stored, err := store.Get(ctx, "groups")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/groups/delta?$deltatoken=T1", stored)
}

func TestSync_InvalidStoredTokenFallsBackToFullSync(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Set(ctx, "users", "https://example.test/users/delta?$deltatoken=STALE", nil))

	fetcher := &scriptedFetcher{steps: []fetchStep{
		{err: fmt.Errorf("%w: 410 Gone", domain.ErrInvalidToken)},
		{page: &domain.Page{Records: recs("u1", "u2"), DeltaLink: "https://example.test/users/delta?$deltatoken=D2"}},
	}}
	orch := testOrchestrator(fetcher, store)

	result, err := orch.Sync(ctx, "users", domain.QueryOptions{})
	require.NoError(t, err)

	assert.Len(t, result.Records, 2)
	assert.True(t, result.Summary.FullSync)
	assert.True(t, result.Summary.TokenPersisted)

	require.Equal(t, 2, fetcher.callCount())
	assert.True(t, fetcher.call(0).HasToken())
	assert.False(t, fetcher.call(1).HasToken())

	stored, err := store.Get(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/users/delta?$deltatoken=D2", stored)
}

func TestSync_SecondInvalidationIsFatal(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Set(ctx, "users", "https://example.test/users/delta?$deltatoken=STALE", nil))

	fetcher := &scriptedFetcher{steps: []fetchStep{
		{err: fmt.Errorf("%w: 410 Gone", domain.ErrInvalidToken)},
		{err: fmt.Errorf("%w: 410 Gone", domain.ErrInvalidToken)},
	}}
	orch := testOrchestrator(fetcher, store)

	_, err := orch.Sync(ctx, "users", domain.QueryOptions{})
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, 2, fetcher.callCount())

	// The stale link was purged before the fallback attempt.
	_, err = store.Get(ctx, "users")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSync_InvalidationAfterYieldIsFatal(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Set(ctx, "users", "https://example.test/users/delta?$deltatoken=T0", nil))

	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{Records: recs("u1"), NextLink: "https://example.test/users/delta?$skiptoken=P1"}},
		{err: fmt.Errorf("%w: 410 Gone", domain.ErrInvalidToken)},
	}}
	orch := testOrchestrator(fetcher, store)

	_, err := orch.Sync(ctx, "users", domain.QueryOptions{})
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))

	// Records were already delivered downstream; the stored link stays put
	// so the operator can decide how to recover.
	stored, getErr := store.Get(ctx, "users")
	require.NoError(t, getErr)
	assert.Equal(t, "https://example.test/users/delta?$deltatoken=T0", stored)
}

func TestSync_ExplicitDeltaTokenNotEligibleForFallback(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{err: fmt.Errorf("%w: 400 Bad Request", domain.ErrInvalidToken)},
	}}
	orch := testOrchestrator(fetcher, memory.NewStore())

	_, err := orch.Sync(context.Background(), "users", domain.QueryOptions{DeltaToken: "caller-supplied"})
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, 1, fetcher.callCount())
}

func TestSync_DeltaTokenLatestSkipsStoredLink(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Set(ctx, "users", "https://example.test/users/delta?$deltatoken=T0", nil))

	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{DeltaLink: "https://example.test/users/delta?$deltatoken=BASE"}},
	}}
	orch := testOrchestrator(fetcher, store)

	result, err := orch.Sync(ctx, "users", domain.QueryOptions{DeltaTokenLatest: true})
	require.NoError(t, err)

	assert.Empty(t, result.Records)
	require.Equal(t, 1, fetcher.callCount())
	assert.Empty(t, fetcher.call(0).DeltaLink)
	assert.True(t, fetcher.call(0).Options.DeltaTokenLatest)

	stored, err := store.Get(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/users/delta?$deltatoken=BASE", stored)
}

func TestStream_MaxObjectsTruncatesWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{Records: recs("u1", "u2"), NextLink: "https://example.test/users/delta?$skiptoken=P1"}},
		{page: &domain.Page{Records: recs("u3", "u4"), DeltaLink: "https://example.test/users/delta?$deltatoken=D1"}},
	}}
	orch := testOrchestrator(fetcher, store)

	pages, errs := orch.Stream(ctx, "users", domain.QueryOptions{MaxObjects: 3})
	results, err := drainStream(pages, errs)

	sc, ok := driven.IsSyncComplete(err)
	require.True(t, ok)

	require.Len(t, results, 2)
	assert.Len(t, results[0].Records, 2)
	assert.Len(t, results[1].Records, 1)
	assert.True(t, results[1].Meta.Truncated)
	assert.Empty(t, results[1].Meta.DeltaLink)

	assert.Empty(t, sc.DeltaLink)
	assert.True(t, sc.Summary.Truncated)
	assert.False(t, sc.Summary.TokenPersisted)
	assert.Equal(t, 3, sc.Summary.Total())

	// No third request, and the unconsumed page's delta link is not stored.
	assert.Equal(t, 2, fetcher.callCount())
	_, err = store.Get(ctx, "users")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStream_MaxObjectsStopsAtPageBoundary(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{Records: recs("u1", "u2"), NextLink: "https://example.test/users/delta?$skiptoken=P1"}},
	}}
	orch := testOrchestrator(fetcher, memory.NewStore())

	pages, errs := orch.Stream(context.Background(), "users", domain.QueryOptions{MaxObjects: 2})
	results, err := drainStream(pages, errs)

	sc, ok := driven.IsSyncComplete(err)
	require.True(t, ok)

	require.Len(t, results, 1)
	assert.Len(t, results[0].Records, 2)
	assert.False(t, results[0].Meta.Truncated)
	assert.True(t, sc.Summary.Truncated)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestSync_ChangeCountsPartitionedByRemovalMarker(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{
			Records: []domain.Record{
				{"id": "u1"},
				removed("u2", "deleted"),
				removed("u3", "changed"),
				{"id": "u4"},
				removed("u5", "deleted"),
			},
			DeltaLink: "https://example.test/users/delta?$deltatoken=D1",
		}},
	}}
	orch := testOrchestrator(fetcher, memory.NewStore())

	result, err := orch.Sync(context.Background(), "users", domain.QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Summary.NewOrUpdated)
	assert.Equal(t, 2, result.Summary.Deleted)
	assert.Equal(t, 1, result.Summary.Changed)
	assert.Equal(t, 5, result.Summary.Total())
}

func TestStream_PageMetadataTracksCumulativeCounts(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{
			Records:  []domain.Record{{"id": "u1"}, removed("u2", "deleted")},
			NextLink: "https://example.test/users/delta?$skiptoken=P1",
		}},
		{page: &domain.Page{
			Records:   []domain.Record{removed("u3", "changed")},
			DeltaLink: "https://example.test/users/delta?$deltatoken=D1",
		}},
	}}
	orch := testOrchestrator(fetcher, memory.NewStore())

	pages, errs := orch.Stream(context.Background(), "users", domain.QueryOptions{})
	results, err := drainStream(pages, errs)
	_, ok := driven.IsSyncComplete(err)
	require.True(t, ok)
	require.Len(t, results, 2)

	first := results[0].Meta
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, 2, first.ObjectCount)
	assert.True(t, first.HasNextPage)
	assert.Equal(t, 1, first.PageNewOrUpdated)
	assert.Equal(t, 1, first.PageDeleted)
	assert.Equal(t, 2, first.TotalObjects())

	second := results[1].Meta
	assert.Equal(t, 2, second.Page)
	assert.False(t, second.HasNextPage)
	assert.Equal(t, "https://example.test/users/delta?$deltatoken=D1", second.DeltaLink)
	assert.Equal(t, 1, second.PageChanged)
	assert.Equal(t, 3, second.TotalObjects())
}

func TestSync_StorageReadFailureDegradesToMemoryOnly(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(), getErr: errors.New("disk on fire")}
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{Records: recs("u1"), DeltaLink: "https://example.test/users/delta?$deltatoken=D1"}},
	}}
	orch := testOrchestrator(fetcher, store)

	result, err := orch.Sync(context.Background(), "users", domain.QueryOptions{})
	require.NoError(t, err)

	assert.Len(t, result.Records, 1)
	assert.True(t, result.Summary.FullSync)
	assert.False(t, result.Summary.TokenPersisted)
}

func TestSync_StorageWriteFailureDoesNotFailRun(t *testing.T) {
	store := &flakyStore{Store: memory.NewStore(), setErr: errors.New("disk on fire")}
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{Records: recs("u1"), DeltaLink: "https://example.test/users/delta?$deltatoken=D1"}},
	}}
	orch := testOrchestrator(fetcher, store)

	result, err := orch.Sync(context.Background(), "users", domain.QueryOptions{})
	require.NoError(t, err)

	assert.Len(t, result.Records, 1)
	assert.Equal(t, "https://example.test/users/delta?$deltatoken=D1", result.DeltaLink)
	assert.False(t, result.Summary.TokenPersisted)
}

func TestSync_WithoutStoreEveryRunIsFullSync(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{Records: recs("u1"), DeltaLink: "https://example.test/users/delta?$deltatoken=D1"}},
	}}
	orch := testOrchestrator(fetcher, nil)

	result, err := orch.Sync(context.Background(), "users", domain.QueryOptions{})
	require.NoError(t, err)

	assert.True(t, result.Summary.FullSync)
	assert.False(t, result.Summary.TokenPersisted)
	assert.Equal(t, "https://example.test/users/delta?$deltatoken=D1", result.DeltaLink)
}

func TestSync_TransientFailureRetriedThenSucceeds(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{err: fmt.Errorf("%w: 503", domain.ErrTransient)},
		{err: fmt.Errorf("%w: 429", domain.ErrTransient)},
		{page: &domain.Page{Records: recs("u1"), DeltaLink: "https://example.test/users/delta?$deltatoken=D1"}},
	}}
	orch := testOrchestrator(fetcher, memory.NewStore())

	result, err := orch.Sync(context.Background(), "users", domain.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestSync_RetryCeilingEscalatesToFatal(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{err: fmt.Errorf("%w: 503", domain.ErrTransient)},
		{err: fmt.Errorf("%w: 503", domain.ErrTransient)},
		{err: fmt.Errorf("%w: 503", domain.ErrTransient)},
	}}
	orch := NewOrchestrator(fetcher, memory.NewStore(), Config{
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
	})

	_, err := orch.Sync(context.Background(), "users", domain.QueryOptions{})
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
	assert.True(t, domain.IsTransient(err)) // original cause stays inspectable
	assert.Equal(t, 3, fetcher.callCount())
}

func TestStream_CancellationLeavesStoredStateIntact(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	var mu sync.Mutex
	fetcher := fetcherFunc(func(ctx context.Context, _ domain.PageRequest) (*domain.Page, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return &domain.Page{
				Records:  recs("u1", "u2"),
				NextLink: "https://example.test/users/delta?$skiptoken=P1",
			}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	store := memory.NewStore()
	orch := testOrchestrator(fetcher, store)

	pages, errs := orch.Stream(ctx, "users", domain.QueryOptions{})
	first := <-pages
	assert.Len(t, first.Records, 2)

	cancel()

	_, err := drainStream(pages, errs)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = store.Get(context.Background(), "users")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSync_NoResumePointFromRemote(t *testing.T) {
	fetcher := &scriptedFetcher{steps: []fetchStep{
		{page: &domain.Page{Records: recs("u1")}},
	}}
	store := memory.NewStore()
	orch := testOrchestrator(fetcher, store)

	result, err := orch.Sync(context.Background(), "users", domain.QueryOptions{})
	require.NoError(t, err)

	assert.Len(t, result.Records, 1)
	assert.Empty(t, result.DeltaLink)
	assert.False(t, result.Summary.TokenPersisted)
	_, err = store.Get(context.Background(), "users")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResetToken(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Set(ctx, "users", "https://example.test/users/delta?$deltatoken=T0", nil))

	orch := testOrchestrator(&scriptedFetcher{}, store)
	require.NoError(t, orch.ResetToken(ctx, "users"))

	_, err := store.Get(ctx, "users")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Idempotent, and a nil store is a no-op.
	require.NoError(t, orch.ResetToken(ctx, "users"))
	require.NoError(t, testOrchestrator(&scriptedFetcher{}, nil).ResetToken(ctx, "users"))
}
