package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porticolabs/portico/internal/clients/aggregate"
	"github.com/porticolabs/portico/internal/common"
	"github.com/porticolabs/portico/internal/interfaces"
	"github.com/porticolabs/portico/internal/models"
)

// fakeClient is a scriptable AggregateClient. respond receives the 1-based
// call number; the default returns a distinct snapshot per call.
type fakeClient struct {
	calls   int64
	delay   time.Duration
	respond func(call int64, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error)
}

func (f *fakeClient) FetchComplete(ctx context.Context, token string, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
	call := atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &aggregate.TransportError{Err: ctx.Err()}
		}
	}
	if f.respond != nil {
		return f.respond(call, opts)
	}
	return snapshot(float64(call)), nil
}

func (f *fakeClient) callCount() int64 {
	return atomic.LoadInt64(&f.calls)
}

func snapshot(total float64) *models.CompletePortfolioData {
	return &models.CompletePortfolioData{
		PortfolioData: models.PortfolioData{
			Holdings: []models.PortfolioHolding{
				{Symbol: "AAPL", Quantity: 10, CurrentPrice: total, Currency: "USD"},
			},
			TotalValue:    total,
			HoldingsCount: 1,
		},
	}
}

func testConfig() Config {
	return Config{
		StaleTime:      time.Hour,
		CacheTime:      2 * time.Hour,
		RetryMax:       3,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		// Janitor off by default; eviction tests enable it explicitly
	}
}

func newTestManager(t *testing.T, client interfaces.AggregateClient, cfg Config) *Manager {
	t.Helper()
	m := NewManager(client, cfg, common.NewSilentLogger())
	t.Cleanup(m.Close)
	return m
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestRead_ColdThenHit(t *testing.T) {
	fc := &fakeClient{}
	m := newTestManager(t, fc, testConfig())
	key := Key{UserID: "u1", IncludeHistorical: true}

	res := m.Read(context.Background(), key, "tok")
	require.NoError(t, res.Err)
	require.NotNil(t, res.Data)
	assert.False(t, res.CacheHit, "cold read must not be a cache hit")
	assert.Equal(t, 1.0, res.Data.PortfolioData.TotalValue)

	res2 := m.Read(context.Background(), key, "tok")
	assert.True(t, res2.CacheHit, "second read should be served from cache")
	assert.False(t, res2.IsLoading)
	assert.Equal(t, int64(1), fc.callCount(), "fresh read must not hit the network")
}

func TestRead_CoalescesConcurrentFetches(t *testing.T) {
	fc := &fakeClient{delay: 50 * time.Millisecond}
	m := newTestManager(t, fc, testConfig())
	key := Key{UserID: "u1"}

	const readers = 10
	results := make([]Result, readers)
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.Read(context.Background(), key, "tok")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), fc.callCount(), "concurrent cold reads must share one fetch")
	for i, res := range results {
		require.NotNil(t, res.Data, "reader %d got no data", i)
		assert.Equal(t, results[0].Data, res.Data, "reader %d got a different snapshot", i)
	}
}

func TestRead_StaleServedImmediately_RefreshInBackground(t *testing.T) {
	fc := &fakeClient{}
	cfg := testConfig()
	cfg.StaleTime = 10 * time.Millisecond
	m := newTestManager(t, fc, cfg)
	key := Key{UserID: "u1"}

	m.Read(context.Background(), key, "tok")
	time.Sleep(20 * time.Millisecond) // let the entry go stale

	start := time.Now()
	res := m.Read(context.Background(), key, "tok")
	elapsed := time.Since(start)

	assert.True(t, res.CacheHit, "stale read should still be a cache hit")
	assert.True(t, res.IsLoading, "stale read should report the background refresh")
	require.NotNil(t, res.Data)
	assert.Equal(t, 1.0, res.Data.PortfolioData.TotalValue, "stale read returns the previous snapshot")
	assert.Less(t, elapsed, 10*time.Millisecond, "stale read must not block on the refetch")

	require.True(t, waitFor(t, time.Second, func() bool { return fc.callCount() == 2 }),
		"exactly one background refetch expected, got %d calls", fc.callCount())

	require.True(t, waitFor(t, time.Second, func() bool {
		return m.Read(context.Background(), key, "tok").Data.PortfolioData.TotalValue == 2.0
	}), "cache should eventually hold the refreshed snapshot")
}

func TestForceRefresh_BypassesFreshness(t *testing.T) {
	fc := &fakeClient{}
	m := newTestManager(t, fc, testConfig())
	key := Key{UserID: "u1"}

	m.Read(context.Background(), key, "tok")
	require.Equal(t, int64(1), fc.callCount())

	// Entry is well inside StaleTime; force must still hit the network.
	res := m.ForceRefresh(context.Background(), key, "tok")
	require.NoError(t, res.Err)
	assert.Equal(t, int64(2), fc.callCount(), "force refresh must issue exactly one new call")
	assert.Equal(t, 2.0, res.Data.PortfolioData.TotalValue)

	res2 := m.Read(context.Background(), key, "tok")
	assert.Equal(t, 2.0, res2.Data.PortfolioData.TotalValue, "cache holds the forced result")
	assert.Equal(t, int64(2), fc.callCount())
}

func TestForceRefresh_PassesForceFlagUpstream(t *testing.T) {
	var sawForce atomic.Bool
	fc := &fakeClient{respond: func(call int64, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
		if opts.ForceRefresh {
			sawForce.Store(true)
		}
		return snapshot(float64(call)), nil
	}}
	m := newTestManager(t, fc, testConfig())

	m.ForceRefresh(context.Background(), Key{UserID: "u1"}, "tok")
	assert.True(t, sawForce.Load(), "upstream should be asked to bypass its cache")
}

func TestForceRefresh_LaterCompletionWins(t *testing.T) {
	fc := &fakeClient{}
	fc.respond = func(call int64, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
		switch {
		case opts.ForceRefresh:
			return snapshot(3), nil
		case call == 1:
			return snapshot(1), nil
		default:
			// Background refetch: slow enough to finish after the force.
			time.Sleep(100 * time.Millisecond)
			return snapshot(2), nil
		}
	}
	cfg := testConfig()
	cfg.StaleTime = 10 * time.Millisecond
	m := newTestManager(t, fc, cfg)
	key := Key{UserID: "u1"}

	m.Read(context.Background(), key, "tok")
	time.Sleep(20 * time.Millisecond)

	// Stale read kicks off the slow background refetch.
	m.Read(context.Background(), key, "tok")
	require.True(t, waitFor(t, time.Second, func() bool { return fc.callCount() == 2 }))

	// Force completes first and is visible immediately.
	res := m.ForceRefresh(context.Background(), key, "tok")
	require.NoError(t, res.Err)
	assert.Equal(t, 3.0, res.Data.PortfolioData.TotalValue)

	// The background refetch finishes after the force; completion order
	// decides the final cached state, not request order.
	require.True(t, waitFor(t, time.Second, func() bool {
		return m.Read(context.Background(), key, "tok").Data.PortfolioData.TotalValue == 2.0
	}), "later-completing fetch must win in the cache")
}

func TestInvalidate_UserScopeIsolation(t *testing.T) {
	fc := &fakeClient{}
	m := newTestManager(t, fc, testConfig())
	keyA := Key{UserID: "alice"}
	keyB := Key{UserID: "bob"}

	resA := m.Read(context.Background(), keyA, "tok-a")
	m.Read(context.Background(), keyB, "tok-b")
	require.Equal(t, int64(2), fc.callCount())

	dropped := m.Invalidate("alice")
	assert.Equal(t, 1, dropped)

	// Alice's next read refetches; nothing of her old snapshot survives.
	resA2 := m.Read(context.Background(), keyA, "tok-a")
	assert.False(t, resA2.CacheHit, "read after invalidate must refetch")
	assert.NotEqual(t, resA.Data.PortfolioData.TotalValue, resA2.Data.PortfolioData.TotalValue)
	assert.Equal(t, int64(3), fc.callCount())

	// Bob's entry is untouched.
	resB2 := m.Read(context.Background(), keyB, "tok-b")
	assert.True(t, resB2.CacheHit)
	assert.Equal(t, int64(3), fc.callCount())
}

func TestInvalidate_DiscardsInFlightResult(t *testing.T) {
	fc := &fakeClient{delay: 50 * time.Millisecond}
	m := newTestManager(t, fc, testConfig())
	key := Key{UserID: "u1"}

	done := make(chan Result, 1)
	go func() { done <- m.Read(context.Background(), key, "tok") }()

	// Wait until the fetch is actually in flight, then invalidate the user.
	require.True(t, waitFor(t, time.Second, func() bool { return fc.callCount() == 1 }))
	m.Invalidate("u1")

	<-done
	assert.Equal(t, 0, m.Stats().Entries,
		"a fetch completing after invalidation must not repopulate the cache")
}

func TestRetry_TransportErrorsRetried(t *testing.T) {
	fc := &fakeClient{respond: func(call int64, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
		return nil, &aggregate.TransportError{StatusCode: 503, Endpoint: "/api/complete", Message: "unavailable"}
	}}
	cfg := testConfig()
	cfg.RetryMax = 2
	m := newTestManager(t, fc, cfg)

	res := m.Read(context.Background(), Key{UserID: "u1"}, "tok")

	assert.True(t, res.IsError)
	require.Error(t, res.Err)
	assert.True(t, aggregate.IsTransport(res.Err))
	assert.Equal(t, int64(3), fc.callCount(), "initial attempt plus RetryMax retries")
}

func TestRetry_ValidationErrorsNotRetried(t *testing.T) {
	fc := &fakeClient{respond: func(call int64, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
		return nil, &aggregate.ValidationError{Endpoint: "/api/complete", Reason: "upstream success=false: db_unavailable"}
	}}
	m := newTestManager(t, fc, testConfig())

	res := m.Read(context.Background(), Key{UserID: "u1"}, "tok")

	assert.True(t, res.IsError)
	assert.True(t, aggregate.IsValidation(res.Err))
	assert.Equal(t, int64(1), fc.callCount(), "validation failures are a contract mismatch, not retried")
}

func TestFailedRefresh_PreservesPriorData(t *testing.T) {
	fc := &fakeClient{respond: func(call int64, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
		if call == 1 {
			return snapshot(1), nil
		}
		return nil, &aggregate.TransportError{StatusCode: 502, Message: "bad gateway"}
	}}
	cfg := testConfig()
	cfg.RetryMax = 0
	m := newTestManager(t, fc, cfg)
	key := Key{UserID: "u1"}

	m.Read(context.Background(), key, "tok")

	res := m.ForceRefresh(context.Background(), key, "tok")
	assert.True(t, res.IsError, "failed refresh must expose the error")
	require.NotNil(t, res.Data, "failed refresh must keep serving the prior snapshot")
	assert.Equal(t, 1.0, res.Data.PortfolioData.TotalValue)

	// The error stays visible alongside the data on later reads too.
	res2 := m.Read(context.Background(), key, "tok")
	assert.True(t, res2.CacheHit)
	assert.True(t, res2.IsError)
	require.NotNil(t, res2.Data)
}

func TestPrefetch_SwallowsErrors(t *testing.T) {
	fc := &fakeClient{respond: func(call int64, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
		return nil, &aggregate.TransportError{StatusCode: 500, Message: "boom"}
	}}
	cfg := testConfig()
	cfg.RetryMax = 0
	m := newTestManager(t, fc, cfg)
	key := Key{UserID: "u1"}

	m.Prefetch(context.Background(), key, "tok")

	assert.Equal(t, uint64(0), m.Stats().Errors,
		"prefetch failures must not be recorded against the entry")
	assert.Equal(t, int64(1), fc.callCount())
}

func TestRead_CoalescedWithFailingPrefetch_RecordsError(t *testing.T) {
	fc := &fakeClient{
		delay: 200 * time.Millisecond,
		respond: func(call int64, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
			return nil, &aggregate.TransportError{StatusCode: 500, Message: "boom"}
		},
	}
	cfg := testConfig()
	cfg.RetryMax = 0
	m := newTestManager(t, fc, cfg)
	key := Key{UserID: "u1"}

	prefetchDone := make(chan struct{})
	go func() {
		m.Prefetch(context.Background(), key, "tok")
		close(prefetchDone)
	}()
	require.True(t, waitFor(t, time.Second, func() bool { return fc.callCount() == 1 }))

	// This read joins the prefetch's in-flight fetch.
	res := m.Read(context.Background(), key, "tok")
	<-prefetchDone

	assert.True(t, res.IsError)
	assert.True(t, aggregate.IsTransport(res.Err))
	assert.Equal(t, int64(1), fc.callCount(), "read should coalesce onto the in-flight prefetch")
	assert.Equal(t, uint64(1), m.Stats().Errors,
		"a failure observed by a waiting reader must mark the entry errored")
}

func TestPrefetch_SkipsFreshEntry(t *testing.T) {
	fc := &fakeClient{}
	m := newTestManager(t, fc, testConfig())
	key := Key{UserID: "u1"}

	m.Read(context.Background(), key, "tok")
	m.Prefetch(context.Background(), key, "tok")

	assert.Equal(t, int64(1), fc.callCount(), "prefetch of a fresh entry must not fetch")
}

func TestJanitor_EvictsIdleEntries(t *testing.T) {
	fc := &fakeClient{}
	cfg := testConfig()
	cfg.CacheTime = 20 * time.Millisecond
	cfg.JanitorInterval = 5 * time.Millisecond
	m := newTestManager(t, fc, cfg)
	key := Key{UserID: "u1"}

	m.Read(context.Background(), key, "tok")
	require.Equal(t, 1, m.Stats().Entries)

	require.True(t, waitFor(t, time.Second, func() bool { return m.Stats().Entries == 0 }),
		"idle entry should be evicted after CacheTime")
	assert.GreaterOrEqual(t, m.Stats().Evictions, uint64(1))

	// Next read is a cold fetch again.
	res := m.Read(context.Background(), key, "tok")
	assert.False(t, res.CacheHit)
	assert.Equal(t, int64(2), fc.callCount())
}

func TestRefreshStale_UsesStoredToken(t *testing.T) {
	var lastToken atomic.Value
	fc := &fakeClient{respond: func(call int64, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
		return snapshot(float64(call)), nil
	}}
	client := &tokenRecordingClient{inner: fc, lastToken: &lastToken}

	cfg := testConfig()
	cfg.StaleTime = 10 * time.Millisecond
	m := newTestManager(t, client, cfg)
	key := Key{UserID: "u1"}

	m.Read(context.Background(), key, "session-token")
	time.Sleep(20 * time.Millisecond)

	n := m.RefreshStale()
	assert.Equal(t, 1, n)

	require.True(t, waitFor(t, time.Second, func() bool { return fc.callCount() == 2 }))
	assert.Equal(t, "session-token", lastToken.Load(),
		"keepalive refresh reuses the last bearer token seen for the entry")
}

type tokenRecordingClient struct {
	inner     *fakeClient
	lastToken *atomic.Value
}

func (c *tokenRecordingClient) FetchComplete(ctx context.Context, token string, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
	c.lastToken.Store(token)
	return c.inner.FetchComplete(ctx, token, opts)
}

func TestSubscribe_NotifiesOnChange(t *testing.T) {
	fc := &fakeClient{}
	m := newTestManager(t, fc, testConfig())
	key := Key{UserID: "u1"}

	ch, cancel := m.Subscribe()
	defer cancel()

	m.Read(context.Background(), key, "tok")

	select {
	case got := <-ch:
		assert.Equal(t, key, got)
	case <-time.After(time.Second):
		t.Fatal("no notification after a successful fetch")
	}

	m.Invalidate("u1")
	select {
	case got := <-ch:
		assert.Equal(t, key, got)
	case <-time.After(time.Second):
		t.Fatal("no notification after invalidation")
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	fc := &fakeClient{}
	m := newTestManager(t, fc, testConfig())

	ch, cancel := m.Subscribe()
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "cancel must close the notification channel")
	case <-time.After(time.Second):
		t.Fatal("channel still open after cancel")
	}

	cancel() // second cancel is a no-op

	// Changes after cancel must not reach the closed channel.
	m.Read(context.Background(), Key{UserID: "u1"}, "tok")
}

func TestStaleReads_CountOneBackgroundRefresh(t *testing.T) {
	fc := &fakeClient{respond: func(call int64, opts interfaces.FetchOptions) (*models.CompletePortfolioData, error) {
		if call > 1 {
			time.Sleep(50 * time.Millisecond)
		}
		return snapshot(float64(call)), nil
	}}
	cfg := testConfig()
	cfg.StaleTime = 10 * time.Millisecond
	m := newTestManager(t, fc, cfg)
	key := Key{UserID: "u1"}

	m.Read(context.Background(), key, "tok")
	time.Sleep(20 * time.Millisecond)

	// Two stale reads racing: both may launch a background refresh, but
	// singleflight collapses them into a single fetch, and the counter
	// must reflect actual fetches, not launches.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Read(context.Background(), key, "tok")
		}()
	}
	wg.Wait()

	require.True(t, waitFor(t, time.Second, func() bool { return fc.callCount() == 2 }))
	time.Sleep(20 * time.Millisecond) // let a coalesced launcher settle

	assert.Equal(t, int64(2), fc.callCount())
	assert.Equal(t, uint64(1), m.Stats().Refreshes,
		"refresh counter must match background fetches performed")
}

func TestClear_DropsAllUsers(t *testing.T) {
	fc := &fakeClient{}
	m := newTestManager(t, fc, testConfig())

	m.Read(context.Background(), Key{UserID: "u1"}, "t1")
	m.Read(context.Background(), Key{UserID: "u2"}, "t2")
	require.Equal(t, 2, m.Stats().Entries)

	m.Clear()
	assert.Equal(t, 0, m.Stats().Entries)
}

func TestStats_Counters(t *testing.T) {
	fc := &fakeClient{}
	m := newTestManager(t, fc, testConfig())
	key := Key{UserID: "u1"}

	m.Read(context.Background(), key, "tok") // miss
	m.Read(context.Background(), key, "tok") // hit
	m.ForceRefresh(context.Background(), key, "tok")

	s := m.Stats()
	assert.Equal(t, uint64(1), s.Misses)
	assert.Equal(t, uint64(1), s.Hits)
	assert.Equal(t, uint64(1), s.Forced)
	assert.Equal(t, 1, s.Entries)
}
