package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/porticolabs/portico/internal/clients/aggregate"
	"github.com/porticolabs/portico/internal/common"
	"github.com/porticolabs/portico/internal/interfaces"
	"github.com/porticolabs/portico/internal/models"
)

// backgroundFetchBudget bounds a refresh that has no caller waiting on it.
const backgroundFetchBudget = 2 * time.Minute

// Manager is the single authority over cache entries. It decides whether a
// read is served from memory or goes through the fetch pipeline, coalesces
// concurrent fetches per key, retries transport failures with exponential
// backoff, and evicts idle entries. Nothing else writes cache state.
type Manager struct {
	client interfaces.AggregateClient
	cfg    Config
	logger *common.Logger

	mu      sync.Mutex
	entries map[Key]*entry
	subs    map[int]chan Key
	nextSub int
	stats   Stats

	group singleflight.Group
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewManager creates a cache manager and starts its eviction janitor when
// JanitorInterval is non-zero. Call Close to stop the janitor.
func NewManager(client interfaces.AggregateClient, cfg Config, logger *common.Logger) *Manager {
	m := &Manager{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[Key]*entry),
		subs:    make(map[int]chan Key),
		done:    make(chan struct{}),
	}

	if cfg.JanitorInterval > 0 {
		m.wg.Add(1)
		go m.janitor()
	}

	return m
}

// Close stops the janitor and completes any pending background refreshes.
func (m *Manager) Close() {
	close(m.done)
	m.wg.Wait()
}

// Read returns the current cached aggregate for key, fetching when needed.
//
// With no usable entry, Read blocks on a coalesced fetch: concurrent reads
// for the same key share a single network call. With a fresh entry it
// returns immediately. With a stale entry it returns the cached data
// immediately and kicks off one background refetch, reusing the caller's
// token for the upstream request.
func (m *Manager) Read(ctx context.Context, key Key, token string) Result {
	m.mu.Lock()
	e := m.entries[key]
	now := time.Now()

	if e != nil && e.data != nil {
		e.lastAccess = now
		e.token = token
		stale := now.Sub(e.fetchedAt) >= m.cfg.StaleTime
		fetching := e.inflight > 0

		res := Result{
			Data:      e.data,
			FetchedAt: e.fetchedAt,
			CacheHit:  true,
			IsLoading: fetching,
			IsError:   e.err != nil,
			Err:       e.err,
		}
		m.stats.Hits++
		needsRefresh := stale && !fetching
		m.mu.Unlock()

		if needsRefresh {
			res.IsLoading = true
			m.startBackgroundRefresh(key, token)
		}
		return res
	}

	m.stats.Misses++
	m.mu.Unlock()

	// Cold read: block on a coalesced fetch.
	v, err, _ := m.group.Do(key.id(), func() (any, error) {
		return m.refresh(ctx, key, token, false, true)
	})
	if err != nil {
		// A read coalesced onto an in-flight prefetch inherits its
		// non-recording fetch; the entry must still end up errored.
		m.recordFetchError(key, err)
		return m.erroredResult(key, err)
	}

	data := v.(*models.CompletePortfolioData)
	return Result{Data: data, FetchedAt: time.Now(), CacheHit: false}
}

// ForceRefresh fetches key unconditionally, bypassing the staleness check,
// and blocks until the fetch completes. The upstream is asked to bypass its
// own cache as well. A force refresh always issues its own network call,
// even while a background refetch for the same key is in flight; whichever
// completes last is what the cache ends up holding.
func (m *Manager) ForceRefresh(ctx context.Context, key Key, token string) Result {
	m.mu.Lock()
	m.stats.Forced++
	m.mu.Unlock()

	// Deliberately not coalesced with normal reads: a force must hit the
	// network even when a regular fetch is already in flight.
	v, err, _ := m.group.Do(key.id()+"|force", func() (any, error) {
		return m.refresh(ctx, key, token, true, true)
	})
	if err != nil {
		return m.erroredResult(key, err)
	}

	data := v.(*models.CompletePortfolioData)
	return Result{Data: data, FetchedAt: time.Now(), CacheHit: false}
}

// Prefetch populates the cache ahead of an anticipated read. It shares the
// normal freshness rules and coalesces with in-flight reads. Errors are
// swallowed: a failed prefetch is logged but does not mark the entry
// errored, so no later reader observes a failure it never caused.
func (m *Manager) Prefetch(ctx context.Context, key Key, token string) {
	m.mu.Lock()
	e := m.entries[key]
	if e != nil && e.data != nil && time.Since(e.fetchedAt) < m.cfg.StaleTime {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	_, err, _ := m.group.Do(key.id(), func() (any, error) {
		return m.refresh(ctx, key, token, false, false)
	})
	if err != nil {
		m.logger.Debug().Err(err).Str("user", key.UserID).Msg("Prefetch failed")
	}
}

// Invalidate drops every entry belonging to userID. Used on logout and on
// identity switch: after this, no read under any identity can observe the
// invalidated user's data, and results of fetches still in flight for the
// dropped entries are discarded on arrival.
func (m *Manager) Invalidate(userID string) int {
	m.mu.Lock()
	var dropped []Key
	for k := range m.entries {
		if k.UserID == userID {
			delete(m.entries, k)
			dropped = append(dropped, k)
		}
	}
	m.mu.Unlock()

	for _, k := range dropped {
		m.notify(k)
	}
	if len(dropped) > 0 {
		m.logger.Info().Str("user", userID).Int("entries", len(dropped)).Msg("Cache invalidated")
	}
	return len(dropped)
}

// Clear drops all entries for all users.
func (m *Manager) Clear() {
	m.mu.Lock()
	n := len(m.entries)
	m.entries = make(map[Key]*entry)
	m.mu.Unlock()
	if n > 0 {
		m.logger.Info().Int("entries", n).Msg("Cache cleared")
	}
}

// RefreshStale re-fetches every stale entry that still holds a usable
// token, in the background. The scheduler calls this on an interval so
// frequently-read dashboards stay warm between user visits.
func (m *Manager) RefreshStale() int {
	m.mu.Lock()
	type target struct {
		key   Key
		token string
	}
	var targets []target
	now := time.Now()
	for k, e := range m.entries {
		if e.data == nil || e.inflight > 0 || e.token == "" {
			continue
		}
		if now.Sub(e.fetchedAt) >= m.cfg.StaleTime {
			targets = append(targets, target{key: k, token: e.token})
		}
	}
	m.mu.Unlock()

	for _, t := range targets {
		m.startBackgroundRefresh(t.key, t.token)
	}
	return len(targets)
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Entries = len(m.entries)
	return s
}

// Subscribe registers for change notifications: the returned channel
// receives the key of every entry whose stored state changed (new data,
// recorded error, invalidation, eviction). Slow subscribers drop
// notifications rather than block the manager. The cancel func must be
// called when done; it closes the channel, so consumers ranging over it
// terminate. Closing under the manager's lock is safe because notify
// sends only while holding the same lock.
func (m *Manager) Subscribe() (<-chan Key, func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan Key, 16)
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
		m.mu.Unlock()
	}
	return ch, cancel
}

func (m *Manager) notify(key Key) {
	m.mu.Lock()
	for _, ch := range m.subs {
		select {
		case ch <- key:
		default:
		}
	}
	m.mu.Unlock()
}

// startBackgroundRefresh launches one refetch for key with no caller
// waiting. Coalesced through the same singleflight key as cold reads;
// the refresh counter is bumped inside the callback so launches that
// coalesce onto an existing flight are not counted as extra fetches.
func (m *Manager) startBackgroundRefresh(key Key, token string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundFetchBudget)
		defer cancel()

		_, err, _ := m.group.Do(key.id(), func() (any, error) {
			m.mu.Lock()
			m.stats.Refreshes++
			m.mu.Unlock()
			return m.refresh(ctx, key, token, false, true)
		})
		if err != nil {
			m.logger.Warn().Err(err).Str("user", key.UserID).Msg("Background refresh failed")
		}
	}()
}

// refresh runs one fetch (with retry) for key and applies the outcome to
// the entry. recordErr controls whether a failure is written to the entry's
// error state; prefetch passes false so its failures stay invisible.
func (m *Manager) refresh(ctx context.Context, key Key, token string, force, recordErr bool) (*models.CompletePortfolioData, error) {
	e := m.beginFetch(key, token)
	data, err := m.fetchWithRetry(ctx, key, token, force)
	m.completeFetch(key, e, data, err, recordErr)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// beginFetch marks a fetch in flight for key, creating the entry if absent.
func (m *Manager) beginFetch(key Key, token string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[key]
	if e == nil {
		e = &entry{lastAccess: time.Now()}
		m.entries[key] = e
	}
	e.inflight++
	e.token = token
	return e
}

// completeFetch applies a finished fetch to the cache. The write happens
// only when the entry the fetch started against is still the live entry
// for its key; if the entry was invalidated or evicted mid-flight (user
// switch, logout) the result is discarded. Successive completions for the
// same live entry each overwrite it, so the last fetch to complete wins.
// On failure any previously cached data is preserved and the error is
// stored alongside it.
func (m *Manager) completeFetch(key Key, e *entry, data *models.CompletePortfolioData, err error, recordErr bool) {
	m.mu.Lock()
	if m.entries[key] != e {
		m.mu.Unlock()
		m.logger.Debug().Str("user", key.UserID).Msg("Discarding fetch result for superseded entry")
		return
	}

	e.inflight--
	changed := false
	if err != nil {
		if recordErr {
			e.err = err
			m.stats.Errors++
			changed = true
		}
	} else {
		e.data = data
		e.fetchedAt = time.Now()
		e.err = nil
		changed = true
	}
	m.mu.Unlock()

	if changed {
		m.notify(key)
	}
}

// fetchWithRetry invokes the pipeline, retrying transport failures with
// exponential backoff. Validation and authentication failures are returned
// immediately: they indicate a contract or credential problem that a retry
// cannot fix. Each call starts with a full retry budget.
func (m *Manager) fetchWithRetry(ctx context.Context, key Key, token string, force bool) (*models.CompletePortfolioData, error) {
	opts := interfaces.FetchOptions{
		ForceRefresh:      key.ForceRefresh || force,
		IncludeHistorical: key.IncludeHistorical,
	}

	delay := m.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; ; attempt++ {
		data, err := m.client.FetchComplete(ctx, token, opts)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if !aggregate.IsTransport(err) || attempt >= m.cfg.RetryMax {
			return nil, lastErr
		}

		m.mu.Lock()
		m.stats.Retries++
		m.mu.Unlock()

		m.logger.Debug().
			Err(err).
			Str("user", key.UserID).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Transport failure, retrying")

		select {
		case <-ctx.Done():
			return nil, lastErr
		case <-time.After(delay):
		}

		delay *= 2
		if delay > m.cfg.RetryMaxDelay {
			delay = m.cfg.RetryMaxDelay
		}
	}
}

// recordFetchError stores err on key's entry after a blocking read rode a
// fetch that did not record it itself. Skipped when completeFetch already
// stored this exact error, and when the entry was dropped mid-flight.
func (m *Manager) recordFetchError(key Key, err error) {
	m.mu.Lock()
	e := m.entries[key]
	if e == nil || e.err == err {
		m.mu.Unlock()
		return
	}
	e.err = err
	m.stats.Errors++
	m.mu.Unlock()
	m.notify(key)
}

// erroredResult builds the result for a failed blocking fetch, surfacing
// any previously cached data alongside the error.
func (m *Manager) erroredResult(key Key, err error) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := Result{IsError: true, Err: err}
	if e := m.entries[key]; e != nil && e.data != nil {
		res.Data = e.data
		res.FetchedAt = e.fetchedAt
		res.CacheHit = true
	}
	return res
}

// janitor evicts entries that have gone unread for longer than CacheTime.
func (m *Manager) janitor() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle()
		}
	}
}

func (m *Manager) evictIdle() {
	m.mu.Lock()
	var dropped []Key
	now := time.Now()
	for k, e := range m.entries {
		if e.inflight > 0 {
			continue
		}
		if now.Sub(e.lastAccess) >= m.cfg.CacheTime {
			delete(m.entries, k)
			m.stats.Evictions++
			dropped = append(dropped, k)
		}
	}
	m.mu.Unlock()

	for _, k := range dropped {
		m.notify(k)
	}
	if len(dropped) > 0 {
		m.logger.Debug().Int("entries", len(dropped)).Msg("Evicted idle cache entries")
	}
}
