// Package cache implements the portfolio aggregate cache manager
package cache

import (
	"fmt"
	"time"

	"github.com/porticolabs/portico/internal/models"
)

// Key identifies one cache slot. Entries are scoped per user so one
// identity can never observe another's aggregate; the two fetch flags are
// part of the identity because they change the upstream response shape.
type Key struct {
	UserID            string
	ForceRefresh      bool
	IncludeHistorical bool
}

func (k Key) id() string {
	return fmt.Sprintf("%s|%t|%t", k.UserID, k.ForceRefresh, k.IncludeHistorical)
}

// Config holds all cache windows and the retry policy. Every value is
// explicit; nothing falls back to a library default.
type Config struct {
	StaleTime       time.Duration // data older than this is served but refetched in the background
	CacheTime       time.Duration // entries idle longer than this are evicted
	RetryMax        int           // transport retries per fetch attempt
	RetryBaseDelay  time.Duration // first backoff delay, doubled per attempt
	RetryMaxDelay   time.Duration // backoff cap
	JanitorInterval time.Duration // eviction sweep interval; 0 disables the janitor
}

// DefaultConfig returns the standard cache windows.
func DefaultConfig() Config {
	return Config{
		StaleTime:       30 * time.Minute,
		CacheTime:       time.Hour,
		RetryMax:        3,
		RetryBaseDelay:  time.Second,
		RetryMaxDelay:   15 * time.Second,
		JanitorInterval: 5 * time.Minute,
	}
}

// Result is what a read returns: the current aggregate (possibly stale,
// possibly nil) plus the status flags consumers render from. An error never
// replaces previously cached data; both are exposed together.
type Result struct {
	Data      *models.CompletePortfolioData
	FetchedAt time.Time
	CacheHit  bool // satisfied from the existing entry without waiting on the network
	IsLoading bool // a fetch for this key is in flight
	IsError   bool
	Err       error
}

// Stats holds cache manager counters for diagnostics.
type Stats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Refreshes uint64 `json:"refreshes"`
	Forced    uint64 `json:"forced"`
	Errors    uint64 `json:"errors"`
	Retries   uint64 `json:"retries"`
	Evictions uint64 `json:"evictions"`
}

// entry is one cached slot. All fields are guarded by the manager's mutex;
// the manager is the only writer.
type entry struct {
	data       *models.CompletePortfolioData
	fetchedAt  time.Time
	lastAccess time.Time
	err        error
	inflight   int
	token      string // last bearer token used, kept for background refresh
}
