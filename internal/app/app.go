// Package app wires Portico's components together.
package app

import (
	"fmt"
	"os"
	"time"

	"github.com/porticolabs/portico/internal/cache"
	"github.com/porticolabs/portico/internal/clients/aggregate"
	"github.com/porticolabs/portico/internal/common"
	"github.com/porticolabs/portico/internal/session"
)

// App holds the initialized config, logger, upstream client, cache manager,
// and token verifier. It is the shared core behind cmd/portico-server and
// the test harnesses.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Client      *aggregate.Client
	Cache       *cache.Manager
	Verifier    *session.Verifier
	StartupTime time.Time

	scheduler *scheduler
}

// NewApp loads configuration and initializes all components.
// configPath may be empty, in which case PORTICO_CONFIG and then
// "config/portico.toml" are tried.
func NewApp(configPath string) (*App, error) {
	if configPath == "" {
		configPath = os.Getenv("PORTICO_CONFIG")
	}
	if configPath == "" {
		configPath = "config/portico.toml"
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	if config.IsProduction() {
		if missing := config.ValidateRequired(); len(missing) > 0 {
			return nil, fmt.Errorf("missing required config in production: %v", missing)
		}
	}

	client := aggregate.NewClient(
		config.Upstream.BaseURL,
		aggregate.WithTimeout(config.Upstream.GetTimeout()),
		aggregate.WithRateLimit(config.Upstream.RateLimit),
		aggregate.WithLogger(logger),
	)

	cacheCfg := cache.Config{
		StaleTime:       config.Cache.GetStaleTime(),
		CacheTime:       config.Cache.GetCacheTime(),
		RetryMax:        config.Cache.RetryMax,
		RetryBaseDelay:  config.Cache.GetRetryBaseDelay(),
		RetryMaxDelay:   config.Cache.GetRetryMaxDelay(),
		JanitorInterval: config.Cache.GetJanitorInterval(),
	}
	manager := cache.NewManager(client, cacheCfg, logger)

	a := &App{
		Config:      config,
		Logger:      logger,
		Client:      client,
		Cache:       manager,
		Verifier:    session.NewVerifier(config.Auth.JWTSecret),
		StartupTime: time.Now(),
	}

	logger.Info().
		Str("environment", config.Environment).
		Str("upstream", config.Upstream.BaseURL).
		Dur("stale_time", cacheCfg.StaleTime).
		Dur("cache_time", cacheCfg.CacheTime).
		Msg("Portico initialized")

	return a, nil
}

// StartRefreshScheduler begins the periodic keepalive refresh of stale
// cache entries.
func (a *App) StartRefreshScheduler() error {
	s, err := startScheduler(a.Cache, a.Config.Cache.RefreshSchedule, a.Logger)
	if err != nil {
		return err
	}
	a.scheduler = s
	return nil
}

// Close stops background work and releases resources.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.stop()
	}
	a.Cache.Close()
}
