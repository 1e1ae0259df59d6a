// Package di wires the application graph in dependency order: metrics and
// bus first, then Redis and the cache, the market data providers, the
// analysis engines, and finally the background workers.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/avramidis/skopos/internal/clients/binance"
	"github.com/avramidis/skopos/internal/clients/yahoo"
	"github.com/avramidis/skopos/internal/config"
	"github.com/avramidis/skopos/internal/events"
	"github.com/avramidis/skopos/internal/metrics"
	"github.com/avramidis/skopos/internal/modules/cache"
	"github.com/avramidis/skopos/internal/modules/indicators"
	"github.com/avramidis/skopos/internal/modules/marketdata"
	"github.com/avramidis/skopos/internal/modules/mtfcontext"
	"github.com/avramidis/skopos/internal/modules/regime"
	"github.com/avramidis/skopos/internal/scheduler"
)

// redisPingTimeout bounds the connectivity probe during wiring.
const redisPingTimeout = 5 * time.Second

// Container holds every long-lived component. Cache, Scheduler and Stream
// are nil when their feature is disabled by configuration.
type Container struct {
	Redis      *redis.Client
	Cache      *cache.Manager
	Feed       *cache.Feed
	Bus        *events.Bus
	Metrics    *metrics.Metrics
	Registry   *marketdata.Registry
	Indicators *indicators.Engine
	Regime     *regime.Engine
	Context    *mtfcontext.Analyzer
	Scheduler  *scheduler.Scheduler
	Stream     *binance.Stream
}

// Wire builds the container. On error every resource opened so far is
// released, so a failed Wire never leaks connections.
func Wire(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{
		Metrics: metrics.New(),
		Bus:     events.NewBus(log),
	}

	if cfg.Cache.Enabled {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if cfg.Cache.ConnectOnStart {
			pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
			err := c.Redis.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				c.releaseOnError()
				return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
			}
		}
		c.Cache = cache.NewManager(c.Redis, cache.Config{
			KeyPrefix:     cfg.Redis.KeyPrefix,
			TTL:           cfg.Cache.TTL,
			MaxBarsPerKey: cfg.Cache.MaxBarsPerKey,
		}, c.Bus, c.Metrics, log)
		c.Feed = cache.NewFeed(c.Cache, c.Bus, log)
	}

	binanceCfg := binance.Config{
		BaseURL:    cfg.Binance.BaseURL,
		StreamURL:  cfg.Binance.StreamURL,
		RatePerSec: cfg.Binance.RatePerSec,
		Burst:      cfg.Binance.Burst,
		Timeout:    cfg.Provider.RequestTimeout,
	}
	yahooCfg := yahoo.Config{
		BaseURL:    cfg.Yahoo.BaseURL,
		RatePerSec: cfg.Yahoo.RatePerSec,
		Burst:      cfg.Yahoo.Burst,
		Timeout:    cfg.Provider.RequestTimeout,
	}

	// A nil *cache.Manager must stay a nil interface inside the provider.
	var providerCache marketdata.Cache
	if c.Cache != nil {
		providerCache = c.Cache
	}
	providerCfg := marketdata.Config{
		MaxBars:           cfg.Provider.MaxBars,
		UseCacheDefault:   cfg.Cache.Enabled,
		DetectGapsDefault: true,
	}

	c.Registry = marketdata.NewRegistry(cfg.Provider.DefaultSource)
	c.Registry.Register(marketdata.NewProvider(
		binance.NewClient(binanceCfg, c.Metrics, log), providerCache, providerCfg, c.Metrics, log))
	c.Registry.Register(marketdata.NewProvider(
		yahoo.NewClient(yahooCfg, c.Metrics, log), providerCache, providerCfg, c.Metrics, log))
	if _, err := c.Registry.Provider(""); err != nil {
		c.releaseOnError()
		return nil, fmt.Errorf("default market data source: %w", err)
	}

	c.Indicators = indicators.NewEngine(c.Registry, log)
	c.Regime = regime.NewEngine(c.Registry, c.Indicators, cfg.Regime, c.Metrics, c.Bus, log)
	c.Context = mtfcontext.NewAnalyzer(c.Registry, c.Indicators, c.Regime,
		cfg.Context, cfg.Alignment, c.Metrics, log)

	if cfg.Scheduler.Enabled {
		c.Scheduler = scheduler.New(log)
		warmup := scheduler.NewWarmupJob(c.Registry, cfg.Scheduler.Watchlist, cfg.Scheduler.WarmupBars, log)
		if err := c.Scheduler.AddJob(cfg.Scheduler.WarmupSpec, warmup); err != nil {
			c.releaseOnError()
			return nil, fmt.Errorf("registering warmup job: %w", err)
		}
		c.Metrics.SetWatchlistSize(len(cfg.Scheduler.Watchlist))
		if c.Cache != nil {
			flush := scheduler.NewStatsFlushJob(c.Cache)
			if err := c.Scheduler.AddJob(cfg.Scheduler.StatsFlushSpec, flush); err != nil {
				c.releaseOnError()
				return nil, fmt.Errorf("registering stats flush job: %w", err)
			}
		}
	}

	if len(cfg.Binance.StreamSubscriptions) > 0 {
		subs, err := binance.ParseSubscriptions(cfg.Binance.StreamSubscriptions)
		if err != nil {
			c.releaseOnError()
			return nil, err
		}
		c.Stream = binance.NewStream(binanceCfg, subs, c.Bus, c.Metrics, log)
	}

	return c, nil
}

// Start launches the background side of the container: counter restore and
// the cache feed, the scheduler, and the kline stream. A stream that cannot
// connect yet keeps retrying on its own and is not a startup failure.
func (c *Container) Start(ctx context.Context) {
	if c.Cache != nil {
		c.Cache.RestoreStats(ctx)
		c.Feed.Start()
	}
	if c.Scheduler != nil {
		c.Scheduler.Start()
	}
	if c.Stream != nil {
		_ = c.Stream.Start()
	}
}

// Close tears the container down in reverse order: stream first so no new
// bars arrive, then the scheduler and the feed, a final stats flush, and
// the Redis connection last.
func (c *Container) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.Stream != nil {
		keep(c.Stream.Stop())
	}
	if c.Scheduler != nil {
		keep(c.Scheduler.Stop(ctx))
	}
	if c.Feed != nil {
		c.Feed.Stop()
	}
	if c.Cache != nil {
		keep(c.Cache.FlushStats(ctx))
	}
	if c.Redis != nil {
		keep(c.Redis.Close())
	}
	return firstErr
}

// releaseOnError closes whatever Wire had opened before failing. Nothing
// has been started yet, so only the Redis connection needs closing.
func (c *Container) releaseOnError() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
