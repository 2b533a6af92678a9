package main

import (
	"context"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/auth"
	"github.com/distillhq/distill/internal/browser"
	"github.com/distillhq/distill/internal/cache"
	"github.com/distillhq/distill/internal/circuit"
	"github.com/distillhq/distill/internal/config"
	"github.com/distillhq/distill/internal/crawl"
	"github.com/distillhq/distill/internal/distill"
	"github.com/distillhq/distill/internal/fetch"
	"github.com/distillhq/distill/internal/health"
	"github.com/distillhq/distill/internal/httpapi"
	"github.com/distillhq/distill/internal/marketplace"
	"github.com/distillhq/distill/internal/metrics"
	"github.com/distillhq/distill/internal/pipeline"
	"github.com/distillhq/distill/internal/quota"
	"github.com/distillhq/distill/internal/ratelimit"
	"github.com/distillhq/distill/internal/robots"
	"github.com/distillhq/distill/internal/urlcheck"
)

// app assembles the service from its configuration. Components are
// created once here and injected everywhere else.
type app struct {
	cfg config.Config

	metrics   *metrics.Metrics
	validator *urlcheck.Validator
	robots    *robots.Manager
	origins   *ratelimit.OriginLimiter
	remote    *cache.Redis
	store     *cache.Tiered
	fetcher   *fetch.Fetcher
	browser   *browser.Pool
	breakers  *circuit.Manager
	distiller *distill.Distiller
	registry  *marketplace.Registry
	orch      *pipeline.Orchestrator
	crawls    *crawl.Manager
	quota     *quota.Manager
	auth      *auth.Authenticator
	health    *health.Checker
	server    *httpapi.Server
	db        *sqlx.DB
}

func setupLogging(cfg config.Logging) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	setupLogging(cfg.Logging)

	a := &app{cfg: cfg}
	a.metrics = metrics.New()
	a.validator = urlcheck.NewValidator()
	a.robots = robots.NewManager(cfg.Robots)
	a.origins = ratelimit.NewOriginLimiter(cfg.RateLimit.Origin)
	a.breakers = circuit.NewManager(cfg.Circuit)
	a.fetcher = fetch.NewFetcher(cfg.Fetch, a.validator, a.robots)

	memory := cache.NewMemory(cfg.Cache.MaxEntries, cfg.Cache.MaxBytes)
	if cfg.Redis.Enabled {
		a.remote = cache.NewRedis(cfg.Redis.RedisConfig)
	}
	if a.remote != nil {
		a.store = cache.NewTiered(memory, a.remote)
	} else {
		a.store = cache.NewTiered(memory, nil)
	}

	if cfg.Browser.Enabled {
		a.browser = browser.NewPool(cfg.Browser)
		if err := a.browser.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("browser pool failed to start; rendering disabled")
			a.browser = nil
		}
	}

	a.distiller = distill.NewDistiller(cfg.Distill, a.breakers, nil)

	a.registry = marketplace.NewRegistry(a.breakers)
	if cfg.Marketplace.Ebay.Enabled {
		a.registry.Register(marketplace.NewEbayAdapter(), cfg.Marketplace.Ebay)
	}

	a.orch = pipeline.New(cfg.Pipeline, pipeline.Deps{
		Validator: a.validator,
		Robots:    a.robots,
		Origins:   a.origins,
		Store:     a.store,
		Fetcher:   a.fetcher,
		Browser:   a.browser,
		Breakers:  a.breakers,
		Distiller: a.distiller,
		Registry:  a.registry,
		Metrics:   a.metrics,
	})

	processor := &pipeline.CrawlProcessor{
		Fetcher:   a.fetcher,
		Browser:   a.browser,
		Distiller: a.distiller,
		Origins:   a.origins,
	}
	a.crawls = crawl.NewManager(processor, a.validator, a.robots, a.metrics)

	if cfg.Quota.Enabled && cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.quota = quota.NewManager(cfg.Quota, quota.NewRedisStore(client))
	}

	a.auth = auth.New(cfg.Auth)

	if cfg.Database.Enabled {
		db, err := sqlx.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(8)
		db.SetConnMaxLifetime(5 * time.Minute)
		a.db = db
	}

	a.health = health.NewChecker(2 * time.Second)
	a.health.Register("circuits", false, health.CircuitProbe(a.breakers))
	if a.remote != nil {
		a.health.Register("redis", false, health.RedisProbe(a.remote))
	}
	a.health.Register("browser", false, health.BrowserProbe(a.browser, cfg.Browser.Enabled))

	a.server = httpapi.NewServer(cfg.Server, httpapi.Deps{
		Orchestrator: a.orch,
		Crawls:       a.crawls,
		Auth:         a.auth,
		Quota:        a.quota,
		Window:       ratelimit.NewSlidingWindow(time.Duration(cfg.Server.WindowSeconds) * time.Second),
		Global:       ratelimit.NewGlobalLimiter(cfg.RateLimit.GlobalRPS, cfg.RateLimit.GlobalBurst),
		Health:       a.health,
		Metrics:      a.metrics,
	})
	return a, nil
}

func (a *app) close() {
	if a.browser != nil {
		if err := a.browser.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("browser shutdown failed")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("database close failed")
		}
	}
}
