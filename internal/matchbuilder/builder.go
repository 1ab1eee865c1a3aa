// Package matchbuilder assembles the match server's object graph from
// configuration: rules engine, registry, guards, profile store, notices,
// websocket hub and handler. main gets back one Deps value and decides
// only process-level concerns (HTTP listener, signals, shutdown order).
package matchbuilder

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/cheese-match-server/internal/config"
	"github.com/park285/cheese-match-server/internal/crashguard"
	"github.com/park285/cheese-match-server/internal/guard"
	"github.com/park285/cheese-match-server/internal/match"
	"github.com/park285/cheese-match-server/internal/metrics"
	"github.com/park285/cheese-match-server/internal/notices"
	"github.com/park285/cheese-match-server/internal/opshook"
	"github.com/park285/cheese-match-server/internal/profile"
	"github.com/park285/cheese-match-server/internal/shutdown"
	"github.com/park285/cheese-match-server/internal/wshub"
)

type Deps struct {
	Metrics   *metrics.Registry
	Shutdown  *shutdown.State
	Guard     *crashguard.Guard
	Registry  *match.Registry
	Admission *guard.Admission
	Limiter   *guard.RateLimiter
	Profiles  *profile.Service
	Catalog   *notices.Catalog
	Hub       *wshub.Hub
	Handler   *wshub.Handler
	Ops       *opshook.Client

	rdb *redis.Client
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Deps{
		Metrics:  metrics.New(),
		Shutdown: shutdown.NewState(),
	}
	d.Guard = crashguard.New(d.Metrics, component(logger, "crashguard"))

	catalog, err := notices.Load()
	if err != nil {
		return nil, fmt.Errorf("load notices: %w", err)
	}
	d.Catalog = catalog

	// Profiles: Redis when configured, in-process store otherwise. Ratings
	// in the in-process store do not survive a restart.
	var store profile.Store
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rdb, rerr := profile.OpenRedis(ctx, cfg.RedisURL)
		if rerr != nil {
			return nil, fmt.Errorf("open redis: %w", rerr)
		}
		d.rdb = rdb
		store = profile.NewRedisStore(rdb)
	} else {
		logger.Info("profile_store_memory", zap.String("hint", "set REDIS_URL to persist ratings"))
		store = profile.NewMemStore()
	}
	d.Profiles = profile.NewService(store, component(logger, "profile"))

	eng := match.NewEngine()
	d.Registry = match.NewRegistry(eng, eng, cfg, d.Shutdown, d.Metrics, component(logger, "match"))
	d.Admission = guard.NewAdmission(cfg.MaxConnsPerIP, d.Metrics, component(logger, "admission"))
	d.Limiter = guard.NewRateLimiter(cfg.RateWindow(), cfg.RateMaxMessages, d.Metrics, component(logger, "ratelimit"))

	d.Hub = wshub.NewHub(component(logger, "hub"))
	d.Handler = wshub.NewHandler(wshub.HandlerDeps{
		Cfg:       cfg,
		Hub:       d.Hub,
		Registry:  d.Registry,
		Admission: d.Admission,
		Limiter:   d.Limiter,
		Profiles:  d.Profiles,
		Catalog:   d.Catalog,
		Shutdown:  d.Shutdown,
		Guard:     d.Guard,
		Log:       component(logger, "ws"),
		Metrics:   d.Metrics,
	})

	d.Ops = opshook.NewClient(cfg.OpsWebhookURL, component(logger, "opshook"))
	return d, nil
}

// Close releases external resources. Safe on a partially wired graph.
func (d *Deps) Close() error {
	if d.rdb != nil {
		return d.rdb.Close()
	}
	return nil
}

func component(base *zap.Logger, name string) *zap.Logger {
	return base.With(zap.String("component", name))
}
