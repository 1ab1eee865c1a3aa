package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	appcfg "github.com/park285/cheese-match-server/internal/config"
	"github.com/park285/cheese-match-server/internal/matchbuilder"
	"github.com/park285/cheese-match-server/internal/obslog"
	"github.com/park285/cheese-match-server/internal/server"
	"github.com/park285/cheese-match-server/internal/shutdown"
)

// Registry sweep cadence. Disconnect grace and lobby TTLs are multiples
// of seconds, so 2s keeps abandonment verdicts timely without busywork.
const sweepEvery = 2 * time.Second

func main() {
	// Optional .env for local runs; absence is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	deps, err := matchbuilder.New(cfg, logger)
	if err != nil {
		logger.Fatal("init_failed", zap.Error(err))
	}

	srv := server.New(server.Deps{
		Cfg:      cfg,
		WS:       deps.Handler.HandleWS,
		Registry: deps.Registry,
		Metrics:  deps.Metrics,
		Shutdown: deps.Shutdown,
		Log:      obslog.Component("http"),
	})

	co := shutdown.NewCoordinator(deps.Shutdown, shutdown.Hooks{
		StopAccepting: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Stop(ctx)
		},
		Notify: deps.Handler.AnnounceShutdown,
		Cleanup: func() error {
			deps.Registry.Stop()
			deps.Limiter.Stop()
			deps.Registry.Clear()
			return deps.Close()
		},
		LiveCount: deps.Hub.LiveCount,
		CloseAll: func() {
			deps.Hub.CloseAll(websocket.StatusGoingAway, "server shutting down")
			deps.Ops.NotifyShutdown(context.Background(), "shutdown complete")
		},
	}, cfg.DrainTimeout(), cfg.DrainPoll(), deps.Metrics, obslog.Component("shutdown"))

	// A panic on a critical path tells the players, alerts ops and exits
	// nonzero so the supervisor restarts the process.
	deps.Guard.OnFatal(func(origin string, v any) {
		deps.Handler.AnnounceCrash()
		deps.Ops.NotifyCrash(origin, deps.Catalog.RenderOr("ops.crash",
			fmt.Sprintf("panic in %s: %v", origin, v),
			map[string]any{"Origin": origin, "Panic": fmt.Sprint(v)}))
	})

	deps.Registry.Start(sweepEvery)
	deps.Limiter.Start(cfg.RateSweepEvery())

	go deps.Guard.Critical("http_serve", func() {
		if serr := srv.Start(); serr != nil {
			logger.Fatal("http_serve_failed", zap.Error(serr))
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	if deps.Ops.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		deps.Ops.NotifyShutdown(ctx, deps.Catalog.RenderOr("ops.shutdown",
			"match server shutting down: "+sig.String(),
			map[string]any{"Reason": sig.String()}))
		cancel()
	}
	co.Shutdown(sig.String())
}
