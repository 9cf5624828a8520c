package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nftrarity/internal/api/handlers"
	"nftrarity/internal/auth"
	"nftrarity/internal/bootstrap"
	"nftrarity/internal/config"
	"nftrarity/internal/events"
	"nftrarity/internal/jobs"
	"nftrarity/internal/logging"
	"nftrarity/internal/metrics"
	"nftrarity/internal/models"
	"nftrarity/internal/repository"
	"nftrarity/internal/service"
	"nftrarity/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	redisClient, err := bootstrap.OpenRedis(ctx, cfg)
	if err != nil {
		store.Close()
		return err
	}
	log.Info("connected to redis", "addr", cfg.GetRedisAddr())
	cache := repository.NewRedisRepository(redisClient)

	publisher, err := bootstrap.OpenPublisher(cfg, log)
	if err != nil {
		log.Warn("event publishing disabled", "error", err)
		publisher = events.NoopPublisher{}
	}
	archiver, err := bootstrap.OpenArchiver(ctx, cfg, log)
	if err != nil {
		return err
	}

	ranking := service.NewRankingService(store, cache, archiver, publisher, m, log.With("component", "ranking"))
	if err := loadRanking(ctx, ranking, store, log); err != nil {
		return err
	}

	acc := bootstrap.NewAccrual(cfg, store, cache, publisher, m, log)

	authenticator := auth.NewAuthenticator(cache, cache, log.With("component", "auth"),
		auth.WithTTLs(cfg.NonceTTL(), cfg.SessionTTL()),
		auth.WithObserver(m))
	accounts := service.NewAccountService(authenticator, store, log)
	staking := service.NewStakingService(acc.Ledger, store, publisher, log.With("component", "staking"))
	health := service.NewHealthService(store, cache)

	hub := websocket.NewHub(cache, func(ctx context.Context) {
		if _, err := ranking.Refresh(ctx); err != nil {
			log.Warn("ranking refresh failed", "error", err)
		}
	}, log.With("component", "ws"))
	go hub.Run(ctx)

	scheduler, err := jobs.NewAccrualScheduler(acc.Engine, jobs.SchedulerConfig{
		Schedule:   cfg.Accrual.Schedule,
		RunOnStart: cfg.Accrual.RunOnStart,
	}, log.With("component", "scheduler"))
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	app := fiber.New(fiber.Config{
		AppName:      "NFT Rarity Service",
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
	origins := strings.Join(cfg.AllowedOrigins(), ",")
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		// wildcard origins cannot carry the session cookie
		AllowCredentials: !strings.Contains(origins, "*"),
	}))

	h := handlers.New(handlers.Deps{
		Ranking:       ranking,
		Accounts:      accounts,
		Staking:       staking,
		Health:        health,
		SessionCookie: cfg.Server.SessionCookie,
		Logger:        log.With("component", "api"),
	})
	h.Register(app.Group("/api/v1"))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", fiberws.New(func(c *fiberws.Conn) {
		websocket.ServeWS(hub, c)
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message":         "NFT Rarity Service API",
			"ranking_version": ranking.Version(),
			"endpoints": []string{
				"GET /api/v1/rarity/:tokenId",
				"GET /api/v1/items/:tokenId",
				"GET /api/v1/traits",
				"GET /api/v1/leaderboard/top-items",
				"GET /api/v1/leaderboard/top-users",
				"GET /api/v1/auth/nonce?walletAddress=",
				"POST /api/v1/auth/verify",
				"POST /api/v1/auth/logout",
				"GET /api/v1/user",
				"GET /api/v1/user/staked",
				"POST /api/v1/stake",
				"POST /api/v1/unstake",
				"GET /api/v1/health",
				"GET /metrics",
				"WS /ws",
			},
			"websocket_clients": hub.GetClientCount(),
		})
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Info("shutting down server")

		// no new accrual runs, wait for the active one
		scheduler.Stop()

		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		if err := app.ShutdownWithContext(sctx); err != nil {
			log.Error("server forced to shutdown", "error", err)
		}

		cancel()

		if err := acc.Pool.Shutdown(30 * time.Second); err != nil {
			log.Error("worker pool shutdown", "error", err)
		}
		publisher.Close()
		if err := store.Close(); err != nil {
			log.Error("closing store", "error", err)
		}
		if err := cache.Close(); err != nil {
			log.Error("closing redis", "error", err)
		}
		log.Info("server shutdown complete")
	}()

	log.Info("server starting", "port", cfg.Server.Port)
	return app.Listen(fmt.Sprintf(":%d", cfg.Server.Port))
}

// loadRanking restores the last published ranking, or builds one when items
// exist but no ranking was ever stored
func loadRanking(ctx context.Context, ranking *service.RankingService, store repository.Store, log *slog.Logger) error {
	ok, err := ranking.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ranking: %w", err)
	}
	if ok {
		log.Info("ranking loaded", "version", ranking.Version())
		return nil
	}

	items, err := store.ListItems(ctx)
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	if len(items) == 0 {
		log.Warn("no items indexed yet, run the indexer")
		return nil
	}
	snap, err := ranking.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("build ranking: %w", err)
	}
	log.Info("ranking built", "version", snap.Version, "items", len(snap.Records))
	return nil
}

// errorHandler answers errors that escape the handlers, such as unknown routes
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(models.ErrorResponse{
		Error:   http.StatusText(code),
		Code:    "HTTP_" + strconv.Itoa(code),
		Message: err.Error(),
	})
}
