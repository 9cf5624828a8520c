// Command accrual runs a single points accrual pass and exits
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"nftrarity/internal/bootstrap"
	"nftrarity/internal/config"
	"nftrarity/internal/events"
	"nftrarity/internal/logging"
	"nftrarity/internal/repository"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		color.Red("failed to load configuration: %v", err)
		return 1
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		color.Red("%v", err)
		return 1
	}
	defer store.Close()

	redisClient, err := bootstrap.OpenRedis(ctx, cfg)
	if err != nil {
		color.Red("%v", err)
		return 1
	}
	cache := repository.NewRedisRepository(redisClient)
	defer cache.Close()

	publisher, err := bootstrap.OpenPublisher(cfg, log)
	if err != nil {
		log.Warn("event publishing disabled", "error", err)
		publisher = events.NoopPublisher{}
	}
	defer publisher.Close()

	acc := bootstrap.NewAccrual(cfg, store, cache, publisher, nil, log)
	defer acc.Pool.Shutdown(30 * time.Second)

	report, err := acc.Engine.Run(ctx)
	if err != nil {
		color.Red("accrual failed: %v", err)
		return 1
	}

	color.Green("accrual finished: %d users, %.2f points, %d tier changes in %v",
		report.UsersProcessed, report.TotalPoints, report.TierChanges,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	if r := report.Reconciled; r.Restored+r.Dropped > 0 {
		color.Yellow("reconciled stakes: %d restored, %d dropped", r.Restored, r.Dropped)
	}
	for _, f := range report.Failures {
		color.Yellow("  %s: %v", f.Address, f.Err)
	}
	return 0
}
