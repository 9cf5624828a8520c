package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"nftrarity/internal/bootstrap"
	"nftrarity/internal/chain"
	"nftrarity/internal/config"
	"nftrarity/internal/events"
	"nftrarity/internal/indexer"
	"nftrarity/internal/logging"
	"nftrarity/internal/repository"
	"nftrarity/internal/service"
)

const topToShow = 10

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		color.Red("failed to load configuration: %v", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		color.Red("indexing failed: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.Chain.RPCURL == "" || cfg.Chain.Contract == "" {
		return fmt.Errorf("RPC_URL and NFT_CONTRACT_ADDRESS must be set")
	}

	color.Cyan("indexing %s via %s", cfg.Chain.Contract, cfg.Chain.RPCURL)

	src, err := chain.DialERC721(ctx, cfg.Chain.RPCURL, cfg.Chain.Contract)
	if err != nil {
		return err
	}
	defer src.Close()

	fetcher, err := chain.NewMetadataFetcher(cfg.Chain.IPFSGateway, cfg.FetchTimeout(),
		cfg.Chain.MetadataCache, cfg.Chain.MetadataCacheDir, log.With("component", "metadata"))
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient, err := bootstrap.OpenRedis(ctx, cfg)
	if err != nil {
		return err
	}
	cache := repository.NewRedisRepository(redisClient)
	defer cache.Close()

	publisher, err := bootstrap.OpenPublisher(cfg, log)
	if err != nil {
		log.Warn("event publishing disabled", "error", err)
		publisher = events.NoopPublisher{}
	}
	defer publisher.Close()

	archiver, err := bootstrap.OpenArchiver(ctx, cfg, log)
	if err != nil {
		return err
	}

	ranking := service.NewRankingService(store, cache, archiver, publisher, nil, log.With("component", "ranking"))
	ix := indexer.New(src, fetcher, store, ranking, indexer.Config{
		Concurrency: cfg.Chain.FetchConcurrency,
	}, log.With("component", "indexer"))

	report, err := ix.Run(ctx)
	if err != nil {
		return err
	}

	color.Green("indexed %d of %d tokens in %v, ranking version %d",
		report.Indexed, report.TotalSupply, report.Duration.Round(time.Millisecond), report.Version)
	for _, s := range report.Skipped {
		color.Yellow("  skipped #%d: %v", s.TokenID, s.Err)
	}

	top, err := ranking.TopRankedItems(ctx, topToShow)
	if err != nil {
		return err
	}
	fmt.Println()
	color.Cyan("top %d of %d by rarity:", len(top.Items), top.Total)
	for _, rec := range top.Items {
		fmt.Printf("  %3d. #%-6d %.4f\n", rec.Rank, rec.TokenID, rec.RarityScore)
	}
	return nil
}
