// Package indexer pulls the collection from chain and metadata hosts into
// the item store and rebuilds the ranking.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nftrarity/internal/apperr"
	"nftrarity/internal/chain"
	"nftrarity/internal/metrics"
	"nftrarity/internal/models"
	"nftrarity/internal/rarity"
)

const DefaultConcurrency = 5

// MetadataSource resolves a token URI to its metadata document
type MetadataSource interface {
	Fetch(ctx context.Context, tokenID int, tokenURI string) (*chain.Metadata, error)
}

// ItemWriter stores indexed items
type ItemWriter interface {
	UpsertItems(ctx context.Context, items []models.Item) error
}

// Rebuilder recomputes the ranking after items changed
type Rebuilder interface {
	Rebuild(ctx context.Context) (*rarity.Snapshot, error)
}

// Skip records an item that could not be indexed
type Skip struct {
	TokenID int
	Err     error
}

// Report summarises one indexing run
type Report struct {
	TotalSupply int
	Indexed     int
	Skipped     []Skip
	Version     int64
	Duration    time.Duration
}

// Indexer walks token ids 1..totalSupply
type Indexer struct {
	chain       chain.Source
	metadata    MetadataSource
	store       ItemWriter
	rebuilder   Rebuilder
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Config holds optional indexer settings
type Config struct {
	Concurrency int
	Metrics     *metrics.Metrics
}

// New creates an indexer. rebuilder may be nil to skip the ranking step.
func New(src chain.Source, md MetadataSource, store ItemWriter, rebuilder Rebuilder, cfg Config, logger *slog.Logger) *Indexer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Indexer{
		chain:       src,
		metadata:    md,
		store:       store,
		rebuilder:   rebuilder,
		concurrency: cfg.Concurrency,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// Run indexes the whole collection. Items whose chain or metadata lookup
// fails are skipped and reported; only cancellation and store failures
// abort the run.
func (ix *Indexer) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	supply, err := ix.chain.TotalSupply(ctx)
	if err != nil {
		return nil, apperr.Upstream("total supply", err)
	}
	ix.logger.Info("indexing collection", "total_supply", supply, "concurrency", ix.concurrency)

	report := &Report{TotalSupply: supply}
	items := make([]models.Item, 0, supply)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for id := 1; id <= supply; id++ {
		tokenID := id
		g.Go(func() error {
			item, err := ix.indexOne(gctx, tokenID)
			if gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Skipped = append(report.Skipped, Skip{TokenID: tokenID, Err: err})
				ix.metrics.ItemIndexed("skipped")
				ix.logger.Warn("item skipped", "token_id", tokenID, "error", err)
				return nil
			}
			items = append(items, *item)
			ix.metrics.ItemIndexed("indexed")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool { return items[i].TokenID < items[j].TokenID })
	sort.Slice(report.Skipped, func(i, j int) bool { return report.Skipped[i].TokenID < report.Skipped[j].TokenID })

	if len(items) > 0 {
		if err := ix.store.UpsertItems(ctx, items); err != nil {
			return nil, fmt.Errorf("upsert items: %w", err)
		}
	}
	report.Indexed = len(items)

	if ix.rebuilder != nil {
		snap, err := ix.rebuilder.Rebuild(ctx)
		if err != nil {
			return nil, fmt.Errorf("rebuild ranking: %w", err)
		}
		report.Version = snap.Version
	}

	report.Duration = time.Since(start)
	ix.logger.Info("indexing finished",
		"indexed", report.Indexed,
		"skipped", len(report.Skipped),
		"version", report.Version,
		"took", report.Duration)
	return report, nil
}

func (ix *Indexer) indexOne(ctx context.Context, tokenID int) (*models.Item, error) {
	owner, err := ix.chain.OwnerOf(ctx, tokenID)
	if err != nil {
		return nil, apperr.Upstream("owner of", err)
	}
	uri, err := ix.chain.TokenURI(ctx, tokenID)
	if err != nil {
		return nil, apperr.Upstream("token uri", err)
	}
	md, err := ix.metadata.Fetch(ctx, tokenID, uri)
	if err != nil {
		return nil, apperr.Upstream("fetch metadata", err)
	}
	return &models.Item{
		TokenID:    tokenID,
		Owner:      owner,
		TokenURI:   uri,
		Name:       md.Name,
		Image:      md.Image,
		Attributes: md.Attributes,
	}, nil
}
