// Package bootstrap opens the external clients shared by the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nftrarity/internal/accrual"
	"nftrarity/internal/archive"
	"nftrarity/internal/config"
	"nftrarity/internal/events"
	"nftrarity/internal/ledger"
	"nftrarity/internal/metrics"
	"nftrarity/internal/repository"
	"nftrarity/internal/service"
	"nftrarity/internal/worker"
)

const connectTimeout = 5 * time.Second

// OpenStore connects the durable store selected by cfg.Database.Driver and
// prepares its schema
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := initPostgres(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		repo := repository.NewPostgresRepository(db)
		if err := repo.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("connected to postgres")
		return repo, nil

	case "mongo":
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.Database.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(cctx, nil); err != nil {
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		repo := repository.NewMongoRepository(client, cfg.Database.MongoDB)
		if err := repo.EnsureIndexes(cctx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		logger.Info("connected to mongo", "database", cfg.Database.MongoDB)
		return repo, nil

	case "memory":
		logger.Warn("using in-memory store, data is lost on exit")
		return repository.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// initPostgres opens a pooled gorm connection and pings it
func initPostgres(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// accrual workers plus request handlers
	sqlDB.SetMaxOpenConns(cfg.Accrual.Workers + 20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(2 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pctx); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenRedis initializes the Redis client with connection pooling
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  connectTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// OpenPublisher connects to NATS when configured and otherwise drops events
func OpenPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, error) {
	if cfg.Events.NATSURL == "" {
		return events.NoopPublisher{}, nil
	}
	pub, err := events.NewNATSPublisher(cfg.Events.NATSURL, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("publishing events to nats", "url", cfg.Events.NATSURL)
	return pub, nil
}

// OpenArchiver builds the snapshot archiver from whichever sinks are set
func OpenArchiver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*archive.Archiver, error) {
	var sinks []archive.Sink
	if cfg.Archive.Dir != "" {
		local, err := archive.NewLocalDir(cfg.Archive.Dir)
		if err != nil {
			return nil, fmt.Errorf("archive dir: %w", err)
		}
		sinks = append(sinks, local)
	}
	if cfg.Archive.S3Bucket != "" {
		s3sink, err := archive.NewS3Sink(ctx, archive.S3Options{
			Bucket:    cfg.Archive.S3Bucket,
			Region:    cfg.Archive.S3Region,
			Endpoint:  cfg.Archive.S3Endpoint,
			AccessKey: cfg.Archive.S3AccessKey,
			SecretKey: cfg.Archive.S3SecretKey,
			Prefix:    cfg.Archive.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3sink)
	}
	return archive.New(logger, sinks...), nil
}

// Accrual bundles the engine with the pool it runs on
type Accrual struct {
	Engine *accrual.Engine
	Pool   *worker.WorkerPool
	Ledger *ledger.Ledger
}

// NewAccrual wires the stake ledger, a started worker pool and the accrual
// engine. The caller owns Pool and must shut it down.
func NewAccrual(cfg *config.Config, store repository.Store, cache *repository.RedisRepository,
	publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Accrual {
	l := ledger.New(store, cache, logger.With("component", "ledger"), ledger.WithObserver(m))

	pool := worker.NewWorkerPool(cfg.Accrual.Workers, cfg.Accrual.QueueSize, cfg.AccrualTaskTimeout(), logger.With("component", "worker"))
	pool.Start()

	notifier := service.NewAccrualNotifier(cache, publisher, m, logger)
	engine := accrual.NewEngine(store, pool, logger.With("component", "accrual"),
		accrual.WithReconciler(l),
		accrual.WithNotifiers(notifier))

	return &Accrual{Engine: engine, Pool: pool, Ledger: l}
}
