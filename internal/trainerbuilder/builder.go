package trainerbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Endgame-Trainer/internal/config"
	"github.com/park285/Cheese-Endgame-Trainer/internal/msgcat"
	"github.com/park285/Cheese-Endgame-Trainer/internal/positions"
	"github.com/park285/Cheese-Endgame-Trainer/internal/repository"
	"github.com/park285/Cheese-Endgame-Trainer/internal/tablebase"
	"github.com/park285/Cheese-Endgame-Trainer/internal/trainer"
)

type Deps struct {
	Config   *config.AppConfig
	Client   *tablebase.Client
	Cache    *tablebase.Cache
	Redis    *redis.Client
	Catalog  *positions.Catalog
	Messages *msgcat.Catalog
	Repo     repository.Repository
	Recorder *repository.Recorder

	logger  *zap.Logger
	closers []func() error
}

// New wires config into the tablebase client, cache (Redis-backed when
// REDIS_URL is set), position catalog, messages and result repository
// (Postgres when DATABASE_URL is set, memory otherwise).
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{Config: cfg, logger: logger}

	d.Client = tablebase.NewClient(cfg.TablebaseBaseURL,
		tablebase.WithTimeout(cfg.TablebaseTimeout),
		tablebase.WithMaxAttempts(cfg.TablebaseMaxAttempts),
		tablebase.WithMoves(cfg.TablebaseMoves),
		tablebase.WithMaxConnsPerHost(cfg.TablebaseMaxConns),
		tablebase.WithUserAgent(cfg.TablebaseUserAgent),
		tablebase.WithLogger(logger.Named("tablebase")),
	)

	var cacheOpts []tablebase.CacheOption
	cacheOpts = append(cacheOpts, tablebase.WithCacheLogger(logger.Named("tablebase_cache")))
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.Redis = rdb
		d.closers = append(d.closers, rdb.Close)
		cacheOpts = append(cacheOpts, tablebase.WithStore(tablebase.NewRedisStore(rdb)))
	}
	cache, err := tablebase.NewCache(d.Client, tablebase.Config{
		MaxPieces: cfg.TablebaseMaxPieces,
		Size:      cfg.TablebaseCacheSize,
		TTL:       cfg.TablebaseCacheTTL,
	}, cacheOpts...)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("init tablebase cache: %w", err)
	}
	d.Cache = cache

	if d.Catalog, err = positions.New(); err != nil {
		d.Close()
		return nil, fmt.Errorf("load positions: %w", err)
	}
	if d.Messages, err = msgcat.New(cfg.MessagesDir); err != nil {
		d.Close()
		return nil, fmt.Errorf("load messages: %w", err)
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pg, err := repository.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.Repo = pg
		d.closers = append(d.closers, pg.Close)
	} else {
		logger.Info("repository_memory", zap.String("reason", "DATABASE_URL not set"))
		d.Repo = repository.NewMemory()
	}
	d.Recorder = repository.NewRecorder(d.Repo, logger.Named("repository"))
	return d, nil
}

func (d *Deps) TrainerConfig() trainer.Config {
	cfg := trainer.DefaultConfig()
	cfg.OptimalMoveLimit = d.Config.OptimalMoveLimit
	cfg.OpponentDelay = d.Config.OpponentDelay
	cfg.RandomFallback = d.Config.RandomFallback
	if d.Config.TablebaseTimeout > 0 {
		// one lookup may retry, so give it the full attempt budget
		cfg.LookupTimeout = d.Config.TablebaseTimeout * time.Duration(max(d.Config.TablebaseMaxAttempts, 1))
	}
	return cfg
}

// NewCoordinator builds a coordinator for playerID sharing the cache,
// catalog, messages and recorder.
func (d *Deps) NewCoordinator(playerID string, opts ...trainer.Option) (*trainer.Coordinator, error) {
	if strings.TrimSpace(playerID) == "" {
		playerID = d.Config.PlayerID
	}
	base := []trainer.Option{
		trainer.WithPlayerID(playerID),
		trainer.WithMessages(d.Messages),
		trainer.WithRecorder(d.Recorder),
	}
	return trainer.NewCoordinator(d.Cache, d.Catalog, d.TrainerConfig(), d.logger.Named("trainer"), append(base, opts...)...)
}

func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
