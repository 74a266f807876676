package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	badgerstore "github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata/badger"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata/memory"
	pgstore "github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata/postgres"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/redis"
)

const badgerGCInterval = 10 * time.Minute

// openMetadata opens the configured backend. The returned stop function ends
// any background work the backend needs; closing the store is the engine's job.
func openMetadata(ctx context.Context, cfg config.MetadataConfig) (metadata.Store, func(), error) {
	switch cfg.Backend {
	case "badger":
		s, err := badgerstore.Open(cfg.Badger)
		if err != nil {
			return nil, nil, err
		}
		gcCtx, cancel := context.WithCancel(ctx)
		go func() {
			t := time.NewTicker(badgerGCInterval)
			defer t.Stop()
			for {
				select {
				case <-gcCtx.Done():
					return
				case <-t.C:
					s.RunGC()
				}
			}
		}()
		slog.Info("metadata store opened", "backend", "badger", "dir", cfg.Badger.Dir, "in_memory", cfg.Badger.InMemory)
		return s, cancel, nil
	case "postgres":
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		s, err := pgstore.New(ctx, client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		slog.Info("metadata store opened", "backend", "postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return s, func() {}, nil
	case "memory", "":
		slog.Info("metadata store opened", "backend", "memory", "shards", cfg.Shards)
		return memory.New(cfg.Shards), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown metadata backend %q", cfg.Backend)
	}
}

// openCache connects to Redis when enabled. An unreachable Redis disables
// caching instead of failing startup.
func openCache(ctx context.Context, cfg config.RedisConfig, m *metrics.Metrics) (*cache.QueryCache, *pkgredis.Client) {
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := pkgredis.NewClient(ctx, cfg)
	if err != nil {
		slog.Warn("redis unavailable, search caching disabled", "addr", cfg.Addr, "error", err)
		return nil, nil
	}
	slog.Info("search cache enabled", "addr", cfg.Addr, "ttl", cfg.CacheTTL)
	return cache.New(client, cfg.CacheTTL, m), client
}

func openCheckpoints(ctx context.Context, cfg config.CheckpointConfig, m *metrics.Metrics) (*checkpoint.Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var mirror checkpoint.Mirror
	if cfg.S3Bucket != "" {
		s3m, err := checkpoint.NewS3MirrorFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		mirror = s3m
		slog.Info("checkpoint mirror enabled", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
	}
	return checkpoint.NewManager(cfg.Dir, mirror, m), nil
}
