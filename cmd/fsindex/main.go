// Command fsindex maintains a file search index from filesystem events and
// answers queries against it.
//
// Events arrive from a Kafka topic, from a local fsnotify watcher, or both.
// With -query the binary loads the index, prints the results of one search
// across all providers as JSON and exits.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/provider"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	queryText := flag.String("query", "", "run one search, print JSON results and exit")
	mimeType := flag.String("mime", "", "mime type filter for -query")
	limit := flag.Int("limit", 0, "page size for -query")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *queryText != "" {
		err = runQuery(ctx, cfg, provider.Query{Term: *queryText, Limit: *limit, MimeType: *mimeType})
	} else {
		err = serve(ctx, cfg)
	}
	if err != nil {
		slog.Error("fsindex failed", "error", err)
		os.Exit(1)
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*engine.Engine, func(), error) {
	meta, stopMeta, err := openMetadata(ctx, cfg.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("opening metadata store: %w", err)
	}
	checkpoints, err := openCheckpoints(ctx, cfg.Checkpoint, m)
	if err != nil {
		stopMeta()
		meta.Close()
		return nil, nil, fmt.Errorf("configuring checkpoints: %w", err)
	}
	queryCache, redisClient := openCache(ctx, cfg.Redis, m)

	e := engine.New(meta, engine.OptionsFromConfig(cfg), engine.Deps{
		Cache:       queryCache,
		Checkpoints: checkpoints,
		Metrics:     m,
	})
	closeAll := func() {
		stopMeta()
		if redisClient != nil {
			redisClient.Close()
		}
		if err := e.Close(); err != nil {
			slog.Error("closing metadata store failed", "error", err)
		}
	}
	if err := load(ctx, cfg, e); err != nil {
		closeAll()
		return nil, nil, err
	}
	return e, closeAll, nil
}

// load fills the index. An empty store is restored from the latest
// checkpoint; a persistent store is re-indexed from its own contents.
func load(ctx context.Context, cfg *config.Config, e *engine.Engine) error {
	if cfg.Checkpoint.Enabled && cfg.Metadata.Backend == "memory" {
		n, err := e.Restore(ctx)
		switch {
		case err == nil:
			slog.Info("index restored from checkpoint", "items", n)
			return nil
		case errors.Is(err, checkpoint.ErrNoCheckpoint):
			slog.Info("no checkpoint found, starting empty")
		default:
			return fmt.Errorf("restoring index: %w", err)
		}
	}
	if _, err := e.Rebuild(ctx); err != nil {
		return fmt.Errorf("building index: %w", err)
	}
	return nil
}

func runQuery(ctx context.Context, cfg *config.Config, q provider.Query) error {
	e, closeAll, err := buildEngine(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer closeAll()

	registry, err := provider.NewRegistry(provider.NewFilesProvider(e), provider.NewFoldersProvider(e))
	if err != nil {
		return err
	}
	results, err := registry.SearchAll(ctx, q)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting fsindex",
		"metadata_backend", cfg.Metadata.Backend,
		"workers", cfg.Maintenance.Workers,
		"kafka", cfg.Kafka.Enabled,
		"watcher", cfg.Watcher.Enabled,
	)
	m := metrics.New()
	e, closeAll, err := buildEngine(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer closeAll()

	checker := health.NewChecker()
	checker.Register("metadata", health.PingCheck(e.Ping, health.StatusDown))
	checker.Register("maintenance", func(context.Context) health.ComponentHealth {
		st := e.Stats()
		if st.PendingRepairs > 0 {
			return health.ComponentHealth{
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("%d events waiting for repair", st.PendingRepairs),
			}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d items indexed", st.Items)}
	})
	if cfg.Metrics.Enabled {
		shutdown := m.StartServer(cfg.Metrics.Port, checker.Handlers())
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	events := make(chan model.Event, cfg.Maintenance.QueueSize)
	g.Go(func() error {
		return ignoreCanceled(e.Run(gctx, events))
	})

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.FileEvents, ingest.HandleEvents(e, m))
		g.Go(func() error {
			slog.Info("consuming file events", "topic", cfg.Kafka.Topics.FileEvents, "group", cfg.Kafka.ConsumerGroup)
			return ignoreCanceled(consumer.Start(gctx))
		})
	}

	if cfg.Watcher.Enabled {
		sink := channelSink(events)
		if cfg.Watcher.PublishToKafka {
			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.FileEvents)
			defer producer.Close()
			sink = ingest.PublishSink(producer)
		}
		w, err := ingest.NewWatcher(cfg.Watcher, sink, m)
		if err != nil {
			return err
		}
		// Files deleted while the process was down are only found by comparing
		// the store with the tree. Items may also come from other producers on
		// the Kafka topic, so only a watcher-only setup reconciles.
		if err := w.Resume(ctx, e.Walk, !cfg.Kafka.Enabled); err != nil {
			return err
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	if cfg.Checkpoint.Enabled && cfg.Checkpoint.Interval > 0 {
		g.Go(func() error {
			checkpointLoop(gctx, e, cfg.Checkpoint.Interval)
			return nil
		})
	}

	slog.Info("fsindex ready", "items", e.Stats().Items)
	err = g.Wait()

	if cfg.Checkpoint.Enabled {
		// The signal context is done by now.
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if info, cerr := e.Checkpoint(sctx); cerr != nil {
			slog.Error("final checkpoint failed", "error", cerr)
		} else {
			slog.Info("final checkpoint written", "items", info.Items, "path", info.Path)
		}
	}
	slog.Info("fsindex stopped")
	return err
}

// channelSink hands watcher events to the coordinator's Run loop.
func channelSink(ch chan<- model.Event) ingest.Sink {
	return func(ctx context.Context, ev model.Event) error {
		select {
		case ch <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func checkpointLoop(ctx context.Context, e *engine.Engine, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			info, err := e.Checkpoint(ctx)
			if err != nil {
				slog.Error("checkpoint failed", "error", err)
				continue
			}
			slog.Info("checkpoint written",
				"items", info.Items,
				"bytes", info.Bytes,
				"mirrored", info.Mirrored,
				"duration_ms", info.Duration.Milliseconds(),
			)
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
