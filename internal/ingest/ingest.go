// Package ingest feeds filesystem change events into the maintenance
// coordinator, either from a Kafka topic or from a local fsnotify watcher.
// The watcher can also publish to Kafka so several index nodes share one
// event stream.
package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/maintenance"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/fsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/metrics"
)

// Sink receives the events a source produces.
type Sink func(ctx context.Context, ev model.Event) error

// Applier is the coordinator as seen by sources.
type Applier interface {
	Apply(ctx context.Context, ev model.Event) error
}

// Publisher is a Kafka producer as seen by the watcher.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// ApplySink applies events directly.
func ApplySink(a Applier) Sink {
	return a.Apply
}

// PublishSink forwards events to Kafka keyed by item id.
func PublishSink(p Publisher) Sink {
	return func(ctx context.Context, ev model.Event) error {
		return p.Publish(ctx, ev.ItemID, ev)
	}
}

// HandleEvents returns a Kafka handler applying each message as an Event.
// Undecodable and invalid messages are logged and committed so they do not
// block the partition. Failed writes are committed too since the
// coordinator already queued them for repair.
func HandleEvents(a Applier, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "event-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[model.Event](value)
		if err != nil {
			m.Ingest("kafka", err)
			logger.Error("failed to decode file event",
				"key", string(key),
				"error", err,
			)
			return nil
		}
		err = a.Apply(ctx, ev)
		m.Ingest("kafka", err)
		switch {
		case err == nil:
			logger.Debug("file event applied",
				"item_id", ev.ItemID,
				"event_type", ev.Type,
			)
			return nil
		case errors.Is(err, maintenance.ErrInvalidEvent):
			logger.Warn("skipping invalid file event",
				"key", string(key),
				"error", err,
			)
			return nil
		case errors.Is(err, apperrors.ErrMaintenanceWrite):
			return nil
		default:
			return err
		}
	}
}
