// Package relay ships auth events from the Kafka stream to Loki.
package relay

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const pushTimeout = 10 * time.Second

// MessageReader is the part of *kafka.Reader the relay uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Sink receives raw event JSON. *loki.Client implements it.
type Sink interface {
	PushEventJSON(ctx context.Context, raw []byte) error
}

// Relay copies messages from Reader to Sink. A failed push is logged and the
// message is skipped; the consumer group has already advanced past it.
type Relay struct {
	Reader MessageReader
	Sink   Sink
	Logger *zap.Logger
}

// Run relays until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		msg, err := r.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("relay stopped")
				return
			}
			logger.Warn("kafka read error", zap.Error(err))
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := r.Sink.PushEventJSON(pushCtx, msg.Value); err != nil {
			logger.Warn("loki push failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
		cancel()
	}
}
