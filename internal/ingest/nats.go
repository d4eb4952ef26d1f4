package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"alertflow/internal/config"
)

// NATSConsumer pulls events from a durable JetStream consumer.
type NATSConsumer struct {
	conn     *nats.Conn
	consumer jetstream.Consumer
	handler  EventHandler
	logger   *slog.Logger
}

// NewNATSConsumer connects, ensures the stream and durable consumer exist,
// and returns a consumer ready to Run.
func NewNATSConsumer(ctx context.Context, cfg config.NATSConfig, handler EventHandler, logger *slog.Logger) (*NATSConsumer, error) {
	logger = logger.With("component", "nats_consumer")
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Consumer),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Subjects:    []string{cfg.Subject},
		Description: "safety and security events",
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Consumer,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       time.Minute,
		MaxDeliver:    10,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer %s: %w", cfg.Consumer, err)
	}

	return &NATSConsumer{conn: nc, consumer: cons, handler: handler, logger: logger}, nil
}

// Run consumes until ctx ends.
func (c *NATSConsumer) Run(ctx context.Context) error {
	iter, err := c.consumer.Messages(jetstream.PullMaxMessages(10))
	if err != nil {
		return fmt.Errorf("nats messages: %w", err)
	}
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	c.logger.InfoContext(ctx, "nats consumer started")
	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, jetstream.ErrMsgIteratorClosed) {
				return ctx.Err()
			}
			c.logger.WarnContext(ctx, "nats fetch failed", "error", err.Error())
			continue
		}

		switch process(ctx, c.handler, c.logger, "nats", msg.Data()) {
		case redeliver:
			err = msg.NakWithDelay(5 * time.Second)
		default:
			err = msg.Ack()
		}
		if err != nil {
			c.logger.WarnContext(ctx, "nats ack failed", "subject", msg.Subject(), "error", err.Error())
		}
	}
}

// Close drains the connection.
func (c *NATSConsumer) Close() error {
	return c.conn.Drain()
}
