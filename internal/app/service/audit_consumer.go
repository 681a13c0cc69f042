package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/x402wrap/x402wrap/internal/app/model"
	apprepository "github.com/x402wrap/x402wrap/internal/app/repository"
	"go.uber.org/zap"
)

// AuditConsumer drains audit events from NATS JetStream into the audit table.
type AuditConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	repo   apprepository.AuditRepository
}

// NewAuditConsumer creates a new audit event consumer.
func NewAuditConsumer(js nats.JetStreamContext, logger *zap.Logger, repo apprepository.AuditRepository) *AuditConsumer {
	return &AuditConsumer{js: js, logger: logger, repo: repo}
}

// Start ensures the stream and durable consumer exist and begins consuming.
func (c *AuditConsumer) Start() error {
	_, err := c.js.StreamInfo(model.AuditStreamName)
	if err != nil {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     model.AuditStreamName,
			Subjects: []string{model.AuditStreamSubject},
			MaxBytes: model.AuditStreamMaxBytes,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	_, err = c.js.ConsumerInfo(model.AuditStreamName, model.AuditConsumerName)
	if err != nil {
		_, err = c.js.AddConsumer(model.AuditStreamName, &nats.ConsumerConfig{
			Durable:   model.AuditConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.AuditStreamSubject, model.AuditConsumerName)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(sub)
	return nil
}

func (c *AuditConsumer) consume(sub *nats.Subscription) {
	ctx := context.Background()
	for {
		msgs, err := sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil && err != nats.ErrTimeout {
			c.logger.Error("failed to fetch audit messages", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			var event model.AuditEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				c.logger.Error("failed to unmarshal audit event", zap.Error(err))
				msg.Nak()
				continue
			}

			if err := c.repo.Create(ctx, &event); err != nil {
				c.logger.Error("failed to store audit event",
					zap.String("id", event.ID),
					zap.String("link_id", event.LinkID),
					zap.String("kind", event.Kind),
					zap.Error(err))
				msg.Nak()
				continue
			}

			c.logger.Debug("audit event stored",
				zap.String("id", event.ID),
				zap.String("link_id", event.LinkID),
				zap.String("kind", event.Kind),
				zap.Time("timestamp", event.Timestamp),
			)

			msg.Ack()
		}
	}
}
