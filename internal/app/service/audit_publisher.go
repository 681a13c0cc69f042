package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/x402wrap/x402wrap/internal/app/model"
)

// AuditPublisher publishes audit events to NATS JetStream. Rejected payments
// and ledger write failures go through here so the hot path never blocks on
// the audit store.
type AuditPublisher struct {
	js nats.JetStreamContext
}

// NewAuditPublisher creates a new audit event publisher.
func NewAuditPublisher(js nats.JetStreamContext) *AuditPublisher {
	return &AuditPublisher{js: js}
}

// Publish publishes one audit event to the stream.
func (p *AuditPublisher) Publish(linkID, kind, detail string) error {
	event := model.AuditEvent{
		ID:        uuid.New().String(),
		LinkID:    linkID,
		Kind:      kind,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(model.AuditStreamSubject, data)
	return err
}
