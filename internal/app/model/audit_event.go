package model

import "time"

// Audit event kinds.
const (
	AuditPaymentRejected   = "payment_rejected"
	AuditLedgerWriteFailed = "ledger_write_failed"
)

// AuditEvent captures operator-facing incidents that are not billable and
// therefore never enter the usage ledger: rejected payment attempts (abuse
// monitoring) and ledger write failures (data loss on a consumed charge).
type AuditEvent struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	LinkID    string    `json:"link_id" gorm:"size:16;index"`
	Kind      string    `json:"kind" gorm:"size:32;not null"`
	Detail    string    `json:"detail" gorm:"type:text"`
	Timestamp time.Time `json:"timestamp" gorm:"not null;index"`
}

const (
	AuditStreamName     = "AUDIT"
	AuditStreamSubject  = "audit.events"
	AuditConsumerName   = "audit-logger"
	AuditStreamMaxBytes = 1024 * 1024 * 100 // 100MB
)
