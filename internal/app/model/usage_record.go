package model

import "time"

// UsageRecord is one ledger entry describing a single gateway call attempt.
// Records are append-only; they are never mutated or deleted. The ledger is
// the source of truth for the Link counters.
type UsageRecord struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	LinkID      string    `json:"link_id" gorm:"size:16;not null;index"`
	Timestamp   time.Time `json:"timestamp" gorm:"not null;index"`
	PayerWallet *string   `json:"payer_wallet" gorm:"size:64"`
	Amount      float64   `json:"amount" gorm:"not null"`
	Success     bool      `json:"success" gorm:"not null"`
	// Reference is the consumed payment proof (a transaction signature).
	// The unique index is what makes proof replay a hard failure even when
	// two calls race past the faster checks.
	Reference string `json:"reference" gorm:"size:128;uniqueIndex"`
}
