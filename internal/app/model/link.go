package model

import "time"

// Link binds a short ID to an origin API, a per-call price in USDC and the
// wallet that collects it. Price and wallet are immutable after creation;
// the cumulative counters are a denormalized cache of the usage ledger and
// are only ever touched by the ledger write path.
type Link struct {
	ID             string    `json:"id" gorm:"primaryKey;size:16"`
	OriginURL      string    `json:"origin_url" gorm:"type:text;not null"`
	Price          float64   `json:"price" gorm:"not null"`
	ReceiverWallet string    `json:"receiver_wallet" gorm:"size:64;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	TotalRequests  int64     `json:"total_requests" gorm:"not null;default:0"`
	TotalRevenue   float64   `json:"total_revenue" gorm:"not null;default:0"`
}

// LinkStats is the operator-facing view of a single link: the link row, the
// most recent ledger entries newest-first, and a trailing 24h aggregate
// computed from the ledger at query time.
type LinkStats struct {
	Link           Link          `json:"link"`
	RecentRequests []UsageRecord `json:"recent_requests"`
	Last24h        UsageWindow   `json:"last_24h"`
}

// UsageWindow aggregates ledger entries over a time window.
type UsageWindow struct {
	Count   int64   `json:"count"`
	Revenue float64 `json:"revenue"`
}

// MarketplaceStats aggregates across all links.
type MarketplaceStats struct {
	Links         []Link  `json:"links"`
	TotalLinks    int64   `json:"total_links"`
	TotalRequests int64   `json:"total_requests"`
	TotalRevenue  float64 `json:"total_revenue"`
}
