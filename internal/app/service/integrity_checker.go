package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/x402wrap/x402wrap/internal/infra/metrics"
	"go.uber.org/zap"
)

// The link counters are a denormalized cache of the usage ledger. This query
// finds links whose cached totals cannot be reproduced from the ledger.
const divergenceQuery = `
SELECT l.id, l.total_requests, l.total_revenue,
       COALESCE(u.requests, 0) AS ledger_requests,
       COALESCE(u.revenue, 0) AS ledger_revenue
FROM links l
LEFT JOIN (
    SELECT link_id,
           COUNT(*) AS requests,
           SUM(CASE WHEN success THEN amount ELSE 0 END) AS revenue
    FROM usage_records
    GROUP BY link_id
) u ON u.link_id = l.id
WHERE l.total_requests <> COALESCE(u.requests, 0)
   OR ABS(l.total_revenue - COALESCE(u.revenue, 0)) > 0.000001`

// IntegrityChecker periodically reconciles link counters against the usage
// ledger and alarms on divergence. It reads through pgx directly; this is an
// operator check, not a business path, and only runs on the postgres backend.
type IntegrityChecker struct {
	logger   *zap.Logger
	pool     *pgxpool.Pool
	interval time.Duration
	stopChan chan struct{}
}

// NewIntegrityChecker creates a checker that sweeps at the given interval.
func NewIntegrityChecker(logger *zap.Logger, pool *pgxpool.Pool, interval time.Duration) *IntegrityChecker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &IntegrityChecker{
		logger:   logger,
		pool:     pool,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic reconciliation sweep.
func (c *IntegrityChecker) Start() {
	go c.run()
}

// Stop stops the sweep.
func (c *IntegrityChecker) Stop() {
	close(c.stopChan)
}

func (c *IntegrityChecker) run() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopChan:
			c.logger.Info("integrity checker stopped")
			return
		}
	}
}

func (c *IntegrityChecker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := c.pool.Query(ctx, divergenceQuery)
	if err != nil {
		c.logger.Error("integrity sweep query failed", zap.Error(err))
		return
	}
	defer rows.Close()

	diverged := 0
	for rows.Next() {
		var (
			id                             string
			cachedRequests, ledgerRequests int64
			cachedRevenue, ledgerRevenue   float64
		)
		if err := rows.Scan(&id, &cachedRequests, &cachedRevenue, &ledgerRequests, &ledgerRevenue); err != nil {
			c.logger.Error("integrity sweep scan failed", zap.Error(err))
			return
		}

		diverged++
		metrics.CounterDivergence.Inc()
		c.logger.Error("link counters diverge from usage ledger",
			zap.String("link_id", id),
			zap.Int64("cached_requests", cachedRequests),
			zap.Int64("ledger_requests", ledgerRequests),
			zap.Float64("cached_revenue", cachedRevenue),
			zap.Float64("ledger_revenue", ledgerRevenue),
		)
	}
	if err := rows.Err(); err != nil {
		c.logger.Error("integrity sweep iteration failed", zap.Error(err))
		return
	}

	if diverged == 0 {
		c.logger.Debug("integrity sweep clean")
	}
}
