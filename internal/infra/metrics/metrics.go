package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/x402wrap/x402wrap/config"
)

const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 10 * time.Second
	defaultPort       = 9090
)

// Gateway outcome label values.
const (
	OutcomeChallenge      = "challenge"
	OutcomeRejected       = "rejected"
	OutcomeForwarded      = "forwarded"
	OutcomeNotFound       = "not_found"
	OutcomeUpstreamFailed = "upstream_failed"
	OutcomeInternalError  = "internal_error"
)

var (
	// GatewayRequests counts gateway calls by terminal outcome.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_gateway_requests_total",
		Help: "Gateway calls by terminal outcome.",
	}, []string{"outcome"})

	// PaymentVerifications counts verifier results.
	PaymentVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "x402_payment_verifications_total",
		Help: "Payment verification attempts by result.",
	}, []string{"result"})

	// LedgerWriteFailures counts charges that could not be recorded. Every
	// increment is a data-loss event: the payment was consumed but the
	// ledger insert failed.
	LedgerWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "x402_ledger_write_failures_total",
		Help: "Usage ledger writes that failed after a verified charge.",
	})

	// ForwardDuration observes upstream forward latency.
	ForwardDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "x402_forward_duration_seconds",
		Help:    "Latency of forwarded origin calls.",
		Buckets: prometheus.DefBuckets,
	})

	// CounterDivergence counts links whose cached totals disagreed with the
	// usage ledger during an integrity sweep.
	CounterDivergence = promauto.NewCounter(prometheus.CounterOpts{
		Name: "x402_counter_divergence_total",
		Help: "Links found with counters diverging from the usage ledger.",
	})
)

// NewServer builds a basic HTTP server that exposes /metrics for Prometheus scraping.
func NewServer(cfg config.PrometheusConfig) *http.Server {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}
}
