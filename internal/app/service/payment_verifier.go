package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/redis/go-redis/v9"
	"github.com/x402wrap/x402wrap/internal/app/repository"
	"github.com/x402wrap/x402wrap/internal/infra/metrics"
	"github.com/x402wrap/x402wrap/internal/infra/solana"
	"go.uber.org/zap"
)

// usdcDecimals converts USDC to its raw micro-unit.
const usdcDecimals = 1e6

const (
	replayKeyPrefix = "payref:"
	bloomEntries    = 1_000_000
	bloomFPRate     = 0.001
)

// LedgerClient fetches a confirmed transaction by signature from the
// external ledger. Implemented by solana.Client; mocked in tests.
type LedgerClient interface {
	GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error)
}

// PaymentProof is the caller-supplied evidence of payment: the transaction
// signature plus an optional claimed payer address.
type PaymentProof struct {
	Signature    string
	ClaimedPayer string
}

// VerificationResult reports the outcome of a payment check. When Verified
// is false, Reason is safe to return to the caller.
type VerificationResult struct {
	Verified bool
	// Payer is the paying wallet. When PayerClaimed is true it came from
	// the caller's header and was not cross-checked against the ledger.
	Payer        string
	PayerClaimed bool
	Reason       string
}

// PaymentVerifier validates a payment proof against a link's policy.
type PaymentVerifier interface {
	Verify(ctx context.Context, proof PaymentProof, expectedRecipient string, expectedAmount float64) VerificationResult
}

// VerifierConfig tunes the verifier.
type VerifierConfig struct {
	// USDCMint identifies the settlement token.
	USDCMint string
	// MaxProofAge rejects proofs referencing transactions older than this.
	MaxProofAge time.Duration
	// LookupTimeout bounds a single ledger query.
	LookupTimeout time.Duration
}

type paymentVerifier struct {
	ledger LedgerClient
	usage  repository.UsageRepository
	redis  *redis.Client
	logger *zap.Logger
	cfg    VerifierConfig

	// seen is a best-effort prefilter over references consumed by this
	// process. A negative answer skips the ledger lookup; a positive one
	// is confirmed against the usage ledger before rejecting. References
	// consumed by other instances are caught by the redis reservation and,
	// finally, by the ledger's unique reference index at record time.
	seenMu sync.RWMutex
	seen   *bloom.BloomFilter
}

// NewPaymentVerifier builds the production verifier. The redis client may be
// nil (local development); replay prevention then relies on the bloom
// prefilter plus the usage ledger's unique reference index.
func NewPaymentVerifier(ledger LedgerClient, usage repository.UsageRepository, rdb *redis.Client, logger *zap.Logger, cfg VerifierConfig) PaymentVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxProofAge <= 0 {
		cfg.MaxProofAge = 10 * time.Minute
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 10 * time.Second
	}
	return &paymentVerifier{
		ledger: ledger,
		usage:  usage,
		redis:  rdb,
		logger: logger,
		cfg:    cfg,
		seen:   bloom.NewWithEstimates(bloomEntries, bloomFPRate),
	}
}

func (v *paymentVerifier) Verify(ctx context.Context, proof PaymentProof, expectedRecipient string, expectedAmount float64) VerificationResult {
	if proof.Signature == "" {
		return v.reject("missing", "no payment proof provided")
	}

	if v.referenceConsumed(ctx, proof.Signature) {
		return v.reject("replayed", "payment reference already used")
	}

	reserved, heldElsewhere := v.reserveReference(ctx, proof.Signature)
	if heldElsewhere {
		return v.reject("replayed", "payment reference already used")
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.cfg.LookupTimeout)
	defer cancel()

	tx, err := v.ledger.GetTransaction(lookupCtx, proof.Signature)
	if err != nil {
		v.release(reserved, proof.Signature)
		if errors.Is(err, solana.ErrTransactionNotFound) {
			return v.reject("not_found", "transaction not found or not confirmed")
		}
		v.logger.Warn("ledger lookup failed",
			zap.String("signature", proof.Signature),
			zap.Error(err))
		return v.reject("lookup_error", "could not verify transaction against the ledger")
	}

	if tx.Failed {
		v.release(reserved, proof.Signature)
		return v.reject("failed_tx", "referenced transaction failed on chain")
	}

	if tx.BlockTime.IsZero() || time.Since(tx.BlockTime) > v.cfg.MaxProofAge {
		v.release(reserved, proof.Signature)
		return v.reject("stale", "referenced transaction is too old")
	}

	if !v.transferMatches(tx, expectedRecipient, expectedAmount) {
		v.release(reserved, proof.Signature)
		return v.reject("mismatch", "transaction does not pay the expected amount to the expected recipient")
	}

	v.markConsumed(proof.Signature)
	metrics.PaymentVerifications.WithLabelValues("verified").Inc()

	result := VerificationResult{Verified: true}
	if tx.FeePayer != "" {
		result.Payer = tx.FeePayer
	} else if proof.ClaimedPayer != "" {
		result.Payer = proof.ClaimedPayer
		result.PayerClaimed = true
		v.logger.Info("payer taken from caller claim, not cross-checked",
			zap.String("claimed_payer", proof.ClaimedPayer),
			zap.String("signature", proof.Signature))
	}
	return result
}

// transferMatches checks that the transaction moved exactly the expected
// USDC amount to the expected recipient, compared in raw micro-units.
func (v *paymentVerifier) transferMatches(tx *solana.Transaction, recipient string, amount float64) bool {
	expectedMicros := int64(math.Round(amount * usdcDecimals))
	for _, transfer := range tx.Transfers {
		if transfer.Owner != recipient {
			continue
		}
		if v.cfg.USDCMint != "" && transfer.Mint != v.cfg.USDCMint {
			continue
		}
		if transfer.Delta == expectedMicros {
			return true
		}
	}
	return false
}

// referenceConsumed reports whether the reference already appears in the
// usage ledger. The bloom filter short-circuits the lookup when this process
// definitely has not consumed the reference.
func (v *paymentVerifier) referenceConsumed(ctx context.Context, reference string) bool {
	v.seenMu.RLock()
	maybeSeen := v.seen.TestString(reference)
	v.seenMu.RUnlock()

	if !maybeSeen {
		return false
	}

	used, err := v.usage.ReferenceUsed(ctx, reference)
	if err != nil {
		v.logger.Error("replay check against ledger failed", zap.Error(err))
		// The unique reference index still blocks a true replay when the
		// charge is recorded; let verification continue.
		return false
	}
	return used
}

// reserveReference takes a short-lived redis reservation on the reference so
// concurrent calls presenting the same proof serialize before verification.
// reserved is true when this call now holds the reservation; heldElsewhere
// is true when another call already holds it.
func (v *paymentVerifier) reserveReference(ctx context.Context, reference string) (reserved, heldElsewhere bool) {
	if v.redis == nil {
		return false, false
	}

	ok, err := v.redis.SetNX(ctx, replayKeyPrefix+reference, 1, 2*v.cfg.MaxProofAge).Result()
	if err != nil {
		// Degrade to ledger-only replay protection.
		v.logger.Warn("redis reference reservation failed", zap.Error(err))
		return false, false
	}
	return ok, !ok
}

// release drops the reservation after a failed verification so an honest
// caller can retry once the transaction actually confirms.
func (v *paymentVerifier) release(reserved bool, reference string) {
	if !reserved || v.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := v.redis.Del(ctx, replayKeyPrefix+reference).Err(); err != nil {
		v.logger.Warn("failed to release reference reservation", zap.Error(err))
	}
}

func (v *paymentVerifier) markConsumed(reference string) {
	v.seenMu.Lock()
	v.seen.AddString(reference)
	v.seenMu.Unlock()
}

func (v *paymentVerifier) reject(result, reason string) VerificationResult {
	metrics.PaymentVerifications.WithLabelValues(result).Inc()
	return VerificationResult{Verified: false, Reason: reason}
}
