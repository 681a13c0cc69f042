package service

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/x402wrap/x402wrap/internal/app/model"
	"github.com/x402wrap/x402wrap/internal/app/repository"
	"github.com/x402wrap/x402wrap/internal/http/util"
	"github.com/x402wrap/x402wrap/internal/infra/metrics"
	"go.uber.org/zap"
)

// PaymentCurrency is the only settlement currency the gateway quotes.
const PaymentCurrency = "USDC"

// GatewayResultKind enumerates the terminal states of a gateway call.
type GatewayResultKind int

const (
	// ResultChallenge: no proof supplied; a 402 payment challenge goes back.
	ResultChallenge GatewayResultKind = iota
	// ResultRejected: proof supplied but invalid, unverifiable or replayed.
	ResultRejected
	// ResultForwarded: payment verified, origin call completed.
	ResultForwarded
	// ResultLinkNotFound: unknown link ID.
	ResultLinkNotFound
	// ResultUpstreamFailed: payment verified and charged, origin call failed.
	ResultUpstreamFailed
	// ResultInternalError: anything unanticipated.
	ResultInternalError
)

// GatewayRequest is one inbound call on a wrapped link.
type GatewayRequest struct {
	LinkID string
	Method string
	Query  url.Values
	Header http.Header
	Body   []byte
	Proof  PaymentProof
}

// PaymentChallenge describes how to pay for a call.
type PaymentChallenge struct {
	Recipient string
	Amount    float64
	Currency  string
	Reference string
}

// GatewayResult is the terminal state of one call plus whatever the handler
// needs to assemble the HTTP response.
type GatewayResult struct {
	Kind      GatewayResultKind
	Link      *model.Link
	Challenge *PaymentChallenge
	Reason    string
	Upstream  *UpstreamResponse
}

// GatewayService sequences resolve, verify, record and forward for every
// inbound call on a wrapped link.
type GatewayService interface {
	Handle(ctx context.Context, req GatewayRequest) GatewayResult
}

type gatewayService struct {
	links     repository.LinkRepository
	usage     repository.UsageRepository
	verifier  PaymentVerifier
	forwarder Forwarder
	audit     *AuditPublisher
	logger    *zap.Logger
}

// GatewayDeps groups the orchestrator's collaborators.
type GatewayDeps struct {
	Links     repository.LinkRepository
	Usage     repository.UsageRepository
	Verifier  PaymentVerifier
	Forwarder Forwarder
	Audit     *AuditPublisher
	Logger    *zap.Logger
}

// NewGatewayService wires the orchestrator from its dependencies.
func NewGatewayService(deps GatewayDeps) GatewayService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &gatewayService{
		links:     deps.Links,
		usage:     deps.Usage,
		verifier:  deps.Verifier,
		forwarder: deps.Forwarder,
		audit:     deps.Audit,
		logger:    logger,
	}
}

func (s *gatewayService) Handle(ctx context.Context, req GatewayRequest) GatewayResult {
	// Resolving
	link, err := s.links.GetByID(ctx, req.LinkID)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			metrics.GatewayRequests.WithLabelValues(metrics.OutcomeNotFound).Inc()
			return GatewayResult{Kind: ResultLinkNotFound}
		}
		s.logger.Error("failed to resolve link", zap.String("link_id", req.LinkID), zap.Error(err))
		metrics.GatewayRequests.WithLabelValues(metrics.OutcomeInternalError).Inc()
		return GatewayResult{Kind: ResultInternalError}
	}

	// ChallengingPayment: a challenge is not a billable event, so nothing
	// is written to the ledger here.
	if req.Proof.Signature == "" {
		reference, err := util.NewChallengeReference()
		if err != nil {
			s.logger.Error("failed to mint challenge reference", zap.Error(err))
			metrics.GatewayRequests.WithLabelValues(metrics.OutcomeInternalError).Inc()
			return GatewayResult{Kind: ResultInternalError, Link: link}
		}
		metrics.GatewayRequests.WithLabelValues(metrics.OutcomeChallenge).Inc()
		return GatewayResult{
			Kind: ResultChallenge,
			Link: link,
			Challenge: &PaymentChallenge{
				Recipient: link.ReceiverWallet,
				Amount:    link.Price,
				Currency:  PaymentCurrency,
				Reference: reference,
			},
		}
	}

	// Verifying: an unverified attempt is not billed.
	verification := s.verifier.Verify(ctx, req.Proof, link.ReceiverWallet, link.Price)
	if !verification.Verified {
		s.publishAudit(link.ID, model.AuditPaymentRejected, verification.Reason)
		metrics.GatewayRequests.WithLabelValues(metrics.OutcomeRejected).Inc()
		return GatewayResult{Kind: ResultRejected, Link: link, Reason: verification.Reason}
	}

	// The charge is final once verification succeeds; record it before the
	// forward so a forwarding failure cannot skip the ledger write.
	record := &model.UsageRecord{
		LinkID:    link.ID,
		Timestamp: time.Now().UTC(),
		Amount:    link.Price,
		Success:   true,
		Reference: req.Proof.Signature,
	}
	if verification.Payer != "" {
		payer := verification.Payer
		record.PayerWallet = &payer
	}

	if err := s.usage.Record(ctx, record); err != nil {
		if errors.Is(err, repository.ErrReferenceUsed) {
			// A concurrent call won the race on the same proof.
			metrics.GatewayRequests.WithLabelValues(metrics.OutcomeRejected).Inc()
			return GatewayResult{Kind: ResultRejected, Link: link, Reason: "payment reference already used"}
		}
		// Data loss: the payment was consumed but the ledger write failed.
		// The caller still gets their forward; operators get the alarm.
		s.logger.Error("ledger write failed after verified charge",
			zap.String("link_id", link.ID),
			zap.String("reference", req.Proof.Signature),
			zap.Error(err))
		metrics.LedgerWriteFailures.Inc()
		s.publishAudit(link.ID, model.AuditLedgerWriteFailed, err.Error())
	}

	// Forwarding
	upstream, err := s.forwarder.Forward(ctx, ForwardRequest{
		Method:    req.Method,
		OriginURL: link.OriginURL,
		Query:     req.Query,
		Header:    req.Header,
		Body:      req.Body,
	})
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			// The caller was charged and the upstream call still failed;
			// delivery is a technical step, the payment already settled.
			s.logger.Warn("upstream failed after charge",
				zap.String("link_id", link.ID),
				zap.String("reference", req.Proof.Signature))
			metrics.GatewayRequests.WithLabelValues(metrics.OutcomeUpstreamFailed).Inc()
			return GatewayResult{Kind: ResultUpstreamFailed, Link: link}
		}
		s.logger.Error("forward failed", zap.String("link_id", link.ID), zap.Error(err))
		metrics.GatewayRequests.WithLabelValues(metrics.OutcomeInternalError).Inc()
		return GatewayResult{Kind: ResultInternalError, Link: link}
	}

	// Completed
	metrics.GatewayRequests.WithLabelValues(metrics.OutcomeForwarded).Inc()
	return GatewayResult{Kind: ResultForwarded, Link: link, Upstream: upstream}
}

func (s *gatewayService) publishAudit(linkID, kind, detail string) {
	if s.audit == nil {
		return
	}
	go func() {
		if err := s.audit.Publish(linkID, kind, detail); err != nil {
			s.logger.Error("failed to publish audit event",
				zap.String("link_id", linkID),
				zap.String("kind", kind),
				zap.Error(err))
		}
	}()
}
