package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mr-tron/base58"
	"github.com/x402wrap/x402wrap/internal/app/model"
	"github.com/x402wrap/x402wrap/internal/app/repository"
	"github.com/x402wrap/x402wrap/internal/http/util"
)

// MaxPriceUSDC bounds the per-call price a link may charge.
const MaxPriceUSDC = 1000.0

const createRetries = 3

// ValidationError describes a rejected creation input. It is surfaced to
// the caller verbatim so they can correct the request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// LinkService defines behaviour-level operations on payment-gated links.
type LinkService interface {
	CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error)
	GetLink(ctx context.Context, id string) (*model.Link, error)
	Stats(ctx context.Context, id string) (*model.LinkStats, error)
	Marketplace(ctx context.Context) (*model.MarketplaceStats, error)
}

type linkService struct {
	links            repository.LinkRepository
	usage            repository.UsageRepository
	recentUsageLimit int
}

// NewLinkService returns a service implementation backed by the given repositories.
func NewLinkService(links repository.LinkRepository, usage repository.UsageRepository, recentUsageLimit int) LinkService {
	if recentUsageLimit <= 0 {
		recentUsageLimit = 100
	}
	return &linkService{
		links:            links,
		usage:            usage,
		recentUsageLimit: recentUsageLimit,
	}
}

// CreateLinkInput captures data required to create a link.
type CreateLinkInput struct {
	OriginURL      string
	Price          float64
	ReceiverWallet string
}

func (s *linkService) CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error) {
	if err := validateOriginURL(input.OriginURL); err != nil {
		return nil, err
	}
	if input.Price <= 0 || input.Price > MaxPriceUSDC {
		return nil, &ValidationError{
			Field:  "price",
			Reason: fmt.Sprintf("must be greater than 0 and at most %g USDC", MaxPriceUSDC),
		}
	}
	if !IsValidWalletAddress(input.ReceiverWallet) {
		return nil, &ValidationError{Field: "wallet", Reason: "not a valid Solana address"}
	}

	// IDs carry enough entropy that a collision is effectively a fluke,
	// but the primary key still catches one; mint a fresh ID and retry.
	var lastErr error
	for i := 0; i < createRetries; i++ {
		id, err := util.NewLinkID()
		if err != nil {
			return nil, fmt.Errorf("generate link id: %w", err)
		}

		link := &model.Link{
			ID:             id,
			OriginURL:      input.OriginURL,
			Price:          input.Price,
			ReceiverWallet: input.ReceiverWallet,
		}

		if err := s.links.Create(ctx, link); err != nil {
			if errors.Is(err, repository.ErrDuplicateID) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("create link: %w", err)
		}
		return link, nil
	}

	return nil, fmt.Errorf("create link: %w", lastErr)
}

func (s *linkService) GetLink(ctx context.Context, id string) (*model.Link, error) {
	link, err := s.links.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	return link, nil
}

func (s *linkService) Stats(ctx context.Context, id string) (*model.LinkStats, error) {
	link, err := s.links.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load link: %w", err)
	}

	recent, err := s.usage.RecentByLink(ctx, id, s.recentUsageLimit)
	if err != nil {
		return nil, fmt.Errorf("load recent usage: %w", err)
	}

	window, err := s.usage.AggregateSince(ctx, id, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("aggregate usage window: %w", err)
	}

	return &model.LinkStats{
		Link:           *link,
		RecentRequests: recent,
		Last24h:        window,
	}, nil
}

func (s *linkService) Marketplace(ctx context.Context) (*model.MarketplaceStats, error) {
	links, err := s.links.List(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	count, requests, revenue, err := s.links.GlobalTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("global totals: %w", err)
	}

	return &model.MarketplaceStats{
		Links:         links,
		TotalLinks:    count,
		TotalRequests: requests,
		TotalRevenue:  revenue,
	}, nil
}

func validateOriginURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: "origin url", Reason: "not a well-formed URL"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Field: "origin url", Reason: "scheme must be http or https"}
	}
	if parsed.Host == "" {
		return &ValidationError{Field: "origin url", Reason: "missing host"}
	}
	return nil
}

// IsValidWalletAddress reports whether addr is a plausible Solana address:
// base58 text decoding to a 32-byte ed25519 public key.
func IsValidWalletAddress(addr string) bool {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}
