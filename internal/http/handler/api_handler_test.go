package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/x402wrap/x402wrap/internal/app/model"
	"github.com/x402wrap/x402wrap/internal/app/repository"
	"github.com/x402wrap/x402wrap/internal/app/service"
)

type stubLinkService struct {
	createFn func(ctx context.Context, input service.CreateLinkInput) (*model.Link, error)
	getFn    func(ctx context.Context, id string) (*model.Link, error)
	statsFn  func(ctx context.Context, id string) (*model.LinkStats, error)
	marketFn func(ctx context.Context) (*model.MarketplaceStats, error)
}

func (s *stubLinkService) CreateLink(ctx context.Context, input service.CreateLinkInput) (*model.Link, error) {
	return s.createFn(ctx, input)
}

func (s *stubLinkService) GetLink(ctx context.Context, id string) (*model.Link, error) {
	return s.getFn(ctx, id)
}

func (s *stubLinkService) Stats(ctx context.Context, id string) (*model.LinkStats, error) {
	return s.statsFn(ctx, id)
}

func (s *stubLinkService) Marketplace(ctx context.Context) (*model.MarketplaceStats, error) {
	return s.marketFn(ctx)
}

func newAPIApp(svc service.LinkService) *fiber.App {
	app := fiber.New()
	NewAPIHandler(APIDeps{LinkService: svc}).Register(app)
	return app
}

func TestAPICreateLink(t *testing.T) {
	svc := &stubLinkService{
		createFn: func(ctx context.Context, input service.CreateLinkInput) (*model.Link, error) {
			return &model.Link{
				ID:             "abc12345",
				OriginURL:      input.OriginURL,
				Price:          input.Price,
				ReceiverWallet: input.ReceiverWallet,
			}, nil
		},
	}
	app := newAPIApp(svc)

	payload := `{"apiUrl":"https://api.example.com","price":0.01,"wallet":"11111111111111111111111111111111"}`
	req := httptest.NewRequest(http.MethodPost, "/api/links", strings.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var body CreateLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ID != "abc12345" || body.Price != 0.01 {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestAPICreateLink_MissingFields(t *testing.T) {
	svc := &stubLinkService{
		createFn: func(ctx context.Context, input service.CreateLinkInput) (*model.Link, error) {
			t.Fatal("incomplete requests must not reach the service")
			return nil, nil
		},
	}
	app := newAPIApp(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/links", strings.NewReader(`{"price":0.01}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAPICreateLink_ValidationError(t *testing.T) {
	svc := &stubLinkService{
		createFn: func(ctx context.Context, input service.CreateLinkInput) (*model.Link, error) {
			return nil, &service.ValidationError{Field: "wallet", Reason: "not a valid Solana address"}
		},
	}
	app := newAPIApp(svc)

	payload := `{"apiUrl":"https://api.example.com","price":0.01,"wallet":"nope"}`
	req := httptest.NewRequest(http.MethodPost, "/api/links", strings.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !strings.Contains(body["error"], "wallet") {
		t.Fatalf("expected the offending field in the error, got %q", body["error"])
	}
}

func TestAPIGetLink_NotFound(t *testing.T) {
	svc := &stubLinkService{
		getFn: func(ctx context.Context, id string) (*model.Link, error) {
			return nil, fmt.Errorf("get link: %w", repository.ErrLinkNotFound)
		},
	}
	app := newAPIApp(svc)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/links/missing1", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAPIStats(t *testing.T) {
	svc := &stubLinkService{
		statsFn: func(ctx context.Context, id string) (*model.LinkStats, error) {
			return &model.LinkStats{
				Link:    model.Link{ID: id, TotalRequests: 9, TotalRevenue: 0.09},
				Last24h: model.UsageWindow{Count: 4, Revenue: 0.04},
			}, nil
		},
	}
	app := newAPIApp(svc)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/stats/abc12345", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var stats model.LinkStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if stats.Link.TotalRequests != 9 || stats.Last24h.Count != 4 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAPIMarketplace(t *testing.T) {
	svc := &stubLinkService{
		marketFn: func(ctx context.Context) (*model.MarketplaceStats, error) {
			return &model.MarketplaceStats{
				Links:         []model.Link{{ID: "abc12345"}},
				TotalLinks:    1,
				TotalRequests: 10,
				TotalRevenue:  0.1,
			}, nil
		},
	}
	app := newAPIApp(svc)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/marketplace", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var mp model.MarketplaceStats
	if err := json.NewDecoder(resp.Body).Decode(&mp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if mp.TotalLinks != 1 || len(mp.Links) != 1 {
		t.Fatalf("unexpected marketplace: %+v", mp)
	}
}
