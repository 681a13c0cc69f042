package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/x402wrap/x402wrap/internal/app/model"
)

func TestLinkCreateAndGet(t *testing.T) {
	db := openTestDB(t)
	repo := NewLinkRepository(db)
	ctx := context.Background()

	link := &model.Link{
		ID:             "getme123",
		OriginURL:      "https://api.example.com/q",
		Price:          0.5,
		ReceiverWallet: "11111111111111111111111111111111",
	}
	if err := repo.Create(ctx, link); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByID(ctx, "getme123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OriginURL != link.OriginURL || got.Price != link.Price {
		t.Fatalf("unexpected link: %+v", got)
	}
	if got.TotalRequests != 0 || got.TotalRevenue != 0 {
		t.Fatal("fresh link must start with zeroed counters")
	}
}

func TestLinkCreate_DuplicateID(t *testing.T) {
	db := openTestDB(t)
	repo := NewLinkRepository(db)
	ctx := context.Background()

	link := func() *model.Link {
		return &model.Link{
			ID:             "dup12345",
			OriginURL:      "https://api.example.com",
			Price:          0.01,
			ReceiverWallet: "11111111111111111111111111111111",
		}
	}
	if err := repo.Create(ctx, link()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := repo.Create(ctx, link()); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestLinkGetByID_NotFound(t *testing.T) {
	db := openTestDB(t)
	repo := NewLinkRepository(db)

	_, err := repo.GetByID(context.Background(), "missing1")
	if !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}
}

func TestLinkGlobalTotals(t *testing.T) {
	db := openTestDB(t)
	linkRepo := NewLinkRepository(db)
	usageRepo := NewUsageRepository(db)
	ctx := context.Background()

	seedLink(t, db, "tot00001")
	seedLink(t, db, "tot00002")

	if err := usageRepo.Record(ctx, &model.UsageRecord{
		LinkID: "tot00001", Amount: 0.01, Success: true, Reference: "sig-tot-1",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	links, requests, revenue, err := linkRepo.GlobalTotals(ctx)
	if err != nil {
		t.Fatalf("GlobalTotals: %v", err)
	}
	if links != 2 {
		t.Fatalf("expected 2 links, got %d", links)
	}
	if requests != 1 {
		t.Fatalf("expected 1 request, got %d", requests)
	}
	if revenue != 0.01 {
		t.Fatalf("expected 0.01 revenue, got %v", revenue)
	}
}
