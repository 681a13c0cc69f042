package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/x402wrap/x402wrap/internal/app/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_busy_timeout=5000"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// A single connection keeps the shared in-memory database alive and
	// serializes writers the way SQLite expects.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&model.Link{}, &model.UsageRecord{}, &model.AuditEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec("DELETE FROM usage_records").Error; err != nil {
		t.Fatalf("reset usage_records: %v", err)
	}
	if err := db.Exec("DELETE FROM links").Error; err != nil {
		t.Fatalf("reset links: %v", err)
	}
	return db
}

func seedLink(t *testing.T, db *gorm.DB, id string) *model.Link {
	t.Helper()
	link := &model.Link{
		ID:             id,
		OriginURL:      "https://api.example.com/data",
		Price:          0.01,
		ReceiverWallet: "11111111111111111111111111111111",
	}
	if err := NewLinkRepository(db).Create(context.Background(), link); err != nil {
		t.Fatalf("seed link: %v", err)
	}
	return link
}

func TestUsageRecord_BumpsCountersAtomically(t *testing.T) {
	db := openTestDB(t)
	link := seedLink(t, db, "lnk00001")
	repo := NewUsageRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := repo.Record(ctx, &model.UsageRecord{
			LinkID:    link.ID,
			Amount:    link.Price,
			Success:   true,
			Reference: fmt.Sprintf("sig-%d", i),
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	got, err := NewLinkRepository(db).GetByID(ctx, link.ID)
	if err != nil {
		t.Fatalf("reload link: %v", err)
	}
	if got.TotalRequests != 3 {
		t.Fatalf("expected 3 requests, got %d", got.TotalRequests)
	}
	if math.Abs(got.TotalRevenue-0.03) > 1e-9 {
		t.Fatalf("expected 0.03 revenue, got %v", got.TotalRevenue)
	}
}

func TestUsageRecord_FailedCallAddsNoRevenue(t *testing.T) {
	db := openTestDB(t)
	link := seedLink(t, db, "lnk00002")
	repo := NewUsageRepository(db)
	ctx := context.Background()

	err := repo.Record(ctx, &model.UsageRecord{
		LinkID:    link.ID,
		Amount:    link.Price,
		Success:   false,
		Reference: "sig-failed-1",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := NewLinkRepository(db).GetByID(ctx, link.ID)
	if err != nil {
		t.Fatalf("reload link: %v", err)
	}
	if got.TotalRequests != 1 {
		t.Fatalf("expected request counted, got %d", got.TotalRequests)
	}
	if got.TotalRevenue != 0 {
		t.Fatalf("failed call must not add revenue, got %v", got.TotalRevenue)
	}
}

func TestUsageRecord_DuplicateReferenceRejected(t *testing.T) {
	db := openTestDB(t)
	link := seedLink(t, db, "lnk00003")
	repo := NewUsageRepository(db)
	ctx := context.Background()

	rec := func() *model.UsageRecord {
		return &model.UsageRecord{LinkID: link.ID, Amount: link.Price, Success: true, Reference: "sig-dup"}
	}
	if err := repo.Record(ctx, rec()); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := repo.Record(ctx, rec()); !errors.Is(err, ErrReferenceUsed) {
		t.Fatalf("expected ErrReferenceUsed, got %v", err)
	}

	// The rejected write must not have bumped the counters.
	got, err := NewLinkRepository(db).GetByID(ctx, link.ID)
	if err != nil {
		t.Fatalf("reload link: %v", err)
	}
	if got.TotalRequests != 1 {
		t.Fatalf("expected 1 request after rejected duplicate, got %d", got.TotalRequests)
	}

	used, err := repo.ReferenceUsed(ctx, "sig-dup")
	if err != nil {
		t.Fatalf("ReferenceUsed: %v", err)
	}
	if !used {
		t.Fatal("expected reference to be marked used")
	}
}

func TestUsageRecord_UnknownLink(t *testing.T) {
	db := openTestDB(t)
	repo := NewUsageRepository(db)

	err := repo.Record(context.Background(), &model.UsageRecord{
		LinkID:    "nope",
		Amount:    0.01,
		Success:   true,
		Reference: "sig-orphan",
	})
	if !errors.Is(err, ErrLinkNotFound) {
		t.Fatalf("expected ErrLinkNotFound, got %v", err)
	}

	// The transaction must have rolled the orphan record back.
	used, err := repo.ReferenceUsed(context.Background(), "sig-orphan")
	if err != nil {
		t.Fatalf("ReferenceUsed: %v", err)
	}
	if used {
		t.Fatal("orphan record must not survive the rollback")
	}
}

func TestUsageRecentByLink_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	link := seedLink(t, db, "lnk00004")
	repo := NewUsageRepository(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := repo.Record(ctx, &model.UsageRecord{
			LinkID:    link.ID,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Amount:    link.Price,
			Success:   true,
			Reference: fmt.Sprintf("sig-recent-%d", i),
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	records, err := repo.RecentByLink(ctx, link.ID, 3)
	if err != nil {
		t.Fatalf("RecentByLink: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Reference != "sig-recent-4" {
		t.Fatalf("expected newest first, got %s", records[0].Reference)
	}
	for i := 1; i < len(records); i++ {
		if records[i].Timestamp.After(records[i-1].Timestamp) {
			t.Fatal("records out of order")
		}
	}
}

func TestUsageAggregateSince_WindowAndSuccessFilter(t *testing.T) {
	db := openTestDB(t)
	link := seedLink(t, db, "lnk00005")
	repo := NewUsageRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []struct {
		age     time.Duration
		success bool
		ref     string
	}{
		{30 * time.Hour, true, "sig-old"},
		{2 * time.Hour, true, "sig-in-1"},
		{time.Hour, true, "sig-in-2"},
		{30 * time.Minute, false, "sig-in-failed"},
	}
	for _, e := range entries {
		err := repo.Record(ctx, &model.UsageRecord{
			LinkID:    link.ID,
			Timestamp: now.Add(-e.age),
			Amount:    link.Price,
			Success:   e.success,
			Reference: e.ref,
		})
		if err != nil {
			t.Fatalf("record %s: %v", e.ref, err)
		}
	}

	window, err := repo.AggregateSince(ctx, link.ID, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("AggregateSince: %v", err)
	}
	if window.Count != 3 {
		t.Fatalf("expected 3 records in window, got %d", window.Count)
	}
	if window.Revenue != 0.02 {
		t.Fatalf("expected 0.02 revenue from the 2 charged calls, got %v", window.Revenue)
	}
}

func TestUsageRecord_ConcurrentWritesAllCounted(t *testing.T) {
	const n = 20

	db := openTestDB(t)
	link := seedLink(t, db, "lnk00006")
	repo := NewUsageRepository(db)

	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errCh <- repo.Record(context.Background(), &model.UsageRecord{
				LinkID:    link.ID,
				Amount:    link.Price,
				Success:   true,
				Reference: fmt.Sprintf("sig-conc-%d", i),
			})
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("concurrent record: %v", err)
		}
	}

	got, err := NewLinkRepository(db).GetByID(context.Background(), link.ID)
	if err != nil {
		t.Fatalf("reload link: %v", err)
	}
	if got.TotalRequests != n {
		t.Fatalf("expected %d requests, got %d", n, got.TotalRequests)
	}

	// The counters must agree with the ledger itself.
	window, err := repo.AggregateSince(context.Background(), link.ID, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("AggregateSince: %v", err)
	}
	if window.Count != n {
		t.Fatalf("ledger has %d records, counters say %d", window.Count, got.TotalRequests)
	}
}
