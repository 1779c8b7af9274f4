package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"billingcore/internal/domain"
	"billingcore/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("BILLINGCORE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BILLINGCORE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestBillVersionAndFlagsRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	branchID := fmt.Sprintf("branch-it-%d", stamp)
	billID := fmt.Sprintf("bill-it-%d", stamp)
	invoice := fmt.Sprintf("ITX-%d-001", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bills WHERE id = $1`, billID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, timezone) VALUES ($1, 'Integration', 'UTC')
	`, branchID); err != nil {
		t.Fatalf("insert branch: %v", err)
	}

	completedAt := time.Now().UTC()
	created, err := s.CreateBill(ctx, domain.Bill{
		ID:            billID,
		BranchID:      branchID,
		CustomerPhone: "0800-it",
		Status:        domain.StatusCompleted,
		Items: []domain.BillItem{
			{ID: "line-1", ProductID: "p-1", Quantity: 1.5, UnitPrice: 10, EffectiveUnitPrice: 10, Subtotal: 15, Status: domain.StatusDelivered},
		},
		GrossAmount:   15,
		TotalAmount:   15,
		InvoiceNumber: invoice,
		CompletedAt:   &completedAt,
	})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	if created.Version != 1 || len(created.Items) != 1 || created.Items[0].Quantity != 1.5 {
		t.Fatalf("unexpected created bill: %+v", created)
	}

	latest, err := s.LatestSequenceNumber(ctx, store.SequenceInvoice, fmt.Sprintf("ITX-%d-", stamp))
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if latest != invoice {
		t.Fatalf("expected latest %s, got %q", invoice, latest)
	}

	changed, err := s.MarkOfferCountersProcessed(ctx, billID)
	if err != nil || !changed {
		t.Fatalf("first mark should change flag, changed=%v err=%v", changed, err)
	}
	changed, err = s.MarkOfferCountersProcessed(ctx, billID)
	if err != nil || changed {
		t.Fatalf("second mark should be a no-op, changed=%v err=%v", changed, err)
	}

	stale := *created
	stale.CustomerName = "stale"
	if _, err := s.UpdateBill(ctx, stale); !errors.Is(err, store.ErrWriteConflict) {
		t.Fatalf("expected write conflict for stale version, got %v", err)
	}
}

func TestSaveRewardSettingsRejectsReusedUsageKey(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	usageKey := fmt.Sprintf("bill:it-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM offer_usage_ledger WHERE usage_key = $1`, usageKey)
	})

	current, err := s.GetRewardSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	raw := current.Raw
	if !json.Valid(raw) {
		raw = []byte("{}")
	}

	saved, err := s.SaveRewardSettings(ctx, domain.SettingsDocument{Raw: raw}, current.Version, usageKey)
	if err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if saved.Version != current.Version+1 {
		t.Fatalf("expected version %d, got %d", current.Version+1, saved.Version)
	}

	if _, err := s.SaveRewardSettings(ctx, domain.SettingsDocument{Raw: raw}, saved.Version, usageKey); !errors.Is(err, store.ErrAlreadyApplied) {
		t.Fatalf("expected ErrAlreadyApplied, got %v", err)
	}
	if _, err := s.SaveRewardSettings(ctx, domain.SettingsDocument{Raw: raw}, current.Version, ""); !errors.Is(err, store.ErrWriteConflict) {
		t.Fatalf("expected ErrWriteConflict for stale version, got %v", err)
	}
}
